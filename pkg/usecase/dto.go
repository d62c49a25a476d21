package usecase

import (
	"strings"

	"github.com/Mapleeeeeeeeeee/hwdc-2025-mcp-league-starter/pkg/apperr"
	"github.com/Mapleeeeeeeeeee/hwdc-2025-mcp-league-starter/pkg/model"
)

// ConversationMessage is one entry of the client-supplied history.
type ConversationMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ToolSelection scopes a request to one tool server and, optionally, a
// subset of its functions.
type ToolSelection struct {
	Server    string   `json:"server"`
	Functions []string `json:"functions,omitempty"`
}

type ConversationRequest struct {
	ConversationID string                `json:"conversationId"`
	History        []ConversationMessage `json:"history"`
	UserID         string                `json:"userId,omitempty"`
	ModelKey       string                `json:"modelKey,omitempty"`
	Tools          []ToolSelection       `json:"tools,omitempty"`
}

// Validate rejects requests the agent cannot run.
func (r *ConversationRequest) Validate() error {
	if strings.TrimSpace(r.ConversationID) == "" {
		return apperr.Validation("conversationId is required").With("field", "conversationId")
	}
	if len(r.History) == 0 {
		return apperr.Validation("conversation history cannot be empty").With("field", "history")
	}
	for i, m := range r.History {
		switch model.Role(m.Role) {
		case model.RoleUser, model.RoleAssistant, model.RoleSystem:
		default:
			return apperr.Validation("history[%d].role must be one of user, assistant, system", i).
				With("field", "history.role").With("index", i)
		}
		if m.Content == "" {
			return apperr.Validation("history[%d].content must not be empty", i).
				With("field", "history.content").With("index", i)
		}
	}
	return nil
}

func (r *ConversationRequest) messages() []model.Message {
	out := make([]model.Message, 0, len(r.History))
	for _, m := range r.History {
		out = append(out, model.Message{Role: model.Role(m.Role), Content: m.Content})
	}
	return out
}

type ConversationReply struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	Content        string `json:"content"`
	ModelKey       string `json:"modelKey"`
}

type StreamChunk struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	Delta          string `json:"delta"`
	ModelKey       string `json:"modelKey"`
}

type ModelDescriptor struct {
	Key               string         `json:"key"`
	Provider          string         `json:"provider"`
	ModelID           string         `json:"modelId"`
	SupportsStreaming bool           `json:"supportsStreaming"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	BaseURL           string         `json:"baseUrl,omitempty"`
}

type ListModelsResponse struct {
	ActiveModelKey string            `json:"activeModelKey"`
	Models         []ModelDescriptor `json:"models"`
}

type UpsertModelRequest struct {
	Key           string         `json:"key"`
	Provider      string         `json:"provider"`
	ModelID       string         `json:"modelId"`
	APIKeyEnv     string         `json:"apiKeyEnv"`
	BaseURL       string         `json:"baseUrl,omitempty"`
	DefaultParams map[string]any `json:"defaultParams,omitempty"`
	// SupportsStreaming defaults to true.
	SupportsStreaming *bool          `json:"supportsStreaming,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	SetActive         bool           `json:"setActive,omitempty"`
}

type ServerInfo struct {
	Name          string   `json:"name"`
	Description   string   `json:"description,omitempty"`
	Connected     bool     `json:"connected"`
	Enabled       bool     `json:"enabled"`
	FunctionCount int      `json:"functionCount"`
	Functions     []string `json:"functions"`
}

type ListServersResponse struct {
	Initialized bool         `json:"initialized"`
	Servers     []ServerInfo `json:"servers"`
}

type ReloadServerResponse struct {
	ServerName string `json:"serverName"`
	Success    bool   `json:"success"`
	Message    string `json:"message"`
}

type ReloadAllResponse struct {
	Success       bool                   `json:"success"`
	ReloadedCount int                    `json:"reloadedCount"`
	FailedCount   int                    `json:"failedCount"`
	Results       []ReloadServerResponse `json:"results"`
}
