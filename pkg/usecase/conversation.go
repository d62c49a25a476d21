// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package usecase holds the application operations behind the HTTP API:
// conversation replies, model management and tool-server administration.
package usecase

import (
	"context"
	"iter"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/Mapleeeeeeeeeee/hwdc-2025-mcp-league-starter/pkg/agent"
	"github.com/Mapleeeeeeeeeee/hwdc-2025-mcp-league-starter/pkg/apperr"
	"github.com/Mapleeeeeeeeeee/hwdc-2025-mcp-league-starter/pkg/llm"
	"github.com/Mapleeeeeeeeeee/hwdc-2025-mcp-league-starter/pkg/tool"
)

// AgentCreator builds agents for a model key.
type AgentCreator interface {
	CreateAgent(opts llm.AgentOptions) (*agent.Agent, error)
	ActiveModelKey() (string, error)
}

// ToolkitSource resolves a running tool server into a toolset. functions
// filters the exposed functions; nil exposes all of them.
type ToolkitSource interface {
	Toolkit(server string, functions []string) (tool.Toolset, bool)
}

// ConversationUsecase generates replies for a conversation history.
type ConversationUsecase struct {
	agents   AgentCreator
	toolkits ToolkitSource
}

// NewConversationUsecase wires the use case. toolkits may be nil when the
// tool-server subsystem is not running.
func NewConversationUsecase(agents AgentCreator, toolkits ToolkitSource) *ConversationUsecase {
	return &ConversationUsecase{agents: agents, toolkits: toolkits}
}

// GenerateReply runs the agent to completion.
func (u *ConversationUsecase) GenerateReply(ctx context.Context, req *ConversationRequest) (*ConversationReply, error) {
	a, err := u.prepare(req)
	if err != nil {
		return nil, err
	}
	defer a.Close()

	out, err := a.Run(ctx, req.messages())
	if err != nil {
		return nil, apperr.Wrap(apperr.KindOperationFailed, err, "LLM request failed").
			With("conversation_id", req.ConversationID)
	}
	if out == nil {
		return nil, apperr.LLMNoOutput().With("conversation_id", req.ConversationID)
	}

	modelKey := out.Model
	if modelKey == "" {
		modelKey = u.modelIdentifier(a, req.ModelKey)
	}
	messageID := out.RunID
	if messageID == "" {
		messageID = uuid.NewString()
	}

	return &ConversationReply{
		ConversationID: req.ConversationID,
		MessageID:      messageID,
		Content:        out.Content,
		ModelKey:       modelKey,
	}, nil
}

// StreamReply returns the reply as a sequence of deltas. Request and agent
// errors are returned before streaming starts; an upstream failure ends the
// sequence with an llm_stream_error.
func (u *ConversationUsecase) StreamReply(ctx context.Context, req *ConversationRequest) (iter.Seq2[*StreamChunk, error], error) {
	a, err := u.prepare(req)
	if err != nil {
		return nil, err
	}
	modelKey := u.modelIdentifier(a, req.ModelKey)

	return func(yield func(*StreamChunk, error) bool) {
		defer a.Close()

		for ev := range a.RunStream(ctx, req.messages()) {
			switch ev.Kind {
			case agent.RunEventError:
				slog.Warn("LLM stream failed", "conversation_id", req.ConversationID, "error", ev.Err)
				yield(nil, apperr.LLMStream(ev.Err).With("conversation_id", req.ConversationID))
				return
			case agent.RunEventContent:
				if ev.Content == "" {
					continue
				}
				messageID := ev.RunID
				if messageID == "" {
					messageID = uuid.NewString()
				}
				if !yield(&StreamChunk{
					ConversationID: req.ConversationID,
					MessageID:      messageID,
					Delta:          ev.Content,
					ModelKey:       modelKey,
				}, nil) {
					return
				}
			}
		}
	}, nil
}

func (u *ConversationUsecase) prepare(req *ConversationRequest) (*agent.Agent, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	a, err := u.agents.CreateAgent(llm.AgentOptions{
		ModelKey:  req.ModelKey,
		SessionID: req.ConversationID,
	})
	if err != nil {
		return nil, err
	}
	u.attachRequestedTools(a, req.Tools)
	return a, nil
}

// modelIdentifier prefers the model name, then the requested key, then the
// active key.
func (u *ConversationUsecase) modelIdentifier(a *agent.Agent, requested string) string {
	if name := a.Model().Name(); name != "" {
		return name
	}
	if requested != "" {
		return requested
	}
	key, err := u.agents.ActiveModelKey()
	if err != nil {
		slog.Warn("Failed to read active model key", "error", err)
	}
	return key
}

// attachRequestedTools adds one toolset per distinct requested server.
// Blank server names are skipped; an all-blank function list means no
// filter. Servers that are not running or expose no functions are skipped.
func (u *ConversationUsecase) attachRequestedTools(a *agent.Agent, selections []ToolSelection) {
	if len(selections) == 0 || u.toolkits == nil {
		return
	}

	seen := make(map[string]bool, len(selections))
	for _, sel := range selections {
		server := strings.TrimSpace(sel.Server)
		if server == "" || seen[server] {
			continue
		}
		seen[server] = true

		var functions []string
		for _, name := range sel.Functions {
			if name = strings.TrimSpace(name); name != "" {
				functions = append(functions, name)
			}
		}

		ts, ok := u.toolkits.Toolkit(server, functions)
		if !ok || ts == nil || len(ts.Tools()) == 0 {
			slog.Debug("Skipping tool server, toolkit unavailable or empty", "server", server)
			continue
		}
		a.AddToolset(ts)
	}
}
