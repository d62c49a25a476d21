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

// Package ollama provides an Ollama LLM implementation on top of the
// official Ollama Go client (/api/chat).
package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	ollama "github.com/ollama/ollama/api"

	"github.com/Mapleeeeeeeeeee/hwdc-2025-mcp-league-starter/pkg/model"
	"github.com/Mapleeeeeeeeeee/hwdc-2025-mcp-league-starter/pkg/tool"
)

const (
	defaultModel     = "llama3.1"
	defaultTimeout   = 300 * time.Second // first request loads the model
	defaultKeepAlive = 5 * time.Minute
)

// Config configures the Ollama client. Keys not listed here are passed to
// the model as runtime options (temperature, num_ctx, top_k, ...).
type Config struct {
	// Host is the server URL. Empty uses OLLAMA_HOST or the local default.
	Host      string        `mapstructure:"host"`
	Model     string        `mapstructure:"id"`
	APIKey    string        `mapstructure:"api_key"`
	KeepAlive time.Duration `mapstructure:"keep_alive"`
	Timeout   time.Duration `mapstructure:"timeout"`

	Options map[string]any `mapstructure:",remain"`

	// Chatter replaces the API client, mainly for tests.
	Chatter Chatter `mapstructure:"-"`
}

// Chatter is the subset of the Ollama API client used here.
type Chatter interface {
	Chat(ctx context.Context, req *ollama.ChatRequest, fn ollama.ChatResponseFunc) error
}

// Client is an Ollama model.LLM.
type Client struct {
	api       Chatter
	modelName string
	keepAlive time.Duration
	options   map[string]any
}

func New(cfg Config) (*Client, error) {
	api := cfg.Chatter
	if api == nil {
		var err error
		api, err = newAPIClient(cfg)
		if err != nil {
			return nil, err
		}
	}

	modelName := cfg.Model
	if modelName == "" {
		modelName = defaultModel
	}
	keepAlive := cfg.KeepAlive
	if keepAlive == 0 {
		keepAlive = defaultKeepAlive
	}

	return &Client{
		api:       api,
		modelName: modelName,
		keepAlive: keepAlive,
		options:   cfg.Options,
	}, nil
}

func newAPIClient(cfg Config) (*ollama.Client, error) {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}

	if cfg.Host == "" && cfg.APIKey == "" {
		return ollama.ClientFromEnvironment()
	}

	host := cfg.Host
	if host == "" {
		host = "http://127.0.0.1:11434"
	}
	base, err := url.Parse(strings.TrimSuffix(host, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid ollama host %q: %w", host, err)
	}

	hc := &http.Client{Timeout: timeout}
	if cfg.APIKey != "" {
		hc.Transport = bearerTransport{token: cfg.APIKey, next: http.DefaultTransport}
	}
	return ollama.NewClient(base, hc), nil
}

// bearerTransport authenticates against hosted Ollama endpoints.
type bearerTransport struct {
	token string
	next  http.RoundTripper
}

func (t bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+t.token)
	return t.next.RoundTrip(req)
}

func (c *Client) Name() string {
	return c.modelName
}

func (c *Client) Provider() model.Provider {
	return model.ProviderOllama
}

func (c *Client) Close() error {
	return nil
}

var errStopped = errors.New("consumer stopped")

func (c *Client) GenerateContent(ctx context.Context, req *model.Request, stream bool) iter.Seq2[*model.Response, error] {
	return func(yield func(*model.Response, error) bool) {
		apiReq := c.buildRequest(req, stream)
		agg := model.NewStreamingAggregator()
		agg.SetModel(c.modelName)

		err := c.api.Chat(ctx, apiReq, func(res ollama.ChatResponse) error {
			agg.SetModel(res.Model)
			for _, tc := range res.Message.ToolCalls {
				agg.ProcessToolCall(tool.ToolCall{
					ID:   "call_" + uuid.NewString()[:8],
					Name: tc.Function.Name,
					Args: map[string]any(tc.Function.Arguments),
				})
			}
			if res.Done {
				agg.SetUsage(&model.Usage{
					PromptTokens:     res.PromptEvalCount,
					CompletionTokens: res.EvalCount,
					TotalTokens:      res.PromptEvalCount + res.EvalCount,
				})
				agg.SetFinishReason(mapDoneReason(res.DoneReason))
			}

			if !stream {
				agg.AppendText(res.Message.Content)
				return nil
			}
			for r, err := range agg.ProcessTextDelta(res.Message.Content) {
				if !yield(r, err) {
					return errStopped
				}
			}
			return nil
		})
		switch {
		case errors.Is(err, errStopped):
			return
		case err != nil:
			yield(nil, fmt.Errorf("ollama chat failed: %w", err))
			return
		}

		final := agg.Close()
		if final == nil {
			if stream {
				return
			}
			final = &model.Response{Model: c.modelName, FinishReason: model.FinishReasonStop}
		}
		yield(final, nil)
	}
}

func (c *Client) buildRequest(req *model.Request, stream bool) *ollama.ChatRequest {
	options := make(map[string]any, len(c.options)+4)
	for k, v := range c.options {
		options[k] = v
	}
	if cfg := req.Config; cfg != nil {
		if cfg.Temperature != nil {
			options["temperature"] = *cfg.Temperature
		}
		if cfg.TopP != nil {
			options["top_p"] = *cfg.TopP
		}
		if cfg.MaxTokens != nil {
			options["num_predict"] = *cfg.MaxTokens
		}
		if len(cfg.StopSequences) > 0 {
			options["stop"] = cfg.StopSequences
		}
	}

	apiReq := &ollama.ChatRequest{
		Model:     c.modelName,
		Messages:  convertMessages(req),
		Stream:    &stream,
		KeepAlive: &ollama.Duration{Duration: c.keepAlive},
	}
	if len(options) > 0 {
		apiReq.Options = options
	}
	if tools := convertTools(req.Tools); len(tools) > 0 {
		apiReq.Tools = tools
	}
	return apiReq
}

func convertMessages(req *model.Request) []ollama.Message {
	out := make([]ollama.Message, 0, len(req.Messages)+1)
	if req.SystemInstruction != "" {
		out = append(out, ollama.Message{Role: string(model.RoleSystem), Content: req.SystemInstruction})
	}
	for _, m := range req.Messages {
		msg := ollama.Message{Role: string(m.Role), Content: m.Content}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, ollama.ToolCall{
				Function: ollama.ToolCallFunction{
					Name:      tc.Name,
					Arguments: ollama.ToolCallFunctionArguments(tc.Args),
				},
			})
		}
		out = append(out, msg)
	}
	return out
}

// convertTools maps definitions onto the Ollama tool schema through JSON
// so arbitrary JSON-schema parameters carry over.
func convertTools(defs []tool.Definition) []ollama.Tool {
	out := make([]ollama.Tool, 0, len(defs))
	for _, d := range defs {
		raw, err := json.Marshal(map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        d.Name,
				"description": d.Description,
				"parameters":  d.Parameters,
			},
		})
		if err != nil {
			slog.Warn("Skipping tool with unencodable schema", "tool", d.Name, "error", err)
			continue
		}
		var t ollama.Tool
		if err := json.Unmarshal(raw, &t); err != nil {
			slog.Warn("Skipping tool the Ollama schema cannot represent", "tool", d.Name, "error", err)
			continue
		}
		out = append(out, t)
	}
	return out
}

func mapDoneReason(reason string) model.FinishReason {
	switch reason {
	case "length":
		return model.FinishReasonLength
	case "", "stop":
		return model.FinishReasonStop
	default:
		return model.FinishReason(reason)
	}
}

var _ model.LLM = (*Client)(nil)
