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

// Package openai provides an OpenAI LLM implementation over the Chat
// Completions API (/v1/chat/completions).
//
//   - Non-streaming yields one Response
//   - Streaming parses the SSE feed, yields text deltas and assembles tool
//     call fragments into complete calls on the aggregated Response
//   - Requests go through the retrying httpclient with OpenAI rate-limit
//     header parsing
package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/Mapleeeeeeeeeee/hwdc-2025-mcp-league-starter/pkg/httpclient"
	"github.com/Mapleeeeeeeeeee/hwdc-2025-mcp-league-starter/pkg/model"
	"github.com/Mapleeeeeeeeeee/hwdc-2025-mcp-league-starter/pkg/tool"
)

const (
	defaultBaseURL    = "https://api.openai.com/v1"
	defaultModel      = "gpt-4o-mini"
	defaultTimeout    = 120 * time.Second
	defaultMaxRetries = 3
)

// Config configures the OpenAI client. The mapstructure tags match the
// parameter keys of a model registry entry.
type Config struct {
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"id"`
	BaseURL     string        `mapstructure:"base_url"`
	Temperature *float64      `mapstructure:"temperature"`
	TopP        *float64      `mapstructure:"top_p"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxRetries  int           `mapstructure:"max_retries"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`

	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client `mapstructure:"-"`
}

// Client is an OpenAI model.LLM.
type Client struct {
	httpClient  *httpclient.Client
	apiKey      string
	baseURL     string
	modelName   string
	temperature *float64
	topP        *float64
	maxTokens   int
}

// New creates a new OpenAI client.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	modelName := cfg.Model
	if modelName == "" {
		modelName = defaultModel
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = defaultMaxRetries
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}
	opts := []httpclient.Option{
		httpclient.WithHTTPClient(hc),
		httpclient.WithMaxRetries(maxRetries),
		httpclient.WithRateLimitParser(httpclient.OpenAIRateLimit),
	}
	if cfg.BaseDelay > 0 {
		opts = append(opts, httpclient.WithBaseDelay(cfg.BaseDelay))
	}

	return &Client{
		httpClient:  httpclient.New(opts...),
		apiKey:      cfg.APIKey,
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		modelName:   modelName,
		temperature: cfg.Temperature,
		topP:        cfg.TopP,
		maxTokens:   cfg.MaxTokens,
	}, nil
}

func (c *Client) Name() string {
	return c.modelName
}

func (c *Client) Provider() model.Provider {
	return model.ProviderOpenAI
}

func (c *Client) GenerateContent(ctx context.Context, req *model.Request, stream bool) iter.Seq2[*model.Response, error] {
	if stream {
		return c.generateStream(ctx, req)
	}
	return func(yield func(*model.Response, error) bool) {
		resp, err := c.generate(ctx, req)
		yield(resp, err)
	}
}

func (c *Client) Close() error {
	return nil
}

func (c *Client) generate(ctx context.Context, req *model.Request) (*model.Response, error) {
	resp, err := c.post(ctx, c.buildRequest(req, false))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var apiResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return c.parseResponse(&apiResp)
}

func (c *Client) generateStream(ctx context.Context, req *model.Request) iter.Seq2[*model.Response, error] {
	return func(yield func(*model.Response, error) bool) {
		resp, err := c.post(ctx, c.buildRequest(req, true))
		if err != nil {
			yield(nil, err)
			return
		}
		defer resp.Body.Close()

		agg := model.NewStreamingAggregator()
		agg.SetModel(c.modelName)
		calls := map[int]*pendingCall{}

		reader := bufio.NewReader(resp.Body)
		for {
			line, err := reader.ReadBytes('\n')
			if err != nil && err != io.EOF {
				yield(nil, fmt.Errorf("stream read error: %w", err))
				return
			}
			done := err == io.EOF

			line = bytes.TrimSpace(line)
			if bytes.HasPrefix(line, []byte("data:")) {
				data := bytes.TrimSpace(line[5:])
				if bytes.Equal(data, []byte("[DONE]")) {
					break
				}

				var chunk streamChunk
				if err := json.Unmarshal(data, &chunk); err != nil {
					slog.Debug("Failed to parse streaming chunk", "error", err)
				} else {
					for r, err := range c.processChunk(&chunk, agg, calls) {
						if !yield(r, err) {
							return
						}
					}
				}
			}
			if done {
				break
			}
		}

		for _, tc := range assembleCalls(calls) {
			agg.ProcessToolCall(tc)
		}
		if final := agg.Close(); final != nil {
			yield(final, nil)
		}
	}
}

type pendingCall struct {
	id   string
	name string
	args strings.Builder
}

func (c *Client) processChunk(chunk *streamChunk, agg *model.StreamingAggregator, calls map[int]*pendingCall) iter.Seq2[*model.Response, error] {
	return func(yield func(*model.Response, error) bool) {
		if chunk.Error != nil {
			yield(nil, fmt.Errorf("API error: %s", chunk.Error.Message))
			return
		}
		agg.SetModel(chunk.Model)
		if chunk.Usage != nil {
			agg.SetUsage(chunk.Usage.toModel())
		}

		for _, choice := range chunk.Choices {
			if choice.FinishReason != "" {
				agg.SetFinishReason(mapFinishReason(choice.FinishReason))
			}
			for _, d := range choice.Delta.ToolCalls {
				pc, ok := calls[d.Index]
				if !ok {
					pc = &pendingCall{}
					calls[d.Index] = pc
				}
				if d.ID != "" {
					pc.id = d.ID
				}
				if d.Function.Name != "" {
					pc.name = d.Function.Name
				}
				pc.args.WriteString(d.Function.Arguments)
			}
			for r, err := range agg.ProcessTextDelta(choice.Delta.Content) {
				if !yield(r, err) {
					return
				}
			}
		}
	}
}

func assembleCalls(calls map[int]*pendingCall) []tool.ToolCall {
	indexes := make([]int, 0, len(calls))
	for i := range calls {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)

	out := make([]tool.ToolCall, 0, len(calls))
	for _, i := range indexes {
		pc := calls[i]
		if pc.name == "" {
			continue
		}
		out = append(out, tool.ToolCall{ID: pc.id, Name: pc.name, Args: parseArgs(pc.args.String())})
	}
	return out
}

func (c *Client) post(ctx context.Context, apiReq *chatRequest) (*http.Response, error) {
	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	if apiReq.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, apiError(resp.StatusCode, raw)
	}
	return resp, nil
}

func apiError(status int, raw []byte) error {
	var body struct {
		Error *apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Error != nil && body.Error.Message != "" {
		return fmt.Errorf("API error (status %d): %s", status, body.Error.Message)
	}
	return fmt.Errorf("API error (status %d): %s", status, strings.TrimSpace(string(raw)))
}

func (c *Client) buildRequest(req *model.Request, stream bool) *chatRequest {
	apiReq := &chatRequest{
		Model:       c.modelName,
		Messages:    convertMessages(req),
		Tools:       convertTools(req.Tools),
		Stream:      stream,
		Temperature: c.temperature,
		TopP:        c.topP,
	}
	if c.maxTokens > 0 {
		apiReq.MaxTokens = &c.maxTokens
	}
	if stream {
		apiReq.StreamOptions = &streamOptions{IncludeUsage: true}
	}

	if cfg := req.Config; cfg != nil {
		if cfg.Temperature != nil {
			apiReq.Temperature = cfg.Temperature
		}
		if cfg.TopP != nil {
			apiReq.TopP = cfg.TopP
		}
		if cfg.MaxTokens != nil {
			apiReq.MaxTokens = cfg.MaxTokens
		}
		apiReq.Stop = cfg.StopSequences
	}
	return apiReq
}

func convertMessages(req *model.Request) []chatMessage {
	out := make([]chatMessage, 0, len(req.Messages)+1)
	if req.SystemInstruction != "" {
		out = append(out, chatMessage{Role: string(model.RoleSystem), Content: req.SystemInstruction})
	}
	for _, m := range req.Messages {
		msg := chatMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			args, _ := json.Marshal(tc.Args)
			msg.ToolCalls = append(msg.ToolCalls, apiToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: apiFunctionCall{
					Name:      tc.Name,
					Arguments: string(args),
				},
			})
		}
		out = append(out, msg)
	}
	return out
}

func convertTools(defs []tool.Definition) []apiTool {
	if len(defs) == 0 {
		return nil
	}
	out := make([]apiTool, 0, len(defs))
	for _, d := range defs {
		out = append(out, apiTool{
			Type: "function",
			Function: apiFunction{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.Parameters,
			},
		})
	}
	return out
}

func (c *Client) parseResponse(resp *chatResponse) (*model.Response, error) {
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}
	choice := resp.Choices[0]

	out := &model.Response{
		Content:      choice.Message.Content,
		FinishReason: mapFinishReason(choice.FinishReason),
		Model:        resp.Model,
	}
	if out.Model == "" {
		out.Model = c.modelName
	}
	if resp.Usage != nil {
		out.Usage = resp.Usage.toModel()
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, tool.ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: parseArgs(tc.Function.Arguments),
		})
	}
	return out, nil
}

func parseArgs(raw string) map[string]any {
	args := map[string]any{}
	if strings.TrimSpace(raw) == "" {
		return args
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		slog.Debug("Tool call arguments are not valid JSON", "error", err)
		return map[string]any{}
	}
	return args
}

func mapFinishReason(reason string) model.FinishReason {
	switch reason {
	case "length":
		return model.FinishReasonLength
	case "tool_calls", "function_call":
		return model.FinishReasonToolCalls
	case "content_filter":
		return model.FinishReasonContent
	case "":
		return ""
	default:
		return model.FinishReasonStop
	}
}

var _ model.LLM = (*Client)(nil)
