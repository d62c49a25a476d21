package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mapleeeeeeeeeee/hwdc-2025-mcp-league-starter/pkg/model"
	"github.com/Mapleeeeeeeeeee/hwdc-2025-mcp-league-starter/pkg/tool"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	temp := 0.2
	c, err := New(Config{
		APIKey:      "sk-test",
		Model:       "gpt-4o-mini",
		BaseURL:     srv.URL + "/",
		Temperature: &temp,
		BaseDelay:   time.Millisecond,
	})
	require.NoError(t, err)
	return c
}

func collect(t *testing.T, seq func(func(*model.Response, error) bool)) ([]*model.Response, error) {
	t.Helper()
	var out []*model.Response
	for r, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, r)
	}
	return out, nil
}

func TestNew_RequiresAPIKey(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestGenerate(t *testing.T) {
	var got chatRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		_, _ = fmt.Fprint(w, `{
			"id":"chatcmpl-1","model":"gpt-4o-mini-2024-07-18",
			"choices":[{"index":0,"message":{"role":"assistant","content":"Hi there"},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":5,"completion_tokens":2,"total_tokens":7}
		}`)
	})

	maxTokens := 64
	resps, err := collect(t, c.GenerateContent(context.Background(), &model.Request{
		SystemInstruction: "be brief",
		Messages:          []model.Message{{Role: model.RoleUser, Content: "hello"}},
		Config:            &model.GenerateConfig{MaxTokens: &maxTokens},
	}, false))
	require.NoError(t, err)
	require.Len(t, resps, 1)

	r := resps[0]
	assert.Equal(t, "Hi there", r.Content)
	assert.False(t, r.Partial)
	assert.Equal(t, model.FinishReasonStop, r.FinishReason)
	assert.Equal(t, "gpt-4o-mini-2024-07-18", r.Model)
	assert.Equal(t, 7, r.Usage.TotalTokens)

	assert.Equal(t, "gpt-4o-mini", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "be brief", got.Messages[0].Content)
	assert.Equal(t, 0.2, *got.Temperature)
	assert.Equal(t, 64, *got.MaxTokens)
	assert.False(t, got.Stream)
}

func TestGenerate_ToolCalls(t *testing.T) {
	var got chatRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"",
			"tool_calls":[{"id":"call_1","type":"function","function":{"name":"read_file","arguments":"{\"path\":\"a.txt\"}"}}]},
			"finish_reason":"tool_calls"}]}`)
	})

	resps, err := collect(t, c.GenerateContent(context.Background(), &model.Request{
		Messages: []model.Message{
			{Role: model.RoleUser, Content: "read a.txt"},
			{Role: model.RoleAssistant, ToolCalls: []tool.ToolCall{{ID: "call_0", Name: "list", Args: map[string]any{}}}},
			{Role: model.RoleTool, ToolCallID: "call_0", Content: `{"result":"a.txt"}`},
		},
		Tools: []tool.Definition{{Name: "read_file", Description: "Read", Parameters: map[string]any{"type": "object"}}},
	}, false))
	require.NoError(t, err)

	r := resps[0]
	require.True(t, r.HasToolCalls())
	assert.Equal(t, tool.ToolCall{ID: "call_1", Name: "read_file", Args: map[string]any{"path": "a.txt"}}, r.ToolCalls[0])
	assert.Equal(t, model.FinishReasonToolCalls, r.FinishReason)
	assert.Equal(t, "gpt-4o-mini", r.Model, "falls back to configured model")

	require.Len(t, got.Tools, 1)
	assert.Equal(t, "function", got.Tools[0].Type)
	assert.Equal(t, "read_file", got.Tools[0].Function.Name)
	assert.Equal(t, "call_0", got.Messages[1].ToolCalls[0].ID)
	assert.Equal(t, "{}", got.Messages[1].ToolCalls[0].Function.Arguments)
	assert.Equal(t, "call_0", got.Messages[2].ToolCallID)
}

func TestGenerate_APIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = fmt.Fprint(w, `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error"}}`)
	})

	_, err := collect(t, c.GenerateContent(context.Background(), &model.Request{}, false))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
	assert.Contains(t, err.Error(), "Incorrect API key provided")
}

func TestGenerate_RetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = fmt.Fprint(w, `{"choices":[{"message":{"content":"ok"},"finish_reason":"stop"}]}`)
	})

	resps, err := collect(t, c.GenerateContent(context.Background(), &model.Request{}, false))
	require.NoError(t, err)
	assert.Equal(t, "ok", resps[0].Content)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGenerateStream(t *testing.T) {
	var got chatRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "text/event-stream")
		for _, line := range []string{
			`{"model":"gpt-4o-mini","choices":[{"delta":{"role":"assistant","content":"Hel"}}]}`,
			`{"choices":[{"delta":{"content":"lo"}}]}`,
			`not json`,
			`{"choices":[{"delta":{},"finish_reason":"stop"}]}`,
			`{"choices":[],"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`,
			`[DONE]`,
		} {
			_, _ = fmt.Fprintf(w, "data: %s\n\n", line)
		}
	})

	resps, err := collect(t, c.GenerateContent(context.Background(), &model.Request{
		Messages: []model.Message{{Role: model.RoleUser, Content: "hi"}},
	}, true))
	require.NoError(t, err)
	require.Len(t, resps, 3)

	assert.True(t, resps[0].Partial)
	assert.Equal(t, "Hel", resps[0].Content)
	assert.Equal(t, "lo", resps[1].Content)

	final := resps[2]
	assert.False(t, final.Partial)
	assert.Equal(t, "Hello", final.Content)
	assert.Equal(t, 5, final.Usage.TotalTokens)
	assert.Equal(t, model.FinishReasonStop, final.FinishReason)

	assert.True(t, got.Stream)
	require.NotNil(t, got.StreamOptions)
	assert.True(t, got.StreamOptions.IncludeUsage)
}

func TestGenerateStream_ToolCallFragments(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		for _, line := range []string{
			`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_a","type":"function","function":{"name":"read_file","arguments":""}}]}}]}`,
			`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"pa"}}]}}]}`,
			`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"th\":\"a\"}"}}]}}]}`,
			`{"choices":[{"delta":{"tool_calls":[{"index":1,"id":"call_b","function":{"name":"list_directory","arguments":"{}"}}]}}]}`,
			`{"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
		} {
			_, _ = fmt.Fprintf(w, "data: %s\n\n", line)
		}
		_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
	})

	resps, err := collect(t, c.GenerateContent(context.Background(), &model.Request{}, true))
	require.NoError(t, err)
	require.Len(t, resps, 1)

	final := resps[0]
	require.Len(t, final.ToolCalls, 2)
	assert.Equal(t, tool.ToolCall{ID: "call_a", Name: "read_file", Args: map[string]any{"path": "a"}}, final.ToolCalls[0])
	assert.Equal(t, "list_directory", final.ToolCalls[1].Name)
	assert.Equal(t, model.FinishReasonToolCalls, final.FinishReason)
}

func TestGenerateStream_StopsWhenConsumerStops(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		for i := 0; i < 5; i++ {
			_, _ = fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":\"%d\"}}]}\n\n", i)
		}
	})

	n := 0
	for r, err := range c.GenerateContent(context.Background(), &model.Request{}, true) {
		require.NoError(t, err)
		assert.True(t, r.Partial)
		n++
		if n == 2 {
			break
		}
	}
	assert.Equal(t, 2, n)
}

func TestGenerateStream_ErrorChunk(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"par\"}}]}\n\n")
		_, _ = fmt.Fprint(w, "data: {\"error\":{\"message\":\"overloaded\"}}\n\n")
	})

	resps, err := collect(t, c.GenerateContent(context.Background(), &model.Request{}, true))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "overloaded")
	assert.Len(t, resps, 1)
}
