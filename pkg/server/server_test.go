package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"iter"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mapleeeeeeeeeee/hwdc-2025-mcp-league-starter/pkg/agent"
	"github.com/Mapleeeeeeeeeee/hwdc-2025-mcp-league-starter/pkg/apperr"
	"github.com/Mapleeeeeeeeeee/hwdc-2025-mcp-league-starter/pkg/llm"
	"github.com/Mapleeeeeeeeeee/hwdc-2025-mcp-league-starter/pkg/mcp"
	"github.com/Mapleeeeeeeeeee/hwdc-2025-mcp-league-starter/pkg/model"
	"github.com/Mapleeeeeeeeeee/hwdc-2025-mcp-league-starter/pkg/observability"
	"github.com/Mapleeeeeeeeeee/hwdc-2025-mcp-league-starter/pkg/usecase"
)

type fakeLLM struct {
	responses []*model.Response
	err       error
}

func (f *fakeLLM) Name() string             { return "fake-model" }
func (f *fakeLLM) Provider() model.Provider { return model.ProviderUnknown }
func (f *fakeLLM) Close() error             { return nil }
func (f *fakeLLM) GenerateContent(context.Context, *model.Request, bool) iter.Seq2[*model.Response, error] {
	return func(yield func(*model.Response, error) bool) {
		for _, r := range f.responses {
			if !yield(r, nil) {
				return
			}
		}
		if f.err != nil {
			yield(nil, f.err)
		}
	}
}

type fakeAgents struct{ llm *fakeLLM }

func (f fakeAgents) CreateAgent(opts llm.AgentOptions) (*agent.Agent, error) {
	if opts.ModelKey == "missing" {
		return nil, apperr.ModelNotFound(opts.ModelKey)
	}
	return agent.New(agent.Config{Model: f.llm, SessionID: opts.SessionID})
}

func (f fakeAgents) ActiveModelKey() (string, error) { return "fake", nil }

type fakeServers struct{}

func (fakeServers) SystemStatus() mcp.SystemStatus {
	return mcp.SystemStatus{Initialized: true, Servers: map[string]mcp.ServerStatus{
		"filesystem": {Connected: true, FunctionCount: 1, Functions: []string{"read_file"}},
	}}
}

func (fakeServers) TrackedConfigs() []mcp.ServerParams {
	return []mcp.ServerParams{{Name: "filesystem", Enabled: true}}
}

func (fakeServers) ReloadServer(_ context.Context, name string) (*mcp.ReloadResult, error) {
	switch name {
	case "filesystem":
		return &mcp.ReloadResult{ServerName: name, Success: true, Message: "reloaded"}, nil
	case "broken":
		return nil, apperr.ServerReloadFailed(name, errors.New("exit status 1"))
	}
	return nil, apperr.ServerNotFound(name)
}

func (fakeServers) ReloadAllServers(context.Context) (*mcp.ReloadAllResult, error) {
	return nil, apperr.NoServersAvailable()
}

func newTestServer(t *testing.T, fake *fakeLLM) *httptest.Server {
	t.Helper()
	dir := t.TempDir()
	store := llm.NewStore(filepath.Join(dir, "models.json"), filepath.Join(dir, "active.txt"))
	factory := llm.NewAgentFactory(store, llm.NewProviderFactory(nil))

	metrics, metricsHandler, shutdown, err := observability.NewPrometheus()
	require.NoError(t, err)
	t.Cleanup(func() { _ = shutdown(context.Background()) })

	s := New(Config{
		Conversations:  usecase.NewConversationUsecase(fakeAgents{llm: fake}, nil),
		Models:         usecase.NewModelManagementUsecase(factory),
		ToolServers:    usecase.NewToolServerUsecase(fakeServers{}),
		MetricsHandler: metricsHandler,
		Metrics:        metrics,
	})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	if resp.StatusCode != http.StatusNoContent && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

const conversationBody = `{"conversationId":"c1","history":[{"role":"user","content":"hi"}]}`

func TestRootAndHealth(t *testing.T) {
	srv := newTestServer(t, &fakeLLM{})

	resp, body := do(t, http.MethodGet, srv.URL+"/", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])
	assert.NotEmpty(t, resp.Header.Get(HeaderTraceID))
	assert.NotEmpty(t, resp.Header.Get(HeaderProcessTime))
	assert.Equal(t, resp.Header.Get(HeaderTraceID), body["trace_id"])

	resp, body = do(t, http.MethodGet, srv.URL+"/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	data := body["data"].(map[string]any)
	assert.Equal(t, "healthy", data["status"])
	assert.Equal(t, true, data["mcp_initialized"])
}

func TestTraceIDIsPropagated(t *testing.T) {
	srv := newTestServer(t, &fakeLLM{})
	req, err := http.NewRequest(http.MethodGet, srv.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set(HeaderTraceID, "trace-123")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "trace-123", resp.Header.Get(HeaderTraceID))
}

func TestGenerateReply(t *testing.T) {
	srv := newTestServer(t, &fakeLLM{responses: []*model.Response{{Content: "hello", Model: "fake-model-1"}}})

	resp, body := do(t, http.MethodPost, srv.URL+"/api/v1/conversation", conversationBody)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data := body["data"].(map[string]any)
	assert.Equal(t, "c1", data["conversationId"])
	assert.Equal(t, "hello", data["content"])
	assert.Equal(t, "fake-model-1", data["modelKey"])
	assert.NotEmpty(t, data["messageId"])
	assert.Equal(t, "Conversation reply generated", body["message"])
}

func TestGenerateReply_Errors(t *testing.T) {
	tests := []struct {
		name   string
		llm    *fakeLLM
		body   string
		status int
		kind   string
	}{
		{name: "malformed json", llm: &fakeLLM{}, body: `{`, status: http.StatusUnprocessableEntity, kind: "validation"},
		{name: "empty history", llm: &fakeLLM{}, body: `{"conversationId":"c1","history":[]}`, status: http.StatusUnprocessableEntity, kind: "validation"},
		{name: "no output", llm: &fakeLLM{}, body: conversationBody, status: http.StatusServiceUnavailable, kind: "llm_no_output"},
		{name: "unknown model", llm: &fakeLLM{}, body: `{"conversationId":"c1","modelKey":"missing","history":[{"role":"user","content":"hi"}]}`, status: http.StatusNotFound, kind: "not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, tt.llm)
			resp, body := do(t, http.MethodPost, srv.URL+"/api/v1/conversation", tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, false, body["success"])
			errBody := body["error"].(map[string]any)
			assert.Equal(t, tt.kind, errBody["type"])
			assert.Equal(t, resp.Header.Get(HeaderTraceID), errBody["trace_id"])
		})
	}
}

func readEvents(t *testing.T, resp *http.Response) []string {
	t.Helper()
	var events []string
	scanner := bufio.NewScanner(resp.Body)
	var current strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if current.Len() > 0 {
				events = append(events, current.String())
				current.Reset()
			}
			continue
		}
		if current.Len() > 0 {
			current.WriteString("\n")
		}
		current.WriteString(line)
	}
	return events
}

func TestStreamReply(t *testing.T) {
	srv := newTestServer(t, &fakeLLM{responses: []*model.Response{
		{Content: "Hel", Partial: true},
		{Content: "lo", Partial: true},
		{Content: "Hello"},
	}})

	resp, err := http.Post(srv.URL+"/api/v1/conversation/stream", "application/json", strings.NewReader(conversationBody))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := readEvents(t, resp)
	require.Len(t, events, 2)
	var chunk usecase.StreamChunk
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(events[0], "data: ")), &chunk))
	assert.Equal(t, "Hel", chunk.Delta)
	assert.Equal(t, "fake-model", chunk.ModelKey)
}

func TestStreamReply_ErrorEvent(t *testing.T) {
	srv := newTestServer(t, &fakeLLM{responses: []*model.Response{{Content: "par", Partial: true}}, err: errors.New("reset")})

	resp, err := http.Post(srv.URL+"/api/v1/conversation/stream", "application/json", strings.NewReader(conversationBody))
	require.NoError(t, err)
	defer resp.Body.Close()

	events := readEvents(t, resp)
	require.Len(t, events, 2)
	assert.True(t, strings.HasPrefix(events[1], "event: error\ndata: "))
	assert.Contains(t, events[1], `"llm_stream_error"`)
}

func TestStreamReply_ValidationIsJSON(t *testing.T) {
	srv := newTestServer(t, &fakeLLM{})
	resp, body := do(t, http.MethodPost, srv.URL+"/api/v1/conversation/stream", `{"conversationId":"c1","history":[]}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, false, body["success"])
}

func TestModelEndpoints(t *testing.T) {
	srv := newTestServer(t, &fakeLLM{})

	resp, body := do(t, http.MethodGet, srv.URL+"/api/v1/conversation/models", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data := body["data"].(map[string]any)
	assert.Equal(t, "openai:gpt-4o-mini", data["activeModelKey"])
	assert.Len(t, data["models"], 2)

	resp, body = do(t, http.MethodPost, srv.URL+"/api/v1/conversation/models",
		`{"key":"ollama:qwen2.5","provider":"ollama","modelId":"qwen2.5","apiKeyEnv":"OLLAMA_API_KEY"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "ollama:qwen2.5", body["data"].(map[string]any)["key"])

	resp, _ = do(t, http.MethodPut, srv.URL+"/api/v1/conversation/models/ollama:qwen2.5", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body = do(t, http.MethodPut, srv.URL+"/api/v1/conversation/models/nope", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "nope", body["error"].(map[string]any)["context"].(map[string]any)["model_key"])

	resp, _ = do(t, http.MethodPost, srv.URL+"/api/v1/conversation/models",
		`{"key":"k","provider":"openai","modelId":"m","apiKeyEnv":"sk=live"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	_, body = do(t, http.MethodGet, srv.URL+"/api/v1/conversation/models", "")
	assert.Equal(t, "ollama:qwen2.5", body["data"].(map[string]any)["activeModelKey"])
}

func TestToolServerEndpoints(t *testing.T) {
	srv := newTestServer(t, &fakeLLM{})

	resp, body := do(t, http.MethodGet, srv.URL+"/api/v1/mcp/servers", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data := body["data"].(map[string]any)
	assert.Equal(t, true, data["initialized"])
	server := data["servers"].([]any)[0].(map[string]any)
	assert.Equal(t, "filesystem", server["name"])
	assert.Equal(t, true, server["enabled"])
	assert.Equal(t, float64(1), server["functionCount"])

	tests := []struct {
		path   string
		status int
	}{
		{path: "/api/v1/mcp/servers/filesystem:reload", status: http.StatusOK},
		{path: "/api/v1/mcp/servers/ghost:reload", status: http.StatusNotFound},
		{path: "/api/v1/mcp/servers/broken:reload", status: http.StatusInternalServerError},
		{path: "/api/v1/mcp/servers:reload", status: http.StatusBadRequest},
	}
	for _, tt := range tests {
		resp, _ := do(t, http.MethodPost, srv.URL+tt.path, "")
		assert.Equal(t, tt.status, resp.StatusCode, tt.path)
	}

	_, body = do(t, http.MethodPost, srv.URL+"/api/v1/mcp/servers/filesystem:reload", "")
	assert.Equal(t, "Server 'filesystem' reloaded successfully", body["message"])
	assert.Equal(t, "filesystem", body["data"].(map[string]any)["serverName"])
}

func TestMetricsAndNotFound(t *testing.T) {
	srv := newTestServer(t, &fakeLLM{})
	do(t, http.MethodGet, srv.URL+"/health", "")

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := do(t, http.MethodGet, srv.URL+"/nowhere", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, false, body["success"])
}
