package agent

import (
	"context"
	"errors"
	"iter"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mapleeeeeeeeeee/hwdc-2025-mcp-league-starter/pkg/model"
	"github.com/Mapleeeeeeeeeee/hwdc-2025-mcp-league-starter/pkg/tool"
)

// scriptedLLM replays one response list per call.
type scriptedLLM struct {
	rounds   [][]*model.Response
	err      error
	requests []*model.Request
	closed   bool
}

func (s *scriptedLLM) Name() string             { return "fake-model" }
func (s *scriptedLLM) Provider() model.Provider { return model.ProviderUnknown }
func (s *scriptedLLM) Close() error             { s.closed = true; return nil }

func (s *scriptedLLM) GenerateContent(_ context.Context, req *model.Request, _ bool) iter.Seq2[*model.Response, error] {
	return func(yield func(*model.Response, error) bool) {
		i := len(s.requests)
		s.requests = append(s.requests, req)
		if i >= len(s.rounds) {
			if s.err != nil {
				yield(nil, s.err)
			}
			return
		}
		for _, r := range s.rounds[i] {
			if !yield(r, nil) {
				return
			}
		}
	}
}

type echoTool struct {
	name  string
	err   error
	calls []map[string]any
}

func (e *echoTool) Name() string           { return e.name }
func (e *echoTool) Description() string    { return "echo" }
func (e *echoTool) Schema() map[string]any { return nil }
func (e *echoTool) Call(_ context.Context, args map[string]any) (map[string]any, error) {
	e.calls = append(e.calls, args)
	if e.err != nil {
		return nil, e.err
	}
	return map[string]any{"echo": args["text"]}, nil
}

type staticToolset struct {
	name  string
	tools []tool.Tool
}

func (s staticToolset) Name() string       { return s.name }
func (s staticToolset) Tools() []tool.Tool { return s.tools }

func final(content string) *model.Response {
	return &model.Response{Content: content, Model: "fake-model-v1", FinishReason: model.FinishReasonStop}
}

func callTool(name string, args map[string]any) *model.Response {
	return &model.Response{
		ToolCalls:    []tool.ToolCall{{ID: "call_1", Name: name, Args: args}},
		FinishReason: model.FinishReasonToolCalls,
	}
}

func userSays(text string) []model.Message {
	return []model.Message{{Role: model.RoleUser, Content: text}}
}

func TestNew(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	a, err := New(Config{Model: &scriptedLLM{}, SessionID: "conv-1"})
	require.NoError(t, err)
	assert.Equal(t, "fake-model", a.Name(), "name defaults to the model")
	assert.Equal(t, "conv-1", a.SessionID())
	assert.Empty(t, a.Toolsets())
}

func TestRun(t *testing.T) {
	llm := &scriptedLLM{rounds: [][]*model.Response{{final("hello")}}}
	a, err := New(Config{Name: "assistant", Model: llm, Instruction: "be kind"})
	require.NoError(t, err)

	out, err := a.Run(context.Background(), userSays("hi"))
	require.NoError(t, err)
	assert.Equal(t, "hello", out.Content)
	assert.Equal(t, "fake-model-v1", out.Model)
	assert.NotEmpty(t, out.RunID)

	require.Len(t, llm.requests, 1)
	assert.Equal(t, "be kind", llm.requests[0].SystemInstruction)
	assert.Empty(t, llm.requests[0].Tools)
}

func TestRun_NoOutput(t *testing.T) {
	a, err := New(Config{Model: &scriptedLLM{}})
	require.NoError(t, err)

	out, err := a.Run(context.Background(), userSays("hi"))
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestRun_EmptyFinalResponse(t *testing.T) {
	a, err := New(Config{Model: &scriptedLLM{rounds: [][]*model.Response{{final("")}}}})
	require.NoError(t, err)

	out, err := a.Run(context.Background(), userSays("hi"))
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Empty(t, out.Content)
	assert.NotEmpty(t, out.RunID)
}

func TestRun_ToolDefinitionsSortedByName(t *testing.T) {
	llm := &scriptedLLM{rounds: [][]*model.Response{{final("ok")}}}
	a, err := New(Config{Model: llm, Toolsets: []tool.Toolset{
		staticToolset{name: "b", tools: []tool.Tool{&echoTool{name: "weather"}, &echoTool{name: "calc"}}},
		staticToolset{name: "a", tools: []tool.Tool{&echoTool{name: "search"}, &echoTool{name: "alarm"}}},
	}})
	require.NoError(t, err)

	for range 5 {
		_, err = a.Run(context.Background(), userSays("hi"))
		require.NoError(t, err)
	}
	for _, req := range llm.requests {
		var names []string
		for _, d := range req.Tools {
			names = append(names, d.Name)
		}
		assert.Equal(t, []string{"alarm", "calc", "search", "weather"}, names)
	}
}

func TestRun_ModelError(t *testing.T) {
	a, err := New(Config{Model: &scriptedLLM{err: errors.New("boom")}})
	require.NoError(t, err)

	_, err = a.Run(context.Background(), userSays("hi"))
	assert.EqualError(t, err, "boom")
}

func TestRun_ExecutesToolCalls(t *testing.T) {
	echo := &echoTool{name: "echo"}
	llm := &scriptedLLM{rounds: [][]*model.Response{
		{callTool("echo", map[string]any{"text": "ping"})},
		{final("done")},
	}}
	a, err := New(Config{Model: llm})
	require.NoError(t, err)
	a.AddToolset(staticToolset{name: "mcp_echo", tools: []tool.Tool{echo}})

	out, err := a.Run(context.Background(), userSays("hi"))
	require.NoError(t, err)
	assert.Equal(t, "done", out.Content)

	require.Len(t, echo.calls, 1)
	assert.Equal(t, "ping", echo.calls[0]["text"])

	require.Len(t, llm.requests, 2)
	require.Len(t, llm.requests[0].Tools, 1)
	assert.Equal(t, "echo", llm.requests[0].Tools[0].Name)
	assert.Equal(t, "object", llm.requests[0].Tools[0].Parameters["type"])

	second := llm.requests[1].Messages
	require.Len(t, second, 3)
	assert.Equal(t, model.RoleAssistant, second[1].Role)
	assert.Equal(t, model.RoleTool, second[2].Role)
	assert.Equal(t, "call_1", second[2].ToolCallID)
	assert.JSONEq(t, `{"echo":"ping"}`, second[2].Content)
}

func TestRun_ToolFailuresAreFedBack(t *testing.T) {
	tests := []struct {
		name     string
		toolName string
		tool     *echoTool
		want     string
	}{
		{name: "unknown tool", toolName: "missing", tool: &echoTool{name: "echo"}, want: `{"error":"tool \"missing\" not found"}`},
		{name: "tool error", toolName: "echo", tool: &echoTool{name: "echo", err: errors.New("denied")}, want: `{"error":"denied"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			llm := &scriptedLLM{rounds: [][]*model.Response{
				{callTool(tt.toolName, nil)},
				{final("sorry")},
			}}
			a, err := New(Config{Model: llm, Toolsets: []tool.Toolset{staticToolset{name: "ts", tools: []tool.Tool{tt.tool}}}})
			require.NoError(t, err)

			out, err := a.Run(context.Background(), userSays("hi"))
			require.NoError(t, err)
			assert.Equal(t, "sorry", out.Content)
			assert.JSONEq(t, tt.want, llm.requests[1].Messages[2].Content)
		})
	}
}

func TestRun_StopsAfterMaxToolRounds(t *testing.T) {
	echo := &echoTool{name: "echo"}
	llm := &scriptedLLM{rounds: [][]*model.Response{
		{callTool("echo", nil)},
		{callTool("echo", nil)},
		{final("giving up")},
	}}
	a, err := New(Config{Model: llm, MaxToolRounds: 2, Toolsets: []tool.Toolset{staticToolset{name: "ts", tools: []tool.Tool{echo}}}})
	require.NoError(t, err)

	out, err := a.Run(context.Background(), userSays("hi"))
	require.NoError(t, err)
	assert.Equal(t, "giving up", out.Content)
	assert.Len(t, echo.calls, 2)
	require.Len(t, llm.requests, 3)
	assert.Empty(t, llm.requests[2].Tools, "last round is sent without tools")
}

func TestRunStream(t *testing.T) {
	llm := &scriptedLLM{rounds: [][]*model.Response{{
		{Content: "Hel", Partial: true},
		{Content: "", Partial: true},
		{Content: "lo", Partial: true},
		final("Hello"),
	}}}
	a, err := New(Config{Model: llm})
	require.NoError(t, err)

	var deltas []string
	runIDs := map[string]bool{}
	for ev := range a.RunStream(context.Background(), userSays("hi")) {
		require.Equal(t, RunEventContent, ev.Kind)
		deltas = append(deltas, ev.Content)
		runIDs[ev.RunID] = true
	}
	assert.Equal(t, []string{"Hel", "lo"}, deltas)
	assert.Len(t, runIDs, 1)
}

func TestRunStream_Error(t *testing.T) {
	llm := &scriptedLLM{err: errors.New("upstream closed")}
	a, err := New(Config{Model: llm})
	require.NoError(t, err)

	var events []*RunEvent
	for ev := range a.RunStream(context.Background(), userSays("hi")) {
		events = append(events, ev)
	}
	require.Len(t, events, 1)
	assert.Equal(t, RunEventError, events[0].Kind)
	assert.EqualError(t, events[0].Err, "upstream closed")
}

func TestRunStream_ConsumerStops(t *testing.T) {
	llm := &scriptedLLM{rounds: [][]*model.Response{{
		{Content: "a", Partial: true},
		{Content: "b", Partial: true},
		final("ab"),
	}}}
	a, err := New(Config{Model: llm})
	require.NoError(t, err)

	n := 0
	for range a.RunStream(context.Background(), userSays("hi")) {
		n++
		break
	}
	assert.Equal(t, 1, n)
}

func TestClose(t *testing.T) {
	llm := &scriptedLLM{}
	a, err := New(Config{Model: llm})
	require.NoError(t, err)
	require.NoError(t, a.Close())
	assert.True(t, llm.closed)
}
