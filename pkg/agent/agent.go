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

// Package agent runs a conversation turn against one model.
//
// An Agent owns a model.LLM and any number of attached toolsets. When tools
// are attached their definitions are sent with each request; tool calls the
// model asks for are executed and their results fed back until the model
// produces a plain answer or the round limit is reached.
//
//	a, err := agent.New(agent.Config{Name: "assistant", Model: llm})
//	a.AddToolset(toolkit)
//	out, err := a.Run(ctx, history)
package agent

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Mapleeeeeeeeeee/hwdc-2025-mcp-league-starter/pkg/model"
	"github.com/Mapleeeeeeeeeee/hwdc-2025-mcp-league-starter/pkg/observability"
	"github.com/Mapleeeeeeeeeee/hwdc-2025-mcp-league-starter/pkg/tool"
)

// DefaultMaxToolRounds bounds model/tool round trips per run.
const DefaultMaxToolRounds = 8

// Config configures an Agent.
type Config struct {
	Name        string
	Description string
	SessionID   string

	// Instruction is sent as the system instruction on every request.
	Instruction string

	Model    model.LLM
	Toolsets []tool.Toolset

	// GenerateConfig applies to every request. Nil uses provider defaults.
	GenerateConfig *model.GenerateConfig

	// MaxToolRounds defaults to DefaultMaxToolRounds.
	MaxToolRounds int

	// Debug logs every request and tool result at info level.
	Debug bool

	// Tracer defaults to the module tracer.
	Tracer trace.Tracer
}

// Agent is a single-model conversational agent.
type Agent struct {
	name          string
	description   string
	sessionID     string
	instruction   string
	llm           model.LLM
	genConfig     *model.GenerateConfig
	maxToolRounds int
	debug         bool
	tracer        trace.Tracer

	mu       sync.RWMutex
	toolsets []tool.Toolset
}

// RunOutput is the result of a completed run.
type RunOutput struct {
	Content string
	// Model is the model identifier echoed by the provider, if any.
	Model string
	RunID string
}

// RunEventKind distinguishes stream events.
type RunEventKind string

const (
	RunEventContent RunEventKind = "content"
	RunEventError   RunEventKind = "error"
)

// RunEvent is one incremental event of a streamed run.
type RunEvent struct {
	Kind    RunEventKind
	Content string
	RunID   string
	Err     error
}

func New(cfg Config) (*Agent, error) {
	if cfg.Model == nil {
		return nil, errors.New("agent model is required")
	}
	name := cfg.Name
	if name == "" {
		name = cfg.Model.Name()
	}
	rounds := cfg.MaxToolRounds
	if rounds <= 0 {
		rounds = DefaultMaxToolRounds
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = observability.Tracer()
	}

	return &Agent{
		name:          name,
		description:   cfg.Description,
		sessionID:     cfg.SessionID,
		instruction:   cfg.Instruction,
		llm:           cfg.Model,
		genConfig:     cfg.GenerateConfig,
		maxToolRounds: rounds,
		debug:         cfg.Debug,
		tracer:        tracer,
		toolsets:      append([]tool.Toolset(nil), cfg.Toolsets...),
	}, nil
}

func (a *Agent) Name() string        { return a.name }
func (a *Agent) Description() string { return a.description }
func (a *Agent) SessionID() string   { return a.sessionID }
func (a *Agent) Model() model.LLM    { return a.llm }
func (a *Agent) Debug() bool         { return a.debug }

// AddToolset attaches ts to the agent.
func (a *Agent) AddToolset(ts tool.Toolset) {
	if ts == nil {
		return
	}
	a.mu.Lock()
	a.toolsets = append(a.toolsets, ts)
	a.mu.Unlock()
}

// Toolsets returns the attached toolsets.
func (a *Agent) Toolsets() []tool.Toolset {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]tool.Toolset(nil), a.toolsets...)
}

// Close releases the model.
func (a *Agent) Close() error {
	return a.llm.Close()
}

// Run executes one turn and returns the final answer. The output is nil,
// with a nil error, when the model produced no final response; an empty
// final response yields an output with empty Content.
func (a *Agent) Run(ctx context.Context, history []model.Message) (*RunOutput, error) {
	runID := uuid.NewString()
	ctx, span := a.startRunSpan(ctx, runID, false)
	defer span.End()

	var out *RunOutput
	err := a.loop(ctx, history, false, func(resp *model.Response) bool {
		if !resp.Partial {
			out = &RunOutput{Content: resp.Content, Model: resp.Model, RunID: runID}
		}
		return true
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return out, nil
}

// RunStream executes one turn and yields content deltas as they arrive. A
// failure is delivered as a final RunEventError event.
func (a *Agent) RunStream(ctx context.Context, history []model.Message) iter.Seq[*RunEvent] {
	return func(yield func(*RunEvent) bool) {
		runID := uuid.NewString()
		ctx, span := a.startRunSpan(ctx, runID, true)
		defer span.End()

		stopped := false
		err := a.loop(ctx, history, true, func(resp *model.Response) bool {
			if !resp.Partial || resp.Content == "" {
				return true
			}
			if !yield(&RunEvent{Kind: RunEventContent, Content: resp.Content, RunID: runID}) {
				stopped = true
				return false
			}
			return true
		})
		if err != nil && !stopped {
			span.RecordError(err)
			yield(&RunEvent{Kind: RunEventError, Content: err.Error(), RunID: runID, Err: err})
		}
	}
}

func (a *Agent) startRunSpan(ctx context.Context, runID string, stream bool) (context.Context, trace.Span) {
	return a.tracer.Start(ctx, observability.SpanAgentRun, trace.WithAttributes(
		attribute.String("agent.name", a.name),
		attribute.String("agent.run_id", runID),
		attribute.String(observability.AttrLLMModel, a.llm.Name()),
		attribute.Bool("agent.stream", stream),
	))
}

var errConsumerStopped = errors.New("consumer stopped")

// loop drives model/tool rounds. emit receives every response the model
// yields; returning false stops the run.
func (a *Agent) loop(ctx context.Context, history []model.Message, stream bool, emit func(*model.Response) bool) error {
	messages := append([]model.Message(nil), history...)
	tools := a.collectTools()
	defs := make([]tool.Definition, 0, len(tools))
	for _, name := range slices.Sorted(maps.Keys(tools)) {
		defs = append(defs, tool.DefinitionOf(tools[name]))
	}

	for round := 0; ; round++ {
		req := &model.Request{
			Messages:          messages,
			SystemInstruction: a.instruction,
			Config:            a.genConfig.Clone(),
		}
		// The last round is sent without tools so the model has to answer.
		if round < a.maxToolRounds {
			req.Tools = defs
		}
		if a.debug {
			slog.Info("Agent request", "agent", a.name, "round", round, "messages", len(messages), "tools", len(req.Tools))
		}

		final, err := a.generate(ctx, req, stream, emit)
		if err != nil {
			if errors.Is(err, errConsumerStopped) {
				return nil
			}
			return err
		}
		if final == nil || !final.HasToolCalls() || len(req.Tools) == 0 {
			return nil
		}

		messages = append(messages, final.ToMessage())
		for _, tc := range final.ToolCalls {
			messages = append(messages, a.callTool(ctx, tools, tc))
		}
	}
}

func (a *Agent) generate(ctx context.Context, req *model.Request, stream bool, emit func(*model.Response) bool) (*model.Response, error) {
	var final *model.Response
	for resp, err := range a.llm.GenerateContent(ctx, req, stream) {
		if err != nil {
			return nil, err
		}
		if resp == nil {
			continue
		}
		if !resp.Partial {
			final = resp
			// Tool-call rounds are internal to the run.
			if resp.HasToolCalls() && len(req.Tools) > 0 {
				continue
			}
		}
		if !emit(resp) {
			return nil, errConsumerStopped
		}
	}
	return final, nil
}

func (a *Agent) collectTools() map[string]tool.Tool {
	out := make(map[string]tool.Tool)
	for _, ts := range a.Toolsets() {
		for _, t := range ts.Tools() {
			if _, dup := out[t.Name()]; dup {
				slog.Warn("Duplicate tool name, keeping first", "agent", a.name, "tool", t.Name(), "toolset", ts.Name())
				continue
			}
			out[t.Name()] = t
		}
	}
	return out
}

func (a *Agent) callTool(ctx context.Context, tools map[string]tool.Tool, tc tool.ToolCall) model.Message {
	msg := model.Message{Role: model.RoleTool, ToolCallID: tc.ID, Name: tc.Name}

	t, ok := tools[tc.Name]
	if !ok {
		msg.Content = formatToolError(fmt.Errorf("tool %q not found", tc.Name))
		return msg
	}

	ctx, span := a.tracer.Start(ctx, observability.SpanToolExecution,
		trace.WithAttributes(attribute.String(observability.AttrToolName, tc.Name)))
	defer span.End()

	result, err := t.Call(ctx, tc.Args)
	if err != nil {
		span.RecordError(err)
		slog.Warn("Tool call failed", "agent", a.name, "tool", tc.Name, "error", err)
		msg.Content = formatToolError(err)
		return msg
	}
	msg.Content = formatToolResult(result)
	if a.debug {
		slog.Info("Tool result", "agent", a.name, "tool", tc.Name, "result", msg.Content)
	}
	return msg
}
