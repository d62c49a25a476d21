package llm

import (
	"context"
	"iter"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Mapleeeeeeeeeee/hwdc-2025-mcp-league-starter/pkg/model"
	"github.com/Mapleeeeeeeeeee/hwdc-2025-mcp-league-starter/pkg/observability"
)

// instrumentedLLM records a span and call metrics around every
// GenerateContent sequence.
type instrumentedLLM struct {
	model.LLM
	metrics *observability.Metrics
	tracer  trace.Tracer
}

func newInstrumentedLLM(llm model.LLM, metrics *observability.Metrics, tracer trace.Tracer) model.LLM {
	return &instrumentedLLM{LLM: llm, metrics: metrics, tracer: tracer}
}

func (l *instrumentedLLM) GenerateContent(ctx context.Context, req *model.Request, stream bool) iter.Seq2[*model.Response, error] {
	return func(yield func(*model.Response, error) bool) {
		provider := string(l.Provider())
		ctx, span := l.tracer.Start(ctx, observability.SpanLLMRequest, trace.WithAttributes(
			attribute.String(observability.AttrLLMProvider, provider),
			attribute.String(observability.AttrLLMModel, l.Name()),
			attribute.Bool("llm.stream", stream),
			attribute.Int("llm.tools", len(req.Tools)),
		))
		start := time.Now()

		var callErr error
		defer func() {
			if callErr != nil {
				span.RecordError(callErr)
				span.SetStatus(codes.Error, callErr.Error())
			}
			span.End()
			l.metrics.RecordLLMCall(ctx, provider, l.Name(), time.Since(start), callErr)
		}()

		for resp, err := range l.LLM.GenerateContent(ctx, req, stream) {
			if err != nil {
				callErr = err
			} else if resp != nil && !resp.Partial && resp.Usage != nil {
				span.SetAttributes(
					attribute.Int("llm.prompt_tokens", resp.Usage.PromptTokens),
					attribute.Int("llm.completion_tokens", resp.Usage.CompletionTokens),
				)
			}
			if !yield(resp, err) {
				return
			}
		}
	}
}
