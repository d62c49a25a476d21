package model

import (
	"iter"
	"strings"

	"github.com/Mapleeeeeeeeeee/hwdc-2025-mcp-league-starter/pkg/tool"
)

// StreamingAggregator accumulates streaming deltas. Providers yield the
// partial responses it returns and finish with Close.
//
//	agg := model.NewStreamingAggregator()
//	for each chunk {
//	    for resp, err := range agg.ProcessTextDelta(chunk.Text) {
//	        yield(resp, err)
//	    }
//	}
//	if final := agg.Close(); final != nil {
//	    yield(final, nil)
//	}
type StreamingAggregator struct {
	text         strings.Builder
	toolCalls    []tool.ToolCall
	usage        *Usage
	finishReason FinishReason
	model        string
}

func NewStreamingAggregator() *StreamingAggregator {
	return &StreamingAggregator{}
}

// ProcessTextDelta records text and yields it as a partial response.
func (s *StreamingAggregator) ProcessTextDelta(text string) iter.Seq2[*Response, error] {
	return func(yield func(*Response, error) bool) {
		if text == "" {
			return
		}
		s.text.WriteString(text)
		yield(&Response{Content: text, Partial: true, Model: s.model}, nil)
	}
}

// AppendText records text without yielding a delta.
func (s *StreamingAggregator) AppendText(text string) {
	s.text.WriteString(text)
}

// ProcessToolCall records a complete tool call. Tool calls are only
// surfaced on the aggregated response.
func (s *StreamingAggregator) ProcessToolCall(tc tool.ToolCall) {
	s.toolCalls = append(s.toolCalls, tc)
}

func (s *StreamingAggregator) SetUsage(usage *Usage) {
	s.usage = usage
}

func (s *StreamingAggregator) SetFinishReason(reason FinishReason) {
	s.finishReason = reason
}

func (s *StreamingAggregator) SetModel(name string) {
	if name != "" {
		s.model = name
	}
}

// Close returns the aggregated response, or nil when nothing was received.
func (s *StreamingAggregator) Close() *Response {
	if s.text.Len() == 0 && len(s.toolCalls) == 0 {
		return nil
	}
	reason := s.finishReason
	switch {
	case len(s.toolCalls) > 0 && (reason == "" || reason == FinishReasonStop):
		reason = FinishReasonToolCalls
	case reason == "":
		reason = FinishReasonStop
	}
	return &Response{
		Content:      s.text.String(),
		ToolCalls:    s.toolCalls,
		Usage:        s.usage,
		FinishReason: reason,
		Model:        s.model,
	}
}
