package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mapleeeeeeeeeee/hwdc-2025-mcp-league-starter/pkg/tool"
)

func TestGenerateConfig_Clone(t *testing.T) {
	temp, maxTokens := 0.7, 256
	orig := &GenerateConfig{Temperature: &temp, MaxTokens: &maxTokens, StopSequences: []string{"END"}}

	clone := orig.Clone()
	*clone.Temperature = 1.5
	clone.StopSequences[0] = "STOP"

	assert.Equal(t, 0.7, *orig.Temperature)
	assert.Equal(t, "END", orig.StopSequences[0])
	assert.Equal(t, 256, *clone.MaxTokens)
	assert.Nil(t, (*GenerateConfig)(nil).Clone())
}

func TestStreamingAggregator(t *testing.T) {
	agg := NewStreamingAggregator()
	agg.SetModel("gpt-4o-mini")

	var deltas []string
	for _, chunk := range []string{"Hel", "", "lo"} {
		for resp, err := range agg.ProcessTextDelta(chunk) {
			require.NoError(t, err)
			assert.True(t, resp.Partial)
			deltas = append(deltas, resp.Content)
		}
	}
	assert.Equal(t, []string{"Hel", "lo"}, deltas)

	agg.SetUsage(&Usage{TotalTokens: 12})
	final := agg.Close()
	require.NotNil(t, final)
	assert.False(t, final.Partial)
	assert.Equal(t, "Hello", final.Content)
	assert.Equal(t, FinishReasonStop, final.FinishReason)
	assert.Equal(t, "gpt-4o-mini", final.Model)
	assert.Equal(t, 12, final.Usage.TotalTokens)
}

func TestStreamingAggregator_ToolCalls(t *testing.T) {
	agg := NewStreamingAggregator()
	agg.ProcessToolCall(tool.ToolCall{ID: "call_1", Name: "read_file"})

	final := agg.Close()
	require.NotNil(t, final)
	assert.True(t, final.HasToolCalls())
	assert.Equal(t, FinishReasonToolCalls, final.FinishReason)
	assert.Equal(t, RoleAssistant, final.ToMessage().Role)
}

func TestStreamingAggregator_Empty(t *testing.T) {
	assert.Nil(t, NewStreamingAggregator().Close())
}
