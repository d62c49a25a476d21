package mcp

import (
	"context"
	"time"

	"github.com/Mapleeeeeeeeeee/hwdc-2025-mcp-league-starter/pkg/observability"
	"github.com/Mapleeeeeeeeeee/hwdc-2025-mcp-league-starter/pkg/tool"
)

// meteredToolkit records a call metric for every function invocation.
type meteredToolkit struct {
	*Toolkit
	metrics *observability.Metrics
}

func (m *Manager) instrument(tk *Toolkit) tool.Toolset {
	if m.metrics == nil {
		return tk
	}
	return &meteredToolkit{Toolkit: tk, metrics: m.metrics}
}

func (t *meteredToolkit) Tools() []tool.Tool {
	inner := t.Toolkit.Tools()
	out := make([]tool.Tool, len(inner))
	for i, fn := range inner {
		out[i] = meteredTool{Tool: fn, metrics: t.metrics}
	}
	return out
}

type meteredTool struct {
	tool.Tool
	metrics *observability.Metrics
}

func (t meteredTool) Call(ctx context.Context, args map[string]any) (map[string]any, error) {
	start := time.Now()
	out, err := t.Tool.Call(ctx, args)
	t.metrics.RecordToolCall(ctx, t.Name(), time.Since(start), err)
	return out, err
}
