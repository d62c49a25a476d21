package observability

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_NilSafe(t *testing.T) {
	ctx := context.Background()
	var m *Metrics

	m.RecordHTTPRequest(ctx, "GET", "/health", 200, time.Millisecond)
	m.RecordServerStart(ctx, "filesystem", time.Second, nil)
	m.SetRunningServers(ctx, 2)
	m.RecordReload(ctx, "filesystem", errors.New("boom"))
	m.RecordLLMCall(ctx, "openai", "gpt-4o-mini", time.Second, nil)
	m.RecordToolCall(ctx, "read_file", time.Millisecond, nil)
}

func TestNewPrometheus_ExposesRecordedMetrics(t *testing.T) {
	ctx := context.Background()
	m, handler, shutdown, err := NewPrometheus()
	require.NoError(t, err)
	defer func() { _ = shutdown(ctx) }()

	m.RecordReload(ctx, "filesystem", nil)
	m.RecordServerStart(ctx, "filesystem", 150*time.Millisecond, nil)
	m.SetRunningServers(ctx, 1)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, string(body), "league_mcp_reloads")
	assert.Contains(t, string(body), "league_mcp_running_servers")
	assert.Contains(t, string(body), `mcp_server="filesystem"`)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestInitTracing(t *testing.T) {
	ctx := context.Background()

	tp, shutdown, err := InitTracing(ctx, TracingConfig{})
	require.NoError(t, err)
	require.NotNil(t, tp)
	assert.NoError(t, shutdown(ctx))

	_, _, err = InitTracing(ctx, TracingConfig{Exporter: "zipkin"})
	assert.Error(t, err)

	tp, shutdown, err = InitTracing(ctx, TracingConfig{Exporter: "stdout", SamplingRate: 0.5})
	require.NoError(t, err)
	_, span := tp.Tracer("test").Start(ctx, "unit")
	span.End()
	assert.NoError(t, shutdown(ctx))
}
