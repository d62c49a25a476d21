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

package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics records service metrics. All methods are safe on a nil receiver
// so components can run without metrics wired.
type Metrics struct {
	httpRequests    metric.Int64Counter
	httpDuration    metric.Float64Histogram
	serverStarts    metric.Int64Counter
	serverStartTime metric.Float64Histogram
	runningServers  metric.Int64Gauge
	reloads         metric.Int64Counter
	llmRequests     metric.Int64Counter
	llmDuration     metric.Float64Histogram
	toolCalls       metric.Int64Counter
	toolDuration    metric.Float64Histogram
}

// NewMetrics creates the instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	if m.httpRequests, err = meter.Int64Counter("league_http_requests_total",
		metric.WithDescription("HTTP requests served")); err != nil {
		return nil, fmt.Errorf("failed to create http requests counter: %w", err)
	}
	if m.httpDuration, err = meter.Float64Histogram("league_http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"), metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("failed to create http duration histogram: %w", err)
	}
	if m.serverStarts, err = meter.Int64Counter("league_mcp_server_starts_total",
		metric.WithDescription("Tool-server start attempts by outcome")); err != nil {
		return nil, fmt.Errorf("failed to create server starts counter: %w", err)
	}
	if m.serverStartTime, err = meter.Float64Histogram("league_mcp_server_start_duration_seconds",
		metric.WithDescription("Tool-server startup duration in seconds"), metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("failed to create server start histogram: %w", err)
	}
	if m.runningServers, err = meter.Int64Gauge("league_mcp_running_servers",
		metric.WithDescription("Tool servers currently running")); err != nil {
		return nil, fmt.Errorf("failed to create running servers gauge: %w", err)
	}
	if m.reloads, err = meter.Int64Counter("league_mcp_reloads_total",
		metric.WithDescription("Tool-server reloads by outcome")); err != nil {
		return nil, fmt.Errorf("failed to create reloads counter: %w", err)
	}
	if m.llmRequests, err = meter.Int64Counter("league_llm_requests_total",
		metric.WithDescription("Model invocations by provider and outcome")); err != nil {
		return nil, fmt.Errorf("failed to create llm requests counter: %w", err)
	}
	if m.llmDuration, err = meter.Float64Histogram("league_llm_request_duration_seconds",
		metric.WithDescription("Model invocation duration in seconds"), metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("failed to create llm duration histogram: %w", err)
	}
	if m.toolCalls, err = meter.Int64Counter("league_tool_calls_total",
		metric.WithDescription("Tool function calls by outcome")); err != nil {
		return nil, fmt.Errorf("failed to create tool calls counter: %w", err)
	}
	if m.toolDuration, err = meter.Float64Histogram("league_tool_call_duration_seconds",
		metric.WithDescription("Tool function call duration in seconds"), metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("failed to create tool duration histogram: %w", err)
	}

	return m, nil
}

// NewPrometheus wires an OpenTelemetry meter provider to a dedicated
// Prometheus registry and returns the scrape handler for it.
func NewPrometheus() (*Metrics, http.Handler, func(context.Context) error, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	metrics, err := NewMetrics(provider.Meter(instrumentationName))
	if err != nil {
		return nil, nil, nil, err
	}

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
	return metrics, handler, provider.Shutdown, nil
}

func outcome(err error) attribute.KeyValue {
	if err != nil {
		return attribute.String("outcome", "error")
	}
	return attribute.String("outcome", "success")
}

func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(AttrHTTPMethod, method),
		attribute.String(AttrHTTPRoute, route),
		attribute.Int(AttrHTTPStatusCode, status),
	)
	m.httpRequests.Add(ctx, 1, attrs)
	m.httpDuration.Record(ctx, duration.Seconds(), attrs)
}

func (m *Metrics) RecordServerStart(ctx context.Context, server string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String(AttrServerName, server), outcome(err))
	m.serverStarts.Add(ctx, 1, attrs)
	m.serverStartTime.Record(ctx, duration.Seconds(), attrs)
}

func (m *Metrics) SetRunningServers(ctx context.Context, n int) {
	if m == nil {
		return
	}
	m.runningServers.Record(ctx, int64(n))
}

func (m *Metrics) RecordReload(ctx context.Context, server string, err error) {
	if m == nil {
		return
	}
	m.reloads.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrServerName, server), outcome(err)))
}

func (m *Metrics) RecordLLMCall(ctx context.Context, provider, model string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(AttrLLMProvider, provider),
		attribute.String(AttrLLMModel, model),
		outcome(err),
	)
	m.llmRequests.Add(ctx, 1, attrs)
	m.llmDuration.Record(ctx, duration.Seconds(), attrs)
}

func (m *Metrics) RecordToolCall(ctx context.Context, tool string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String(AttrToolName, tool), outcome(err))
	m.toolCalls.Add(ctx, 1, attrs)
	m.toolDuration.Record(ctx, duration.Seconds(), attrs)
}
