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

// Package server exposes the use cases over HTTP.
//
// Routes (prefix /api/v1):
//
//	POST /conversation                          generate a reply
//	POST /conversation/stream                   stream a reply as SSE
//	GET  /conversation/models                   list models and the active key
//	PUT  /conversation/models/{model_key}       set the active model
//	POST /conversation/models                   register or replace a model
//	GET  /mcp/servers                           list tool servers
//	POST /mcp/servers:reload                    reload every enabled server
//	POST /mcp/servers/{server_name}:reload      reload one server
//
// JSON responses use the {success, data, message, trace_id} envelope.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/trace"

	"github.com/Mapleeeeeeeeeee/hwdc-2025-mcp-league-starter/pkg/observability"
	"github.com/Mapleeeeeeeeeee/hwdc-2025-mcp-league-starter/pkg/usecase"
)

// Config holds the server dependencies.
type Config struct {
	Addr string
	Name string

	Conversations *usecase.ConversationUsecase
	Models        *usecase.ModelManagementUsecase
	ToolServers   *usecase.ToolServerUsecase

	// MetricsHandler is mounted at /metrics when set.
	MetricsHandler http.Handler
	Metrics        *observability.Metrics
	Tracer         trace.Tracer
}

type Server struct {
	name          string
	conversations *usecase.ConversationUsecase
	models        *usecase.ModelManagementUsecase
	toolServers   *usecase.ToolServerUsecase
	metricsHTTP   http.Handler
	metrics       *observability.Metrics
	tracer        trace.Tracer

	httpServer *http.Server
}

func New(cfg Config) *Server {
	s := &Server{
		name:          cfg.Name,
		conversations: cfg.Conversations,
		models:        cfg.Models,
		toolServers:   cfg.ToolServers,
		metricsHTTP:   cfg.MetricsHandler,
		metrics:       cfg.Metrics,
		tracer:        cfg.Tracer,
	}
	if s.name == "" {
		s.name = observability.DefaultServiceName
	}
	if s.tracer == nil {
		s.tracer = observability.Tracer()
	}

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(traceMiddleware)
	r.Use(observabilityMiddleware(s.tracer, s.metrics))
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	if s.metricsHTTP != nil {
		r.Handle("/metrics", s.metricsHTTP)
	}

	r.Route("/api/v1", func(r chi.Router) {
		if s.conversations != nil {
			r.Post("/conversation", s.handleGenerateReply)
			r.Post("/conversation/stream", s.handleStreamReply)
		}
		if s.models != nil {
			r.Get("/conversation/models", s.handleListModels)
			r.Post("/conversation/models", s.handleUpsertModel)
			r.Put("/conversation/models/{model_key}", s.handleSetActiveModel)
		}
		if s.toolServers != nil {
			r.Get("/mcp/servers", s.handleListServers)
			r.Post("/mcp/servers:reload", s.handleReloadAll)
			r.Post("/mcp/servers/{server_name}:reload", s.handleReloadServer)
		}
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorEnvelope{Error: errorBody{
			Type:    "HTTPException",
			Message: "Not Found",
			TraceID: TraceID(r.Context()),
		}})
	})
	return r
}

// Start serves until ctx is cancelled, then shuts down within
// shutdownTimeout.
func (s *Server) Start(ctx context.Context, shutdownTimeout time.Duration) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	slog.Info("HTTP server starting", "address", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	slog.Info("HTTP server shutting down")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP shutdown error: %w", err)
	}
	return nil
}
