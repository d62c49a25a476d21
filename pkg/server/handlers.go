package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	league "github.com/Mapleeeeeeeeeee/hwdc-2025-mcp-league-starter"
	"github.com/Mapleeeeeeeeeee/hwdc-2025-mcp-league-starter/pkg/apperr"
	"github.com/Mapleeeeeeeeeee/hwdc-2025-mcp-league-starter/pkg/usecase"
)

const maxBodyBytes = 1 << 20

func decodeBody(w http.ResponseWriter, r *http.Request, out any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		return apperr.Wrap(apperr.KindValidation, err, "Request validation failed")
	}
	return nil
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	info := league.GetVersion()
	writeSuccess(w, r, http.StatusOK, map[string]any{
		"name":    s.name,
		"version": info.Version,
		"docs":    "/api/v1",
	}, "Welcome to the MCP league backend")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	data := map[string]any{"status": "healthy"}
	if s.toolServers != nil {
		data["mcp_initialized"] = s.toolServers.ListServers().Initialized
	}
	writeSuccess(w, r, http.StatusOK, data, "Service is healthy")
}

func (s *Server) handleGenerateReply(w http.ResponseWriter, r *http.Request) {
	var req usecase.ConversationRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	reply, err := s.conversations.GenerateReply(r.Context(), &req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, r, http.StatusOK, reply, "Conversation reply generated")
}

// handleStreamReply streams chunks as server-sent events. Errors raised
// before the first byte use the JSON error envelope; later failures are
// sent as an "error" event.
func (s *Server) handleStreamReply(w http.ResponseWriter, r *http.Request) {
	var req usecase.ConversationRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	stream, err := s.conversations.StreamReply(r.Context(), &req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for chunk, err := range stream {
		if err != nil {
			_, body := errorResponse(r, err)
			data, _ := json.Marshal(errorEnvelope{Error: body})
			fmt.Fprintf(w, "event: error\ndata: %s\n\n", data)
			if flusher != nil {
				flusher.Flush()
			}
			return
		}
		data, err := json.Marshal(chunk)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	res, err := s.models.ListModels()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, r, http.StatusOK, res, "Model list retrieved")
}

func (s *Server) handleSetActiveModel(w http.ResponseWriter, r *http.Request) {
	if err := s.models.SetActiveModel(chi.URLParam(r, "model_key")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpsertModel(w http.ResponseWriter, r *http.Request) {
	var req usecase.UpsertModelRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	desc, err := s.models.UpsertModel(&req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, r, http.StatusCreated, desc, "Model configuration updated")
}

func (s *Server) handleListServers(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, r, http.StatusOK, s.toolServers.ListServers(), "MCP servers retrieved")
}

func (s *Server) handleReloadAll(w http.ResponseWriter, r *http.Request) {
	res, err := s.toolServers.ReloadAll(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, r, http.StatusOK, res, "All servers reloaded")
}

func (s *Server) handleReloadServer(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "server_name")
	res, err := s.toolServers.ReloadServer(r.Context(), name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, r, http.StatusOK, res, fmt.Sprintf("Server '%s' reloaded successfully", name))
}
