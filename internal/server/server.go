// Package server exposes the curation pipeline over HTTP. The rendering
// layer is an external collaborator: these handlers consume state snapshots
// and accept the user intents (import, toggle, delete, scan, export).
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/chatscrub/chatscrub/internal/archive"
	"github.com/chatscrub/chatscrub/internal/export"
	"github.com/chatscrub/chatscrub/internal/llm"
	"github.com/chatscrub/chatscrub/internal/logger"
	"github.com/chatscrub/chatscrub/internal/scan"
	"github.com/chatscrub/chatscrub/internal/store"
)

// Server wires the store and the scan runner to the HTTP surface.
type Server struct {
	store  *store.Store
	runner *scan.Runner
}

func New(st *store.Store, runner *scan.Runner) *Server {
	return &Server{store: st, runner: runner}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /import", s.handleImport)
	mux.HandleFunc("GET /conversations", s.handleConversations)
	mux.HandleFunc("POST /conversations/{id}/expand", s.handleToggleExpand)
	mux.HandleFunc("DELETE /conversations/{id}", s.handleDeleteConversation)
	mux.HandleFunc("POST /conversations/{id}/messages/{msgID}/deletion", s.handleToggleMessageDeletion)
	mux.HandleFunc("GET /sensitive", s.handleSensitive)
	mux.HandleFunc("POST /sensitive/delete-all", s.handleDeleteAllSensitive)
	mux.HandleFunc("POST /scan", s.handleScan)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /export", s.handleExport)

	return mux
}

// handleImport parses an export archive, loads it, and immediately runs the
// local pattern detector over every message.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		logger.L.Error("read import body error", "error", err)
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	conversations, err := archive.Parse(body)
	if err != nil {
		logger.L.Warn("import failed", "error", err)
		http.Error(w, "No conversations found in file. Please check the format.", http.StatusBadRequest)
		return
	}

	s.store.Load(conversations)
	annotated := s.store.ApplyLocalDetection()
	logger.L.Info("archive imported", "conversations", len(conversations), "annotated", annotated)

	writeJSON(w, http.StatusOK, map[string]any{
		"conversations": len(conversations),
		"stats":         s.store.Stats(),
	})
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Conversations())
}

func (s *Server) handleToggleExpand(w http.ResponseWriter, r *http.Request) {
	expanded, err := s.store.ToggleExpand(r.PathValue("id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"isExpanded": expanded})
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.DeleteConversation(id); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	logger.L.Info("conversation deleted", "id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleToggleMessageDeletion(w http.ResponseWriter, r *http.Request) {
	marked, err := s.store.ToggleMessageDeletion(r.PathValue("id"), r.PathValue("msgID"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"isMarkedForDeletion": marked})
}

func (s *Server) handleSensitive(w http.ResponseWriter, r *http.Request) {
	refs := s.store.SensitiveMessages()
	if refs == nil {
		refs = []store.SensitiveRef{}
	}
	writeJSON(w, http.StatusOK, refs)
}

func (s *Server) handleDeleteAllSensitive(w http.ResponseWriter, r *http.Request) {
	marked := s.store.MarkSensitiveForDeletion()
	logger.L.Info("sensitive messages marked for deletion", "count", marked)
	writeJSON(w, http.StatusOK, map[string]int{"marked": marked})
}

// handleScan runs a Deep Scan synchronously. The request may carry an API
// key and an overall timeout overriding the configured ones. A second scan
// while one is in flight is rejected rather than queued.
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var req struct {
		APIKey         string `json:"api_key"`
		TimeoutSeconds int    `json:"timeout_seconds"`
	}
	if r.Body != nil {
		// An empty body means "use the configured credential".
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			http.Error(w, "invalid scan request body", http.StatusBadRequest)
			return
		}
	}

	sum, err := s.runner.Run(r.Context(), req.APIKey, req.TimeoutSeconds)
	switch {
	case errors.Is(err, scan.ErrScanInFlight):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case errors.Is(err, llm.ErrMissingCredential):
		http.Error(w, "OpenAI API key missing", http.StatusBadRequest)
		return
	case err != nil:
		logger.L.Error("scan error", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"summary": sum,
		"stats":   s.store.Stats(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Stats())
}

// handleExport streams the filtered transcript as a plain-text download.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	text := export.Render(export.Filter(s.store.Conversations()))

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.Filename()))
	if _, err := io.WriteString(w, text); err != nil {
		logger.L.Warn("export write error", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.L.Warn("response encode error", "error", err)
	}
}
