// internal/server/server.go
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/user/pilotsync/internal/hub"
	"github.com/user/pilotsync/internal/pilot"
	"github.com/user/pilotsync/internal/types"
)

// Controller is the set of hub operations exposed over HTTP.
type Controller interface {
	Snapshots() []pilot.Snapshot
	Snapshot(canvasID types.CanvasID) (pilot.Snapshot, error)
	Watch(ctx context.Context, canvasID types.CanvasID, sessionID types.SessionID) error
	Unwatch(canvasID types.CanvasID) error
	Refresh(ctx context.Context, canvasID types.CanvasID) error
	SelectStep(canvasID types.CanvasID, stepID types.StepID) error
	Nodes(ctx context.Context, canvasID types.CanvasID) ([]*types.CanvasNode, error)
	Dispatches(ctx context.Context, canvasID types.CanvasID, limit int) ([]*types.DispatchRecord, error)
}

// SessionLister lists the pilot sessions attached to a target.
type SessionLister interface {
	ListSessions(ctx context.Context, targetID, targetType string, limit int) ([]*types.SessionSummary, error)
}

// Server is the daemon's control API.
type Server struct {
	hub      Controller
	sessions SessionLister
	mux      *http.ServeMux
}

// New creates a Server backed by the given controller. sessions may be nil,
// in which case session history is unavailable.
func New(ctrl Controller, sessions SessionLister) *Server {
	s := &Server{
		hub:      ctrl,
		sessions: sessions,
		mux:      http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/views", s.handleListViews)
	s.mux.HandleFunc("GET /api/views/{canvasId}", s.handleGetView)
	s.mux.HandleFunc("PUT /api/views/{canvasId}", s.handlePutView)
	s.mux.HandleFunc("DELETE /api/views/{canvasId}", s.handleDeleteView)
	s.mux.HandleFunc("POST /api/views/{canvasId}/refresh", s.handleRefresh)
	s.mux.HandleFunc("POST /api/views/{canvasId}/steps/{stepId}/select", s.handleSelectStep)
	s.mux.HandleFunc("GET /api/canvases/{canvasId}/nodes", s.handleNodes)
	s.mux.HandleFunc("GET /api/canvases/{canvasId}/dispatches", s.handleDispatches)
	s.mux.HandleFunc("GET /api/canvases/{canvasId}/sessions", s.handleSessions)
	return s
}

// ServeHTTP delegates to the internal mux, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeHubError maps hub errors to status codes.
func writeHubError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, types.ErrInvalidCanvasID):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, hub.ErrNotWatched), errors.Is(err, pilot.ErrStepNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, hub.ErrQueueFull):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		slog.Error("control API request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// canvasID reads and validates the {canvasId} path value. It writes a 400
// and returns false for ids that could escape the data directory.
func canvasID(w http.ResponseWriter, r *http.Request) (types.CanvasID, bool) {
	id := types.CanvasID(r.PathValue("canvasId"))
	if err := id.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return id, true
}

func queryLimit(r *http.Request, def int) int {
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListViews(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.hub.Snapshots())
}

func (s *Server) handleGetView(w http.ResponseWriter, r *http.Request) {
	id, ok := canvasID(w, r)
	if !ok {
		return
	}
	snap, err := s.hub.Snapshot(id)
	if err != nil {
		writeHubError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// watchRequest is the JSON body for PUT /api/views/{canvasId}. An empty
// session id starts a fresh session.
type watchRequest struct {
	SessionID types.SessionID `json:"session_id"`
}

func (s *Server) handlePutView(w http.ResponseWriter, r *http.Request) {
	id, ok := canvasID(w, r)
	if !ok {
		return
	}
	var req watchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := s.hub.Watch(r.Context(), id, req.SessionID); err != nil {
		writeHubError(w, err)
		return
	}
	snap, err := s.hub.Snapshot(id)
	if err != nil {
		writeHubError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleDeleteView(w http.ResponseWriter, r *http.Request) {
	id, ok := canvasID(w, r)
	if !ok {
		return
	}
	if err := s.hub.Unwatch(id); err != nil {
		writeHubError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRefresh runs a manual sync. Fetch and dispatch failures are part of
// the view state, so they come back as 502 with the snapshot attached.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	id, ok := canvasID(w, r)
	if !ok {
		return
	}
	refreshErr := s.hub.Refresh(r.Context(), id)
	if refreshErr != nil && (errors.Is(refreshErr, hub.ErrNotWatched) || errors.Is(refreshErr, hub.ErrQueueFull)) {
		writeHubError(w, refreshErr)
		return
	}
	snap, err := s.hub.Snapshot(id)
	if err != nil {
		writeHubError(w, err)
		return
	}
	if refreshErr != nil {
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": refreshErr.Error(), "view": snap})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleSelectStep(w http.ResponseWriter, r *http.Request) {
	id, ok := canvasID(w, r)
	if !ok {
		return
	}
	stepID := types.StepID(r.PathValue("stepId"))
	if err := s.hub.SelectStep(id, stepID); err != nil {
		writeHubError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleNodes(w http.ResponseWriter, r *http.Request) {
	id, ok := canvasID(w, r)
	if !ok {
		return
	}
	nodes, err := s.hub.Nodes(r.Context(), id)
	if err != nil {
		writeHubError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nodes)
}

func (s *Server) handleDispatches(w http.ResponseWriter, r *http.Request) {
	id, ok := canvasID(w, r)
	if !ok {
		return
	}
	records, err := s.hub.Dispatches(r.Context(), id, queryLimit(r, 50))
	if err != nil {
		writeHubError(w, err)
		return
	}
	if records == nil {
		records = []*types.DispatchRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		writeError(w, http.StatusServiceUnavailable, "session history not configured")
		return
	}
	id, ok := canvasID(w, r)
	if !ok {
		return
	}
	sessions, err := s.sessions.ListSessions(r.Context(), string(id), "canvas", queryLimit(r, 10))
	if err != nil {
		slog.Error("list sessions failed", "canvas_id", string(id), "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}
