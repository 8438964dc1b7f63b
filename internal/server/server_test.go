package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/user/pilotsync/internal/hub"
	"github.com/user/pilotsync/internal/pilot"
	"github.com/user/pilotsync/internal/types"
)

type mockHub struct {
	views      map[types.CanvasID]pilot.Snapshot
	refreshErr error
	refreshed  []types.CanvasID
	selected   []types.StepID
	nodes      []*types.CanvasNode
	records    []*types.DispatchRecord
	lastLimit  int
}

func newMockHub() *mockHub {
	return &mockHub{views: make(map[types.CanvasID]pilot.Snapshot)}
}

func (m *mockHub) Snapshots() []pilot.Snapshot {
	out := []pilot.Snapshot{}
	for _, s := range m.views {
		out = append(out, s)
	}
	return out
}

func (m *mockHub) Snapshot(id types.CanvasID) (pilot.Snapshot, error) {
	s, ok := m.views[id]
	if !ok {
		return pilot.Snapshot{}, fmt.Errorf("%w: %s", hub.ErrNotWatched, id)
	}
	return s, nil
}

func (m *mockHub) Watch(_ context.Context, id types.CanvasID, sessionID types.SessionID) error {
	m.views[id] = pilot.Snapshot{CanvasID: id, SessionID: sessionID, State: pilot.StateNoSession}
	return nil
}

func (m *mockHub) Unwatch(id types.CanvasID) error {
	if _, ok := m.views[id]; !ok {
		return fmt.Errorf("%w: %s", hub.ErrNotWatched, id)
	}
	delete(m.views, id)
	return nil
}

func (m *mockHub) Refresh(_ context.Context, id types.CanvasID) error {
	if _, ok := m.views[id]; !ok {
		return fmt.Errorf("%w: %s", hub.ErrNotWatched, id)
	}
	m.refreshed = append(m.refreshed, id)
	return m.refreshErr
}

func (m *mockHub) SelectStep(id types.CanvasID, stepID types.StepID) error {
	if _, ok := m.views[id]; !ok {
		return fmt.Errorf("%w: %s", hub.ErrNotWatched, id)
	}
	if stepID != "s-1" {
		return fmt.Errorf("%w: %s", pilot.ErrStepNotFound, stepID)
	}
	m.selected = append(m.selected, stepID)
	return nil
}

func (m *mockHub) Nodes(context.Context, types.CanvasID) ([]*types.CanvasNode, error) {
	return m.nodes, nil
}

func (m *mockHub) Dispatches(_ context.Context, _ types.CanvasID, limit int) ([]*types.DispatchRecord, error) {
	m.lastLimit = limit
	return m.records, nil
}

type mockLister struct {
	targetID, targetType string
	limit                int
}

func (m *mockLister) ListSessions(_ context.Context, targetID, targetType string, limit int) ([]*types.SessionSummary, error) {
	m.targetID, m.targetType, m.limit = targetID, targetType, limit
	return []*types.SessionSummary{{SessionID: "sess-1", Title: "Research", Status: types.SessionStatusWaiting}}, nil
}

func do(srv http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	srv := New(newMockHub(), nil)

	w := do(srv, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp["status"] != "ok" {
		t.Errorf("expected status ok, got %s", resp["status"])
	}
}

func TestPutAndGetView(t *testing.T) {
	m := newMockHub()
	srv := New(m, nil)

	w := do(srv, http.MethodPut, "/api/views/canvas-1", `{"session_id":"sess-1"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	w = do(srv, http.MethodGet, "/api/views/canvas-1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var snap map[string]any
	if err := json.NewDecoder(w.Body).Decode(&snap); err != nil {
		t.Fatal(err)
	}
	if snap["canvas_id"] != "canvas-1" || snap["session_id"] != "sess-1" {
		t.Errorf("unexpected snapshot: %v", snap)
	}
	if snap["state"] != "no-session" {
		t.Errorf("expected state no-session, got %v", snap["state"])
	}
}

func TestPutViewInvalidJSON(t *testing.T) {
	srv := New(newMockHub(), nil)

	w := do(srv, http.MethodPut, "/api/views/canvas-1", `{not json`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", w.Code)
	}
}

func TestInvalidCanvasIDRejected(t *testing.T) {
	m := newMockHub()
	srv := New(m, nil)

	cases := []struct{ method, path, body string }{
		{http.MethodPut, "/api/views/a%2Fb", `{"session_id":"sess-1"}`},
		{http.MethodPut, "/api/views/a%5Cb", `{"session_id":"sess-1"}`},
		{http.MethodGet, "/api/views/x..y", ""},
		{http.MethodDelete, "/api/views/a%2Fb", ""},
		{http.MethodPost, "/api/views/a%5Cb/refresh", ""},
		{http.MethodGet, "/api/canvases/a%2Fb/nodes", ""},
		{http.MethodGet, "/api/canvases/x..y/dispatches", ""},
	}
	for _, c := range cases {
		w := do(srv, c.method, c.path, c.body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s %s: expected status 400, got %d", c.method, c.path, w.Code)
		}
	}

	w := do(srv, http.MethodPut, "/api/views/..%2F..%2Fescape", `{"session_id":"sess-1"}`)
	if w.Code == http.StatusOK {
		t.Errorf("expected traversal id to be refused, got %d", w.Code)
	}
	if len(m.views) != 0 || len(m.refreshed) != 0 {
		t.Errorf("expected hub untouched, got views %v refreshed %v", m.views, m.refreshed)
	}
}

func TestWatchInvalidCanvasIDFromHub(t *testing.T) {
	rec := httptest.NewRecorder()
	writeHubError(rec, fmt.Errorf("watch: %w", types.ErrInvalidCanvasID))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
}

func TestGetViewNotWatched(t *testing.T) {
	srv := New(newMockHub(), nil)

	w := do(srv, http.MethodGet, "/api/views/missing", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", w.Code)
	}
}

func TestListViews(t *testing.T) {
	m := newMockHub()
	m.views["canvas-1"] = pilot.Snapshot{CanvasID: "canvas-1", State: pilot.StateLoadedPolling}
	srv := New(m, nil)

	w := do(srv, http.MethodGet, "/api/views", "")
	var snaps []map[string]any
	if err := json.NewDecoder(w.Body).Decode(&snaps); err != nil {
		t.Fatal(err)
	}
	if len(snaps) != 1 || snaps[0]["state"] != "loaded-polling" {
		t.Errorf("unexpected views: %v", snaps)
	}
}

func TestDeleteView(t *testing.T) {
	m := newMockHub()
	m.views["canvas-1"] = pilot.Snapshot{CanvasID: "canvas-1"}
	srv := New(m, nil)

	if w := do(srv, http.MethodDelete, "/api/views/canvas-1", ""); w.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", w.Code)
	}
	if w := do(srv, http.MethodDelete, "/api/views/canvas-1", ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 on second delete, got %d", w.Code)
	}
}

func TestRefresh(t *testing.T) {
	m := newMockHub()
	m.views["canvas-1"] = pilot.Snapshot{CanvasID: "canvas-1", State: pilot.StateLoadedIdle}
	srv := New(m, nil)

	w := do(srv, http.MethodPost, "/api/views/canvas-1/refresh", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if len(m.refreshed) != 1 {
		t.Errorf("expected one refresh, got %d", len(m.refreshed))
	}
}

func TestRefreshFailureReturnsView(t *testing.T) {
	m := newMockHub()
	m.views["canvas-1"] = pilot.Snapshot{CanvasID: "canvas-1", State: pilot.StateLoadedIdle, Failed: true}
	m.refreshErr = errors.New("fetch session sess-1: connection refused")
	srv := New(m, nil)

	w := do(srv, http.MethodPost, "/api/views/canvas-1/refresh", "")
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected status 502, got %d", w.Code)
	}
	var resp struct {
		Error string         `json:"error"`
		View  map[string]any `json:"view"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(resp.Error, "connection refused") || resp.View["failed"] != true {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestRefreshNotWatched(t *testing.T) {
	srv := New(newMockHub(), nil)

	w := do(srv, http.MethodPost, "/api/views/missing/refresh", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", w.Code)
	}
}

func TestSelectStep(t *testing.T) {
	m := newMockHub()
	m.views["canvas-1"] = pilot.Snapshot{CanvasID: "canvas-1"}
	srv := New(m, nil)

	if w := do(srv, http.MethodPost, "/api/views/canvas-1/steps/s-1/select", ""); w.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", w.Code)
	}
	if len(m.selected) != 1 || m.selected[0] != "s-1" {
		t.Errorf("expected s-1 selected, got %v", m.selected)
	}
	if w := do(srv, http.MethodPost, "/api/views/canvas-1/steps/s-9/select", ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 for unknown step, got %d", w.Code)
	}
}

func TestCanvasNodesAndDispatches(t *testing.T) {
	m := newMockHub()
	m.nodes = []*types.CanvasNode{{ID: "n-1", Type: "skillResponse"}}
	srv := New(m, nil)

	w := do(srv, http.MethodGet, "/api/canvases/canvas-1/nodes", "")
	var nodes []map[string]any
	if err := json.NewDecoder(w.Body).Decode(&nodes); err != nil {
		t.Fatal(err)
	}
	if len(nodes) != 1 || nodes[0]["id"] != "n-1" {
		t.Errorf("unexpected nodes: %v", nodes)
	}

	w = do(srv, http.MethodGet, "/api/canvases/canvas-1/dispatches?limit=5", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("expected empty list, got %s", w.Body.String())
	}
	if m.lastLimit != 5 {
		t.Errorf("expected limit 5, got %d", m.lastLimit)
	}
}

func TestCanvasSessions(t *testing.T) {
	lister := &mockLister{}
	srv := New(newMockHub(), lister)

	w := do(srv, http.MethodGet, "/api/canvases/canvas-1/sessions", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if lister.targetID != "canvas-1" || lister.targetType != "canvas" || lister.limit != 10 {
		t.Errorf("unexpected list call: %+v", lister)
	}
	var sessions []map[string]any
	if err := json.NewDecoder(w.Body).Decode(&sessions); err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 1 || sessions[0]["status"] != "waiting" {
		t.Errorf("unexpected sessions: %v", sessions)
	}
}

func TestCanvasSessionsNotConfigured(t *testing.T) {
	srv := New(newMockHub(), nil)

	w := do(srv, http.MethodGet, "/api/canvases/canvas-1/sessions", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", w.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv := New(newMockHub(), nil)

	w := do(srv, http.MethodPost, "/api/views", "")
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected status 405, got %d", w.Code)
	}
}
