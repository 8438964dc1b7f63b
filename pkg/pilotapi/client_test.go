package pilotapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/user/pilotsync/internal/types"
)

func newTestClient(url string, retry *RetryPolicy) *Client {
	return New(&Config{BaseURL: url, APIKey: "test-key", Timeout: 5 * time.Second, Retry: retry})
}

func writeEnvelope(w http.ResponseWriter, data any) {
	json.NewEncoder(w).Encode(map[string]any{"success": true, "data": data})
}

func TestFetchSession(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		if r.URL.Path != "/v1/pilot/session/detail" {
			t.Errorf("expected path /v1/pilot/session/detail, got %q", r.URL.Path)
		}
		if r.URL.Query().Get("sessionId") != "ps-1" {
			t.Errorf("expected sessionId ps-1, got %q", r.URL.Query().Get("sessionId"))
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Error("missing or invalid auth header")
		}
		w.Write([]byte(`{"success":true,"data":{
			"sessionId":"ps-1","title":"Market research","status":"executing",
			"steps":[{"stepId":"s-1","epoch":0,"status":"init","createdAt":"2025-01-02T03:04:05.000Z",
				"actionResult":{"resultId":"ar-1","input":{"query":"find competitors"},"targetId":"c-1","targetType":"canvas"}}]
		}}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL+"/v1", nil)
	session, err := client.FetchSession(context.Background(), "ps-1")
	if err != nil {
		t.Fatal(err)
	}
	if session == nil {
		t.Fatal("expected a session")
	}
	if session.Title != "Market research" || session.Status != types.SessionStatusExecuting {
		t.Errorf("unexpected session: %+v", session)
	}
	if len(session.Steps) != 1 || session.Steps[0].ActionResult.Input.Query != "find competitors" {
		t.Errorf("unexpected steps: %+v", session.Steps)
	}
}

func TestFetchSessionNullData(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true,"data":null}`))
	}))
	defer server.Close()

	session, err := newTestClient(server.URL, nil).FetchSession(context.Background(), "ps-1")
	if err != nil {
		t.Fatalf("expected no error for null data, got %v", err)
	}
	if session != nil {
		t.Errorf("expected nil session, got %+v", session)
	}
}

func TestFetchSessionEnvelopeError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":false,"errCode":"E0404","errMsg":"session not found"}`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL, nil).FetchSession(context.Background(), "ps-1")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Code != "E0404" || apiErr.Message != "session not found" {
		t.Errorf("unexpected api error: %+v", apiErr)
	}
}

func TestFetchSessionRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "upstream unavailable", http.StatusBadGateway)
			return
		}
		writeEnvelope(w, map[string]any{"sessionId": "ps-1", "status": "completed"})
	}))
	defer server.Close()

	session, err := newTestClient(server.URL, fastPolicy(3)).FetchSession(context.Background(), "ps-1")
	if err != nil {
		t.Fatal(err)
	}
	if session.Status != types.SessionStatusCompleted {
		t.Errorf("expected completed, got %v", session.Status)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 calls, got %d", calls.Load())
	}
}

func TestFetchSessionDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL, fastPolicy(3)).FetchSession(context.Background(), "ps-1")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized {
		t.Fatalf("expected 401 APIError, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 call, got %d", calls.Load())
	}
}

func TestListSessions(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if r.URL.Path != "/pilot/session/list" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if q.Get("targetId") != "c-1" || q.Get("targetType") != "canvas" {
			t.Errorf("unexpected target query: %v", q)
		}
		if q.Get("pageSize") != "10" {
			t.Errorf("expected default page size 10, got %q", q.Get("pageSize"))
		}
		writeEnvelope(w, []map[string]any{
			{"sessionId": "ps-2", "title": "Second", "status": "waiting"},
			{"sessionId": "ps-1", "title": "First", "status": "completed"},
		})
	}))
	defer server.Close()

	sessions, err := newTestClient(server.URL, nil).ListSessions(context.Background(), "c-1", "canvas", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}
	if sessions[0].SessionID != "ps-2" || sessions[0].Status != types.SessionStatusWaiting {
		t.Errorf("unexpected first session: %+v", sessions[0])
	}
}

func TestListSessionsEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, nil)
	}))
	defer server.Close()

	sessions, err := newTestClient(server.URL, nil).ListSessions(context.Background(), "c-1", "canvas", 5)
	if err != nil {
		t.Fatal(err)
	}
	if sessions == nil || len(sessions) != 0 {
		t.Errorf("expected empty non-nil list, got %v", sessions)
	}
}

func TestInvokeAction(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/action/invoke" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("expected Content-Type 'application/json', got %q", r.Header.Get("Content-Type"))
		}
		json.NewDecoder(r.Body).Decode(&got)
		writeEnvelope(w, map[string]any{"resultId": "ar-1"})
	}))
	defer server.Close()

	req := &types.InvokeRequest{
		Query:         "find competitors",
		ResultID:      "ar-1",
		SelectedSkill: &types.ActionMeta{Name: "commonQnA"},
		ModelInfo:     json.RawMessage(`{"name":"gpt-4o"}`),
		Target:        types.Target{EntityID: "c-1", EntityType: "canvas"},
	}
	if err := newTestClient(server.URL, nil).InvokeAction(context.Background(), req); err != nil {
		t.Fatal(err)
	}

	input, _ := got["input"].(map[string]any)
	if input["query"] != "find competitors" {
		t.Errorf("expected query in input, got %v", got["input"])
	}
	if got["resultId"] != "ar-1" {
		t.Errorf("expected resultId ar-1, got %v", got["resultId"])
	}
	meta, _ := got["actionMeta"].(map[string]any)
	if meta["name"] != "commonQnA" {
		t.Errorf("expected actionMeta.name commonQnA, got %v", got["actionMeta"])
	}
	target, _ := got["target"].(map[string]any)
	if target["entityId"] != "c-1" || target["entityType"] != "canvas" {
		t.Errorf("unexpected target: %v", got["target"])
	}
}

func TestInvokeActionIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "upstream unavailable", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	err := newTestClient(server.URL, fastPolicy(3)).InvokeAction(context.Background(), &types.InvokeRequest{ResultID: "ar-1"})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Errorf("expected a single attempt, got %d", calls.Load())
	}
}
