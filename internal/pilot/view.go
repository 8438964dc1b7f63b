package pilot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/user/pilotsync/internal/types"
)

// ErrStepNotFound is returned when selecting a step the view does not show.
var ErrStepNotFound = errors.New("step not found")

// DispatchError is returned by Sync and Rescan when the fetch succeeded but
// dispatching a ready step failed.
type DispatchError struct {
	SessionID types.SessionID
	Err       error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch session %s: %v", e.SessionID, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// State is the lifecycle state of a View.
type State int

const (
	StateNoSession State = iota
	StateLoadedIdle
	StateLoadedPolling
)

func (s State) String() string {
	switch s {
	case StateNoSession:
		return "no-session"
	case StateLoadedIdle:
		return "loaded-idle"
	case StateLoadedPolling:
		return "loaded-polling"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *State) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode view state: %w", err)
	}
	for _, st := range []State{StateNoSession, StateLoadedIdle, StateLoadedPolling} {
		if st.String() == raw {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown view state %q", raw)
}

// Hooks are optional host callbacks.
type Hooks struct {
	OnStepClick     func(canvasID types.CanvasID, step *types.Step)
	OnSessionSwitch func(canvasID types.CanvasID, sessionID types.SessionID)
	OnUpdate        func(snap Snapshot)
}

// Snapshot is a point-in-time copy of what a View shows.
type Snapshot struct {
	CanvasID       types.CanvasID      `json:"canvas_id"`
	SessionID      types.SessionID     `json:"session_id"`
	State          State               `json:"state"`
	Title          string              `json:"title,omitempty"`
	Status         types.SessionStatus `json:"status"`
	Polling        bool                `json:"polling"`
	Loading        bool                `json:"loading"`
	Failed         bool                `json:"failed"`
	Error          string              `json:"error,omitempty"`
	Steps          []*types.Step       `json:"steps"`
	SelectedStepID types.StepID        `json:"selected_step_id,omitempty"`
	FetchedAt      time.Time           `json:"fetched_at,omitempty"`
}

// View keeps the cached state of one pilot session for one canvas and runs
// the sync pipeline on every fetch: status, polling decision, ordering,
// dispatch.
type View struct {
	canvasID   types.CanvasID
	fetcher    types.SessionFetcher
	dispatcher *Dispatcher
	ticker     Ticker
	hooks      Hooks

	mu        sync.Mutex
	sessionID types.SessionID
	session   *types.Session
	steps     []*types.Step
	status    types.SessionStatus
	polling   bool
	loading   bool
	fetchErr  error
	selected  types.StepID
	fetchedAt time.Time
	closed    bool
}

// ViewOption configures optional behavior on a View.
type ViewOption func(*View)

// WithTicker sets the ticker started while the session is active.
func WithTicker(t Ticker) ViewOption {
	return func(v *View) { v.ticker = t }
}

// WithHooks sets host callbacks.
func WithHooks(h Hooks) ViewOption {
	return func(v *View) { v.hooks = h }
}

// NewView creates a View for sessionID on canvasID. dispatcher may be nil for
// read-only views that never trigger actions.
func NewView(canvasID types.CanvasID, sessionID types.SessionID, fetcher types.SessionFetcher, dispatcher *Dispatcher, opts ...ViewOption) *View {
	v := &View{
		canvasID:   canvasID,
		sessionID:  sessionID,
		fetcher:    fetcher,
		dispatcher: dispatcher,
		ticker:     nopTicker{},
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// CanvasID returns the canvas the view belongs to.
func (v *View) CanvasID() types.CanvasID {
	return v.canvasID
}

// SessionID returns the session currently shown.
func (v *View) SessionID() types.SessionID {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.sessionID
}

// State returns the current lifecycle state.
func (v *View) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stateLocked()
}

func (v *View) stateLocked() State {
	switch {
	case v.session == nil:
		return StateNoSession
	case v.polling:
		return StateLoadedPolling
	default:
		return StateLoadedIdle
	}
}

// Sync fetches the session once and runs the evaluation pipeline on the
// result. Responses for a session that is no longer shown are dropped. Fetch
// errors are kept on the view and returned; dispatch errors are returned as
// *DispatchError.
func (v *View) Sync(ctx context.Context) error {
	v.mu.Lock()
	id := v.sessionID
	if id == "" || v.closed {
		v.mu.Unlock()
		return nil
	}
	if v.session == nil {
		v.loading = true
	}
	v.mu.Unlock()

	session, err := v.fetcher.FetchSession(ctx, id)

	v.mu.Lock()
	if v.closed || v.sessionID != id {
		v.mu.Unlock()
		slog.Debug("discarding stale session response", "canvas_id", string(v.canvasID), "session_id", string(id))
		return nil
	}
	v.loading = false
	v.fetchedAt = time.Now()
	if err != nil {
		v.fetchErr = err
		snap := v.snapshotLocked()
		v.mu.Unlock()
		v.emitUpdate(snap)
		return fmt.Errorf("fetch session %s: %w", id, err)
	}
	v.fetchErr = nil
	if session == nil {
		// The session is gone or not created yet: show the empty panel.
		v.setPollingLocked(false)
		v.session = nil
		v.steps = nil
		v.status = types.SessionStatusNone
		v.selected = ""
		snap := v.snapshotLocked()
		v.mu.Unlock()
		v.emitUpdate(snap)
		return nil
	}
	v.session = session
	steps := v.evaluateLocked()
	v.mu.Unlock()

	return v.dispatch(ctx, id, steps)
}

// Refresh is a manual refetch. It always fetches exactly once, whether or
// not the view is polling, and never changes the polling state by itself.
func (v *View) Refresh(ctx context.Context) error {
	slog.Info("manual refresh", "canvas_id", string(v.canvasID), "session_id", string(v.SessionID()))
	return v.Sync(ctx)
}

// Rescan re-runs the polling decision, ordering and dispatch scan on the
// cached session without fetching. Running it repeatedly on unchanged data
// has no further effect.
func (v *View) Rescan(ctx context.Context) error {
	v.mu.Lock()
	if v.session == nil || v.closed {
		v.mu.Unlock()
		return nil
	}
	id := v.sessionID
	steps := v.evaluateLocked()
	v.mu.Unlock()

	return v.dispatch(ctx, id, steps)
}

// evaluateLocked updates status, polling and ordering from v.session and
// returns the ordered steps. Caller must hold v.mu.
func (v *View) evaluateLocked() []*types.Step {
	if v.session.Status != types.SessionStatusNone {
		v.status = v.session.Status
	}
	v.setPollingLocked(ShouldPoll(v.status))
	v.steps = SortSteps(v.session.Steps)
	return v.steps
}

func (v *View) setPollingLocked(should bool) {
	switch {
	case should && !v.polling:
		v.polling = true
		v.ticker.Start()
		slog.Debug("polling started", "canvas_id", string(v.canvasID), "session_id", string(v.sessionID))
	case !should && v.polling:
		v.polling = false
		v.ticker.Stop()
		slog.Debug("polling stopped", "canvas_id", string(v.canvasID), "session_id", string(v.sessionID))
	}
}

func (v *View) dispatch(ctx context.Context, id types.SessionID, steps []*types.Step) error {
	var err error
	if v.dispatcher != nil {
		if _, scanErr := v.dispatcher.Scan(ctx, id, steps); scanErr != nil {
			err = &DispatchError{SessionID: id, Err: scanErr}
		}
	}
	v.emitUpdate(v.Snapshot())
	return err
}

func (v *View) emitUpdate(snap Snapshot) {
	if v.hooks.OnUpdate != nil {
		v.hooks.OnUpdate(snap)
	}
}

// SelectStep marks a step as selected and notifies the host.
func (v *View) SelectStep(id types.StepID) error {
	v.mu.Lock()
	var found *types.Step
	for _, step := range v.steps {
		if step.StepID == id {
			found = step
			break
		}
	}
	if found == nil {
		v.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrStepNotFound, id)
	}
	v.selected = id
	v.mu.Unlock()

	if v.hooks.OnStepClick != nil {
		v.hooks.OnStepClick(v.canvasID, found)
	}
	return nil
}

// SwitchSession points the view at another session. types.NewSessionSentinel
// clears the view so the host can start a fresh session. The caller is
// responsible for triggering the first Sync of the new session.
func (v *View) SwitchSession(id types.SessionID) {
	v.mu.Lock()
	if id == v.sessionID && id != types.NewSessionSentinel {
		v.mu.Unlock()
		return
	}
	v.setPollingLocked(false)
	prev := v.sessionID
	v.sessionID = id
	v.session = nil
	v.steps = nil
	v.status = types.SessionStatusNone
	v.loading = false
	v.fetchErr = nil
	v.selected = ""
	v.mu.Unlock()

	if v.dispatcher != nil && prev != id {
		v.dispatcher.Forget(prev)
	}
	if v.hooks.OnSessionSwitch != nil {
		v.hooks.OnSessionSwitch(v.canvasID, id)
	}
}

// Close stops polling. Fetches already in flight are not cancelled; their
// results are dropped.
func (v *View) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closed = true
	v.setPollingLocked(false)
}

// Snapshot returns a copy of the current view state.
func (v *View) Snapshot() Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.snapshotLocked()
}

func (v *View) snapshotLocked() Snapshot {
	snap := Snapshot{
		CanvasID:       v.canvasID,
		SessionID:      v.sessionID,
		State:          v.stateLocked(),
		Status:         v.status,
		Polling:        v.polling,
		Loading:        v.loading,
		Failed:         v.fetchErr != nil,
		Steps:          append([]*types.Step{}, v.steps...),
		SelectedStepID: v.selected,
		FetchedAt:      v.fetchedAt,
	}
	if v.fetchErr != nil {
		snap.Error = v.fetchErr.Error()
	}
	if v.session != nil {
		snap.Title = v.session.Title
	}
	return snap
}
