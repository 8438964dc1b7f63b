package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/user/pilotsync/internal/notify"
	"github.com/user/pilotsync/internal/pilot"
	"github.com/user/pilotsync/internal/scheduler"
	"github.com/user/pilotsync/internal/state"
	"github.com/user/pilotsync/internal/types"
)

// ErrNotWatched is returned for operations on a canvas the hub has no view for.
var ErrNotWatched = errors.New("canvas not watched")

// CanvasSource resolves the node graph of a canvas.
type CanvasSource func(types.CanvasID) types.Canvas

// Config holds the hub's tunables.
type Config struct {
	PollInterval  time.Duration
	Layout        pilot.Layout
	MaxConcurrent int64
}

// Hub keeps one session view per watched canvas. Every sync of a view runs
// on that canvas's queue lane; polling ticks from the scheduler, manual
// refreshes and session switches all become jobs on the same lane.
type Hub struct {
	fetcher  types.SessionFetcher
	invoker  types.ActionInvoker
	canvases CanvasSource
	cfg      Config

	watches  *state.WatchStore
	log      types.DispatchLog
	notifier *notify.Registry

	sched *scheduler.Scheduler
	Queue *Queue

	mu    sync.RWMutex
	views map[types.CanvasID]*entry

	ctx    context.Context
	cancel context.CancelFunc
}

type entry struct {
	view   *pilot.View
	poller *scheduler.Poller

	// switchMu orders session switches so the view and the persisted watch
	// end on the same session.
	switchMu sync.Mutex

	// lastErr is the last reported sync failure, used to report each
	// distinct failure once instead of on every poll.
	mu      sync.Mutex
	lastErr string
}

// Option configures optional collaborators on a Hub.
type Option func(*Hub)

// WithWatchStore persists the watch list so Restore can reload it.
func WithWatchStore(s *state.WatchStore) Option {
	return func(h *Hub) { h.watches = s }
}

// WithDispatchLog records every dispatched step.
func WithDispatchLog(l types.DispatchLog) Option {
	return func(h *Hub) { h.log = l }
}

// WithNotifier publishes host notifications.
func WithNotifier(r *notify.Registry) Option {
	return func(h *Hub) { h.notifier = r }
}

// New creates a Hub. Zero config values fall back to the defaults.
func New(fetcher types.SessionFetcher, invoker types.ActionInvoker, canvases CanvasSource, cfg Config, opts ...Option) *Hub {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = pilot.DefaultPollInterval
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 2
	}
	h := &Hub{
		fetcher:  fetcher,
		invoker:  invoker,
		canvases: canvases,
		cfg:      cfg,
		sched:    scheduler.New(),
		Queue:    NewQueue(cfg.MaxConcurrent),
		views:    make(map[types.CanvasID]*entry),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.Queue.SetProcessor(h.process)
	return h
}

// Start initialises the hub's context and starts the queue and the poll
// scheduler.
func (h *Hub) Start(ctx context.Context) {
	h.ctx, h.cancel = context.WithCancel(ctx)
	h.Queue.Start(h.ctx)
	h.sched.Start()
}

// Stop closes every view, stops the scheduler and waits for in-flight syncs.
func (h *Hub) Stop() {
	h.mu.Lock()
	for _, e := range h.views {
		e.view.Close()
	}
	h.mu.Unlock()

	h.sched.Stop()
	if h.cancel != nil {
		h.cancel()
	}
	h.Queue.Stop()
}

// Restore re-creates a view for every persisted watch. It returns the number
// of restored views.
func (h *Hub) Restore(ctx context.Context) (int, error) {
	if h.watches == nil {
		return 0, nil
	}
	watches, err := h.watches.List()
	if err != nil {
		return 0, fmt.Errorf("list watches: %w", err)
	}
	restored := 0
	for _, w := range watches {
		if _, err := h.watch(w.CanvasID, w.SessionID, false); err != nil {
			if errors.Is(err, types.ErrInvalidCanvasID) {
				slog.Warn("skipping persisted watch", "canvas_id", string(w.CanvasID), "error", err)
				continue
			}
			return restored, err
		}
		restored++
	}
	return restored, nil
}

// Watch shows sessionID on canvasID. Watching a canvas that already has a
// view switches its session.
func (h *Hub) Watch(ctx context.Context, canvasID types.CanvasID, sessionID types.SessionID) error {
	created, err := h.watch(canvasID, sessionID, true)
	if err != nil || created {
		return err
	}
	return h.SwitchSession(ctx, canvasID, sessionID)
}

// watch creates the canvas's view unless one exists. The existence check and
// the insert happen under one lock so concurrent callers agree on who created
// the view.
func (h *Hub) watch(canvasID types.CanvasID, sessionID types.SessionID, persist bool) (bool, error) {
	if err := canvasID.Validate(); err != nil {
		return false, err
	}
	h.mu.Lock()
	if _, exists := h.views[canvasID]; exists {
		h.mu.Unlock()
		return false, nil
	}
	if persist && h.watches != nil {
		if err := h.watches.Put(canvasID, sessionID); err != nil {
			h.mu.Unlock()
			return false, fmt.Errorf("persist watch: %w", err)
		}
	}
	h.views[canvasID] = h.newEntry(canvasID, sessionID)
	h.mu.Unlock()

	slog.Info("watching canvas", "canvas_id", string(canvasID), "session_id", string(sessionID))
	h.enqueue(canvasID, ReasonInitial)
	return true, nil
}

func (h *Hub) newEntry(canvasID types.CanvasID, sessionID types.SessionID) *entry {
	e := &entry{}

	d := pilot.NewDispatcher(h.invoker, h.canvases(canvasID), h.cfg.Layout)
	d.OnDispatch = func(rec pilot.Dispatched) {
		h.recordDispatch(canvasID, rec)
	}

	e.poller = h.sched.Poller(string(canvasID), h.cfg.PollInterval, func() {
		h.enqueue(canvasID, ReasonPoll)
	})

	e.view = pilot.NewView(canvasID, sessionID, h.fetcher, d,
		pilot.WithTicker(e.poller),
		pilot.WithHooks(pilot.Hooks{
			OnStepClick: func(canvasID types.CanvasID, step *types.Step) {
				h.publish(notify.Event{
					Kind:      notify.KindStepClick,
					CanvasID:  canvasID,
					SessionID: e.view.SessionID(),
					StepID:    step.StepID,
					Message:   step.Name,
				})
			},
			OnSessionSwitch: func(canvasID types.CanvasID, sessionID types.SessionID) {
				h.publish(notify.Event{Kind: notify.KindSessionSwitch, CanvasID: canvasID, SessionID: sessionID})
			},
		}),
	)
	return e
}

// Unwatch closes the canvas's view and forgets the watch.
func (h *Hub) Unwatch(canvasID types.CanvasID) error {
	h.mu.Lock()
	e, ok := h.views[canvasID]
	if !ok {
		h.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotWatched, canvasID)
	}
	delete(h.views, canvasID)
	h.mu.Unlock()

	e.view.Close()
	h.Queue.RemoveLane(canvasID)
	if h.watches != nil {
		if err := h.watches.Remove(canvasID); err != nil && !errors.Is(err, state.ErrWatchNotFound) {
			return fmt.Errorf("remove watch: %w", err)
		}
	}
	slog.Info("stopped watching canvas", "canvas_id", string(canvasID))
	return nil
}

// Refresh runs one manual sync of the canvas's view and waits for it. It
// fetches regardless of the polling state.
func (h *Hub) Refresh(ctx context.Context, canvasID types.CanvasID) error {
	if _, err := h.entry(canvasID); err != nil {
		return err
	}
	job := NewJob(canvasID, ReasonManual).withDone()
	if err := h.Queue.Enqueue(job); err != nil {
		return err
	}
	select {
	case err := <-job.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-h.ctx.Done():
		return h.ctx.Err()
	}
}

// SwitchSession points the canvas's view at another session and queues its
// first sync. types.NewSessionSentinel clears the view.
func (h *Hub) SwitchSession(ctx context.Context, canvasID types.CanvasID, sessionID types.SessionID) error {
	e, err := h.entry(canvasID)
	if err != nil {
		return err
	}
	e.switchMu.Lock()
	if e.view.SessionID() == sessionID && sessionID != types.NewSessionSentinel {
		e.switchMu.Unlock()
		return nil
	}
	e.view.SwitchSession(sessionID)
	e.mu.Lock()
	e.lastErr = ""
	e.mu.Unlock()

	if h.watches != nil {
		if err := h.watches.Put(canvasID, sessionID); err != nil {
			e.switchMu.Unlock()
			return fmt.Errorf("persist watch: %w", err)
		}
	}
	e.switchMu.Unlock()

	if sessionID != types.NewSessionSentinel {
		h.enqueue(canvasID, ReasonSwitch)
	}
	return nil
}

// SelectStep marks a step of the canvas's session as selected.
func (h *Hub) SelectStep(canvasID types.CanvasID, stepID types.StepID) error {
	e, err := h.entry(canvasID)
	if err != nil {
		return err
	}
	return e.view.SelectStep(stepID)
}

// Snapshot returns the current state of the canvas's view.
func (h *Hub) Snapshot(canvasID types.CanvasID) (pilot.Snapshot, error) {
	e, err := h.entry(canvasID)
	if err != nil {
		return pilot.Snapshot{}, err
	}
	return e.view.Snapshot(), nil
}

// Snapshots returns the state of every view, ordered by canvas id.
func (h *Hub) Snapshots() []pilot.Snapshot {
	h.mu.RLock()
	views := make([]*pilot.View, 0, len(h.views))
	for _, e := range h.views {
		views = append(views, e.view)
	}
	h.mu.RUnlock()

	snaps := make([]pilot.Snapshot, 0, len(views))
	for _, v := range views {
		snaps = append(snaps, v.Snapshot())
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].CanvasID < snaps[j].CanvasID })
	return snaps
}

// Nodes lists the nodes of a canvas, watched or not.
func (h *Hub) Nodes(ctx context.Context, canvasID types.CanvasID) ([]*types.CanvasNode, error) {
	return h.canvases(canvasID).Nodes(ctx)
}

// Dispatches returns the last limit dispatch records of a canvas.
func (h *Hub) Dispatches(ctx context.Context, canvasID types.CanvasID, limit int) ([]*types.DispatchRecord, error) {
	if h.log == nil {
		return []*types.DispatchRecord{}, nil
	}
	return h.log.Tail(ctx, canvasID, limit)
}

func (h *Hub) entry(canvasID types.CanvasID) (*entry, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	e, ok := h.views[canvasID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotWatched, canvasID)
	}
	return e, nil
}

// enqueue queues a fire-and-forget sync. A full lane already has syncs
// pending, so the job is dropped.
func (h *Hub) enqueue(canvasID types.CanvasID, reason JobReason) {
	if err := h.Queue.Enqueue(NewJob(canvasID, reason)); err != nil {
		slog.Warn("dropping sync job", "canvas_id", string(canvasID), "reason", string(reason), "error", err)
	}
}

// process runs one job on its canvas's view.
func (h *Hub) process(job *Job) error {
	e, err := h.entry(job.CanvasID)
	if err != nil {
		return err
	}

	ctx := job.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if job.Reason == ReasonManual {
		err = e.view.Refresh(ctx)
	} else {
		err = e.view.Sync(ctx)
	}
	h.report(job.CanvasID, e, err)
	return err
}

// report logs sync failures and publishes each distinct one once.
func (h *Hub) report(canvasID types.CanvasID, e *entry, err error) {
	e.mu.Lock()
	if err == nil {
		e.lastErr = ""
		e.mu.Unlock()
		return
	}
	msg := err.Error()
	repeated := msg == e.lastErr
	e.lastErr = msg
	e.mu.Unlock()

	kind := notify.KindFetchError
	var dispatchErr *pilot.DispatchError
	if errors.As(err, &dispatchErr) {
		kind = notify.KindDispatchError
	}
	slog.Error("sync failed", "canvas_id", string(canvasID), "kind", kind, "error", err)
	if repeated {
		return
	}
	h.publish(notify.Event{Kind: kind, CanvasID: canvasID, SessionID: e.view.SessionID(), Message: msg})
}

func (h *Hub) recordDispatch(canvasID types.CanvasID, rec pilot.Dispatched) {
	slog.Info("step dispatched",
		"canvas_id", string(canvasID),
		"session_id", string(rec.SessionID),
		"step_id", string(rec.StepID),
		"node_id", string(rec.NodeID),
	)
	if h.log != nil {
		err := h.log.Append(context.Background(), &types.DispatchRecord{
			CanvasID:  canvasID,
			SessionID: rec.SessionID,
			StepID:    rec.StepID,
			ResultID:  rec.ResultID,
			NodeID:    rec.NodeID,
			Position:  rec.Position,
			At:        rec.At,
		})
		if err != nil {
			slog.Error("append dispatch record", "canvas_id", string(canvasID), "error", err)
		}
	}
	h.publish(notify.Event{
		Kind:      notify.KindStepDispatched,
		CanvasID:  canvasID,
		SessionID: rec.SessionID,
		StepID:    rec.StepID,
		Message:   fmt.Sprintf("node %s at (%.0f, %.0f)", rec.NodeID, rec.Position.X, rec.Position.Y),
	})
}

func (h *Hub) publish(event notify.Event) {
	if h.notifier == nil {
		return
	}
	if err := h.notifier.Publish(event); err != nil {
		slog.Warn("notification delivery failed", "kind", event.Kind, "canvas_id", string(event.CanvasID), "error", err)
	}
}
