package pilot

import (
	"context"
	"errors"
	"sync"

	"github.com/user/pilotsync/internal/types"
)

type fakeFetcher struct {
	mu      sync.Mutex
	calls   int
	session *types.Session
	err     error
	// before, if set, runs inside FetchSession before the result is returned.
	before func()
}

func (f *fakeFetcher) FetchSession(_ context.Context, id types.SessionID) (*types.Session, error) {
	f.mu.Lock()
	f.calls++
	session, err, before := f.session, f.err, f.before
	f.mu.Unlock()
	if before != nil {
		before()
	}
	return session, err
}

func (f *fakeFetcher) set(session *types.Session, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.session = session
	f.err = err
}

func (f *fakeFetcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeInvoker struct {
	mu       sync.Mutex
	requests []*types.InvokeRequest
	err      error
}

func (f *fakeInvoker) InvokeAction(_ context.Context, req *types.InvokeRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.requests = append(f.requests, req)
	return nil
}

func (f *fakeInvoker) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type memCanvas struct {
	mu    sync.Mutex
	nodes []*types.CanvasNode
	// failAdds makes the next failAdds AddNode calls return errCanvasWrite.
	failAdds int
}

func (c *memCanvas) Nodes(context.Context) ([]*types.CanvasNode, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*types.CanvasNode{}, c.nodes...), nil
}

func (c *memCanvas) AddNode(_ context.Context, node *types.CanvasNode) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failAdds > 0 {
		c.failAdds--
		return errCanvasWrite
	}
	c.nodes = append(c.nodes, node)
	return nil
}

type fakeTicker struct {
	mu     sync.Mutex
	starts int
	stops  int
	active bool
}

func (t *fakeTicker) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.starts++
	t.active = true
}

func (t *fakeTicker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stops++
	t.active = false
}

var (
	errInvoke      = errors.New("action service unavailable")
	errCanvasWrite = errors.New("disk full")
)

func intPtr(n int) *int { return &n }

func readyStep(id string, epoch int, createdAt string) *types.Step {
	return &types.Step{
		StepID:    types.StepID(id),
		Epoch:     intPtr(epoch),
		Status:    types.StepStatusInit,
		CreatedAt: createdAt,
		ActionResult: &types.ActionResult{
			ResultID:    types.ResultID("ar-" + id),
			Input:       types.ActionInput{Query: "query " + id},
			ActionMeta:  &types.ActionMeta{Name: "commonQnA"},
			TargetID:    "canvas-1",
			TargetType:  "canvas",
			PilotStepID: types.StepID(id),
		},
	}
}

func stepIDs(steps []*types.Step) []types.StepID {
	ids := make([]types.StepID, len(steps))
	for i, s := range steps {
		ids[i] = s.StepID
	}
	return ids
}
