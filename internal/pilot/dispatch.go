package pilot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/user/pilotsync/internal/types"
)

const (
	// DefaultMargin is the horizontal gap between the rightmost existing
	// node and a freshly dispatched batch.
	DefaultMargin = 800
	// DefaultRowSpacing is the vertical distance between nodes of a batch.
	DefaultRowSpacing = 500

	// NodeTypeSkillResponse is the canvas node type created for dispatched steps.
	NodeTypeSkillResponse = "skillResponse"
)

// Layout controls where dispatched nodes are placed on the canvas.
type Layout struct {
	Margin     float64
	RowSpacing float64
}

// DefaultLayout returns the standard batch placement.
func DefaultLayout() Layout {
	return Layout{Margin: DefaultMargin, RowSpacing: DefaultRowSpacing}
}

// Dispatched records one step that was handed to the action service.
type Dispatched struct {
	SessionID types.SessionID
	StepID    types.StepID
	ResultID  types.ResultID
	NodeID    types.NodeID
	Position  types.Position
	At        time.Time
}

// Dispatcher invokes the action for every newly ready step exactly once and
// leaves a marker node on the canvas for it. The canvas node set is the
// ledger of processed steps; the dispatcher also keeps its own per-session
// record of what it has dispatched.
type Dispatcher struct {
	invoker types.ActionInvoker
	canvas  types.Canvas
	layout  Layout

	// OnDispatch, if set, is called after each step's marker node exists.
	OnDispatch func(Dispatched)

	mu         sync.Mutex
	locks      map[types.SessionID]*sync.Mutex
	dispatched map[types.SessionID]map[types.StepID]struct{}
}

// NewDispatcher creates a Dispatcher that invokes actions through invoker
// and records marker nodes on canvas.
func NewDispatcher(invoker types.ActionInvoker, canvas types.Canvas, layout Layout) *Dispatcher {
	if layout.Margin == 0 {
		layout.Margin = DefaultMargin
	}
	if layout.RowSpacing == 0 {
		layout.RowSpacing = DefaultRowSpacing
	}
	return &Dispatcher{
		invoker:    invoker,
		canvas:     canvas,
		layout:     layout,
		locks:      make(map[types.SessionID]*sync.Mutex),
		dispatched: make(map[types.SessionID]map[types.StepID]struct{}),
	}
}

// getLock returns the per-session mutex, creating one if it doesn't exist.
func (d *Dispatcher) getLock(sessionID types.SessionID) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()

	if lock, ok := d.locks[sessionID]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	d.locks[sessionID] = lock
	return lock
}

func (d *Dispatcher) wasDispatched(sessionID types.SessionID, stepID types.StepID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.dispatched[sessionID][stepID]
	return ok
}

func (d *Dispatcher) markDispatched(sessionID types.SessionID, stepID types.StepID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	set, ok := d.dispatched[sessionID]
	if !ok {
		set = make(map[types.StepID]struct{})
		d.dispatched[sessionID] = set
	}
	set[stepID] = struct{}{}
}

// Forget drops the per-session state kept for sessionID. A scan running for
// that session keeps its lock; the canvas nodes still guard its steps.
func (d *Dispatcher) Forget(sessionID types.SessionID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.dispatched, sessionID)
	if lock, ok := d.locks[sessionID]; ok && lock.TryLock() {
		delete(d.locks, sessionID)
		lock.Unlock()
	}
}

// ProcessedStepIDs collects the pilotStepId of every node that carries one.
func ProcessedStepIDs(nodes []*types.CanvasNode) map[types.StepID]struct{} {
	ids := make(map[types.StepID]struct{}, len(nodes))
	for _, node := range nodes {
		if node == nil || node.Data.Metadata.PilotStepID == "" {
			continue
		}
		ids[node.Data.Metadata.PilotStepID] = struct{}{}
	}
	return ids
}

// ReadySteps filters ordered steps down to those that still need an action:
// status init, an attached action result, and no marker node yet.
func ReadySteps(ordered []*types.Step, processed map[types.StepID]struct{}) []*types.Step {
	var ready []*types.Step
	for _, step := range ordered {
		if step == nil || step.Status != types.StepStatusInit || step.ActionResult == nil {
			continue
		}
		if _, ok := processed[step.StepID]; ok {
			continue
		}
		ready = append(ready, step)
	}
	return ready
}

// RightmostX returns the largest x position among nodes, or 0 for an empty
// canvas.
func RightmostX(nodes []*types.CanvasNode) float64 {
	var maxX float64
	seen := false
	for _, node := range nodes {
		if node == nil {
			continue
		}
		if !seen || node.Position.X > maxX {
			maxX = node.Position.X
			seen = true
		}
	}
	return maxX
}

// Place computes the positions for a batch of n ready steps. All steps share
// one column to the right of the existing nodes.
func (l Layout) Place(nodes []*types.CanvasNode, n int) []types.Position {
	x := RightmostX(nodes) + l.Margin
	positions := make([]types.Position, n)
	for i := range positions {
		positions[i] = types.Position{X: x, Y: float64(i) * l.RowSpacing}
	}
	return positions
}

// Scan dispatches every ready step of the ordered sequence. The ledger check
// and the node creation happen under a per-session lock, so concurrent scans
// of one session cannot dispatch a step twice. The first invocation or canvas
// error stops the scan and is returned along with the steps dispatched so far.
func (d *Dispatcher) Scan(ctx context.Context, sessionID types.SessionID, ordered []*types.Step) ([]Dispatched, error) {
	if len(ordered) == 0 {
		return nil, nil
	}

	lock := d.getLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	nodes, err := d.canvas.Nodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list canvas nodes: %w", err)
	}

	processed := ProcessedStepIDs(nodes)
	var ready []*types.Step
	for _, step := range ReadySteps(ordered, processed) {
		if d.wasDispatched(sessionID, step.StepID) {
			continue
		}
		ready = append(ready, step)
	}
	if len(ready) == 0 {
		return nil, nil
	}

	positions := d.layout.Place(nodes, len(ready))
	var out []Dispatched
	for i, step := range ready {
		result := step.ActionResult
		slog.Debug("dispatching pilot step",
			"session_id", string(sessionID),
			"step_id", string(step.StepID),
			"result_id", string(result.ResultID),
			"x", positions[i].X,
			"y", positions[i].Y,
		)

		if err := d.invoker.InvokeAction(ctx, invokeRequest(result)); err != nil {
			return out, fmt.Errorf("invoke action for step %s: %w", step.StepID, err)
		}
		// The action is running from here on; a failed node write must not
		// make the step look ready again.
		d.markDispatched(sessionID, step.StepID)

		node := markerNode(sessionID, step, positions[i])
		if err := d.canvas.AddNode(ctx, node); err != nil {
			return out, fmt.Errorf("add node for step %s: %w", step.StepID, err)
		}

		rec := Dispatched{
			SessionID: sessionID,
			StepID:    step.StepID,
			ResultID:  result.ResultID,
			NodeID:    node.ID,
			Position:  node.Position,
			At:        time.Now(),
		}
		out = append(out, rec)
		if d.OnDispatch != nil {
			d.OnDispatch(rec)
		}
	}
	return out, nil
}

func invokeRequest(result *types.ActionResult) *types.InvokeRequest {
	return &types.InvokeRequest{
		Query:         result.Input.Query,
		ResultID:      result.ResultID,
		SelectedSkill: result.ActionMeta,
		ModelInfo:     result.ModelInfo,
		TplConfig:     result.TplConfig,
		RuntimeConfig: result.RuntimeConfig,
		Target: types.Target{
			EntityID:   result.TargetID,
			EntityType: result.TargetType,
		},
	}
}

// markerNode builds the canvas node that records step as processed.
func markerNode(sessionID types.SessionID, step *types.Step, pos types.Position) *types.CanvasNode {
	result := step.ActionResult
	return &types.CanvasNode{
		ID:       types.NewNodeID(),
		Type:     NodeTypeSkillResponse,
		Position: pos,
		Data: types.NodeData{
			Title:    result.Input.Query,
			EntityID: string(result.ResultID),
			Metadata: types.NodeMetadata{
				Status:         types.NodeStatusExecuting,
				SelectedSkill:  result.ActionMeta,
				ModelInfo:      result.ModelInfo,
				RuntimeConfig:  result.RuntimeConfig,
				TplConfig:      result.TplConfig,
				PilotStepID:    step.StepID,
				PilotSessionID: sessionID,
			},
		},
		CreatedAt: time.Now(),
	}
}
