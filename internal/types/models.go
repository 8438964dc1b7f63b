// internal/types/models.go
package types

import (
	"encoding/json"
	"time"
)

// Session is a cached snapshot of a remote pilot session.
type Session struct {
	SessionID  SessionID     `json:"sessionId"`
	Title      string        `json:"title"`
	Input      *ActionInput  `json:"input,omitempty"`
	Status     SessionStatus `json:"status"`
	TargetID   string        `json:"targetId,omitempty"`
	TargetType string        `json:"targetType,omitempty"`
	Steps      []*Step       `json:"steps,omitempty"`
	CreatedAt  string        `json:"createdAt,omitempty"`
	UpdatedAt  string        `json:"updatedAt,omitempty"`
}

// Step is one unit of a pilot session. Steps are immutable per fetch; the
// StepID is the identity across fetches.
type Step struct {
	StepID       StepID        `json:"stepId"`
	Name         string        `json:"name,omitempty"`
	Epoch        *int          `json:"epoch,omitempty"`
	EntityID     string        `json:"entityId,omitempty"`
	EntityType   string        `json:"entityType,omitempty"`
	Status       StepStatus    `json:"status"`
	RawOutput    string        `json:"rawOutput,omitempty"`
	ActionResult *ActionResult `json:"actionResult,omitempty"`
	CreatedAt    string        `json:"createdAt,omitempty"`
	UpdatedAt    string        `json:"updatedAt,omitempty"`
}

// EpochOrZero returns the step epoch, treating a missing epoch as 0.
func (s *Step) EpochOrZero() int {
	if s.Epoch == nil {
		return 0
	}
	return *s.Epoch
}

// CreatedTime parses CreatedAt. ok is false when the timestamp is missing or
// malformed.
func (s *Step) CreatedTime() (t time.Time, ok bool) {
	if s.CreatedAt == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, s.CreatedAt)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// ActionInput is the user-facing input of an action.
type ActionInput struct {
	Query string `json:"query"`
}

// ActionMeta selects the skill an action runs with.
type ActionMeta struct {
	Name string          `json:"name,omitempty"`
	Icon json.RawMessage `json:"icon,omitempty"`
}

// ActionResult describes a unit of work a step wants materialized on the
// canvas. Config bundles are passed through opaquely.
type ActionResult struct {
	ResultID       ResultID        `json:"resultId"`
	Title          string          `json:"title,omitempty"`
	Input          ActionInput     `json:"input"`
	ActionMeta     *ActionMeta     `json:"actionMeta,omitempty"`
	ModelInfo      json.RawMessage `json:"modelInfo,omitempty"`
	RuntimeConfig  json.RawMessage `json:"runtimeConfig,omitempty"`
	TplConfig      json.RawMessage `json:"tplConfig,omitempty"`
	TargetID       string          `json:"targetId,omitempty"`
	TargetType     string          `json:"targetType,omitempty"`
	PilotStepID    StepID          `json:"pilotStepId,omitempty"`
	PilotSessionID SessionID       `json:"pilotSessionId,omitempty"`
}

// Target references the entity an invoked action belongs to.
type Target struct {
	EntityID   string `json:"entityId"`
	EntityType string `json:"entityType"`
}

// InvokeRequest is the payload sent to the action-invocation service.
type InvokeRequest struct {
	Query         string          `json:"query"`
	ResultID      ResultID        `json:"resultId"`
	SelectedSkill *ActionMeta     `json:"selectedSkill,omitempty"`
	ModelInfo     json.RawMessage `json:"modelInfo,omitempty"`
	TplConfig     json.RawMessage `json:"tplConfig,omitempty"`
	RuntimeConfig json.RawMessage `json:"runtimeConfig,omitempty"`
	Target        Target          `json:"target"`
}

// Position is a canvas coordinate.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// NodeMetadata is the metadata bundle stored on a canvas node. PilotStepID
// links the node back to the step that produced it.
type NodeMetadata struct {
	Status         NodeStatus      `json:"status,omitempty"`
	SelectedSkill  *ActionMeta     `json:"selectedSkill,omitempty"`
	ModelInfo      json.RawMessage `json:"modelInfo,omitempty"`
	RuntimeConfig  json.RawMessage `json:"runtimeConfig,omitempty"`
	TplConfig      json.RawMessage `json:"tplConfig,omitempty"`
	PilotStepID    StepID          `json:"pilotStepId,omitempty"`
	PilotSessionID SessionID       `json:"pilotSessionId,omitempty"`
}

// NodeData is the payload of a canvas node.
type NodeData struct {
	Title    string       `json:"title"`
	EntityID string       `json:"entityId"`
	Metadata NodeMetadata `json:"metadata"`
}

// CanvasNode is a visual entity on a canvas.
type CanvasNode struct {
	ID        NodeID    `json:"id"`
	Type      string    `json:"type"`
	Position  Position  `json:"position"`
	Data      NodeData  `json:"data"`
	CreatedAt time.Time `json:"createdAt"`
}

// SessionSummary is one entry of a canvas's pilot session history.
type SessionSummary struct {
	SessionID SessionID     `json:"sessionId"`
	Title     string        `json:"title"`
	Status    SessionStatus `json:"status"`
	CreatedAt string        `json:"createdAt,omitempty"`
	UpdatedAt string        `json:"updatedAt,omitempty"`
}

// DispatchRecord is one entry of a canvas's dispatch log. Seq is assigned by
// the log on append.
type DispatchRecord struct {
	Seq       int64     `json:"seq"`
	CanvasID  CanvasID  `json:"canvasId"`
	SessionID SessionID `json:"sessionId"`
	StepID    StepID    `json:"stepId"`
	ResultID  ResultID  `json:"resultId"`
	NodeID    NodeID    `json:"nodeId"`
	Position  Position  `json:"position"`
	At        time.Time `json:"at"`
}
