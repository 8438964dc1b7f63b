// internal/types/status.go
package types

import (
	"encoding/json"
	"fmt"
)

// SessionStatus is the lifecycle state of a pilot session as reported by
// the remote service. Unrecognised wire values decode to
// SessionStatusUnknown.
type SessionStatus int

const (
	SessionStatusNone SessionStatus = iota
	SessionStatusInit
	SessionStatusExecuting
	SessionStatusWaiting
	SessionStatusCompleted
	SessionStatusFailed
	SessionStatusUnknown
)

var sessionStatusNames = map[SessionStatus]string{
	SessionStatusNone:      "",
	SessionStatusInit:      "init",
	SessionStatusExecuting: "executing",
	SessionStatusWaiting:   "waiting",
	SessionStatusCompleted: "completed",
	SessionStatusFailed:    "failed",
	SessionStatusUnknown:   "unknown",
}

// ParseSessionStatus maps a wire string to a SessionStatus. The empty string
// is SessionStatusNone; anything unrecognised is SessionStatusUnknown.
func ParseSessionStatus(s string) SessionStatus {
	for status, name := range sessionStatusNames {
		if status != SessionStatusUnknown && name == s {
			return status
		}
	}
	return SessionStatusUnknown
}

func (s SessionStatus) String() string {
	if name, ok := sessionStatusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("SessionStatus(%d)", int(s))
}

// Active reports whether a session in this status is still making progress
// on the server and should be polled.
func (s SessionStatus) Active() bool {
	switch s {
	case SessionStatusExecuting, SessionStatusWaiting:
		return true
	case SessionStatusNone, SessionStatusInit, SessionStatusCompleted, SessionStatusFailed, SessionStatusUnknown:
		return false
	default:
		return false
	}
}

func (s SessionStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *SessionStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode session status: %w", err)
	}
	*s = ParseSessionStatus(raw)
	return nil
}

// StepStatus is the lifecycle state of a single pilot step.
type StepStatus int

const (
	StepStatusNone StepStatus = iota
	StepStatusInit
	StepStatusExecuting
	StepStatusFinish
	StepStatusFailed
	StepStatusUnknown
)

var stepStatusNames = map[StepStatus]string{
	StepStatusNone:      "",
	StepStatusInit:      "init",
	StepStatusExecuting: "executing",
	StepStatusFinish:    "finish",
	StepStatusFailed:    "failed",
	StepStatusUnknown:   "unknown",
}

// ParseStepStatus maps a wire string to a StepStatus.
func ParseStepStatus(s string) StepStatus {
	for status, name := range stepStatusNames {
		if status != StepStatusUnknown && name == s {
			return status
		}
	}
	return StepStatusUnknown
}

func (s StepStatus) String() string {
	if name, ok := stepStatusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("StepStatus(%d)", int(s))
}

func (s StepStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *StepStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode step status: %w", err)
	}
	*s = ParseStepStatus(raw)
	return nil
}

// NodeStatus is the execution status recorded in canvas node metadata.
type NodeStatus string

const (
	NodeStatusWaiting   NodeStatus = "waiting"
	NodeStatusExecuting NodeStatus = "executing"
	NodeStatusFinish    NodeStatus = "finish"
	NodeStatusFailed    NodeStatus = "failed"
)
