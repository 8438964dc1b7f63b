// internal/types/ids.go
package types

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ErrInvalidCanvasID is returned for canvas ids that cannot name a file.
var ErrInvalidCanvasID = errors.New("invalid canvas id")

type SessionID string
type StepID string
type ResultID string
type CanvasID string
type NodeID string
type JobID string

// NewSessionSentinel is passed to session-switch callbacks when the host
// should start a fresh session instead of opening an existing one.
const NewSessionSentinel SessionID = ""

func NewNodeID() NodeID {
	return NodeID(uuid.New().String())
}

func NewJobID() JobID {
	return JobID(uuid.New().String())
}

// Validate reports whether the id is usable as a single path element under
// the data directory.
func (id CanvasID) Validate() error {
	s := string(id)
	switch {
	case s == "":
		return fmt.Errorf("%w: empty", ErrInvalidCanvasID)
	case s == ".", strings.Contains(s, ".."), strings.ContainsAny(s, "/\\\x00"):
		return fmt.Errorf("%w: %q", ErrInvalidCanvasID, s)
	}
	return nil
}
