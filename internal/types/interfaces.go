// internal/types/interfaces.go
package types

import (
	"context"
)

// SessionFetcher loads a pilot session snapshot. A nil session with a nil
// error means the session does not exist yet.
type SessionFetcher interface {
	FetchSession(ctx context.Context, id SessionID) (*Session, error)
}

// ActionInvoker starts a unit of work for an action result.
type ActionInvoker interface {
	InvokeAction(ctx context.Context, req *InvokeRequest) error
}

// Canvas is the node graph of a single canvas.
type Canvas interface {
	Nodes(ctx context.Context) ([]*CanvasNode, error)
	AddNode(ctx context.Context, node *CanvasNode) error
}

// DispatchLog is an append-only record of dispatched steps per canvas.
type DispatchLog interface {
	Append(ctx context.Context, rec *DispatchRecord) error
	Tail(ctx context.Context, canvasID CanvasID, limit int) ([]*DispatchRecord, error)
}
