// Package state provides filesystem-backed storage implementations.
package state

import "github.com/user/pilotsync/internal/types"

// Compile-time interface compliance checks.
var _ types.Canvas = (*Board)(nil)
var _ types.DispatchLog = (*DispatchLog)(nil)
