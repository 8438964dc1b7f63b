package pilot

import (
	"time"

	"github.com/user/pilotsync/internal/types"
)

// DefaultPollInterval is how often an active session is refetched.
const DefaultPollInterval = 2000 * time.Millisecond

// ShouldPoll reports whether a session with the given status needs periodic
// refetching. A session that has not loaded yet never polls.
func ShouldPoll(status types.SessionStatus) bool {
	return status.Active()
}

// Ticker drives periodic refetches while polling is active. Start and Stop
// must be idempotent.
type Ticker interface {
	Start()
	Stop()
}

type nopTicker struct{}

func (nopTicker) Start() {}
func (nopTicker) Stop()  {}
