// internal/scheduler/scheduler.go
package scheduler

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler owns one cron runner shared by every poller it hands out.
type Scheduler struct {
	cron *cron.Cron
}

// cronParser accepts both standard 5-field cron expressions and 6-field
// expressions with an optional seconds field, plus descriptors like
// "@every 2s".
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// New creates a Scheduler. Call Start before any poller can fire.
func New() *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithParser(cronParser), cron.WithChain(cron.Recover(cron.DefaultLogger))),
	}
}

// Start starts the cron ticker.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the cron ticker. Running jobs are not waited for.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}

// Entries returns the number of registered cron entries.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

// Poller returns a poller that calls fn every interval while started. The
// interval is rounded down to whole seconds by cron, with a one second
// minimum.
func (s *Scheduler) Poller(name string, interval time.Duration, fn func()) *Poller {
	return &Poller{
		sched:    s,
		name:     name,
		spec:     fmt.Sprintf("@every %s", interval),
		fn:       fn,
		interval: interval,
	}
}

// Poller is a cron entry that can be switched on and off. Start and Stop are
// idempotent, so callers can apply them on every status evaluation.
type Poller struct {
	sched    *Scheduler
	name     string
	spec     string
	interval time.Duration
	fn       func()

	mu      sync.Mutex
	entry   cron.EntryID
	running bool
}

// Start registers the cron entry if it is not already registered.
func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}
	id, err := p.sched.cron.AddFunc(p.spec, p.fn)
	if err != nil {
		slog.Error("invalid poll schedule", "name", p.name, "schedule", p.spec, "error", err)
		return
	}
	p.entry = id
	p.running = true
	slog.Debug("poller started", "name", p.name, "interval", p.interval)
}

// Stop removes the cron entry if it is registered.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}
	p.sched.cron.Remove(p.entry)
	p.running = false
	slog.Debug("poller stopped", "name", p.name)
}

// Running reports whether the poller currently has a cron entry.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}
