package hub

import (
	"context"
	"time"

	"github.com/user/pilotsync/internal/types"
)

// JobReason records why a sync job was queued.
type JobReason string

const (
	ReasonInitial JobReason = "initial"
	ReasonPoll    JobReason = "poll"
	ReasonManual  JobReason = "manual"
	ReasonSwitch  JobReason = "switch"
)

// Job is one sync of one watched canvas.
type Job struct {
	ID        types.JobID
	CanvasID  types.CanvasID
	Reason    JobReason
	CreatedAt time.Time
	Ctx       context.Context

	// done, if set, receives the processor result. Buffered so the lane
	// never blocks on a waiter that went away.
	done chan error
}

// NewJob creates a Job for the given canvas.
func NewJob(canvasID types.CanvasID, reason JobReason) *Job {
	return &Job{
		ID:        types.NewJobID(),
		CanvasID:  canvasID,
		Reason:    reason,
		CreatedAt: time.Now(),
	}
}

// withDone makes the job report its result.
func (j *Job) withDone() *Job {
	j.done = make(chan error, 1)
	return j
}

func (j *Job) finish(err error) {
	if j.done != nil {
		j.done <- err
	}
}
