package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/user/pilotsync/internal/types"
)

// ErrQueueFull is returned when a canvas lane cannot take another job.
var ErrQueueFull = errors.New("queue full")

const laneSize = 16

// Queue manages per-canvas lanes with a global concurrency semaphore.
// Each canvas gets its own FIFO channel (lane) so that syncs of one view are
// processed sequentially, while the semaphore limits the total number of
// concurrent syncs across all canvases.
type Queue struct {
	lanes     map[types.CanvasID]chan *Job
	semaphore *semaphore.Weighted
	processor func(*Job) error
	active    atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex
}

// NewQueue creates a Queue that allows up to maxConcurrent syncs to execute
// simultaneously across all canvas lanes.
func NewQueue(maxConcurrent int64) *Queue {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Queue{
		lanes:     make(map[types.CanvasID]chan *Job),
		semaphore: semaphore.NewWeighted(maxConcurrent),
	}
}

// Start initialises the queue's context. Must be called before Enqueue.
func (q *Queue) Start(ctx context.Context) {
	q.ctx, q.cancel = context.WithCancel(ctx)
}

// Stop cancels the queue context, closes all lanes, and waits for in-flight
// processors to finish.
func (q *Queue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	q.mu.Lock()
	for id, lane := range q.lanes {
		close(lane)
		delete(q.lanes, id)
	}
	q.mu.Unlock()
	q.wg.Wait()
}

// Enqueue adds a Job to the canvas's lane, creating the lane (and its
// goroutine) on first use. Returns ErrQueueFull if the lane's buffer is full.
func (q *Queue) Enqueue(job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.ctx == nil || q.ctx.Err() != nil {
		return errors.New("queue is not running")
	}

	lane, exists := q.lanes[job.CanvasID]
	if !exists {
		lane = make(chan *Job, laneSize)
		q.lanes[job.CanvasID] = lane
		q.wg.Add(1)
		go q.processLane(lane)
	}

	select {
	case lane <- job:
		return nil
	default:
		return fmt.Errorf("%w for canvas %s", ErrQueueFull, job.CanvasID)
	}
}

// RemoveLane closes the canvas's lane. Jobs already queued still run; the
// next Enqueue for the canvas starts a fresh lane.
func (q *Queue) RemoveLane(canvasID types.CanvasID) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if lane, ok := q.lanes[canvasID]; ok {
		close(lane)
		delete(q.lanes, canvasID)
	}
}

// processLane drains a single canvas lane, acquiring a semaphore slot
// before running the processor synchronously. This ensures strict FIFO
// ordering within a canvas while the semaphore limits cross-canvas
// parallelism.
func (q *Queue) processLane(lane chan *Job) {
	defer q.wg.Done()
	for {
		select {
		case job, ok := <-lane:
			if !ok {
				return
			}
			if err := q.semaphore.Acquire(q.ctx, 1); err != nil {
				job.finish(err)
				return
			}
			q.active.Add(1)
			var err error
			if q.processor != nil {
				job.Ctx = q.ctx
				err = q.processor(job)
				if err != nil {
					slog.Debug("sync job failed", "job_id", string(job.ID), "canvas_id", string(job.CanvasID), "reason", string(job.Reason), "error", err)
				}
			}
			job.finish(err)
			q.active.Add(-1)
			q.semaphore.Release(1)
		case <-q.ctx.Done():
			return
		}
	}
}

// WaitIdle blocks until no jobs are actively being processed, or the timeout
// expires. Returns true if idle, false if timed out.
func (q *Queue) WaitIdle(timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if q.active.Load() == 0 {
			return true
		}
		select {
		case <-deadline:
			return false
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// SetProcessor sets the function invoked for each dequeued Job.
func (q *Queue) SetProcessor(fn func(*Job) error) {
	q.processor = fn
}
