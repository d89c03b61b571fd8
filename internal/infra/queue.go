package infra

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"
)

// CommandQueue provides multi-lane task serialization. The default "main"
// lane preserves serial execution. Additional lanes allow controlled
// parallelism (e.g., cron jobs) without blocking the main processing
// pipeline.
type CommandQueue struct {
	mu    sync.Mutex
	lanes map[string]*laneState
}

type laneState struct {
	name          string
	queue         []*queueEntry
	active        int
	maxConcurrent int
	draining      bool
	cond          *sync.Cond
}

type queueEntry struct {
	task       func(context.Context) (any, error)
	ctx        context.Context
	result     chan taskResult
	enqueuedAt time.Time
	warnAfter  time.Duration
	onWait     func(waited time.Duration, queueLen int)
}

type taskResult struct {
	value any
	err   error
}

// QueueOptions configures task enqueueing behavior.
type QueueOptions struct {
	WarnAfter time.Duration
	OnWait    func(waited time.Duration, queueLen int)
}

func (o *QueueOptions) orDefault() QueueOptions {
	if o == nil {
		return QueueOptions{WarnAfter: 2 * time.Second}
	}
	return *o
}

// NewCommandQueue creates a new multi-lane command queue.
func NewCommandQueue() *CommandQueue {
	return &CommandQueue{lanes: make(map[string]*laneState)}
}

// getLane returns the named lane, creating it if necessary. Callers must
// hold q.mu.
func (q *CommandQueue) getLane(name string) *laneState {
	if name == "" {
		name = "main"
	}
	lane, ok := q.lanes[name]
	if !ok {
		lane = &laneState{name: name, maxConcurrent: 1}
		lane.cond = sync.NewCond(&q.mu)
		q.lanes[name] = lane
	}
	return lane
}

// SetLaneConcurrency sets the maximum concurrent tasks for a lane.
func (q *CommandQueue) SetLaneConcurrency(lane string, maxConcurrent int) {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}

	q.mu.Lock()
	l := q.getLane(lane)
	l.maxConcurrent = maxConcurrent
	l.cond.Broadcast()
	q.mu.Unlock()
}

// Enqueue adds a task to the default "main" lane.
func (q *CommandQueue) Enqueue(ctx context.Context, task func(context.Context) (any, error), opts *QueueOptions) (any, error) {
	return q.EnqueueInLane(ctx, "main", task, opts)
}

// EnqueueInLane adds a task to a specific lane and blocks until it completes
// or ctx is cancelled first.
func (q *CommandQueue) EnqueueInLane(ctx context.Context, lane string, task func(context.Context) (any, error), opts *QueueOptions) (any, error) {
	resolved := opts.orDefault()
	if ctx == nil {
		ctx = context.Background()
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if task == nil {
		return nil, fmt.Errorf("task is nil")
	}

	entry := &queueEntry{
		task:       task,
		ctx:        ctx,
		result:     make(chan taskResult, 1),
		enqueuedAt: time.Now(),
		warnAfter:  resolved.WarnAfter,
		onWait:     resolved.OnWait,
	}

	q.mu.Lock()
	l := q.getLane(lane)
	l.queue = append(l.queue, entry)
	if !l.draining {
		l.draining = true
		go q.drainLane(l)
	}
	q.mu.Unlock()

	select {
	case result := <-entry.result:
		return result.value, result.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// drainLane runs queued entries for l until its queue empties, never running
// more than l.maxConcurrent at once. It exits (clearing l.draining) when the
// queue is empty rather than idling, since Enqueue restarts it on demand.
func (q *CommandQueue) drainLane(l *laneState) {
	for {
		entry := q.nextEntry(l)
		if entry == nil {
			return
		}
		go q.runEntry(l, entry)
	}
}

// nextEntry blocks until l has capacity and a queued entry, pops it, and
// bumps l.active — or returns nil once the queue is empty, after clearing
// l.draining.
func (q *CommandQueue) nextEntry(l *laneState) *queueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	for l.active >= l.maxConcurrent && len(l.queue) > 0 {
		l.cond.Wait()
	}
	if len(l.queue) == 0 {
		l.draining = false
		return nil
	}

	entry := l.queue[0]
	l.queue = l.queue[1:]

	if waited := time.Since(entry.enqueuedAt); waited >= entry.warnAfter && entry.onWait != nil {
		entry.onWait(waited, len(l.queue))
	}

	l.active++
	return entry
}

// runEntry executes entry.task, recovering a panic into an error, and
// delivers the outcome on entry.result.
func (q *CommandQueue) runEntry(l *laneState, entry *queueEntry) {
	var value any
	var err error
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("task panicked: %v\n%s", rec, debug.Stack())
		}

		q.mu.Lock()
		l.active--
		l.cond.Broadcast()
		q.mu.Unlock()

		entry.result <- taskResult{value: value, err: err}
	}()

	if entry.ctx.Err() != nil {
		err = entry.ctx.Err()
		return
	}
	value, err = entry.task(entry.ctx)
}

// QueueSize returns the number of pending and active tasks in a lane.
func (q *CommandQueue) QueueSize(lane string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	l, ok := q.lanes[lane]
	if !ok {
		return 0
	}
	return len(l.queue) + l.active
}

// TotalQueueSize returns the total number of tasks across all lanes.
func (q *CommandQueue) TotalQueueSize() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	total := 0
	for _, l := range q.lanes {
		total += len(l.queue) + l.active
	}
	return total
}

// ClearLane removes all pending tasks from a lane, returning the count removed.
func (q *CommandQueue) ClearLane(lane string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	l, ok := q.lanes[lane]
	if !ok {
		return 0
	}
	removed := len(l.queue)
	l.queue = l.queue[:0]
	return removed
}

// LaneStats contains statistics for a lane.
type LaneStats struct {
	Name          string
	Pending       int
	Active        int
	MaxConcurrent int
}

// Stats returns statistics for all lanes.
func (q *CommandQueue) Stats() []LaneStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	stats := make([]LaneStats, 0, len(q.lanes))
	for _, l := range q.lanes {
		stats = append(stats, LaneStats{
			Name:          l.name,
			Pending:       len(l.queue),
			Active:        l.active,
			MaxConcurrent: l.maxConcurrent,
		})
	}
	return stats
}

// EnqueueVoid is a convenience method for tasks that don't return a value.
func (q *CommandQueue) EnqueueVoid(ctx context.Context, task func(context.Context) error, opts *QueueOptions) error {
	_, err := q.Enqueue(ctx, func(ctx context.Context) (any, error) {
		return nil, task(ctx)
	}, opts)
	return err
}

// EnqueueVoidInLane is a convenience method for void tasks in a specific lane.
func (q *CommandQueue) EnqueueVoidInLane(ctx context.Context, lane string, task func(context.Context) error, opts *QueueOptions) error {
	_, err := q.EnqueueInLane(ctx, lane, func(ctx context.Context) (any, error) {
		return nil, task(ctx)
	}, opts)
	return err
}

// DefaultQueue is a global command queue instance.
var DefaultQueue = NewCommandQueue()

// Enqueue adds a task to the default queue's main lane.
func Enqueue(ctx context.Context, task func(context.Context) (any, error), opts *QueueOptions) (any, error) {
	return DefaultQueue.Enqueue(ctx, task, opts)
}

// EnqueueInLane adds a task to a specific lane in the default queue.
func EnqueueInLane(ctx context.Context, lane string, task func(context.Context) (any, error), opts *QueueOptions) (any, error) {
	return DefaultQueue.EnqueueInLane(ctx, lane, task, opts)
}
