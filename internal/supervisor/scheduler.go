package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidState is returned when an operation is attempted against a task
// whose current state does not permit it.
var ErrInvalidState = errors.New("supervisor: invalid task state for operation")

// ErrConflict is returned by ExplicitStart when the conflict resolver
// declines to start the task (policy resolved to queue/deny).
var ErrConflict = errors.New("supervisor: task conflicts with a running task")

// AgentRunner executes a supervisor task's prompt against an isolated agent
// loop instance. Implementations own session-key scoping, tool-registry
// scope, and persistence; the supervisor only owns scheduling.
type AgentRunner interface {
	Run(ctx context.Context, sessionKey, prompt string) error
}

// ConflictResolver is the approval collaborator consulted when an explicit
// start request conflicts with a currently running background task. It must
// return one of ConflictQueue, ConflictRunNow, or ConflictCancelRunning —
// no fourth option, no silent override.
type ConflictResolver interface {
	ResolveConflict(ctx context.Context, newTask *SupervisorTask, conflicting []*SupervisorTask) (ConflictPolicy, error)
}

// AlwaysQueueResolver is the default ConflictResolver: every conflict is
// deferred to the queue. Safe default when no interactive collaborator is
// wired in.
type AlwaysQueueResolver struct{}

// ResolveConflict always returns ConflictQueue.
func (AlwaysQueueResolver) ResolveConflict(ctx context.Context, newTask *SupervisorTask, conflicting []*SupervisorTask) (ConflictPolicy, error) {
	return ConflictQueue, nil
}

// Config configures a Supervisor.
type Config struct {
	// MaxBackgroundLanes bounds how many background tasks may run
	// concurrently. Defaults to 8.
	MaxBackgroundLanes int

	// AllowRunNow permits ConflictRunNow to actually run a task alongside a
	// conflicting one rather than falling back to ConflictQueue. Defaults
	// to false: an operator must opt in.
	AllowRunNow bool

	// PruneKeep is the number of most-recent terminal tasks kept by Prune.
	// Defaults to DefaultPruneKeep (200).
	PruneKeep int

	Resolver ConflictResolver
	Logger   *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.MaxBackgroundLanes <= 0 {
		c.MaxBackgroundLanes = 8
	}
	if c.PruneKeep <= 0 {
		c.PruneKeep = DefaultPruneKeep
	}
	if c.Resolver == nil {
		c.Resolver = AlwaysQueueResolver{}
	}
	if c.Logger == nil {
		c.Logger = slog.Default().With("component", "supervisor")
	}
	return c
}

// Supervisor schedules SupervisorTasks onto a serial foreground lane and a
// bounded-parallel background lane, enforcing the exclusive-resource
// conflict rule between them.
type Supervisor struct {
	store  Store
	runner AgentRunner
	config Config

	mu               sync.Mutex
	tasksByID        map[string]*SupervisorTask
	order            []string // insertion order across all tasks, for FIFO + retry/prune
	runningForeground *SupervisorTask
	runningBackground map[string]*SupervisorTask
}

// SessionKeyFor builds the scoped session key a supervisor task runs under.
func SessionKeyFor(baseKey, taskID string) string {
	return fmt.Sprintf("%s::sup::%s", baseKey, taskID)
}

// NewSupervisor loads existing tasks from store, reconciles orphaned Running
// tasks to Failed (the background handle they referenced no longer exists
// across a process restart), and returns a ready Supervisor.
func NewSupervisor(ctx context.Context, store Store, runner AgentRunner, config Config) (*Supervisor, error) {
	config = config.withDefaults()

	s := &Supervisor{
		store:             store,
		runner:            runner,
		config:            config,
		tasksByID:         make(map[string]*SupervisorTask),
		runningBackground: make(map[string]*SupervisorTask),
	}

	existing, err := store.List(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(existing, func(i, j int) bool { return existing[i].CreatedAt.Before(existing[j].CreatedAt) })

	for _, task := range existing {
		if task.State == StateRunning {
			task.State = StateFailed
			task.Error = "orphaned: process restarted while task was running"
			now := time.Now()
			task.FinishedAt = &now
			if err := store.Update(ctx, task); err != nil {
				return nil, err
			}
			s.config.Logger.Warn("reconciled orphaned task", "task_id", task.ID)
		}
		s.tasksByID[task.ID] = task
		s.order = append(s.order, task.ID)
	}

	return s, nil
}

// Submit creates a new Queued task and attempts to start it immediately if
// lane capacity allows.
func (s *Supervisor) Submit(ctx context.Context, sessionKey, prompt string, tags ResourceTagSet) (*SupervisorTask, error) {
	task := &SupervisorTask{
		ID:           uuid.NewString(),
		SessionKey:   sessionKey,
		UserPrompt:   prompt,
		State:        StateQueued,
		ResourceTags: tags.Normalize(),
		CreatedAt:    time.Now(),
	}

	if err := s.store.Create(ctx, task); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.tasksByID[task.ID] = task
	s.order = append(s.order, task.ID)
	s.mu.Unlock()

	s.drain(ctx)
	return task.clone(), nil
}

// runningTasksLocked returns every currently running task. Caller must hold s.mu.
func (s *Supervisor) runningTasksLocked() []*SupervisorTask {
	var out []*SupervisorTask
	if s.runningForeground != nil {
		out = append(out, s.runningForeground)
	}
	for _, t := range s.runningBackground {
		out = append(out, t)
	}
	return out
}

// conflictsWithRunningLocked returns every running task whose exclusive
// resources intersect the candidate's. Caller must hold s.mu.
func (s *Supervisor) conflictsWithRunningLocked(task *SupervisorTask) []*SupervisorTask {
	tags := task.ResourceTags.Normalize()
	var conflicts []*SupervisorTask
	for _, running := range s.runningTasksLocked() {
		if running.ID == task.ID {
			continue
		}
		if tags.ConflictsWith(running.ResourceTags.Normalize()) {
			conflicts = append(conflicts, running)
		}
	}
	return conflicts
}

// startableLocked reports whether task can start right now: the foreground
// lane admits at most one task at a time, the background lane admits up to
// MaxBackgroundLanes, and in either case no running task may share an
// exclusive resource with it (background tasks never do, by construction).
func (s *Supervisor) startableLocked(task *SupervisorTask) bool {
	if task.IsForeground() {
		return s.runningForeground == nil
	}
	if len(s.runningBackground) >= s.config.MaxBackgroundLanes {
		return false
	}
	return len(s.conflictsWithRunningLocked(task)) == 0
}

// startTaskLocked transitions task to Running and launches its agent loop.
// Caller must hold s.mu.
func (s *Supervisor) startTaskLocked(ctx context.Context, task *SupervisorTask) {
	now := time.Now()
	task.State = StateRunning
	task.StartedAt = &now

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	task.cancel = cancel

	foreground := task.IsForeground()
	if foreground {
		s.runningForeground = task
	} else {
		task.BackgroundTaskID = task.ID
		s.runningBackground[task.ID] = task
	}

	snapshot := task.clone()
	go func() {
		if err := s.store.Update(context.Background(), snapshot); err != nil {
			s.config.Logger.Error("failed to persist task start", "task_id", task.ID, "error", err)
		}
		runErr := s.runner.Run(runCtx, SessionKeyFor(task.SessionKey, task.ID), task.UserPrompt)
		cancel()
		s.finish(context.Background(), task.ID, runErr)
	}()
}

// drain scans Queued tasks FIFO and starts every one that has capacity,
// repeating until a pass makes no progress.
func (s *Supervisor) drain(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		started := false
		for _, id := range s.order {
			task := s.tasksByID[id]
			if task == nil || task.State != StateQueued {
				continue
			}
			if !s.startableLocked(task) {
				continue
			}
			s.startTaskLocked(ctx, task)
			started = true
		}
		if !started {
			return
		}
	}
}

// finish records a task's outcome once its agent loop returns. A task that
// was Cancelled while running remains Cancelled: this is the sticky-state
// guard required so a late-arriving completion cannot overwrite a cancel.
func (s *Supervisor) finish(ctx context.Context, taskID string, runErr error) {
	s.mu.Lock()
	task := s.tasksByID[taskID]
	if task == nil {
		s.mu.Unlock()
		return
	}

	if task.State != StateCancelled {
		now := time.Now()
		task.FinishedAt = &now
		if runErr != nil {
			task.State = StateFailed
			task.Error = runErr.Error()
		} else {
			task.State = StateCompleted
		}
	}

	if s.runningForeground != nil && s.runningForeground.ID == taskID {
		s.runningForeground = nil
	}
	delete(s.runningBackground, taskID)

	snapshot := task.clone()
	s.mu.Unlock()

	if err := s.store.Update(ctx, snapshot); err != nil {
		s.config.Logger.Error("failed to persist task completion", "task_id", taskID, "error", err)
	}
	s.drain(ctx)
}

// Cancel transitions a task to Cancelled and signals its agent loop via the
// per-task context.CancelFunc. Idempotent: cancelling an already-Cancelled
// task is a no-op success.
func (s *Supervisor) Cancel(ctx context.Context, id string) error {
	s.mu.Lock()
	task := s.tasksByID[id]
	if task == nil {
		s.mu.Unlock()
		return ErrTaskNotFound
	}
	if task.State == StateCancelled {
		s.mu.Unlock()
		return nil
	}

	wasRunning := task.State == StateRunning
	cancelFn := task.cancel
	now := time.Now()
	task.State = StateCancelled
	task.FinishedAt = &now

	if wasRunning {
		if s.runningForeground != nil && s.runningForeground.ID == id {
			s.runningForeground = nil
		}
		delete(s.runningBackground, id)
	}
	snapshot := task.clone()
	s.mu.Unlock()

	if cancelFn != nil {
		cancelFn()
	}
	if err := s.store.Update(ctx, snapshot); err != nil {
		return err
	}
	s.drain(ctx)
	return nil
}

// CancelAll cancels every non-terminal task.
func (s *Supervisor) CancelAll(ctx context.Context) (int, error) {
	s.mu.Lock()
	var ids []string
	for _, id := range s.order {
		if t := s.tasksByID[id]; t != nil && !t.State.IsTerminal() {
			ids = append(ids, id)
		}
	}
	s.mu.Unlock()

	for _, id := range ids {
		if err := s.Cancel(ctx, id); err != nil {
			return 0, err
		}
	}
	return len(ids), nil
}

// ExplicitStart starts a specific Queued task out of FIFO order. If it
// conflicts with a currently running background task, the configured
// ConflictResolver is consulted for a three-way decision: queue (default),
// run now (only if AllowRunNow), or cancel the conflicting background
// task(s) and run.
func (s *Supervisor) ExplicitStart(ctx context.Context, id string) error {
	s.mu.Lock()
	task := s.tasksByID[id]
	if task == nil {
		s.mu.Unlock()
		return ErrTaskNotFound
	}
	if task.State != StateQueued {
		s.mu.Unlock()
		return ErrInvalidState
	}

	conflicts := s.conflictsWithRunningLocked(task)
	if task.IsForeground() && s.runningForeground != nil {
		conflicts = append(conflicts, s.runningForeground)
	}

	if len(conflicts) == 0 {
		s.startTaskLocked(ctx, task)
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	policy, err := s.config.Resolver.ResolveConflict(ctx, task.clone(), cloneAll(conflicts))
	if err != nil {
		return err
	}

	switch policy {
	case ConflictQueue:
		return nil
	case ConflictRunNow:
		if !s.config.AllowRunNow {
			return ErrConflict
		}
		s.mu.Lock()
		s.startTaskLocked(ctx, task)
		s.mu.Unlock()
		return nil
	case ConflictCancelRunning:
		for _, c := range conflicts {
			if err := s.Cancel(ctx, c.ID); err != nil {
				return err
			}
		}
		s.mu.Lock()
		if task.State == StateQueued {
			s.startTaskLocked(ctx, task)
		}
		s.mu.Unlock()
		return nil
	default:
		return fmt.Errorf("supervisor: unknown conflict policy %q", policy)
	}
}

// Retry reopens every terminal task matching scope to Queued as a fresh
// attempt, moving it to the back of the FIFO order.
func (s *Supervisor) Retry(ctx context.Context, scope RetryScope) (int, error) {
	s.mu.Lock()
	var toRetry []*SupervisorTask
	for _, id := range s.order {
		task := s.tasksByID[id]
		if task != nil && scope.matches(task.State) {
			toRetry = append(toRetry, task)
		}
	}
	for _, task := range toRetry {
		task.State = StateQueued
		task.StartedAt = nil
		task.FinishedAt = nil
		task.Error = ""
		task.BackgroundTaskID = ""
		s.moveToBackLocked(task.ID)
	}
	snapshots := cloneAll(toRetry)
	s.mu.Unlock()

	for _, snap := range snapshots {
		if err := s.store.Update(ctx, snap); err != nil {
			return 0, err
		}
	}
	s.drain(ctx)
	return len(snapshots), nil
}

// RetryOne reopens a single terminal task by ID, regardless of scope.
func (s *Supervisor) RetryOne(ctx context.Context, id string) error {
	s.mu.Lock()
	task := s.tasksByID[id]
	if task == nil {
		s.mu.Unlock()
		return ErrTaskNotFound
	}
	if !task.State.IsTerminal() {
		s.mu.Unlock()
		return ErrInvalidState
	}
	task.State = StateQueued
	task.StartedAt = nil
	task.FinishedAt = nil
	task.Error = ""
	task.BackgroundTaskID = ""
	s.moveToBackLocked(id)
	snapshot := task.clone()
	s.mu.Unlock()

	if err := s.store.Update(ctx, snapshot); err != nil {
		return err
	}
	s.drain(ctx)
	return nil
}

// moveToBackLocked repositions id to the end of the FIFO order. Caller must
// hold s.mu.
func (s *Supervisor) moveToBackLocked(id string) {
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.order = append(s.order, id)
}

// Prune removes all but the most recent keep terminal tasks, leaving every
// non-terminal task untouched. keep<=0 uses the configured default.
func (s *Supervisor) Prune(ctx context.Context, keep int) (int, error) {
	if keep <= 0 {
		keep = s.config.PruneKeep
	}

	s.mu.Lock()
	var terminal []*SupervisorTask
	for _, id := range s.order {
		if t := s.tasksByID[id]; t != nil && t.State.IsTerminal() {
			terminal = append(terminal, t)
		}
	}
	sort.Slice(terminal, func(i, j int) bool {
		return terminalTime(terminal[i]).After(terminalTime(terminal[j]))
	})

	var toDelete []string
	if len(terminal) > keep {
		for _, t := range terminal[keep:] {
			toDelete = append(toDelete, t.ID)
		}
	}
	for _, id := range toDelete {
		delete(s.tasksByID, id)
	}
	if len(toDelete) > 0 {
		remaining := s.order[:0:0]
		deleteSet := make(map[string]bool, len(toDelete))
		for _, id := range toDelete {
			deleteSet[id] = true
		}
		for _, id := range s.order {
			if !deleteSet[id] {
				remaining = append(remaining, id)
			}
		}
		s.order = remaining
	}
	s.mu.Unlock()

	for _, id := range toDelete {
		if err := s.store.Delete(ctx, id); err != nil {
			return 0, err
		}
	}
	return len(toDelete), nil
}

func terminalTime(t *SupervisorTask) time.Time {
	if t.FinishedAt != nil {
		return *t.FinishedAt
	}
	return t.CreatedAt
}

// Status returns a snapshot of queue counts and currently running tasks.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	var counts StatusCounts
	for _, id := range s.order {
		task := s.tasksByID[id]
		if task == nil {
			continue
		}
		switch task.State {
		case StateQueued:
			counts.Queued++
		case StateRunning:
			counts.Running++
		case StateBlocked:
			counts.Blocked++
		case StateCompleted:
			counts.Completed++
		case StateFailed:
			counts.Failed++
		case StateCancelled:
			counts.Cancelled++
		}
	}

	var running []RunningTaskInfo
	if s.runningForeground != nil {
		running = append(running, RunningTaskInfo{
			ID:         s.runningForeground.ID,
			SessionKey: s.runningForeground.SessionKey,
			Lane:       "foreground",
		})
	}
	for _, t := range s.runningBackground {
		running = append(running, RunningTaskInfo{ID: t.ID, SessionKey: t.SessionKey, Lane: "background"})
	}

	return Status{Counts: counts, Running: running}
}

// Get returns a single task by ID.
func (s *Supervisor) Get(id string) (*SupervisorTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasksByID[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return task.clone(), nil
}

// List returns every task in FIFO order.
func (s *Supervisor) List() []*SupervisorTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*SupervisorTask, 0, len(s.order))
	for _, id := range s.order {
		if t := s.tasksByID[id]; t != nil {
			out = append(out, t.clone())
		}
	}
	return out
}

func cloneAll(tasks []*SupervisorTask) []*SupervisorTask {
	out := make([]*SupervisorTask, len(tasks))
	for i, t := range tasks {
		out[i] = t.clone()
	}
	return out
}
