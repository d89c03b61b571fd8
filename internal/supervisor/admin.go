package supervisor

import (
	"context"
	"sort"
	"time"
)

// The functions in this file operate directly on a Store, without building a
// full in-process Supervisor. They back the operator CLI (§6): an operator
// invocation is a short-lived process that inspects or mutates the same
// tasks.json a long-running host process reads and writes, so these helpers
// must not perform the orphan-reconciliation NewSupervisor does on startup
// (that would wrongly fail a task a live host is legitimately running).

// StatusFromStore builds an operator status snapshot directly from a store,
// without requiring a running Supervisor in this process.
func StatusFromStore(ctx context.Context, store Store) (Status, error) {
	tasks, err := store.List(ctx)
	if err != nil {
		return Status{}, err
	}

	var status Status
	for _, t := range tasks {
		switch t.State {
		case StateQueued:
			status.Counts.Queued++
		case StateRunning:
			status.Counts.Running++
			lane := "background"
			if t.IsForeground() {
				lane = "foreground"
			}
			status.Running = append(status.Running, RunningTaskInfo{
				ID:         t.ID,
				SessionKey: t.SessionKey,
				Lane:       lane,
			})
		case StateBlocked:
			status.Counts.Blocked++
		case StateCompleted:
			status.Counts.Completed++
		case StateFailed:
			status.Counts.Failed++
		case StateCancelled:
			status.Counts.Cancelled++
		}
	}
	return status, nil
}

// CancelTaskInStore marks a single task Cancelled directly in the store.
// Cancellation is sticky: a task already Cancelled is left untouched and
// reports no error, and a terminal non-Cancelled task cannot be cancelled.
func CancelTaskInStore(ctx context.Context, store Store, id string) error {
	task, err := store.Get(ctx, id)
	if err != nil {
		return err
	}
	if task.State == StateCancelled {
		return nil
	}
	if task.State.IsTerminal() {
		return ErrInvalidState
	}
	now := time.Now()
	task.State = StateCancelled
	task.FinishedAt = &now
	return store.Update(ctx, task)
}

// CancelAllInStore cancels every non-terminal task found in the store and
// returns how many were cancelled.
func CancelAllInStore(ctx context.Context, store Store) (int, error) {
	tasks, err := store.List(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, t := range tasks {
		if t.State.IsTerminal() {
			continue
		}
		if err := CancelTaskInStore(ctx, store, t.ID); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// InterruptRunning cancels whichever task is currently in the Running state
// in the foreground lane, signalling the "interrupt the active run" operator
// command. Returns ErrTaskNotFound if nothing is running in the foreground.
func InterruptRunning(ctx context.Context, store Store) (*SupervisorTask, error) {
	tasks, err := store.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range tasks {
		if t.State == StateRunning && t.IsForeground() {
			if err := CancelTaskInStore(ctx, store, t.ID); err != nil {
				return nil, err
			}
			return t, nil
		}
	}
	return nil, ErrTaskNotFound
}

// RetryInStore reopens every terminal task matching scope by moving it back
// to Queued, and returns how many were reopened.
func RetryInStore(ctx context.Context, store Store, scope RetryScope) (int, error) {
	tasks, err := store.List(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, t := range tasks {
		if !scope.matches(t.State) {
			continue
		}
		t.State = StateQueued
		t.StartedAt = nil
		t.FinishedAt = nil
		t.Error = ""
		t.BackgroundTaskID = ""
		if err := store.Update(ctx, t); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// RetryOneInStore reopens a single terminal task by ID regardless of scope.
func RetryOneInStore(ctx context.Context, store Store, id string) error {
	task, err := store.Get(ctx, id)
	if err != nil {
		return err
	}
	if !task.State.IsTerminal() {
		return ErrInvalidState
	}
	task.State = StateQueued
	task.StartedAt = nil
	task.FinishedAt = nil
	task.Error = ""
	task.BackgroundTaskID = ""
	return store.Update(ctx, task)
}

// PruneInStore deletes all but the keep most-recent terminal tasks, leaving
// every non-terminal task untouched. keep<=0 uses DefaultPruneKeep.
func PruneInStore(ctx context.Context, store Store, keep int) (int, error) {
	if keep <= 0 {
		keep = DefaultPruneKeep
	}

	tasks, err := store.List(ctx)
	if err != nil {
		return 0, err
	}

	var terminal []*SupervisorTask
	for _, t := range tasks {
		if t.State.IsTerminal() {
			terminal = append(terminal, t)
		}
	}
	sort.Slice(terminal, func(i, j int) bool {
		return terminalTime(terminal[i]).After(terminalTime(terminal[j]))
	})

	if len(terminal) <= keep {
		return 0, nil
	}
	toDelete := terminal[keep:]
	for _, t := range toDelete {
		if err := store.Delete(ctx, t.ID); err != nil {
			return 0, err
		}
	}
	return len(toDelete), nil
}
