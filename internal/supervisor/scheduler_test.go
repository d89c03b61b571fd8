package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// blockingRunner runs until its context is cancelled or a release channel,
// keyed by session key, is closed.
type blockingRunner struct {
	mu       sync.Mutex
	release  map[string]chan struct{}
	runCount map[string]int
	runErr   error
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{
		release:  make(map[string]chan struct{}),
		runCount: make(map[string]int),
	}
}

func (r *blockingRunner) channelFor(sessionKey string) chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.release[sessionKey]
	if !ok {
		ch = make(chan struct{})
		r.release[sessionKey] = ch
	}
	return ch
}

func (r *blockingRunner) Run(ctx context.Context, sessionKey, prompt string) error {
	r.mu.Lock()
	r.runCount[sessionKey]++
	r.mu.Unlock()

	ch := r.channelFor(sessionKey)
	select {
	case <-ch:
		return r.runErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *blockingRunner) releaseTask(sessionKey string) {
	ch := r.channelFor(sessionKey)
	close(ch)
}

// instantRunner completes immediately.
type instantRunner struct {
	err error
}

func (r instantRunner) Run(ctx context.Context, sessionKey, prompt string) error {
	return r.err
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestSupervisor_ForegroundLaneIsSerial(t *testing.T) {
	ctx := context.Background()
	runner := newBlockingRunner()
	sup, err := NewSupervisor(ctx, NewMemoryStore(), runner, Config{})
	if err != nil {
		t.Fatalf("NewSupervisor: %v", err)
	}

	t1, err := sup.Submit(ctx, "s1", "first", ResourceTagSet{ResourceFilesystem})
	if err != nil {
		t.Fatalf("Submit t1: %v", err)
	}
	t2, err := sup.Submit(ctx, "s2", "second", ResourceTagSet{ResourceFilesystem})
	if err != nil {
		t.Fatalf("Submit t2: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		got, _ := sup.Get(t1.ID)
		return got.State == StateRunning
	})

	got2, _ := sup.Get(t2.ID)
	if got2.State != StateQueued {
		t.Errorf("second foreground task state = %s, want queued while first runs", got2.State)
	}

	runner.releaseTask(SessionKeyFor("s1", t1.ID))

	waitFor(t, time.Second, func() bool {
		got, _ := sup.Get(t1.ID)
		return got.State == StateCompleted
	})
	waitFor(t, time.Second, func() bool {
		got, _ := sup.Get(t2.ID)
		return got.State == StateRunning
	})

	runner.releaseTask(SessionKeyFor("s2", t2.ID))
	waitFor(t, time.Second, func() bool {
		got, _ := sup.Get(t2.ID)
		return got.State == StateCompleted
	})
}

func TestSupervisor_BackgroundRunsAlongsideForeground(t *testing.T) {
	ctx := context.Background()
	runner := newBlockingRunner()
	sup, err := NewSupervisor(ctx, NewMemoryStore(), runner, Config{})
	if err != nil {
		t.Fatalf("NewSupervisor: %v", err)
	}

	fg, err := sup.Submit(ctx, "fg", "foreground work", ResourceTagSet{ResourceFilesystem})
	if err != nil {
		t.Fatalf("Submit fg: %v", err)
	}
	bg, err := sup.Submit(ctx, "bg", "background work", ResourceTagSet{ResourceNetwork})
	if err != nil {
		t.Fatalf("Submit bg: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		a, _ := sup.Get(fg.ID)
		b, _ := sup.Get(bg.ID)
		return a.State == StateRunning && b.State == StateRunning
	})

	runner.releaseTask(SessionKeyFor("fg", fg.ID))
	runner.releaseTask(SessionKeyFor("bg", bg.ID))

	waitFor(t, time.Second, func() bool {
		a, _ := sup.Get(fg.ID)
		b, _ := sup.Get(bg.ID)
		return a.State == StateCompleted && b.State == StateCompleted
	})
}

func TestSupervisor_CancelIsStickyAgainstLateCompletion(t *testing.T) {
	ctx := context.Background()
	runner := newBlockingRunner()
	sup, err := NewSupervisor(ctx, NewMemoryStore(), runner, Config{})
	if err != nil {
		t.Fatalf("NewSupervisor: %v", err)
	}

	task, err := sup.Submit(ctx, "s1", "work", ResourceTagSet{ResourceGeneral})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitFor(t, time.Second, func() bool {
		got, _ := sup.Get(task.ID)
		return got.State == StateRunning
	})

	if err := sup.Cancel(ctx, task.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	got, _ := sup.Get(task.ID)
	if got.State != StateCancelled {
		t.Fatalf("State after cancel = %s, want cancelled", got.State)
	}

	// The runner's context is already cancelled, but simulate a race where
	// the run goroutine's result arrives after the cancel: release the
	// channel so Run() returns nil instead of ctx.Err().
	runner.releaseTask(SessionKeyFor("s1", task.ID))

	time.Sleep(50 * time.Millisecond)
	final, _ := sup.Get(task.ID)
	if final.State != StateCancelled {
		t.Errorf("State after late completion = %s, want cancelled (sticky)", final.State)
	}

	// Cancel is idempotent.
	if err := sup.Cancel(ctx, task.ID); err != nil {
		t.Errorf("second Cancel should be a no-op success, got %v", err)
	}
}

func TestSupervisor_ExplicitStart_ConflictDefersToQueue(t *testing.T) {
	ctx := context.Background()
	runner := newBlockingRunner()
	sup, err := NewSupervisor(ctx, NewMemoryStore(), runner, Config{})
	if err != nil {
		t.Fatalf("NewSupervisor: %v", err)
	}

	bg, err := sup.Submit(ctx, "bg", "background", ResourceTagSet{ResourceFilesystem})
	if err != nil {
		t.Fatalf("Submit bg: %v", err)
	}
	waitFor(t, time.Second, func() bool {
		got, _ := sup.Get(bg.ID)
		return got.State == StateRunning
	})

	conflicting, err := sup.Submit(ctx, "conflict", "conflicting", ResourceTagSet{ResourceFilesystem})
	if err != nil {
		t.Fatalf("Submit conflicting: %v", err)
	}

	got, _ := sup.Get(conflicting.ID)
	if got.State != StateQueued {
		t.Fatalf("conflicting task should remain queued, got %s", got.State)
	}

	if err := sup.ExplicitStart(ctx, conflicting.ID); err != nil {
		t.Fatalf("ExplicitStart: %v", err)
	}
	got, _ = sup.Get(conflicting.ID)
	if got.State != StateQueued {
		t.Errorf("default resolver should defer to queue, got %s", got.State)
	}
}

type cancelRunningResolver struct{}

func (cancelRunningResolver) ResolveConflict(ctx context.Context, newTask *SupervisorTask, conflicting []*SupervisorTask) (ConflictPolicy, error) {
	return ConflictCancelRunning, nil
}

func TestSupervisor_ExplicitStart_CancelRunningPolicy(t *testing.T) {
	ctx := context.Background()
	runner := newBlockingRunner()
	sup, err := NewSupervisor(ctx, NewMemoryStore(), runner, Config{Resolver: cancelRunningResolver{}})
	if err != nil {
		t.Fatalf("NewSupervisor: %v", err)
	}

	running, err := sup.Submit(ctx, "running", "running work", ResourceTagSet{ResourceFilesystem})
	if err != nil {
		t.Fatalf("Submit running: %v", err)
	}
	waitFor(t, time.Second, func() bool {
		got, _ := sup.Get(running.ID)
		return got.State == StateRunning
	})

	next, err := sup.Submit(ctx, "next", "next work", ResourceTagSet{ResourceFilesystem})
	if err != nil {
		t.Fatalf("Submit next: %v", err)
	}

	if err := sup.ExplicitStart(ctx, next.ID); err != nil {
		t.Fatalf("ExplicitStart: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		r, _ := sup.Get(running.ID)
		n, _ := sup.Get(next.ID)
		return r.State == StateCancelled && n.State == StateRunning
	})
}

func TestSupervisor_RetryReopensTerminalTasks(t *testing.T) {
	ctx := context.Background()
	sup, err := NewSupervisor(ctx, NewMemoryStore(), instantRunner{err: errors.New("boom")}, Config{})
	if err != nil {
		t.Fatalf("NewSupervisor: %v", err)
	}

	task, err := sup.Submit(ctx, "s1", "work", ResourceTagSet{ResourceGeneral})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitFor(t, time.Second, func() bool {
		got, _ := sup.Get(task.ID)
		return got.State == StateFailed
	})

	n, err := sup.Retry(ctx, RetryFailed)
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if n != 1 {
		t.Errorf("Retry reopened %d tasks, want 1", n)
	}

	waitFor(t, time.Second, func() bool {
		got, _ := sup.Get(task.ID)
		return got.State == StateFailed
	})
}

func TestSupervisor_Prune(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	sup, err := NewSupervisor(ctx, store, instantRunner{}, Config{})
	if err != nil {
		t.Fatalf("NewSupervisor: %v", err)
	}

	var ids []string
	for i := 0; i < 5; i++ {
		task, err := sup.Submit(ctx, "s", "work", ResourceTagSet{ResourceGeneral})
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
		ids = append(ids, task.ID)
		waitFor(t, time.Second, func() bool {
			got, _ := sup.Get(task.ID)
			return got.State == StateCompleted
		})
	}

	n, err := sup.Prune(ctx, 2)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 3 {
		t.Errorf("Prune removed %d tasks, want 3", n)
	}

	remaining := sup.List()
	if len(remaining) != 2 {
		t.Fatalf("remaining tasks = %d, want 2", len(remaining))
	}
	// The two most recently finished should survive.
	for _, id := range ids[:3] {
		if _, err := sup.Get(id); err == nil {
			t.Errorf("task %s should have been pruned", id)
		}
	}
}

func TestSupervisor_ReconcileMarksOrphanedRunningAsFailed(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	orphan := &SupervisorTask{
		ID:        "orphan",
		State:     StateRunning,
		CreatedAt: time.Now(),
	}
	if err := store.Create(ctx, orphan); err != nil {
		t.Fatalf("Create: %v", err)
	}

	sup, err := NewSupervisor(ctx, store, instantRunner{}, Config{})
	if err != nil {
		t.Fatalf("NewSupervisor: %v", err)
	}

	got, err := sup.Get("orphan")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.State != StateFailed {
		t.Errorf("orphaned task state = %s, want failed", got.State)
	}
	if got.Error == "" {
		t.Error("orphaned task should carry an error explaining the reconciliation")
	}
}

func TestSupervisor_Status(t *testing.T) {
	ctx := context.Background()
	runner := newBlockingRunner()
	sup, err := NewSupervisor(ctx, NewMemoryStore(), runner, Config{})
	if err != nil {
		t.Fatalf("NewSupervisor: %v", err)
	}

	task, err := sup.Submit(ctx, "s1", "work", ResourceTagSet{ResourceFilesystem})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitFor(t, time.Second, func() bool {
		got, _ := sup.Get(task.ID)
		return got.State == StateRunning
	})

	status := sup.Status()
	if status.Counts.Running != 1 {
		t.Errorf("Counts.Running = %d, want 1", status.Counts.Running)
	}
	if len(status.Running) != 1 || status.Running[0].Lane != "foreground" {
		t.Errorf("Running = %+v, want one foreground entry", status.Running)
	}

	runner.releaseTask(SessionKeyFor("s1", task.ID))
	waitFor(t, time.Second, func() bool {
		got, _ := sup.Get(task.ID)
		return got.State == StateCompleted
	})
}
