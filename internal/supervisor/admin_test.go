package supervisor

import (
	"context"
	"testing"
	"time"
)

func seedTask(t *testing.T, store Store, id string, state State, foreground bool) *SupervisorTask {
	t.Helper()
	tags := ResourceTagSet{ResourceNetwork}
	if foreground {
		tags = ResourceTagSet{ResourceFilesystem}
	}
	task := &SupervisorTask{
		ID:           id,
		SessionKey:   "agent:test:" + id,
		UserPrompt:   "do work",
		State:        state,
		ResourceTags: tags,
		CreatedAt:    time.Now(),
	}
	if state.IsTerminal() {
		now := time.Now()
		task.FinishedAt = &now
	}
	if err := store.Create(context.Background(), task); err != nil {
		t.Fatalf("Create(%s): %v", id, err)
	}
	return task
}

func TestStatusFromStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	seedTask(t, store, "q1", StateQueued, false)
	seedTask(t, store, "r1", StateRunning, true)
	seedTask(t, store, "r2", StateRunning, false)
	seedTask(t, store, "c1", StateCompleted, false)
	seedTask(t, store, "f1", StateFailed, false)
	seedTask(t, store, "x1", StateCancelled, false)

	status, err := StatusFromStore(ctx, store)
	if err != nil {
		t.Fatalf("StatusFromStore: %v", err)
	}
	if status.Counts.Queued != 1 || status.Counts.Running != 2 || status.Counts.Completed != 1 ||
		status.Counts.Failed != 1 || status.Counts.Cancelled != 1 {
		t.Fatalf("unexpected counts: %+v", status.Counts)
	}
	if len(status.Running) != 2 {
		t.Fatalf("len(Running) = %d, want 2", len(status.Running))
	}
}

func TestCancelTaskInStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	seedTask(t, store, "q1", StateQueued, false)

	if err := CancelTaskInStore(ctx, store, "q1"); err != nil {
		t.Fatalf("CancelTaskInStore: %v", err)
	}
	got, _ := store.Get(ctx, "q1")
	if got.State != StateCancelled {
		t.Errorf("State = %s, want cancelled", got.State)
	}

	// idempotent
	if err := CancelTaskInStore(ctx, store, "q1"); err != nil {
		t.Errorf("second CancelTaskInStore: %v", err)
	}
}

func TestCancelTaskInStore_TerminalRejected(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	seedTask(t, store, "f1", StateFailed, false)

	if err := CancelTaskInStore(ctx, store, "f1"); err != ErrInvalidState {
		t.Errorf("err = %v, want ErrInvalidState", err)
	}
}

func TestCancelAllInStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	seedTask(t, store, "q1", StateQueued, false)
	seedTask(t, store, "r1", StateRunning, false)
	seedTask(t, store, "c1", StateCompleted, false)

	n, err := CancelAllInStore(ctx, store)
	if err != nil {
		t.Fatalf("CancelAllInStore: %v", err)
	}
	if n != 2 {
		t.Fatalf("n = %d, want 2", n)
	}
	c1, _ := store.Get(ctx, "c1")
	if c1.State != StateCompleted {
		t.Error("terminal task should be left untouched")
	}
}

func TestInterruptRunning(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	seedTask(t, store, "bg", StateRunning, false)
	seedTask(t, store, "fg", StateRunning, true)

	interrupted, err := InterruptRunning(ctx, store)
	if err != nil {
		t.Fatalf("InterruptRunning: %v", err)
	}
	if interrupted.ID != "fg" {
		t.Fatalf("interrupted ID = %s, want fg", interrupted.ID)
	}
	got, _ := store.Get(ctx, "fg")
	if got.State != StateCancelled {
		t.Errorf("foreground task state = %s, want cancelled", got.State)
	}
	bg, _ := store.Get(ctx, "bg")
	if bg.State != StateRunning {
		t.Error("background task should be untouched by interrupt")
	}
}

func TestInterruptRunning_NoneRunning(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	seedTask(t, store, "q1", StateQueued, false)

	if _, err := InterruptRunning(ctx, store); err != ErrTaskNotFound {
		t.Errorf("err = %v, want ErrTaskNotFound", err)
	}
}

func TestRetryInStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	seedTask(t, store, "f1", StateFailed, false)
	seedTask(t, store, "f2", StateFailed, false)
	seedTask(t, store, "c1", StateCompleted, false)

	n, err := RetryInStore(ctx, store, RetryFailed)
	if err != nil {
		t.Fatalf("RetryInStore: %v", err)
	}
	if n != 2 {
		t.Fatalf("n = %d, want 2", n)
	}
	f1, _ := store.Get(ctx, "f1")
	if f1.State != StateQueued {
		t.Errorf("f1 State = %s, want queued", f1.State)
	}
	c1, _ := store.Get(ctx, "c1")
	if c1.State != StateCompleted {
		t.Error("RetryFailed should not touch completed tasks")
	}
}

func TestRetryOneInStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	seedTask(t, store, "f1", StateFailed, false)

	if err := RetryOneInStore(ctx, store, "f1"); err != nil {
		t.Fatalf("RetryOneInStore: %v", err)
	}
	got, _ := store.Get(ctx, "f1")
	if got.State != StateQueued {
		t.Errorf("State = %s, want queued", got.State)
	}
}

func TestRetryOneInStore_NonTerminalRejected(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	seedTask(t, store, "q1", StateQueued, false)

	if err := RetryOneInStore(ctx, store, "q1"); err != ErrInvalidState {
		t.Errorf("err = %v, want ErrInvalidState", err)
	}
}

func TestPruneInStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	seedTask(t, store, "q1", StateQueued, false)
	for i := 0; i < 5; i++ {
		seedTask(t, store, "c"+string(rune('a'+i)), StateCompleted, false)
		time.Sleep(time.Millisecond)
	}

	n, err := PruneInStore(ctx, store, 2)
	if err != nil {
		t.Fatalf("PruneInStore: %v", err)
	}
	if n != 3 {
		t.Fatalf("n = %d, want 3", n)
	}

	remaining, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(remaining) != 3 { // 1 queued + 2 kept terminal
		t.Fatalf("len(remaining) = %d, want 3", len(remaining))
	}
}
