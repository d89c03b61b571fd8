package supervisor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFileStore_CreateGetUpdateDelete(t *testing.T) {
	ctx := context.Background()
	store := NewFileStore(t.TempDir())

	task := &SupervisorTask{
		ID:           "task-1",
		SessionKey:   "agent:telegram:123",
		UserPrompt:   "do the thing",
		State:        StateQueued,
		ResourceTags: ResourceTagSet{ResourceNetwork},
		CreatedAt:    time.Now(),
	}

	if err := store.Create(ctx, task); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := store.Get(ctx, "task-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.UserPrompt != "do the thing" {
		t.Errorf("UserPrompt = %q, want %q", got.UserPrompt, "do the thing")
	}

	got.State = StateRunning
	if err := store.Update(ctx, got); err != nil {
		t.Fatalf("Update: %v", err)
	}
	reloaded, err := store.Get(ctx, "task-1")
	if err != nil {
		t.Fatalf("Get after update: %v", err)
	}
	if reloaded.State != StateRunning {
		t.Errorf("State = %s, want running", reloaded.State)
	}

	if err := store.Delete(ctx, "task-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(ctx, "task-1"); err != ErrTaskNotFound {
		t.Errorf("Get after delete: err = %v, want ErrTaskNotFound", err)
	}
}

func TestFileStore_Update_MissingTask(t *testing.T) {
	store := NewFileStore(t.TempDir())
	err := store.Update(context.Background(), &SupervisorTask{ID: "missing"})
	if err != ErrTaskNotFound {
		t.Errorf("Update missing task: err = %v, want ErrTaskNotFound", err)
	}
}

func TestFileStore_PersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store1 := NewFileStore(dir)
	task := &SupervisorTask{ID: "task-2", State: StateQueued, CreatedAt: time.Now()}
	if err := store1.Create(ctx, task); err != nil {
		t.Fatalf("Create: %v", err)
	}

	store2 := NewFileStore(dir)
	got, err := store2.Get(ctx, "task-2")
	if err != nil {
		t.Fatalf("Get from fresh store: %v", err)
	}
	if got.ID != "task-2" {
		t.Errorf("ID = %q, want task-2", got.ID)
	}
}

func TestFileStore_AtomicWriteLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(dir)
	task := &SupervisorTask{ID: "task-3", State: StateQueued, CreatedAt: time.Now()}
	if err := store.Create(context.Background(), task); err != nil {
		t.Fatalf("Create: %v", err)
	}

	tmpPath := filepath.Join(dir, "supervisor", "tasks.json.tmp")
	if fileExists(tmpPath) {
		t.Error("temp file should not survive a successful write")
	}
}

func TestMemoryStore_ListOrder(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	for _, id := range []string{"a", "b", "c"} {
		if err := store.Create(ctx, &SupervisorTask{ID: id, State: StateQueued, CreatedAt: time.Now()}); err != nil {
			t.Fatalf("Create(%s): %v", id, err)
		}
	}

	list, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("len(list) = %d, want 3", len(list))
	}
	for i, want := range []string{"a", "b", "c"} {
		if list[i].ID != want {
			t.Errorf("list[%d].ID = %q, want %q", i, list[i].ID, want)
		}
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
