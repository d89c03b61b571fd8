// Package supervisor implements the queued-task layer that sits above the
// agent loop: every user request or background intent becomes a
// SupervisorTask, scheduled onto a serial foreground lane or a parallel
// background lane according to the resources it declares.
package supervisor

import (
	"time"
)

// State is a SupervisorTask's position in its lifecycle state machine.
type State string

const (
	// StateQueued means the task is waiting for a lane slot.
	StateQueued State = "queued"
	// StateRunning means the task's agent loop is currently executing.
	StateRunning State = "running"
	// StateBlocked means the task is waiting on an external condition and
	// will return to Queued once it resolves.
	StateBlocked State = "blocked"
	// StateCompleted is a terminal, successful state.
	StateCompleted State = "completed"
	// StateFailed is a terminal, unsuccessful state.
	StateFailed State = "failed"
	// StateCancelled is a terminal, sticky state: once set, no later
	// completion or failure may overwrite it.
	StateCancelled State = "cancelled"
)

// IsTerminal reports whether the state admits no further transitions except
// Retry (which reopens it to Queued).
func (s State) IsTerminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}

// ResourceTag names a resource a task may hold while running.
type ResourceTag string

const (
	// ResourceNetwork is shared: multiple tasks may hold it concurrently.
	ResourceNetwork ResourceTag = "network"
	// ResourceCompute is shared: multiple tasks may hold it concurrently.
	ResourceCompute ResourceTag = "compute"
	// ResourceDesktopInput is exclusive.
	ResourceDesktopInput ResourceTag = "desktop_input"
	// ResourceFilesystem is exclusive.
	ResourceFilesystem ResourceTag = "filesystem"
	// ResourceGeneral is exclusive and is the default for unknown tags.
	ResourceGeneral ResourceTag = "general"
)

// sharedResources is the set of resource tags multiple tasks may hold at once.
var sharedResources = map[ResourceTag]bool{
	ResourceNetwork: true,
	ResourceCompute: true,
}

// IsShared reports whether the tag permits concurrent holders.
func (t ResourceTag) IsShared() bool {
	return sharedResources[t]
}

// IsExclusive reports whether the tag requires sole ownership while held.
func (t ResourceTag) IsExclusive() bool {
	return !t.IsShared()
}

// ResourceTagSet is a task's declared (or inferred) resource requirements.
type ResourceTagSet []ResourceTag

// HasExclusive reports whether the set contains any exclusive resource.
func (s ResourceTagSet) HasExclusive() bool {
	for _, t := range s {
		if t.IsExclusive() {
			return true
		}
	}
	return false
}

// ConflictsWith reports whether the two tag sets intersect on any exclusive
// resource — the only condition under which two tasks conflict.
func (s ResourceTagSet) ConflictsWith(other ResourceTagSet) bool {
	if len(s) == 0 || len(other) == 0 {
		return false
	}
	exclusive := make(map[ResourceTag]bool, len(s))
	for _, t := range s {
		if t.IsExclusive() {
			exclusive[t] = true
		}
	}
	for _, t := range other {
		if t.IsExclusive() && exclusive[t] {
			return true
		}
	}
	return false
}

// Normalize returns a copy with ResourceGeneral substituted for empty tags,
// the way an unset tag set is treated as requiring the exclusive default.
func (s ResourceTagSet) Normalize() ResourceTagSet {
	if len(s) == 0 {
		return ResourceTagSet{ResourceGeneral}
	}
	return s
}

// ConflictPolicy is the operator's choice when an explicit start conflicts
// with a currently running background task.
type ConflictPolicy string

const (
	// ConflictQueue defers the new task until the conflicting one finishes.
	// This is the default when the approval collaborator does not respond
	// with a more specific choice.
	ConflictQueue ConflictPolicy = "queue"
	// ConflictRunNow runs the new task alongside the conflicting one. Only
	// honored when policy configuration permits it.
	ConflictRunNow ConflictPolicy = "run_now"
	// ConflictCancelRunning cancels the conflicting background task(s) and
	// runs the new one.
	ConflictCancelRunning ConflictPolicy = "cancel_running"
)

// SupervisorTask is a single unit of queued agent work.
type SupervisorTask struct {
	ID         string `json:"id"`
	SessionKey string `json:"session_key"`
	UserPrompt string `json:"user_prompt"`

	State        State          `json:"state"`
	ResourceTags ResourceTagSet `json:"resource_tags"`

	// BackgroundTaskID identifies the background lane slot this task ran
	// on, if any; empty for foreground-lane tasks.
	BackgroundTaskID string `json:"background_task_id,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	Error       string     `json:"error,omitempty"`

	// cancel, when non-nil, signals the agent loop owning this task.
	cancel func() `json:"-"`
}

// IsForeground reports whether this task must run on the single serial lane.
func (t *SupervisorTask) IsForeground() bool {
	return t.ResourceTags.Normalize().HasExclusive()
}

// clone returns a deep-enough copy safe to hand to callers outside the lock.
func (t *SupervisorTask) clone() *SupervisorTask {
	if t == nil {
		return nil
	}
	c := *t
	c.cancel = nil
	if t.StartedAt != nil {
		started := *t.StartedAt
		c.StartedAt = &started
	}
	if t.FinishedAt != nil {
		finished := *t.FinishedAt
		c.FinishedAt = &finished
	}
	tags := make(ResourceTagSet, len(t.ResourceTags))
	copy(tags, t.ResourceTags)
	c.ResourceTags = tags
	return &c
}

// StatusCounts summarizes task counts by state.
type StatusCounts struct {
	Queued    int `json:"queued"`
	Running   int `json:"running"`
	Blocked   int `json:"blocked"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

// Status is the operator-facing snapshot of supervisor state.
type Status struct {
	Counts  StatusCounts      `json:"counts"`
	Running []RunningTaskInfo `json:"running"`
}

// RunningTaskInfo describes a currently running task for operator display.
type RunningTaskInfo struct {
	ID         string `json:"id"`
	SessionKey string `json:"session_key"`
	Lane       string `json:"lane"` // "foreground" or "background"
}

// RetryScope selects which terminal tasks a bulk retry reopens.
type RetryScope string

const (
	RetryFailed    RetryScope = "failed"
	RetryCompleted RetryScope = "completed"
	RetryCancelled RetryScope = "cancelled"
	RetryAll       RetryScope = "all"
)

func (s RetryScope) matches(state State) bool {
	switch s {
	case RetryFailed:
		return state == StateFailed
	case RetryCompleted:
		return state == StateCompleted
	case RetryCancelled:
		return state == StateCancelled
	case RetryAll:
		return state.IsTerminal()
	default:
		return false
	}
}

// DefaultPruneKeep is the default number of terminal tasks retained by Prune.
const DefaultPruneKeep = 200
