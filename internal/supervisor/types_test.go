package supervisor

import "testing"

func TestResourceTagSet_ConflictsWith(t *testing.T) {
	tests := []struct {
		name string
		a    ResourceTagSet
		b    ResourceTagSet
		want bool
	}{
		{"both shared", ResourceTagSet{ResourceNetwork}, ResourceTagSet{ResourceCompute}, false},
		{"same shared tag", ResourceTagSet{ResourceNetwork}, ResourceTagSet{ResourceNetwork}, false},
		{"same exclusive tag", ResourceTagSet{ResourceFilesystem}, ResourceTagSet{ResourceFilesystem}, true},
		{"disjoint exclusive tags", ResourceTagSet{ResourceFilesystem}, ResourceTagSet{ResourceDesktopInput}, false},
		{"mixed, exclusive overlap", ResourceTagSet{ResourceNetwork, ResourceGeneral}, ResourceTagSet{ResourceGeneral}, true},
		{"empty vs anything", ResourceTagSet{}, ResourceTagSet{ResourceGeneral}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.ConflictsWith(tt.b); got != tt.want {
				t.Errorf("ConflictsWith() = %v, want %v", got, tt.want)
			}
			if got := tt.b.ConflictsWith(tt.a); got != tt.want {
				t.Errorf("ConflictsWith() reversed = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestResourceTagSet_Normalize(t *testing.T) {
	if got := (ResourceTagSet{}).Normalize(); len(got) != 1 || got[0] != ResourceGeneral {
		t.Errorf("Normalize() of empty set = %v, want [general]", got)
	}
	set := ResourceTagSet{ResourceNetwork}
	if got := set.Normalize(); len(got) != 1 || got[0] != ResourceNetwork {
		t.Errorf("Normalize() should not alter a non-empty set, got %v", got)
	}
}

func TestState_IsTerminal(t *testing.T) {
	terminal := []State{StateCompleted, StateFailed, StateCancelled}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	nonTerminal := []State{StateQueued, StateRunning, StateBlocked}
	for _, s := range nonTerminal {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestSupervisorTask_IsForeground(t *testing.T) {
	fg := &SupervisorTask{ResourceTags: ResourceTagSet{ResourceFilesystem}}
	if !fg.IsForeground() {
		t.Error("task with exclusive tag should be foreground")
	}
	bg := &SupervisorTask{ResourceTags: ResourceTagSet{ResourceNetwork, ResourceCompute}}
	if bg.IsForeground() {
		t.Error("task with only shared tags should be background")
	}
	unset := &SupervisorTask{}
	if !unset.IsForeground() {
		t.Error("task with no tags defaults to general (exclusive), so foreground")
	}
}

func TestRetryScope_Matches(t *testing.T) {
	tests := []struct {
		scope RetryScope
		state State
		want  bool
	}{
		{RetryFailed, StateFailed, true},
		{RetryFailed, StateCompleted, false},
		{RetryCompleted, StateCompleted, true},
		{RetryCancelled, StateCancelled, true},
		{RetryAll, StateFailed, true},
		{RetryAll, StateCompleted, true},
		{RetryAll, StateCancelled, true},
		{RetryAll, StateQueued, false},
	}
	for _, tt := range tests {
		if got := tt.scope.matches(tt.state); got != tt.want {
			t.Errorf("%s.matches(%s) = %v, want %v", tt.scope, tt.state, got, tt.want)
		}
	}
}
