package main

import "testing"

func TestBuildRootCmdIncludesSubcommands(t *testing.T) {
	cmd := buildRootCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	required := []string{"status", "queue", "interrupt"}
	for _, name := range required {
		if !names[name] {
			t.Fatalf("expected subcommand %q to be registered", name)
		}
	}
}

func TestQueueCmdIncludesSubcommands(t *testing.T) {
	cmd := buildQueueCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	for _, name := range []string{"stop", "retry", "prune"} {
		if !names[name] {
			t.Fatalf("expected queue subcommand %q to be registered", name)
		}
	}
}
