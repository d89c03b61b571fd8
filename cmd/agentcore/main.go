// Package main provides the CLI entry point for the agentcore operator
// surface: an administrative tool for inspecting and managing a supervisor's
// task queue (§6 of the design: status, queue stop/retry/prune, interrupt).
//
// agentcore does not itself run the agent loop. It reads and mutates the
// same <data>/supervisor/tasks.json a long-running host process owns, the
// way an operator reaches into a queue's persisted state rather than
// speaking a bespoke control-plane protocol to a live daemon.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd assembles the command tree. Kept separate from main for
// testability.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "agentcore",
		Short: "Operator CLI for the agentcore execution core",
		Long: `agentcore inspects and manages the supervisor task queue of an
agent execution core: what's queued, what's running, and lets an operator
stop, retry, or prune tasks, or interrupt the active foreground run.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildStatusCmd(),
		buildQueueCmd(),
		buildInterruptCmd(),
	)

	return rootCmd
}
