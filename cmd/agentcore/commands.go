package main

import (
	"github.com/spf13/cobra"
)

const defaultConfigPath = "agentcore.yaml"

// buildStatusCmd creates the "status" command: queue counts and running tasks.
func buildStatusCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show supervisor queue counts and currently running tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	return cmd
}

// buildQueueCmd creates the "queue" command group: stop, retry, prune.
func buildQueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Manage the supervisor task queue",
	}
	cmd.AddCommand(
		buildQueueStopCmd(),
		buildQueueRetryCmd(),
		buildQueuePruneCmd(),
	)
	return cmd
}

func buildQueueStopCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "stop <id>|all",
		Short: "Cancel a queued or running task, or all of them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQueueStop(cmd, configPath, args[0])
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	return cmd
}

func buildQueueRetryCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "retry <id>|failed|completed|cancelled|all",
		Short: "Reopen a terminal task, or every terminal task matching a scope",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQueueRetry(cmd, configPath, args[0])
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	return cmd
}

func buildQueuePruneCmd() *cobra.Command {
	var (
		configPath string
		keep       int
	)
	cmd := &cobra.Command{
		Use:   "prune [N]",
		Short: "Delete all but the N most recent terminal tasks (default from config)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n := keep
			if len(args) == 1 {
				parsed, err := parsePositiveInt(args[0])
				if err != nil {
					return err
				}
				n = parsed
			}
			return runQueuePrune(cmd, configPath, n)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	cmd.Flags().IntVar(&keep, "keep", 0, "Number of terminal tasks to keep (0 = use config default)")
	return cmd
}

// buildInterruptCmd creates the "interrupt" command: cancel the currently
// running foreground task.
func buildInterruptCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "interrupt",
		Short: "Cancel the currently running foreground task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInterrupt(cmd, configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	return cmd
}
