package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bashmyhed/agentcore/internal/config"
	"github.com/bashmyhed/agentcore/internal/supervisor"
)

func openStore(configPath string) (*config.Config, supervisor.Store, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, supervisor.NewFileStore(cfg.Server.DataDir), nil
}

func parsePositiveInt(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q: %w", s, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("value must be positive, got %d", n)
	}
	return n, nil
}

func runStatus(cmd *cobra.Command, configPath string) error {
	_, store, err := openStore(configPath)
	if err != nil {
		return err
	}
	status, err := supervisor.StatusFromStore(cmd.Context(), store)
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "queued=%d running=%d blocked=%d completed=%d failed=%d cancelled=%d\n",
		status.Counts.Queued, status.Counts.Running, status.Counts.Blocked,
		status.Counts.Completed, status.Counts.Failed, status.Counts.Cancelled)

	if len(status.Running) == 0 {
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSESSION_KEY\tLANE")
	for _, r := range status.Running {
		fmt.Fprintf(w, "%s\t%s\t%s\n", r.ID, r.SessionKey, r.Lane)
	}
	return w.Flush()
}

func runQueueStop(cmd *cobra.Command, configPath, target string) error {
	_, store, err := openStore(configPath)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if target == "all" {
		n, err := supervisor.CancelAllInStore(ctx, store)
		if err != nil {
			return fmt.Errorf("stop all: %w", err)
		}
		fmt.Fprintf(out, "cancelled %d task(s)\n", n)
		return nil
	}

	if err := supervisor.CancelTaskInStore(ctx, store, target); err != nil {
		return fmt.Errorf("stop %s: %w", target, err)
	}
	fmt.Fprintf(out, "cancelled %s\n", target)
	return nil
}

func runQueueRetry(cmd *cobra.Command, configPath, target string) error {
	_, store, err := openStore(configPath)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	switch supervisor.RetryScope(target) {
	case supervisor.RetryFailed, supervisor.RetryCompleted, supervisor.RetryCancelled, supervisor.RetryAll:
		n, err := supervisor.RetryInStore(ctx, store, supervisor.RetryScope(target))
		if err != nil {
			return fmt.Errorf("retry %s: %w", target, err)
		}
		fmt.Fprintf(out, "reopened %d task(s)\n", n)
		return nil
	}

	if err := supervisor.RetryOneInStore(ctx, store, target); err != nil {
		return fmt.Errorf("retry %s: %w", target, err)
	}
	fmt.Fprintf(out, "reopened %s\n", target)
	return nil
}

func runQueuePrune(cmd *cobra.Command, configPath string, keep int) error {
	cfg, store, err := openStore(configPath)
	if err != nil {
		return err
	}
	if keep <= 0 {
		keep = cfg.Supervisor.PruneKeep
	}
	n, err := supervisor.PruneInStore(cmd.Context(), store, keep)
	if err != nil {
		return fmt.Errorf("prune: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "pruned %d task(s), kept %d most recent\n", n, keep)
	return nil
}

func runInterrupt(cmd *cobra.Command, configPath string) error {
	_, store, err := openStore(configPath)
	if err != nil {
		return err
	}
	task, err := supervisor.InterruptRunning(cmd.Context(), store)
	if err != nil {
		if err == supervisor.ErrTaskNotFound {
			fmt.Fprintln(cmd.OutOrStdout(), "no foreground task is running")
			return nil
		}
		return fmt.Errorf("interrupt: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "interrupted %s (session %s)\n", task.ID, task.SessionKey)
	return nil
}
