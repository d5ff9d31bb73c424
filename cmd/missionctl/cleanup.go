package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/missionctl/internal/state"
)

var (
	cleanupOlderThan time.Duration
	cleanupDryRun    bool
	cleanupVerbose   bool
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove finished missions and their sandboxes",
	Long: `Delete finished missions last updated before --older-than, together with
their checkpoints, artifacts and sandbox directories. Running missions are
never removed.

Examples:
  missionctl cleanup                    # missions older than 30 days
  missionctl cleanup --older-than 72h
  missionctl cleanup --dry-run -v`,
	Args: cobra.NoArgs,
	RunE: runCleanup,
}

func init() {
	cleanupCmd.Flags().DurationVar(&cleanupOlderThan, "older-than", 30*24*time.Hour, "Age of missions to remove")
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "Show what would be removed without removing")
	cleanupCmd.Flags().BoolVarP(&cleanupVerbose, "verbose", "v", false, "Show each mission as it's removed")
}

// purger is implemented by stores that can delete old missions in bulk.
type purger interface {
	PurgeMissions(ctx context.Context, olderThan time.Duration) (int64, error)
}

func runCleanup(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	a, err := newApp(ctx, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()
	out := cmd.OutOrStdout()

	p, ok := a.store.(purger)
	if !ok {
		return errors.New("cleanup is only supported by the sqlite store")
	}

	missions, err := a.store.ListMissions(ctx, nil)
	if err != nil {
		return err
	}
	cutoff := time.Now().Add(-cleanupOlderThan)
	var stale []state.Mission
	for _, m := range missions {
		if m.Status.Terminal() && m.UpdatedAt.Before(cutoff) {
			stale = append(stale, m)
		}
	}
	if len(stale) == 0 {
		fmt.Fprintln(out, "No missions to clean up.")
		return nil
	}

	fmt.Fprintf(out, "Found %d finished mission(s) older than %s\n", len(stale), formatAge(cleanupOlderThan))
	if cleanupDryRun {
		renderMissions(out, stale, time.Now())
		fmt.Fprintln(out, "Dry run mode - nothing was removed.")
		return nil
	}

	for _, m := range stale {
		dir := a.cfg.SandboxDir(m.ID)
		if err := os.RemoveAll(dir); err != nil {
			printStatus(out, "✗", fmt.Sprintf("%s: %v", dir, err), color.FgRed)
			continue
		}
		if cleanupVerbose {
			printStatus(out, "✓", "Removed sandbox "+dir, color.FgGreen)
		}
	}

	n, err := p.PurgeMissions(ctx, cleanupOlderThan)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Successfully removed %d mission(s).\n", n)
	return nil
}
