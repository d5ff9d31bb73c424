package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/missionctl/internal/mission"
	"github.com/ShayCichocki/missionctl/internal/state"
)

var (
	statusFilter string
	statusJSON   bool
)

var statusCmd = &cobra.Command{
	Use:   "status [mission-id]",
	Short: "Show missions or the details of one mission",
	Long: `Without an id, list missions (optionally filtered by status).
With an id, show the mission's phase history, artifacts, errors and result.

Examples:
  missionctl status
  missionctl status --status running
  missionctl status 3f2a... --json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusFilter, "status", "", "Filter by status (running, complete, failed, cancelled)")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print JSON instead of tables")
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a, err := newApp(ctx, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()
	out := cmd.OutOrStdout()

	if len(args) == 1 {
		rep, err := mission.LoadReport(ctx, a.store, args[0])
		if err != nil {
			return fmt.Errorf("mission %s: %w", args[0], err)
		}
		if statusJSON {
			return writeJSON(cmd, rep)
		}
		renderReport(out, rep, time.Now())
		return nil
	}

	var filter *state.MissionStatus
	if statusFilter != "" {
		s := state.MissionStatus(statusFilter)
		switch s {
		case state.MissionRunning, state.MissionComplete, state.MissionFailed, state.MissionCancelled:
		default:
			return fmt.Errorf("unknown status %q", statusFilter)
		}
		filter = &s
	}
	missions, err := a.store.ListMissions(ctx, filter)
	if err != nil {
		return err
	}
	if statusJSON {
		return writeJSON(cmd, missions)
	}
	if len(missions) == 0 {
		fmt.Fprintln(out, "No missions. Run 'missionctl run <description>' to start one.")
		return nil
	}
	renderMissions(out, missions, time.Now())
	return nil
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
