package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/missionctl/internal/mission"
)

var watchCmd = &cobra.Command{
	Use:   "watch <mission-id>",
	Short: "Follow a mission's progress in a live view",
	Long: `Open the live view for a mission running in any process that shares
the store. While the mission waits for approval, press a to approve or r to
reject.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, appOptions{logToFile: true})
	if err != nil {
		return err
	}
	defer a.Close()

	id := args[0]
	if _, err := a.store.GetMission(ctx, id); err != nil {
		return fmt.Errorf("mission %s: %w", id, err)
	}
	if err := watchTUI(ctx, a, id); err != nil {
		return err
	}

	rep, err := mission.LoadReport(context.Background(), a.store, id)
	if err != nil {
		return err
	}
	if rep.State != nil && rep.State.Result != nil {
		renderResult(cmd.OutOrStdout(), rep.State.Result)
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "Mission %s is %s at %s\n", id, rep.Mission.Status, rep.Mission.Phase)
	}
	return nil
}
