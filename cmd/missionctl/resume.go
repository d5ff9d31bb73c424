package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/missionctl/internal/engine"
	"github.com/ShayCichocki/missionctl/internal/state"
)

var (
	resumeAll   bool
	resumeNoTUI bool
)

var resumeCmd = &cobra.Command{
	Use:   "resume [mission-id]",
	Short: "Continue an interrupted mission from its last checkpoint",
	Long: `Resume a mission whose process stopped before it finished.

Without an id, lists interrupted missions. With --all, resumes every one of
them in this process and waits for all to finish.

Examples:
  missionctl resume                 # list interrupted missions
  missionctl resume 3f2a...         # resume one mission with the live view
  missionctl resume --all           # resume everything headless`,
	Args: cobra.MaximumNArgs(1),
	RunE: runResume,
}

func init() {
	resumeCmd.Flags().BoolVar(&resumeAll, "all", false, "Resume every interrupted mission")
	resumeCmd.Flags().BoolVar(&resumeNoTUI, "no-tui", false, "Print progress lines instead of the live view")
}

func runResume(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	useTUI := len(args) == 1 && !resumeNoTUI
	a, err := newApp(ctx, appOptions{logToFile: useTUI})
	if err != nil {
		return err
	}
	defer a.Close()
	out := cmd.OutOrStdout()

	if len(args) == 0 && !resumeAll {
		interrupted, err := state.NewRecoveryManager(a.store).FindInterrupted(ctx)
		if err != nil {
			return err
		}
		if len(interrupted) == 0 {
			fmt.Fprintln(out, "No interrupted missions.")
			return nil
		}
		renderInterrupted(out, interrupted, time.Now())
		fmt.Fprintln(out, "\nResume one with: missionctl resume <id>")
		return nil
	}

	c, err := a.controller(a.serveMetrics(ctx))
	if err != nil {
		return err
	}

	if len(args) == 1 {
		r, err := c.Resume(ctx, args[0])
		if err != nil {
			return fmt.Errorf("resume %s: %w", args[0], err)
		}
		fmt.Fprintf(out, "Resumed mission %s\n", idColor.Sprint(r.MissionID()))
		return followMission(ctx, out, a, r, useTUI)
	}

	interrupted, err := state.NewRecoveryManager(a.store).FindInterrupted(ctx)
	if err != nil {
		return err
	}
	var runs []*engine.Run
	for _, in := range interrupted {
		r, err := c.Resume(ctx, in.MissionID)
		if err != nil {
			printStatus(out, "✗", fmt.Sprintf("%s: %v", in.MissionID, err), color.FgRed)
			continue
		}
		printStatus(out, "✓", fmt.Sprintf("resumed %s at %s", in.MissionID, in.Phase), color.FgGreen)
		runs = append(runs, r)
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "No missions resumed.")
		return nil
	}

	for _, r := range runs {
		select {
		case <-r.Done():
		case <-ctx.Done():
			fmt.Fprintln(out, "\nInterrupted; missions remain resumable.")
			return nil
		}
		_, err := r.Wait(ctx)
		status := okColor.Sprint(r.Status())
		if err != nil {
			status = errorColor.Sprint(r.Status()) + " " + err.Error()
		}
		fmt.Fprintf(out, "%s %s\n", r.MissionID(), status)
	}
	return nil
}
