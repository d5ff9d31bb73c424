package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/missionctl/internal/engine"
	"github.com/ShayCichocki/missionctl/internal/mission"
	"github.com/ShayCichocki/missionctl/internal/tui"
	"github.com/ShayCichocki/missionctl/pkg/models"
)

var (
	runAppName string
	runApprove bool
	runNoTUI   bool
)

var runCmd = &cobra.Command{
	Use:   "run <description>",
	Short: "Start a new mission",
	Long: `Start a mission that turns the description into a generated app.

The mission runs in this process. Press q (or Ctrl+C without the TUI) to stop
watching; the mission is checkpointed and can be continued later with
'missionctl resume <id>'.

Examples:
  missionctl run "A todo app with user accounts"
  missionctl run --approve "Inventory tracker for a bike shop"
  missionctl run --no-tui --app-name notes "A markdown notes app"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runAppName, "app-name", "", "Name for the generated app (default: derived from the description)")
	runCmd.Flags().BoolVar(&runApprove, "approve", false, "Require human approval before deploy")
	runCmd.Flags().BoolVar(&runNoTUI, "no-tui", false, "Print progress lines instead of the live view")
}

func runRun(cmd *cobra.Command, args []string) error {
	prompt := strings.TrimSpace(strings.Join(args, " "))
	if prompt == "" {
		return errors.New("mission description is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, appOptions{logToFile: !runNoTUI})
	if err != nil {
		return err
	}
	defer a.Close()

	if runApprove {
		a.cfg.Feedback.Required = true
	}
	c, err := a.controller(a.serveMetrics(ctx))
	if err != nil {
		return err
	}

	r, err := c.Start(ctx, mission.Input{Prompt: prompt, AppName: runAppName})
	if err != nil {
		return fmt.Errorf("start mission: %w", err)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Started mission %s\n", idColor.Sprint(r.MissionID()))

	return followMission(ctx, out, a, r, !runNoTUI)
}

// followMission shows the run until it finishes or the user stops
// watching. Stopping early leaves the mission resumable.
func followMission(ctx context.Context, out io.Writer, a *app, r *engine.Run, useTUI bool) error {
	id := r.MissionID()
	var watchErr error
	if useTUI {
		watchErr = watchTUI(ctx, a, id)
	} else {
		watchErr = watchLines(ctx, out, a, r)
	}

	select {
	case <-r.Done():
	default:
		fmt.Fprintf(out, "\nMission %s is checkpointed. Continue with: missionctl resume %s\n", id, id)
		return watchErr
	}

	res, err := r.Wait(context.Background())
	if result, ok := res.(*models.MissionResult); ok && result != nil {
		renderResult(out, result)
	}
	if err != nil {
		return fmt.Errorf("mission %s: %w", id, err)
	}
	return watchErr
}

func watchTUI(ctx context.Context, a *app, missionID string) error {
	app := tui.NewWatchApp(tui.StoreLoader(a.store, missionID),
		tui.WithRefreshRate(a.cfg.TUI.RefreshRate),
		tui.WithFeedback(feedbackSender(a, missionID)),
	)
	if _, err := tui.NewWatchProgram(ctx, app).Run(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("watch: %w", err)
	}
	return nil
}

// watchLines prints a line per phase change until the run ends or ctx is
// cancelled.
func watchLines(ctx context.Context, out io.Writer, a *app, r *engine.Run) error {
	ticker := time.NewTicker(a.cfg.TUI.RefreshRate)
	defer ticker.Stop()

	var last models.Phase
	for {
		select {
		case <-r.Done():
			return nil
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			v, err := a.engine.Query(ctx, r.MissionID(), engine.QueryProgress)
			if err != nil {
				continue
			}
			p, ok := v.(models.Progress)
			if !ok || p.Phase == last {
				continue
			}
			last = p.Phase
			fmt.Fprintf(out, "%s %-16s %3d%%  %s\n", dimColor.Sprint(time.Now().Format("15:04:05")), p.Phase, p.Progress, p.Message)
			if p.Phase == models.PhaseHumanFeedback {
				fmt.Fprintf(out, "  Waiting for approval: missionctl approve %s | missionctl reject %s\n", r.MissionID(), r.MissionID())
			}
		}
	}
}

func feedbackSender(a *app, missionID string) tui.FeedbackHandler {
	return func(approved bool) error {
		fb := mission.Feedback{Approved: approved, Comment: "from watch view"}
		sig, err := mission.FeedbackSignal(fb)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.engine.Signal(ctx, missionID, sig)
	}
}
