package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/missionctl/internal/logging"
	"github.com/ShayCichocki/missionctl/internal/mcpserver"
	"github.com/ShayCichocki/missionctl/internal/state"
	"github.com/ShayCichocki/missionctl/internal/version"
)

var serveResume bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the mission tools over MCP on stdio",
	Long: `Run an MCP server on stdin/stdout exposing start_mission, mission_progress,
mission_status, list_missions, send_feedback and cancel_mission. Logs go to
stderr. When metrics.addr is set, Prometheus metrics are served there.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveResume, "resume-interrupted", false, "Resume interrupted missions on startup")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	c, err := a.controller(a.serveMetrics(ctx))
	if err != nil {
		return err
	}

	if serveResume {
		interrupted, err := state.NewRecoveryManager(a.store).FindInterrupted(ctx)
		if err != nil {
			return err
		}
		for _, in := range interrupted {
			if _, err := c.Resume(ctx, in.MissionID); err != nil {
				a.log.Warn().Err(err).Str("mission", in.MissionID).Msg("resume failed")
				continue
			}
			a.log.Info().Str("mission", in.MissionID).Str("phase", in.Phase).Msg("resumed interrupted mission")
		}
	}

	srv := mcpserver.NewServer(c, version.Get(), logging.Component(a.log, "mcp"))
	return srv.Run(ctx)
}
