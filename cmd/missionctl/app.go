package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/ShayCichocki/missionctl/internal/config"
	"github.com/ShayCichocki/missionctl/internal/contract"
	"github.com/ShayCichocki/missionctl/internal/engine"
	"github.com/ShayCichocki/missionctl/internal/llm"
	"github.com/ShayCichocki/missionctl/internal/logging"
	"github.com/ShayCichocki/missionctl/internal/metrics"
	"github.com/ShayCichocki/missionctl/internal/mission"
	"github.com/ShayCichocki/missionctl/internal/sandbox"
	"github.com/ShayCichocki/missionctl/internal/state"
)

// app holds what every subcommand shares: configuration, the logger, the
// state store and an engine that can reach missions in other processes.
type app struct {
	cfg     *config.Config
	log     zerolog.Logger
	store   state.Store
	engine  *engine.Local
	logFile *os.File
}

type appOptions struct {
	// logToFile sends logs to missionctl.log under the log dir instead of
	// stderr, for commands that own the terminal.
	logToFile bool
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFromPath(configPath)
	}
	return config.Load()
}

func newApp(ctx context.Context, opts appOptions) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	a := &app{cfg: cfg}
	var w io.Writer = os.Stderr
	if opts.logToFile {
		if err := os.MkdirAll(cfg.LogDir(), 0755); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
		f, err := os.OpenFile(filepath.Join(cfg.LogDir(), "missionctl.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		a.logFile = f
		w = f
	}
	a.log = logging.New(logging.Options{
		Level:  cfg.Log.Level,
		Pretty: cfg.Log.Pretty && !opts.logToFile,
		Writer: w,
	})

	if cfg.Store.Driver == "" || cfg.Store.Driver == state.DriverSQLite {
		if err := os.MkdirAll(filepath.Dir(cfg.StorePath()), 0755); err != nil {
			a.Close()
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	a.store, err = state.Open(ctx, cfg.Store.Driver, cfg.StorePath(), cfg.Store.DSN)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}

	signals, err := engine.NewFileSignals(cfg.SignalDir(), logging.Component(a.log, "signals"))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open signal dir: %w", err)
	}
	a.engine = engine.NewLocal(a.store,
		engine.WithLogger(logging.Component(a.log, "engine")),
		engine.WithFileSignals(signals),
	)
	return a, nil
}

// controller wires the LLM chain, contracts, sandboxes and an optional
// metrics observer into a mission controller. It is only needed by commands
// that run missions.
func (a *app) controller(obs mission.Observer) (*mission.Controller, error) {
	provider, err := llm.NewFromConfig(a.cfg.LLM, logging.Component(a.log, "llm"))
	if err != nil {
		return nil, err
	}
	policy, err := contract.LoadPolicy(a.cfg.Contracts.Path)
	if err != nil {
		return nil, err
	}
	return mission.NewController(a.engine, a.cfg.Mission(), mission.Deps{
		Policy: &policy,
		LLM:    provider,
		Sandbox: func(missionID string) (sandbox.Sandbox, error) {
			return sandbox.NewLocal(a.cfg.SandboxDir(missionID))
		},
		Agents:   a.cfg.Agents(),
		Observer: obs,
		Log:      logging.Component(a.log, "mission"),
	})
}

// serveMetrics starts the Prometheus listener when one is configured and
// returns the observer to hand to the controller.
func (a *app) serveMetrics(ctx context.Context) mission.Observer {
	if a.cfg.Metrics.Addr == "" {
		return nil
	}
	m := metrics.New()
	go func() {
		if err := m.Serve(ctx, a.cfg.Metrics.Addr, logging.Component(a.log, "metrics")); err != nil {
			a.log.Error().Err(err).Msg("metrics server stopped")
		}
	}()
	return m
}

// Close stops local runs, then releases the store.
func (a *app) Close() {
	if a.engine != nil {
		a.engine.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("close store")
		}
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
}
