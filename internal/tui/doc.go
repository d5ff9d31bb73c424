// Package tui provides the terminal view for missionctl's watch command.
//
// The view is read-only apart from the approval keys: it polls the mission's
// durable report at the configured refresh rate and renders the current
// phase, progress, repair issues and an activity log built from the phase
// history. When the mission is parked at human_feedback and a feedback
// handler is set, 'a' approves and 'r' rejects.
//
// Usage:
//
//	app := tui.NewWatchApp(tui.StoreLoader(store, id),
//	    tui.WithRefreshRate(cfg.TUI.RefreshRate),
//	    tui.WithFeedback(send))
//	if _, err := tui.NewWatchProgram(ctx, app).Run(); err != nil {
//	    return err
//	}
//	return app.Err()
package tui
