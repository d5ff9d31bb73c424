package tui

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ShayCichocki/missionctl/internal/mission"
	"github.com/ShayCichocki/missionctl/internal/state"
	"github.com/ShayCichocki/missionctl/pkg/models"
)

var epoch = time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)

func fixedClock() time.Time { return epoch.Add(90 * time.Second) }

func report(phase models.Phase, status state.MissionStatus, history ...mission.Transition) *mission.Report {
	return &mission.Report{
		Mission: &state.Mission{
			ID:        "m-1",
			Status:    status,
			Phase:     string(phase),
			CreatedAt: epoch,
			UpdatedAt: epoch.Add(time.Minute),
		},
		State: &mission.State{
			MissionID: "m-1",
			AppName:   "todo-app",
			Phase:     phase,
			StartedAt: epoch,
			History:   history,
		},
	}
}

func key(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestStateFromReport(t *testing.T) {
	rep := report(models.PhaseRepair, state.MissionRunning)
	rep.State.RepairOf = models.PhaseSecurityAudit
	rep.State.Iterations = 2
	rep.State.LastIssues = []models.Issue{{Severity: models.SeverityCritical, Message: "hardcoded secret"}}

	ws := StateFromReport(rep, fixedClock())

	if ws.Progress != models.PhaseSecurityAudit.Progress() {
		t.Errorf("repair progress = %d, want progress of security_audit %d", ws.Progress, models.PhaseSecurityAudit.Progress())
	}
	if ws.Elapsed != 90*time.Second {
		t.Errorf("elapsed = %v, want 1m30s", ws.Elapsed)
	}
	if ws.AppName != "todo-app" || ws.Iterations != 2 || len(ws.Issues) != 1 {
		t.Errorf("unexpected state: %+v", ws)
	}
}

func TestStateFromReport_NoCheckpoint(t *testing.T) {
	rep := &mission.Report{Mission: &state.Mission{
		ID:        "m-2",
		Status:    state.MissionRunning,
		Phase:     string(models.PhaseIntake),
		Message:   "starting",
		CreatedAt: epoch,
	}}

	ws := StateFromReport(rep, fixedClock())
	if ws.Phase != models.PhaseIntake || ws.Message != "starting" {
		t.Errorf("state from record = %+v", ws)
	}
	if got := StateFromReport(nil, fixedClock()); got.MissionID != "" {
		t.Errorf("nil report produced %+v", got)
	}
}

func TestWatchApp_LogsNewTransitionsOnce(t *testing.T) {
	app := NewWatchApp(nil, WithClock(fixedClock))
	first := mission.Transition{From: models.PhaseIntake, To: models.PhaseAnalyze, At: epoch}
	second := mission.Transition{From: models.PhaseAnalyze, To: models.PhasePlan, At: epoch.Add(time.Second), Reason: "gate passed"}

	app.Update(ReportMsg{Report: report(models.PhaseAnalyze, state.MissionRunning, first)})
	app.Update(ReportMsg{Report: report(models.PhasePlan, state.MissionRunning, first, second)})
	app.Update(ReportMsg{Report: report(models.PhasePlan, state.MissionRunning, first, second)})

	if len(app.logs) != 2 {
		t.Fatalf("got %d log entries, want 2: %+v", len(app.logs), app.logs)
	}
	if app.logs[1].Message != "analyze -> plan: gate passed" {
		t.Errorf("second entry = %q", app.logs[1].Message)
	}
	if app.Done() {
		t.Error("running mission reported done")
	}

	out := app.View()
	for _, want := range []string{"m-1", "todo-app", "plan", "Activity Log", "Press q"} {
		if !strings.Contains(out, want) {
			t.Errorf("view missing %q:\n%s", want, out)
		}
	}
}

func TestWatchApp_TerminalStatus(t *testing.T) {
	tests := []struct {
		name    string
		status  state.MissionStatus
		wantErr bool
		want    string
	}{
		{"complete", state.MissionComplete, false, "Mission complete!"},
		{"failed", state.MissionFailed, true, "mission failed"},
		{"cancelled", state.MissionCancelled, true, "mission cancelled"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := NewWatchApp(nil, WithClock(fixedClock))
			_, cmd := app.Update(ReportMsg{Report: report(models.PhaseComplete, tt.status)})

			if cmd != nil {
				t.Error("terminal report scheduled another poll")
			}
			if !app.Done() {
				t.Fatal("Done() = false after terminal report")
			}
			if (app.Err() != nil) != tt.wantErr {
				t.Errorf("Err() = %v, wantErr %v", app.Err(), tt.wantErr)
			}
			if out := app.View(); !strings.Contains(out, tt.want) {
				t.Errorf("view missing %q:\n%s", tt.want, out)
			}
		})
	}
}

func TestWatchApp_PollErrorKeepsPolling(t *testing.T) {
	app := NewWatchApp(nil, WithClock(fixedClock))
	_, cmd := app.Update(ReportMsg{Err: errors.New("database is locked")})

	if cmd == nil {
		t.Error("poll error stopped polling")
	}
	if len(app.logs) != 1 || !strings.Contains(app.logs[0].Message, "database is locked") {
		t.Errorf("logs = %+v", app.logs)
	}
}

func TestWatchApp_Fetch(t *testing.T) {
	want := report(models.PhaseDesign, state.MissionRunning)
	app := NewWatchApp(func(ctx context.Context) (*mission.Report, error) {
		if _, ok := ctx.Deadline(); !ok {
			t.Error("loader called without a deadline")
		}
		return want, nil
	}, WithRefreshRate(10*time.Millisecond))

	msg, ok := app.fetch()().(ReportMsg)
	if !ok {
		t.Fatal("fetch did not produce a ReportMsg")
	}
	if msg.Err != nil || msg.Report != want {
		t.Errorf("fetch = %+v", msg)
	}
}

func TestWatchApp_Feedback(t *testing.T) {
	tests := []struct {
		name      string
		phase     models.Phase
		handler   bool
		key       string
		wantCall  bool
		wantValue bool
	}{
		{"approve at feedback", models.PhaseHumanFeedback, true, "a", true, true},
		{"reject at feedback", models.PhaseHumanFeedback, true, "r", true, false},
		{"ignored before feedback", models.PhaseReview, true, "a", false, false},
		{"ignored without handler", models.PhaseHumanFeedback, false, "a", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var (
				called bool
				got    bool
			)
			var opts []Option
			if tt.handler {
				opts = append(opts, WithFeedback(func(approved bool) error {
					called, got = true, approved
					return nil
				}))
			}
			app := NewWatchApp(nil, append(opts, WithClock(fixedClock))...)
			app.Update(ReportMsg{Report: report(tt.phase, state.MissionRunning)})

			if tt.handler && tt.phase == models.PhaseHumanFeedback {
				if out := app.View(); !strings.Contains(out, "Approval required") {
					t.Errorf("approval prompt not shown:\n%s", out)
				}
			}

			_, cmd := app.Update(key(tt.key))
			if cmd != nil {
				app.Update(cmd())
			}

			if called != tt.wantCall {
				t.Fatalf("handler called = %v, want %v", called, tt.wantCall)
			}
			if called && got != tt.wantValue {
				t.Errorf("approved = %v, want %v", got, tt.wantValue)
			}
		})
	}
}

func TestWatchApp_FeedbackSentOnce(t *testing.T) {
	calls := 0
	app := NewWatchApp(nil, WithClock(fixedClock), WithFeedback(func(bool) error {
		calls++
		return nil
	}))
	app.Update(ReportMsg{Report: report(models.PhaseHumanFeedback, state.MissionRunning)})

	_, cmd := app.Update(key("a"))
	app.Update(cmd())
	if _, cmd := app.Update(key("a")); cmd != nil {
		t.Error("second approval produced a command")
	}
	if calls != 1 {
		t.Errorf("handler called %d times, want 1", calls)
	}
	if strings.Contains(app.View(), "Approval required") {
		t.Error("approval prompt still shown after sending feedback")
	}
}

func TestWatchApp_FeedbackErrorAllowsRetry(t *testing.T) {
	app := NewWatchApp(nil, WithClock(fixedClock), WithFeedback(func(bool) error {
		return errors.New("mission not running")
	}))
	app.Update(ReportMsg{Report: report(models.PhaseHumanFeedback, state.MissionRunning)})

	_, cmd := app.Update(key("r"))
	app.Update(cmd())
	if _, cmd := app.Update(key("r")); cmd == nil {
		t.Error("retry after failed feedback produced no command")
	}
}

func TestWatchApp_Quit(t *testing.T) {
	app := NewWatchApp(nil)
	_, cmd := app.Update(key("q"))
	if cmd == nil {
		t.Fatal("q produced no command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q did not quit")
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{42 * time.Second, "42s"},
		{3*time.Minute + 5*time.Second, "3m05s"},
		{2*time.Hour + 7*time.Minute, "2h07m"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
