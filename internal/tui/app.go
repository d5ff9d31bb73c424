package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/missionctl/internal/mission"
	"github.com/ShayCichocki/missionctl/internal/state"
)

// DefaultRefreshRate is used when the configured rate is not positive.
const DefaultRefreshRate = 250 * time.Millisecond

// maxLogEntries bounds the activity log shown under the progress view.
const maxLogEntries = 8

// Loader fetches the latest report for the watched mission.
type Loader func(ctx context.Context) (*mission.Report, error)

// StoreLoader reads reports straight from the state store, which works from
// any process sharing the database.
func StoreLoader(s state.Store, missionID string) Loader {
	return func(ctx context.Context) (*mission.Report, error) {
		return mission.LoadReport(ctx, s, missionID)
	}
}

// FeedbackHandler delivers an approval decision to the mission.
type FeedbackHandler func(approved bool) error

// ReportMsg carries one poll result.
type ReportMsg struct {
	Report *mission.Report
	Err    error
}

// FeedbackSentMsg reports the outcome of a FeedbackHandler call.
type FeedbackSentMsg struct {
	Approved bool
	Err      error
}

type tickMsg time.Time

// LogEntry is one line of the activity log.
type LogEntry struct {
	Timestamp time.Time
	Phase     string
	Message   string
}

// WatchApp is the bubbletea model for the watch command.
type WatchApp struct {
	load     Loader
	feedback FeedbackHandler
	refresh  time.Duration
	now      func() time.Time

	view    *WatchView
	spinner spinner.Model
	logs    []LogEntry
	// seen is how many history transitions have been logged.
	seen int

	width        int
	height       int
	quitting     bool
	done         bool
	feedbackSent bool
	err          error

	logStyle     lipgloss.Style
	logTimeStyle lipgloss.Style
	errorStyle   lipgloss.Style
	doneStyle    lipgloss.Style
}

// Option configures a WatchApp.
type Option func(*WatchApp)

// WithFeedback enables the approve and reject keys at human_feedback.
func WithFeedback(h FeedbackHandler) Option {
	return func(a *WatchApp) { a.feedback = h }
}

// WithRefreshRate sets the poll interval.
func WithRefreshRate(d time.Duration) Option {
	return func(a *WatchApp) {
		if d > 0 {
			a.refresh = d
		}
	}
}

// WithClock overrides time.Now for elapsed-time rendering.
func WithClock(now func() time.Time) Option {
	return func(a *WatchApp) { a.now = now }
}

// NewWatchApp creates a watch model polling load.
func NewWatchApp(load Loader, opts ...Option) *WatchApp {
	a := &WatchApp{
		load:    load,
		refresh: DefaultRefreshRate,
		now:     time.Now,
		view:    NewWatchView(),
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot)),

		logStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")),

		logTimeStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")),

		errorStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true),

		doneStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("34")).
			Bold(true),
	}
	a.spinner.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Init implements tea.Model.
func (a *WatchApp) Init() tea.Cmd {
	return tea.Batch(a.spinner.Tick, a.fetch())
}

// Update implements tea.Model.
func (a *WatchApp) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			a.quitting = true
			return a, tea.Quit
		case "a", "r":
			return a, a.sendFeedback(msg.String() == "a")
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.view.SetSize(msg.Width, msg.Height)

	case tickMsg:
		return a, a.fetch()

	case ReportMsg:
		if msg.Err != nil {
			a.log("poll", msg.Err.Error())
			return a, a.tick()
		}
		a.apply(msg.Report)
		if a.done {
			return a, nil
		}
		return a, a.tick()

	case FeedbackSentMsg:
		if msg.Err != nil {
			a.feedbackSent = false
			a.log("feedback", fmt.Sprintf("sending feedback failed: %v", msg.Err))
			return a, nil
		}
		verdict := "rejected"
		if msg.Approved {
			verdict = "approved"
		}
		a.log("feedback", "mission "+verdict)

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd
	}

	return a, nil
}

func (a *WatchApp) apply(rep *mission.Report) {
	ws := StateFromReport(rep, a.now())
	a.view.SetState(ws)

	for _, t := range ws.History[min(a.seen, len(ws.History)):] {
		msg := string(t.From) + " -> " + string(t.To)
		if t.Reason != "" {
			msg += ": " + t.Reason
		}
		a.logs = append(a.logs, LogEntry{Timestamp: t.At, Phase: string(t.To), Message: msg})
	}
	a.seen = len(ws.History)
	if len(a.logs) > maxLogEntries {
		a.logs = a.logs[len(a.logs)-maxLogEntries:]
	}

	if ws.Status.Terminal() {
		a.done = true
		if ws.Status != state.MissionComplete {
			a.err = fmt.Errorf("mission %s: %s", ws.Status, ws.Message)
		}
	}
}

func (a *WatchApp) sendFeedback(approved bool) tea.Cmd {
	if a.feedback == nil || a.feedbackSent || !a.view.State().AwaitingFeedback() {
		return nil
	}
	a.feedbackSent = true
	h := a.feedback
	return func() tea.Msg {
		return FeedbackSentMsg{Approved: approved, Err: h(approved)}
	}
}

func (a *WatchApp) fetch() tea.Cmd {
	load, timeout := a.load, 4*a.refresh+time.Second
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		rep, err := load(ctx)
		return ReportMsg{Report: rep, Err: err}
	}
}

func (a *WatchApp) tick() tea.Cmd {
	return tea.Tick(a.refresh, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (a *WatchApp) log(phase, message string) {
	a.logs = append(a.logs, LogEntry{Timestamp: a.now(), Phase: phase, Message: message})
	if len(a.logs) > maxLogEntries {
		a.logs = a.logs[len(a.logs)-maxLogEntries:]
	}
}

// Done reports whether the mission reached a terminal status.
func (a *WatchApp) Done() bool {
	return a.done
}

// Err returns the terminal failure, if any.
func (a *WatchApp) Err() error {
	return a.err
}

// State returns the last rendered mission state.
func (a *WatchApp) State() WatchState {
	return a.view.State()
}

// View implements tea.Model.
func (a *WatchApp) View() string {
	if a.quitting {
		return ""
	}

	var b strings.Builder

	header := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("205")).
		Render("=== missionctl ===")
	b.WriteString(header)
	if !a.done {
		b.WriteString(" ")
		b.WriteString(a.spinner.View())
	}
	b.WriteString("\n\n")

	b.WriteString(a.view.View())
	b.WriteString("\n")

	if a.feedback != nil && !a.feedbackSent && a.view.State().AwaitingFeedback() {
		b.WriteString(a.view.renderApprovalPrompt())
		b.WriteString("\n")
	}

	b.WriteString(a.renderLogs())

	b.WriteString("\n")
	switch {
	case a.done && a.err != nil:
		b.WriteString(a.errorStyle.Render(a.err.Error()))
	case a.done:
		b.WriteString(a.doneStyle.Render("Mission complete! Press q to exit."))
	default:
		b.WriteString(a.view.mutedStyle.Render("Press q to stop watching"))
	}
	b.WriteString("\n")

	return b.String()
}

func (a *WatchApp) renderLogs() string {
	if len(a.logs) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("252")).
		Render("Activity Log"))
	b.WriteString("\n")

	for _, entry := range a.logs {
		ts := a.logTimeStyle.Render(entry.Timestamp.Format("15:04:05"))
		phase := lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Width(16).
			Render(entry.Phase)
		fmt.Fprintf(&b, "  %s %s %s\n", ts, phase, a.logStyle.Render(truncate(entry.Message, 80)))
	}

	return b.String()
}

// NewWatchProgram creates the bubbletea program for the watch command. The
// program exits when ctx is cancelled.
func NewWatchProgram(ctx context.Context, app *WatchApp) *tea.Program {
	return tea.NewProgram(app, tea.WithAltScreen(), tea.WithContext(ctx))
}
