package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/missionctl/internal/mission"
	"github.com/ShayCichocki/missionctl/internal/state"
	"github.com/ShayCichocki/missionctl/pkg/models"
)

// WatchState is what the watch view renders for one mission.
type WatchState struct {
	MissionID  string
	AppName    string
	Status     state.MissionStatus
	Phase      models.Phase
	RepairOf   models.Phase
	Progress   int
	Message    string
	Iterations int
	RetryCount int
	Artifacts  int
	Elapsed    time.Duration
	// Issues are the blocking issues the current repair addresses.
	Issues  []models.Issue
	Errors  []string
	History []mission.Transition
	Result  *models.MissionResult
}

// AwaitingFeedback reports whether the mission is parked for approval.
func (s WatchState) AwaitingFeedback() bool {
	return s.Phase == models.PhaseHumanFeedback && s.Status == state.MissionRunning
}

// StateFromReport flattens a report into view state. now is used for the
// elapsed time of a running mission.
func StateFromReport(rep *mission.Report, now time.Time) WatchState {
	if rep == nil || rep.Mission == nil {
		return WatchState{}
	}
	m := rep.Mission
	ws := WatchState{
		MissionID: m.ID,
		Status:    m.Status,
		Phase:     models.Phase(m.Phase),
		Progress:  m.Progress,
		Message:   m.Message,
		Elapsed:   now.Sub(m.CreatedAt),
	}
	if st := rep.State; st != nil {
		p := st.Progress()
		ws.AppName = st.AppName
		ws.Phase = st.Phase
		ws.RepairOf = st.RepairOf
		ws.Progress = p.Progress
		ws.Message = st.Message
		ws.Iterations = st.Iterations
		ws.RetryCount = st.RetryCount
		ws.Artifacts = len(st.Manifest.Artifacts)
		ws.Issues = st.LastIssues
		ws.Errors = st.Errors
		ws.History = st.History
		ws.Result = st.Result
		if !st.StartedAt.IsZero() {
			ws.Elapsed = now.Sub(st.StartedAt)
		}
	}
	if ws.Status.Terminal() {
		ws.Elapsed = m.UpdatedAt.Sub(m.CreatedAt)
		if ws.Result != nil {
			ws.Elapsed = ws.Result.Stats.Duration
		}
		if ws.Status == state.MissionComplete {
			ws.Progress = 100
		}
	}
	if ws.Elapsed < 0 {
		ws.Elapsed = 0
	}
	return ws
}

// WatchView renders mission progress.
type WatchView struct {
	state    WatchState
	width    int
	height   int
	progress progress.Model

	headerStyle  lipgloss.Style
	labelStyle   lipgloss.Style
	valueStyle   lipgloss.Style
	phaseStyle   lipgloss.Style
	warningStyle lipgloss.Style
	errorStyle   lipgloss.Style
	okStyle      lipgloss.Style
	mutedStyle   lipgloss.Style
}

// NewWatchView creates a new WatchView instance.
func NewWatchView() *WatchView {
	return &WatchView{
		progress: progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),

		headerStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(lipgloss.Color("238")).
			MarginBottom(1),

		labelStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Width(14),

		valueStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")).
			Bold(true),

		phaseStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true),

		warningStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")),

		errorStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")),

		okStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("34")),

		mutedStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")),
	}
}

// SetState updates the rendered state.
func (v *WatchView) SetState(s WatchState) {
	v.state = s
}

// State returns the rendered state.
func (v *WatchView) State() WatchState {
	return v.state
}

// SetSize sets the view dimensions.
func (v *WatchView) SetSize(width, height int) {
	v.width = width
	v.height = height
	if w := width - 20; w > 10 && w < 60 {
		v.progress.Width = w
	}
}

// View renders the progress display.
func (v *WatchView) View() string {
	s := v.state
	var b strings.Builder

	title := "Mission " + s.MissionID
	if s.AppName != "" {
		title += " (" + s.AppName + ")"
	}
	b.WriteString(v.headerStyle.Render(title))
	b.WriteString("\n")

	v.row(&b, "Status:", v.statusStyle(s.Status).Render(string(s.Status)))

	phase := string(s.Phase)
	if phase == "" {
		phase = "pending"
	}
	if s.Phase == models.PhaseRepair && s.RepairOf != "" {
		phase += " of " + string(s.RepairOf)
	}
	v.row(&b, "Phase:", v.phaseStyle.Render(phase))

	b.WriteString("  ")
	b.WriteString(v.progress.ViewAs(float64(s.Progress) / 100))
	b.WriteString("\n\n")

	if s.Message != "" {
		v.row(&b, "Message:", s.Message)
	}
	v.row(&b, "Iterations:", v.valueStyle.Render(fmt.Sprintf("%d", s.Iterations)))
	if s.RetryCount > 0 {
		v.row(&b, "Retries:", v.warningStyle.Render(fmt.Sprintf("%d", s.RetryCount)))
	}
	v.row(&b, "Artifacts:", v.valueStyle.Render(fmt.Sprintf("%d", s.Artifacts)))
	v.row(&b, "Elapsed:", v.valueStyle.Render(formatDuration(s.Elapsed)))

	if len(s.Issues) > 0 && s.Phase == models.PhaseRepair {
		b.WriteString("\n")
		b.WriteString(v.labelStyle.Render("Repairing:"))
		b.WriteString("\n")
		for _, issue := range s.Issues {
			b.WriteString("  ")
			b.WriteString(v.errorStyle.Render(string(issue.Severity)))
			b.WriteString(" ")
			b.WriteString(truncate(issue.Message, 70))
			b.WriteString("\n")
		}
	}

	if len(s.Errors) > 0 {
		b.WriteString("\n")
		b.WriteString(v.labelStyle.Render("Errors:"))
		b.WriteString("\n")
		for _, e := range s.Errors {
			b.WriteString("  - ")
			b.WriteString(v.errorStyle.Render(truncate(e, 90)))
			b.WriteString("\n")
		}
	}

	if r := s.Result; r != nil && r.Success {
		b.WriteString("\n")
		b.WriteString(v.okStyle.Render(fmt.Sprintf("Generated %d files, %d lines", len(r.Files), r.Stats.TotalLines)))
		b.WriteString("\n")
	}

	return b.String()
}

func (v *WatchView) row(b *strings.Builder, label, value string) {
	b.WriteString(v.labelStyle.Render(label))
	b.WriteString(value)
	b.WriteString("\n")
}

func (v *WatchView) statusStyle(s state.MissionStatus) lipgloss.Style {
	switch s {
	case state.MissionComplete:
		return v.okStyle
	case state.MissionFailed:
		return v.errorStyle
	case state.MissionCancelled:
		return v.warningStyle
	default:
		return v.valueStyle
	}
}

// renderApprovalPrompt renders the feedback keys shown at human_feedback.
func (v *WatchView) renderApprovalPrompt() string {
	var b strings.Builder

	b.WriteString(lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("214")).
		Render("Approval required before deploy"))
	b.WriteString("\n\n")

	keyStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("15")).
		Background(lipgloss.Color("214")).
		Bold(true).
		Padding(0, 1)

	b.WriteString("  ")
	b.WriteString(keyStyle.Render("a"))
	b.WriteString("  Approve and deploy\n")
	b.WriteString("  ")
	b.WriteString(keyStyle.Render("r"))
	b.WriteString("  Reject and stop the mission\n")

	return b.String()
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
}
