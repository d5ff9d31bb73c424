package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ShayCichocki/missionctl/internal/mission"
	"github.com/ShayCichocki/missionctl/internal/state"
	"github.com/ShayCichocki/missionctl/pkg/models"
)

var (
	okColor    = color.New(color.FgGreen)
	warnColor  = color.New(color.FgYellow)
	errorColor = color.New(color.FgRed, color.Bold)
	dimColor   = color.New(color.FgHiBlack)
	idColor    = color.New(color.FgCyan)
)

// printStatus prints a status line with color
func printStatus(w io.Writer, symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Fprintf(w, "%s %s\n", c.Sprint(symbol), message)
}

func statusColor(s state.MissionStatus) *color.Color {
	switch s {
	case state.MissionComplete:
		return okColor
	case state.MissionFailed:
		return errorColor
	case state.MissionCancelled:
		return warnColor
	default:
		return idColor
	}
}

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	return t
}

// renderMissions prints one row per mission, newest first as stored.
func renderMissions(w io.Writer, missions []state.Mission, now time.Time) {
	t := newTable(w)
	t.AppendHeader(table.Row{"ID", "Status", "Phase", "Progress", "Updated", "Prompt"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 4, Align: text.AlignRight},
		{Number: 6, WidthMax: 48},
	})
	for _, m := range missions {
		t.AppendRow(table.Row{
			m.ID,
			statusColor(m.Status).Sprint(m.Status),
			m.Phase,
			fmt.Sprintf("%d%%", m.Progress),
			formatAge(now.Sub(m.UpdatedAt)),
			truncate(oneLine(m.Prompt), 48),
		})
	}
	t.Render()
}

// renderReport prints the detailed view of one mission.
func renderReport(w io.Writer, rep *mission.Report, now time.Time) {
	m := rep.Mission
	fmt.Fprintf(w, "Mission %s\n", idColor.Sprint(m.ID))
	fmt.Fprintf(w, "  Status:   %s\n", statusColor(m.Status).Sprint(m.Status))
	fmt.Fprintf(w, "  Phase:    %s (%d%%)\n", m.Phase, m.Progress)
	if m.Message != "" {
		fmt.Fprintf(w, "  Message:  %s\n", m.Message)
	}
	fmt.Fprintf(w, "  Started:  %s ago\n", formatAge(now.Sub(m.CreatedAt)))
	fmt.Fprintf(w, "  Prompt:   %s\n", truncate(oneLine(m.Prompt), 100))

	st := rep.State
	if st == nil {
		fmt.Fprintln(w, dimColor.Sprint("\n  No checkpoint yet."))
		return
	}
	if st.AppName != "" {
		fmt.Fprintf(w, "  App:      %s\n", st.AppName)
	}
	fmt.Fprintf(w, "  Repairs:  %d\n", st.Iterations)
	if st.Phase == models.PhaseRepair && st.RepairOf != "" {
		fmt.Fprintf(w, "  Repairing %s:\n", st.RepairOf)
		for _, issue := range st.LastIssues {
			fmt.Fprintf(w, "    - [%s] %s\n", warnColor.Sprint(issue.Severity), issue.Message)
		}
	}
	if st.PendingSignal != nil {
		fmt.Fprintln(w, warnColor.Sprint("  Feedback received, waiting for the approval step"))
	}

	if len(st.History) > 0 {
		fmt.Fprintln(w)
		renderHistory(w, st.History)
	}

	if len(st.Manifest.Artifacts) > 0 {
		fmt.Fprintf(w, "\nArtifacts (%s): %s\n", st.Manifest.Status, strings.Join(st.Manifest.Artifacts, ", "))
	}

	if len(st.Errors) > 0 {
		fmt.Fprintln(w, errorColor.Sprint("\nErrors:"))
		for _, e := range st.Errors {
			fmt.Fprintf(w, "  - %s\n", e)
		}
	}

	if st.Result != nil {
		fmt.Fprintln(w)
		renderResult(w, st.Result)
	}
}

func renderHistory(w io.Writer, history []mission.Transition) {
	t := newTable(w)
	t.AppendHeader(table.Row{"At", "From", "To", "Reason"})
	t.SetColumnConfigs([]table.ColumnConfig{{Number: 4, WidthMax: 60}})
	for _, tr := range history {
		t.AppendRow(table.Row{tr.At.Local().Format("15:04:05"), tr.From, tr.To, tr.Reason})
	}
	t.Render()
}

func renderResult(w io.Writer, r *models.MissionResult) {
	if !r.Success {
		fmt.Fprintf(w, "%s %s\n", errorColor.Sprint("Mission failed:"), r.Error)
		return
	}
	fmt.Fprintf(w, "%s %d files, %d lines, %d repairs in %s\n",
		okColor.Sprint("Mission complete:"),
		r.Stats.TotalFiles, r.Stats.TotalLines, r.Stats.Iterations, formatDuration(r.Stats.Duration))
	if len(r.Files) == 0 {
		return
	}
	t := newTable(w)
	t.AppendHeader(table.Row{"File", "Lines"})
	t.SetColumnConfigs([]table.ColumnConfig{{Number: 2, Align: text.AlignRight}})
	for _, f := range r.Files {
		t.AppendRow(table.Row{f.Path, models.CountLines([]models.File{f})})
	}
	t.Render()
}

func renderInterrupted(w io.Writer, missions []state.Interrupted, now time.Time) {
	t := newTable(w)
	t.AppendHeader(table.Row{"ID", "Phase", "PID", "Started", "Last activity"})
	for _, in := range missions {
		t.AppendRow(table.Row{
			in.MissionID,
			in.Phase,
			in.PID,
			formatAge(now.Sub(in.StartedAt)),
			formatAge(now.Sub(in.LastActivity)),
		})
	}
	t.Render()
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
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

// formatDuration formats a duration in a human-readable way
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

func formatAge(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	if d < 48*time.Hour {
		return formatDuration(d)
	}
	return fmt.Sprintf("%dd", int(d.Hours())/24)
}
