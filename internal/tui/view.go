package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/njdelapaz/Translation-Without-Supervision/internal/model"
	"github.com/njdelapaz/Translation-Without-Supervision/internal/tui/components"
)

// View renders the current state of the model.
func (m Model) View() string {
	var sections []string

	title := titleStyle.Render(fmt.Sprintf("UNMT • %s", m.heading()))
	sections = append(sections, title)

	progress := components.NewProgress(m.total).View(m.completed)
	sections = append(sections, sectionStyle.Render("Progress"), progress)

	listComp := components.NewUnitList(m.order, m.units)
	entries := listComp.Entries()
	if len(entries) > 0 {
		sections = append(sections, sectionStyle.Render("Stages"))
		sections = append(sections, renderUnitEntries(entries))
	}

	data := components.SummaryData{
		Total:     m.total,
		Completed: m.completed,
		Finished:  m.finished,
		Cancelled: m.cancelled,
	}
	for _, id := range m.order {
		res := m.units[id]
		switch res.Status {
		case model.StatusDegraded:
			data.Degraded = append(data.Degraded, components.DegradedUnit{ID: id, Reason: res.Message})
		case model.StatusFailed:
			data.Failed = id
			data.LogPath = res.LogPath
		}
	}
	summary := components.NewSummary(data).View()
	if strings.TrimSpace(summary) != "" {
		sections = append(sections, sectionStyle.Render("Summary"), summaryStyle.Render(summary))
	}

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func renderUnitEntries(entries []components.UnitEntry) string {
	var lines []string
	for _, entry := range entries {
		res := entry.Result
		icon := StatusIcon(res.Status)
		line := fmt.Sprintf(" %s%s %s", strings.Repeat("  ", entry.Depth), icon, entry.ID)
		if res.Status == model.StatusRunning && res.Attempts > 1 {
			line = fmt.Sprintf("%s (attempt %d)", line, res.Attempts)
		}
		if strings.TrimSpace(res.Message) != "" && res.Status != model.StatusSuccess {
			line = fmt.Sprintf("%s: %s", line, res.Message)
		}
		if res.Duration > 0 {
			line = fmt.Sprintf("%s (%s)", line, res.Duration.Truncate(10*time.Millisecond))
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func (m Model) heading() string {
	title := "Training"
	if strings.TrimSpace(m.title) != "" {
		title = m.title
	}
	if m.round > 0 {
		title = fmt.Sprintf("%s • round %d", title, m.round)
	}
	return title
}

// StatusIcon returns the glyph representing a unit status.
func StatusIcon(status string) string {
	switch status {
	case model.StatusSuccess:
		return successStyle.Render("✓")
	case model.StatusRunning:
		return runningStyle.Render("⏳")
	case model.StatusRetrying:
		return retryingStyle.Render("↻")
	case model.StatusDegraded:
		return degradedStyle.Render("◐")
	case model.StatusFailed:
		return failureStyle.Render("✗")
	case model.StatusSkipped:
		return skippedStyle.Render("⊘")
	default:
		return pendingStyle.Render("…")
	}
}
