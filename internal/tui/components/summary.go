package components

import (
	"fmt"
	"strings"
)

// DegradedUnit names a unit published by a reduced-fidelity substitute.
type DegradedUnit struct {
	ID     string
	Reason string
}

// SummaryData aggregates what the summary reports.
type SummaryData struct {
	Total     int
	Completed int
	Finished  bool
	Cancelled bool
	Degraded  []DegradedUnit
	Failed    string
	LogPath   string
}

// Summary renders a textual run summary.
type Summary struct {
	data SummaryData
}

// NewSummary creates a new Summary component.
func NewSummary(data SummaryData) Summary {
	return Summary{data: data}
}

// View renders the summary.
func (s Summary) View() string {
	var lines []string
	if s.data.Total > 0 {
		lines = append(lines, fmt.Sprintf("Units: %d/%d completed", s.data.Completed, s.data.Total))
	}

	switch {
	case s.data.Cancelled:
		lines = append(lines, "Training interrupted")
	case s.data.Failed != "":
		lines = append(lines, fmt.Sprintf("Training stopped: %s failed", s.data.Failed))
		if s.data.LogPath != "" {
			lines = append(lines, fmt.Sprintf("  log: %s", s.data.LogPath))
		}
	case s.data.Finished && s.data.Total > 0:
		if s.data.Completed == s.data.Total {
			lines = append(lines, "Training finished")
		} else {
			lines = append(lines, "Training finished with pending units")
		}
	}

	if len(s.data.Degraded) > 0 {
		lines = append(lines, "Degraded:")
		for _, d := range s.data.Degraded {
			reason := d.Reason
			if strings.TrimSpace(reason) == "" {
				reason = "reduced fidelity"
			}
			lines = append(lines, fmt.Sprintf("  ◐ %s: %s", d.ID, reason))
		}
	}

	return strings.Join(lines, "\n")
}
