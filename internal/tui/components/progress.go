package components

import (
	"fmt"
	"math"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"
)

const progressWidth = 36

// Progress renders how many plan units have reached a terminal state.
type Progress struct {
	bar   progress.Model
	total int
}

// NewProgress creates a progress bar over total units.
func NewProgress(total int) Progress {
	bar := progress.New(progress.WithGradient("#5A56E0", "#42D392"), progress.WithoutPercentage())
	bar.Width = progressWidth
	return Progress{bar: bar, total: total}
}

// Ratio returns the completed fraction, capped at one.
func (p Progress) Ratio(completed int) float64 {
	if p.total <= 0 {
		return 0
	}
	return math.Min(1.0, float64(completed)/float64(p.total))
}

// View renders the bar followed by a "completed/total units" label.
func (p Progress) View(completed int) string {
	ratio := p.Ratio(completed)
	label := lipgloss.NewStyle().Bold(true).Render(fmt.Sprintf("%d/%d units", completed, p.total))
	percent := lipgloss.NewStyle().Faint(true).Render(fmt.Sprintf("%3.0f%%", ratio*100))
	return lipgloss.JoinHorizontal(lipgloss.Left, p.bar.ViewAs(ratio), " ", label, " ", percent)
}
