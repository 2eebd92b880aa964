package tui

import (
	"fmt"
	"io"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/njdelapaz/Translation-Without-Supervision/internal/model"
)

// Printer renders progress as plain lines for non-interactive output. It
// shares the Model with the interactive view so counts stay identical.
type Printer struct {
	mu    sync.Mutex
	out   io.Writer
	state Model
}

// NewPrinter writes progress lines for state to out.
func NewPrinter(out io.Writer, state Model) *Printer {
	return &Printer{out: out, state: state}
}

// Send applies msg and prints a line for terminal unit transitions.
func (p *Printer) Send(msg tea.Msg) {
	p.mu.Lock()
	defer p.mu.Unlock()

	updated, _ := p.state.Update(msg)
	if m, ok := updated.(Model); ok {
		p.state = m
	}

	switch msg := msg.(type) {
	case UnitRetryMsg:
		fmt.Fprintf(p.out, "  %s %s attempt %d failed, retrying: %s\n", StatusIcon(model.StatusRetrying), msg.ID, msg.Attempt, msg.Err)
	case UnitCompleteMsg:
		res := msg.Result
		line := fmt.Sprintf("[%d/%d] %s %s %s", p.state.CompletedUnits(), p.state.TotalUnits(), StatusIcon(res.Status), res.UnitID, res.Status)
		if res.Status == model.StatusDegraded && res.Message != "" {
			line += ": " + res.Message
		}
		if res.Status == model.StatusFailed && res.LogPath != "" {
			line += " (log: " + res.LogPath + ")"
		}
		fmt.Fprintln(p.out, line)
	case RoundMsg:
		if !msg.Finished {
			fmt.Fprintf(p.out, "round %d\n", msg.Round)
		}
	}
}

// State returns the current model.
func (p *Printer) State() Model {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}
