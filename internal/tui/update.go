package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/njdelapaz/Translation-Without-Supervision/internal/model"
)

// Update handles Bubbletea messages and updates model state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		return m, nil
	case UnitStartMsg:
		m.ensureUnit(msg.ID)
		unit := m.units[msg.ID]
		unit.Status = model.StatusRunning
		unit.Attempts = msg.Attempt
		m.units[msg.ID] = unit
		return m, nil
	case UnitRetryMsg:
		m.ensureUnit(msg.ID)
		unit := m.units[msg.ID]
		unit.Status = model.StatusRetrying
		unit.Attempts = msg.Attempt
		unit.Message = msg.Err
		m.units[msg.ID] = unit
		return m, nil
	case UnitCompleteMsg:
		if msg.Result.UnitID == "" {
			return m, nil
		}
		m.complete(msg.Result)
		if msg.Result.Status == model.StatusSkipped {
			m.skipRounds(msg.Result.UnitID)
		}
		return m, nil
	case RoundMsg:
		m.round = msg.Round
		return m, nil
	case PipelineDoneMsg:
		m.finished = true
		m.err = msg.Err
		return m, tea.Quit
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			m.cancelled = true
			m.finished = true
			return m, tea.Quit
		}
	case tea.QuitMsg:
		m.finished = true
		return m, nil
	}

	return m, nil
}
