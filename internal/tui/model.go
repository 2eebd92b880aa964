package tui

import (
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/njdelapaz/Translation-Without-Supervision/internal/engine"
	"github.com/njdelapaz/Translation-Without-Supervision/internal/model"
)

// UnitStartMsg indicates an attempt of a unit has started.
type UnitStartMsg struct {
	ID      string
	Attempt int
	Time    time.Time
}

// UnitRetryMsg reports a transient failure that is about to be retried.
type UnitRetryMsg struct {
	ID      string
	Attempt int
	Err     string
}

// UnitCompleteMsg reports that a unit reached a terminal state.
type UnitCompleteMsg struct {
	Result model.StageResult
}

// RoundMsg reports backtranslation round progress.
type RoundMsg struct {
	Round    int
	Finished bool
}

// PipelineDoneMsg ends the run. Err is nil on success.
type PipelineDoneMsg struct {
	Err error
}

type tickMsg struct{}

// Model contains the Bubbletea state for the training progress TUI.
type Model struct {
	title          string
	plan           *engine.Plan
	units          map[string]model.StageResult
	order          []string
	total          int
	completed      int
	round          int
	finished       bool
	cancelled      bool
	err            error
	nonInteractive bool
}

// NewModel constructs a new TUI model for the given plan.
func NewModel(title string, plan *engine.Plan, nonInteractive bool) Model {
	m := Model{
		title:          title,
		plan:           plan,
		units:          make(map[string]model.StageResult),
		order:          make([]string, 0),
		nonInteractive: nonInteractive,
	}

	if plan != nil {
		for _, unit := range plan.Units {
			m.ensureUnit(unit.ID())
		}
	}

	return m
}

// Init starts the Bubbletea program.
func (m Model) Init() tea.Cmd {
	return tea.Tick(time.Millisecond, func(time.Time) tea.Msg { return tickMsg{} })
}

// TotalUnits returns the total number of units tracked by the model.
func (m Model) TotalUnits() int {
	return m.total
}

// CompletedUnits returns the number of units in a terminal state.
func (m Model) CompletedUnits() int {
	return m.completed
}

// IsFinished reports whether execution has completed.
func (m Model) IsFinished() bool {
	return m.finished
}

// Cancelled reports whether the user interrupted the run.
func (m Model) Cancelled() bool {
	return m.cancelled
}

// Err returns the error the run ended with.
func (m Model) Err() error {
	return m.err
}

func (m *Model) ensureUnit(id string) {
	if id == "" {
		return
	}
	if _, exists := m.units[id]; !exists {
		m.units[id] = model.StageResult{UnitID: id, Status: model.StatusPending}
		m.order = append(m.order, id)
		m.total++
	}
}

func (m *Model) complete(res model.StageResult) {
	m.ensureUnit(res.UnitID)
	previous := m.units[res.UnitID]
	m.units[res.UnitID] = res
	if !previous.Completed() {
		m.completed++
	}
}

// skipRounds marks the pending round units of a skipped iterative stage.
// Its rounds are never visited, so they would otherwise stay pending.
func (m *Model) skipRounds(finalID string) {
	prefix, ok := strings.CutSuffix(finalID, "/final")
	if !ok {
		return
	}
	for _, id := range m.order {
		if strings.HasPrefix(id, prefix+"/round-") && !m.units[id].Completed() {
			m.complete(model.StageResult{UnitID: id, Status: model.StatusSkipped, Message: "stage satisfied"})
		}
	}
}
