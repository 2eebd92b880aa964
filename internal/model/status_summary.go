package model

// UnitStatus is the checkpoint state of a single plan unit.
type UnitStatus struct {
	UnitID    string
	Satisfied bool
	Reason    string
	Location  string
}

// StatusSummary aggregates checkpoint state over a stage range.
type StatusSummary struct {
	Units     []UnitStatus
	Satisfied int
	Pending   int
}

// Add records a unit and updates the counters.
func (s *StatusSummary) Add(u UnitStatus) {
	s.Units = append(s.Units, u)
	if u.Satisfied {
		s.Satisfied++
		return
	}
	s.Pending++
}

// AllSatisfied reports whether every unit is checkpointed.
func (s *StatusSummary) AllSatisfied() bool {
	return s.Pending == 0
}

// ExitCode maps the summary to a process exit code.
func (s *StatusSummary) ExitCode() int {
	if s.AllSatisfied() {
		return 0
	}
	return 1
}
