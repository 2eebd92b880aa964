package components

import (
	"strings"

	"github.com/njdelapaz/Translation-Without-Supervision/internal/model"
)

// UnitEntry is one rendered row of the unit list.
type UnitEntry struct {
	ID     string
	Depth  int
	Result model.StageResult
}

// UnitList orders plan units for rendering. Round units are indented under
// their stage.
type UnitList struct {
	entries []UnitEntry
}

// NewUnitList builds the list in plan order.
func NewUnitList(order []string, units map[string]model.StageResult) UnitList {
	entries := make([]UnitEntry, 0, len(order))
	for _, id := range order {
		entries = append(entries, UnitEntry{ID: id, Depth: strings.Count(id, "/"), Result: units[id]})
	}
	return UnitList{entries: entries}
}

// Entries returns a copy of the ordered entries.
func (l UnitList) Entries() []UnitEntry {
	clone := make([]UnitEntry, len(l.entries))
	copy(clone, l.entries)
	return clone
}

// Count returns how many entries carry status.
func (l UnitList) Count(status string) int {
	n := 0
	for _, entry := range l.entries {
		if entry.Result.Status == status {
			n++
		}
	}
	return n
}
