// Package history records finished pipeline runs for the status command. It
// is reporting only: skipping decisions never consult it.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/njdelapaz/Translation-Without-Supervision/internal/engine"
	unmterrors "github.com/njdelapaz/Translation-Without-Supervision/pkg/errors"
)

const (
	// Dir is created inside the working directory.
	Dir = ".unmt"
	// FileName is the history file inside Dir.
	FileName = "history.json"
	// MaxRuns bounds how many runs are kept.
	MaxRuns = 50

	fileVersion = "1.0"
)

// Run outcomes.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Run is one recorded invocation of the pipeline.
type Run struct {
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	From       string         `json:"from"`
	To         string         `json:"to"`
	Status     string         `json:"status"`
	Counts     map[string]int `json:"counts,omitempty"`
	FailedUnit string         `json:"failed_unit,omitempty"`
	LogPath    string         `json:"log_path,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// File is the JSON file format of the history.
type File struct {
	Version string `json:"version"`
	Runs    []Run  `json:"runs"`
}

// History persists runs between sessions.
type History struct {
	path    string
	mu      sync.RWMutex
	version string
	runs    []Run
}

// Open loads the history of a working directory, starting empty when none
// was recorded yet.
func Open(workdir string) (*History, error) {
	h := &History{
		path:    filepath.Join(workdir, Dir, FileName),
		version: fileVersion,
	}

	if err := os.MkdirAll(filepath.Dir(h.path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	if err := h.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	return h, nil
}

// Path returns the location of the history file.
func (h *History) Path() string {
	return h.path
}

// Load reads the history from disk.
func (h *History) Load() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	data, err := os.ReadFile(h.path)
	if err != nil {
		return err
	}

	var file File
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse history: %w", err)
	}

	h.version = file.Version
	h.runs = file.Runs
	return nil
}

// Save writes the history to disk atomically.
func (h *History) Save() error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	data, err := json.MarshalIndent(File{Version: h.version, Runs: h.runs}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}

	tmpPath := h.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write temporary file: %w", err)
	}
	if err := os.Rename(tmpPath, h.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}
	return nil
}

// Append records a run, dropping the oldest beyond MaxRuns.
func (h *History) Append(run Run) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.runs = append(h.runs, run)
	if over := len(h.runs) - MaxRuns; over > 0 {
		h.runs = append([]Run(nil), h.runs[over:]...)
	}
}

// Last returns the most recent run.
func (h *History) Last() (Run, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.runs) == 0 {
		return Run{}, false
	}
	return h.runs[len(h.runs)-1], true
}

// Runs returns a copy of every recorded run, oldest first.
func (h *History) Runs() []Run {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]Run(nil), h.runs...)
}

// FromReport summarises a controller report. err is the error Run returned.
func FromReport(report *engine.Report, err error, started time.Time) Run {
	run := Run{
		StartedAt:  started,
		FinishedAt: started,
		Status:     StatusCompleted,
	}
	if report != nil {
		run.Counts = report.Counts()
		run.FinishedAt = started.Add(report.Duration)
		if report.Plan != nil {
			run.From = report.Plan.From.ID()
			run.To = report.Plan.To.ID()
		}
	}
	if err != nil {
		run.Status = StatusFailed
		run.Error = err.Error()
		var execErr *unmterrors.ExecutionError
		if errors.As(err, &execErr) {
			run.FailedUnit = execErr.StageID
			run.LogPath = execErr.LogPath
		}
	}
	return run
}
