package stage

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// Direction identifies one of the two translation directions.
type Direction string

const (
	SourceToTarget Direction = "src2tgt"
	TargetToSource Direction = "tgt2src"
)

// Directions lists both translation directions in a stable order.
var Directions = []Direction{SourceToTarget, TargetToSource}

// Opposite returns the reverse translation direction.
func (d Direction) Opposite() Direction {
	if d == SourceToTarget {
		return TargetToSource
	}
	return SourceToTarget
}

// Output declares an artifact key produced by a stage together with its
// completeness predicate.
type Output struct {
	Key string
	// AllowEmpty accepts a zero-byte file as complete.
	AllowEmpty bool
	// Check is an additional stage-specific predicate (header, trailer, ...).
	Check func(path string) error
}

// Validate applies the completeness predicate to a materialized artifact.
func (o Output) Validate(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("artifact %s: %w", o.Key, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("artifact %s: %s is not a regular file", o.Key, path)
	}
	if info.Size() == 0 && !o.AllowEmpty {
		return fmt.Errorf("artifact %s: %s is empty", o.Key, path)
	}
	if o.Check != nil {
		if err := o.Check(path); err != nil {
			return fmt.Errorf("artifact %s: %w", o.Key, err)
		}
	}
	return nil
}

// NonBlank fails when a text artifact holds nothing but blank lines.
func NonBlank(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) != "" {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	return fmt.Errorf("%s has no non-blank lines", path)
}

// Stage is a unit of the fixed pipeline sequence. Stages are defined once at
// startup and never mutated.
type Stage struct {
	Ordinal   int
	Name      string
	Inputs    []string
	Outputs   []Output
	Procedure Procedure
	// Iterative marks the backtranslation stage whose execution is expanded
	// into rounds by the iteration controller.
	Iterative bool
	// Settings is the stage-scoped configuration. Its fingerprint is recorded
	// with published artifacts.
	Settings any
	// Params are handed to the procedure through the invocation.
	Params map[string]string
	// Timeout bounds a single attempt. Zero means no limit.
	Timeout time.Duration
}

// ID renders the stable identifier used for artifact directories and logs.
func (s *Stage) ID() string {
	if s == nil {
		return ""
	}
	return fmt.Sprintf("%02d-%s", s.Ordinal, s.Name)
}

// Validate ensures the definition is well formed.
func (s *Stage) Validate() error {
	if s == nil {
		return fmt.Errorf("stage is nil")
	}
	if s.Ordinal <= 0 {
		return fmt.Errorf("stage %q: ordinal must be positive", s.Name)
	}
	if !namePattern.MatchString(s.Name) {
		return fmt.Errorf("stage %d: name %q must match %s", s.Ordinal, s.Name, namePattern)
	}
	if len(s.Outputs) == 0 {
		return fmt.Errorf("stage %s declares no outputs", s.ID())
	}
	seen := make(map[string]struct{}, len(s.Outputs))
	for _, out := range s.Outputs {
		if out.Key == "" {
			return fmt.Errorf("stage %s declares an empty output key", s.ID())
		}
		if _, dup := seen[out.Key]; dup {
			return fmt.Errorf("stage %s declares output %q twice", s.ID(), out.Key)
		}
		seen[out.Key] = struct{}{}
	}
	if s.Procedure == nil {
		return fmt.Errorf("stage %s has no procedure", s.ID())
	}
	return nil
}

// Fingerprint hashes an arbitrary settings value. yaml.v3 sorts map keys, so
// equal settings always hash equally.
func Fingerprint(settings any) (string, error) {
	if settings == nil {
		return "", nil
	}
	data, err := yaml.Marshal(settings)
	if err != nil {
		return "", fmt.Errorf("fingerprint settings: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
