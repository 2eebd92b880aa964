package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/njdelapaz/Translation-Without-Supervision/internal/stage"
)

const (
	stagingSuffix    = ".staging"
	supersededSuffix = ".superseded-"
	logsDir          = "logs"
	tmpDir           = "tmp"
)

// Store owns every read and write under the working directory. The directory
// is assumed to be used by a single pipeline run at a time.
type Store struct {
	root string
	now  func() time.Time
}

// Open prepares the working directory layout.
func Open(root string) (*Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("working directory is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve working directory: %w", err)
	}
	for _, dir := range []string{abs, filepath.Join(abs, logsDir), filepath.Join(abs, tmpDir)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return &Store{root: abs, now: time.Now}, nil
}

// Root returns the absolute working directory.
func (s *Store) Root() string {
	return s.root
}

// Dir returns the committed location of a namespace.
func (s *Store) Dir(ns Namespace) string {
	return filepath.Join(s.root, filepath.FromSlash(ns.String()))
}

// Path returns the committed location of an artifact.
func (s *Store) Path(ref Ref) string {
	return filepath.Join(s.Dir(ref.Namespace), ref.Key)
}

// LogPath returns the stage-scoped log file of a namespace.
func (s *Store) LogPath(ns Namespace) string {
	return filepath.Join(s.root, logsDir, ns.logName())
}

// TempDir returns a scratch directory for a namespace, created empty.
func (s *Store) TempDir(ns Namespace) (string, error) {
	dir := filepath.Join(s.root, tmpDir, strings.TrimSuffix(ns.logName(), ".log"))
	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("clear temp dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}
	return dir, nil
}

// RemoveTempDir deletes the scratch directory of a namespace.
func (s *Store) RemoveTempDir(ns Namespace) error {
	return os.RemoveAll(filepath.Join(s.root, tmpDir, strings.TrimSuffix(ns.logName(), ".log")))
}

// OpenLog opens the stage-scoped log of ns for appending.
func (s *Store) OpenLog(ns Namespace) (*os.File, error) {
	f, err := os.OpenFile(s.LogPath(ns), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log for %s: %w", ns, err)
	}
	return f, nil
}

// Check is the result of a completeness check.
type Check struct {
	Satisfied bool
	Reason    string
}

// Satisfied reports whether every declared output of ns is published,
// matches its manifest, passes its completeness predicate, and was produced
// under the given fingerprint. Any mismatch, including a zero-byte or
// truncated file, is unsatisfied.
func (s *Store) Satisfied(ns Namespace, outputs []stage.Output, fingerprint string) (Check, error) {
	dir := s.Dir(ns)
	manifest, err := readManifest(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Check{Reason: "not published"}, nil
		}
		return Check{Reason: err.Error()}, nil
	}
	if manifest.Fingerprint != fingerprint {
		return Check{Reason: "configuration or inputs changed since publish"}, nil
	}

	for _, out := range outputs {
		entry, ok := manifest.Entry(out.Key)
		if !ok {
			return Check{Reason: fmt.Sprintf("artifact %s missing from manifest", out.Key)}, nil
		}
		path := filepath.Join(dir, out.Key)
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return Check{Reason: fmt.Sprintf("artifact %s missing", out.Key)}, nil
			}
			return Check{}, fmt.Errorf("stat %s: %w", path, err)
		}
		if info.Size() != entry.Size {
			return Check{Reason: fmt.Sprintf("artifact %s has %d bytes, manifest records %d", out.Key, info.Size(), entry.Size)}, nil
		}
		if err := out.Validate(path); err != nil {
			return Check{Reason: err.Error()}, nil
		}
	}

	return Check{Satisfied: true}, nil
}

// Manifest returns the manifest of a published namespace.
func (s *Store) Manifest(ns Namespace) (*Manifest, error) {
	return readManifest(s.Dir(ns))
}

// Input is a resolved stage input: where it lives and a digest identifying
// the exact publication it came from.
type Input struct {
	Path   string
	Digest string
}

// Resolve locates a published artifact and its lineage digest.
func (s *Store) Resolve(ref Ref) (Input, error) {
	manifest, err := s.Manifest(ref.Namespace)
	if err != nil {
		return Input{}, fmt.Errorf("resolve %s: %w", ref, err)
	}
	if _, ok := manifest.Entry(ref.Key); !ok {
		return Input{}, fmt.Errorf("resolve %s: key not published", ref)
	}
	return Input{Path: s.Path(ref), Digest: manifest.Digest + ":" + ref.Key}, nil
}

// External resolves a path outside the store, such as a raw corpus.
func External(path string) (Input, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Input{}, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return Input{}, err
	}
	if info.IsDir() {
		return Input{}, fmt.Errorf("%s is a directory", abs)
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%d", abs, info.Size(), info.ModTime().UnixNano())))
	return Input{Path: abs, Digest: hex.EncodeToString(sum[:])}, nil
}

// Staging is an uncommitted output directory. Nothing written here is
// visible to other units until Publish succeeds.
type Staging struct {
	ns      Namespace
	dir     string
	outputs []stage.Output
	paths   map[string]string
	store   *Store
}

// Begin creates a clean staging directory for ns, removing leftovers of
// crashed or failed attempts.
func (s *Store) Begin(ns Namespace, outputs []stage.Output) (*Staging, error) {
	final := s.Dir(ns)
	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return nil, fmt.Errorf("create parent of %s: %w", final, err)
	}
	if err := s.removeLeftovers(final); err != nil {
		return nil, err
	}

	dir := final + stagingSuffix
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}

	paths := make(map[string]string, len(outputs))
	for _, out := range outputs {
		if out.Key == "" || strings.ContainsAny(out.Key, `/\`) || out.Key == ManifestFile {
			_ = os.RemoveAll(dir)
			return nil, fmt.Errorf("invalid artifact key %q", out.Key)
		}
		paths[out.Key] = filepath.Join(dir, out.Key)
	}

	return &Staging{ns: ns, dir: dir, outputs: outputs, paths: paths, store: s}, nil
}

// Paths returns the staging location of each declared output.
func (st *Staging) Paths() map[string]string {
	out := make(map[string]string, len(st.paths))
	for k, v := range st.paths {
		out[k] = v
	}
	return out
}

// Discard removes the staging directory.
func (st *Staging) Discard() error {
	if st == nil {
		return nil
	}
	return os.RemoveAll(st.dir)
}

// PublishOptions carries the metadata recorded in the manifest.
type PublishOptions struct {
	Fingerprint string
	Degraded    string
}

// Publish commits a staging directory. Either every declared output is
// valid and the whole directory becomes visible at once, or nothing changes
// in the committed location. A previous publication is moved aside before
// the rename and removed afterwards.
func (s *Store) Publish(st *Staging, opts PublishOptions) (map[string]string, error) {
	if st == nil || st.store != s {
		return nil, fmt.Errorf("staging does not belong to this store")
	}

	manifest := &Manifest{
		Namespace:   st.ns.String(),
		Fingerprint: opts.Fingerprint,
		CompletedAt: s.now().UTC(),
		Degraded:    opts.Degraded,
	}

	var problems []string
	for _, out := range st.outputs {
		path := st.paths[out.Key]
		if err := out.Validate(path); err != nil {
			problems = append(problems, err.Error())
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			problems = append(problems, err.Error())
			continue
		}
		manifest.Artifacts = append(manifest.Artifacts, ManifestEntry{Key: out.Key, Size: info.Size()})
	}
	if len(problems) > 0 {
		sort.Strings(problems)
		return nil, fmt.Errorf("publish %s: %s", st.ns, strings.Join(problems, "; "))
	}

	if err := writeManifest(st.dir, manifest); err != nil {
		return nil, err
	}

	final := s.Dir(st.ns)
	aside := ""
	if _, err := os.Stat(final); err == nil {
		aside = fmt.Sprintf("%s%s%d", final, supersededSuffix, s.now().UnixNano())
		if err := os.Rename(final, aside); err != nil {
			return nil, fmt.Errorf("move aside previous %s: %w", st.ns, err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("stat %s: %w", final, err)
	}

	if err := os.Rename(st.dir, final); err != nil {
		if aside != "" {
			_ = os.Rename(aside, final)
		}
		return nil, fmt.Errorf("commit %s: %w", st.ns, err)
	}
	if aside != "" {
		_ = os.RemoveAll(aside)
	}

	published := make(map[string]string, len(st.outputs))
	for _, out := range st.outputs {
		published[out.Key] = filepath.Join(final, out.Key)
	}
	return published, nil
}

func (s *Store) removeLeftovers(final string) error {
	if err := os.RemoveAll(final + stagingSuffix); err != nil {
		return fmt.Errorf("remove stale staging dir: %w", err)
	}
	matches, err := filepath.Glob(final + supersededSuffix + "*")
	if err != nil {
		return err
	}
	for _, m := range matches {
		if err := os.RemoveAll(m); err != nil {
			return fmt.Errorf("remove superseded dir: %w", err)
		}
	}
	return nil
}
