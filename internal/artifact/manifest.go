package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ManifestFile is written last inside a staging directory; its presence in a
// published directory is what makes the directory complete.
const ManifestFile = "MANIFEST.yaml"

// Manifest records what a unit published.
type Manifest struct {
	Namespace   string          `yaml:"namespace"`
	Fingerprint string          `yaml:"fingerprint"`
	CompletedAt time.Time       `yaml:"completed_at"`
	Degraded    string          `yaml:"degraded,omitempty"`
	Artifacts   []ManifestEntry `yaml:"artifacts"`
	Digest      string          `yaml:"digest"`
}

// ManifestEntry describes one published artifact.
type ManifestEntry struct {
	Key  string `yaml:"key"`
	Size int64  `yaml:"size"`
}

// Entry looks up an artifact by key.
func (m *Manifest) Entry(key string) (ManifestEntry, bool) {
	for _, e := range m.Artifacts {
		if e.Key == key {
			return e, true
		}
	}
	return ManifestEntry{}, false
}

func (m *Manifest) computeDigest() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\n%s\n%s\n", m.Namespace, m.Fingerprint, m.CompletedAt.UTC().Format(time.RFC3339Nano))
	for _, e := range m.Artifacts {
		fmt.Fprintf(h, "%s=%d\n", e.Key, e.Size)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func readManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest in %s: %w", dir, err)
	}
	if m.Digest == "" || m.Digest != m.computeDigest() {
		return nil, fmt.Errorf("manifest in %s is corrupt", dir)
	}
	return &m, nil
}

// writeManifest writes through a temporary file and renames it into place.
func writeManifest(dir string, m *Manifest) error {
	m.Digest = m.computeDigest()
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}

	final := filepath.Join(dir, ManifestFile)
	tmp := final + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("sync manifest: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close manifest: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename manifest: %w", err)
	}
	return nil
}
