// Package manifest describes the contents of a release archive: build
// identity, source revision and per-artifact checksums. The manifest travels
// inside the archive so a deployed release can always be traced back.
package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// EntryName is the archive entry the manifest is stored under.
const EntryName = "manifest.yaml"

// ChecksumsEntryName is the archive entry holding the checksum list.
const ChecksumsEntryName = "checksums.txt"

// Manifest records what a release archive contains and where it came from.
type Manifest struct {
	BuildID   string     `yaml:"build_id"`
	Project   string     `yaml:"project"`
	Version   string     `yaml:"version,omitempty"`
	Commit    string     `yaml:"commit,omitempty"`
	Dirty     bool       `yaml:"dirty,omitempty"`
	CreatedAt time.Time  `yaml:"created_at"`
	Artifacts []Artifact `yaml:"artifacts"`
}

// Artifact is one archive entry with its content hash.
type Artifact struct {
	Entry  string `yaml:"entry"` // archive entry name
	SHA256 string `yaml:"sha256"`
	Size   int64  `yaml:"size"`
}

// New creates a manifest with a fresh build id.
func New(project, version string) *Manifest {
	return &Manifest{
		BuildID:   uuid.NewString(),
		Project:   project,
		Version:   version,
		CreatedAt: time.Now().UTC(),
	}
}

// AddFile hashes the file at path and records it under the given entry name.
func (m *Manifest) AddFile(entry, path string) error {
	sum, size, err := FileSHA256(path)
	if err != nil {
		return fmt.Errorf("hash %s: %w", path, err)
	}
	m.Artifacts = append(m.Artifacts, Artifact{Entry: entry, SHA256: sum, Size: size})
	return nil
}

// AddBytes records an in-memory artifact under the given entry name.
func (m *Manifest) AddBytes(entry string, data []byte) {
	sum := sha256.Sum256(data)
	m.Artifacts = append(m.Artifacts, Artifact{
		Entry:  entry,
		SHA256: hex.EncodeToString(sum[:]),
		Size:   int64(len(data)),
	})
}

// Sort orders artifacts by entry name for stable output.
func (m *Manifest) Sort() {
	sort.Slice(m.Artifacts, func(i, j int) bool { return m.Artifacts[i].Entry < m.Artifacts[j].Entry })
}

// Encode renders the manifest as YAML.
func (m *Manifest) Encode() ([]byte, error) {
	m.Sort()
	data, err := yaml.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}
	return data, nil
}

// Decode parses a manifest from YAML.
func Decode(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal manifest: %w", err)
	}
	return &m, nil
}

// Checksums renders the artifact list in the conventional
// "<sha256>  <entry>" format understood by sha256sum -c.
func (m *Manifest) Checksums() []byte {
	m.Sort()
	var b strings.Builder
	for _, a := range m.Artifacts {
		fmt.Fprintf(&b, "%s  %s\n", a.SHA256, a.Entry)
	}
	return []byte(b.String())
}

// FileSHA256 returns the hex-encoded SHA256 and size of a file.
func FileSHA256(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), size, nil
}
