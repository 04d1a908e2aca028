package analysis

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ManifestFile is written at the root of a history directory.
const ManifestFile = "manifest.yaml"

// Manifest lists the histories of a build.
type Manifest struct {
	BuildID  string          `yaml:"build_id"`
	Analyses []ManifestEntry `yaml:"analyses"`
}

// ManifestEntry describes one stored history.
type ManifestEntry struct {
	ID         string `yaml:"id"`
	Path       string `yaml:"path"` // relative to the history directory
	StartTime  int64  `yaml:"start_time"`
	EndTime    int64  `yaml:"end_time"`
	Attributes int    `yaml:"attributes"`
	Events     int    `yaml:"events"`
	Skipped    int    `yaml:"skipped"`
	Rejected   int    `yaml:"rejected"`
	Edges      int    `yaml:"edges"`
}

// WriteManifest records report in dir.
func WriteManifest(dir string, report *Report) error {
	m := Manifest{BuildID: report.BuildID}
	for _, res := range report.Results {
		ss := res.StateSystem
		m.Analyses = append(m.Analyses, ManifestEntry{
			ID:         res.ID,
			Path:       res.ID,
			StartTime:  ss.StartTime(),
			EndTime:    ss.CurrentEndTime(),
			Attributes: ss.Tree().NumAttributes(),
			Events:     res.Stats.Events,
			Skipped:    res.Stats.Skipped,
			Rejected:   res.Stats.Rejected,
			Edges:      res.Stats.Edges,
		})
	}
	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(&m); err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ManifestFile), buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	return nil
}

// ReadManifest loads the manifest of a history directory.
func ReadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	var m Manifest
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&m); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	return &m, nil
}

// Entry returns the entry of analysis id.
func (m *Manifest) Entry(id string) (ManifestEntry, bool) {
	for _, e := range m.Analyses {
		if e.ID == id {
			return e, true
		}
	}
	return ManifestEntry{}, false
}
