package event

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Iterator yields events in stream order. Next returns io.EOF after the last event.
type Iterator interface {
	Next(ctx context.Context) (*Event, error)
	Close() error
}

// Source is a replayable event stream: every call to Iterator starts from the
// first event, so several builders can consume the same trace independently.
type Source interface {
	Iterator() (Iterator, error)
}

// SliceSource replays events held in memory.
type SliceSource struct {
	events []*Event
}

// NewSliceSource creates a source over events, in the given order.
func NewSliceSource(events ...*Event) *SliceSource {
	return &SliceSource{events: events}
}

// Iterator implements Source.
func (s *SliceSource) Iterator() (Iterator, error) {
	return &sliceIterator{events: s.events}, nil
}

type sliceIterator struct {
	events []*Event
	pos    int
}

func (it *sliceIterator) Next(ctx context.Context) (*Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if it.pos >= len(it.events) {
		return nil, io.EOF
	}
	ev := it.events[it.pos]
	it.pos++
	return ev, nil
}

func (it *sliceIterator) Close() error { return nil }

// Format is the on-disk layout of an event file.
type Format string

const (
	// FormatJSONLines is one JSON object per line, read lazily.
	FormatJSONLines Format = "jsonl"
	// FormatYAML is a YAML document with a top-level events list.
	FormatYAML Format = "yaml"
)

// validFormats maps accepted format strings.
var validFormats = map[Format]bool{
	FormatJSONLines: true,
	FormatYAML:      true,
}

// IsValidFormat returns true if the given string names a supported file format.
func IsValidFormat(f string) bool {
	return validFormats[Format(f)]
}

// FormatFromPath guesses the format from the file extension.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSONLines
	}
}

// FileSource replays events from a file. Each record is an object with "name",
// "ts" and payload fields, either flat or nested under "fields":
//
//	{"name": "hip_api", "ts": 10, "tid": 1, "fields": {"name": "hipMalloc_enter"}}
//
// Records that cannot be decoded are skipped with a warning.
type FileSource struct {
	Path   string
	Format Format
}

// NewFileSource checks that path is readable and returns a source over it.
// An empty format is derived from the extension.
func NewFileSource(path string, format Format) (*FileSource, error) {
	if format == "" {
		format = FormatFromPath(path)
	}
	if !validFormats[format] {
		return nil, fmt.Errorf("unknown event file format %q", format)
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("event file: %w", err)
	}
	return &FileSource{Path: path, Format: format}, nil
}

// Iterator implements Source.
func (s *FileSource) Iterator() (Iterator, error) {
	switch s.Format {
	case FormatYAML:
		events, err := loadYAML(s.Path)
		if err != nil {
			return nil, err
		}
		return &sliceIterator{events: events}, nil
	default:
		f, err := os.Open(s.Path)
		if err != nil {
			return nil, fmt.Errorf("opening event file: %w", err)
		}
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		return &jsonLinesIterator{path: s.Path, file: f, scanner: scanner}, nil
	}
}

type jsonLinesIterator struct {
	path    string
	file    *os.File
	scanner *bufio.Scanner
	line    int
}

func (it *jsonLinesIterator) Next(ctx context.Context) (*Event, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !it.scanner.Scan() {
			if err := it.scanner.Err(); err != nil {
				return nil, fmt.Errorf("reading %s: %w", it.path, err)
			}
			return nil, io.EOF
		}
		it.line++
		raw := bytes.TrimSpace(it.scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		decoder := json.NewDecoder(bytes.NewReader(raw))
		decoder.UseNumber()
		var record map[string]any
		if err := decoder.Decode(&record); err != nil {
			logrus.Warnf("events %s:%d skipped: %v", it.path, it.line, err)
			continue
		}
		ev, err := FromRecord(record)
		if err != nil {
			logrus.Warnf("events %s:%d skipped: %v", it.path, it.line, err)
			continue
		}
		return ev, nil
	}
}

func (it *jsonLinesIterator) Close() error {
	return it.file.Close()
}

// eventFile is the YAML layout. Strict decoding rejects unknown top-level keys.
type eventFile struct {
	Events []map[string]any `yaml:"events"`
}

func loadYAML(path string) ([]*Event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading event file: %w", err)
	}
	var file eventFile
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil {
		return nil, fmt.Errorf("parsing event file %s: %w", path, err)
	}
	events := make([]*Event, 0, len(file.Events))
	for i, record := range file.Events {
		ev, err := FromRecord(record)
		if err != nil {
			logrus.Warnf("events %s[%d] skipped: %v", path, i, err)
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// FromRecord builds an event from a decoded object. "name" and "ts" are
// required; every other key becomes a field, and keys of a nested "fields"
// object override flat ones.
func FromRecord(record map[string]any) (*Event, error) {
	name, ok := record["name"].(string)
	if !ok || name == "" {
		return nil, fmt.Errorf("record has no event name")
	}
	ts, ok := toLong(record["ts"])
	if !ok {
		return nil, fmt.Errorf("event %q has no integer timestamp", name)
	}
	fields := Fields{}
	for k, v := range record {
		if k == "name" || k == "ts" || k == "fields" {
			continue
		}
		fields[k] = v
	}
	if nested, ok := record["fields"].(map[string]any); ok {
		for k, v := range nested {
			fields[k] = v
		}
	}
	return &Event{Name: name, Timestamp: ts, Fields: fields}, nil
}
