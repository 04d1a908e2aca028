// Package testutil provides shared test infrastructure for the state packages:
// the golden history dataset and interval helpers used by the provider and
// analysis tests.
package testutil

import (
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/tracestate/tracestate/state"
	"github.com/tracestate/tracestate/state/event"
)

// GoldenDataset represents the structure of testdata/golden_histories.yaml.
type GoldenDataset struct {
	Tests []GoldenTestCase `yaml:"tests"`
}

// GoldenTestCase is an event stream and the non-null intervals it must produce.
type GoldenTestCase struct {
	Name   string           `yaml:"name"`
	Layout string           `yaml:"layout"` // YAML overrides on the default layout
	Events []map[string]any `yaml:"events"`
	Expect []GoldenInterval `yaml:"expect"`
}

// GoldenInterval is an expected interval, its value rendered with Value.String.
type GoldenInterval struct {
	Path  string `yaml:"path"`
	Start int64  `yaml:"start"`
	End   int64  `yaml:"end"`
	Value string `yaml:"value"`
}

// LoadGoldenDataset loads the golden dataset from the testdata directory.
// The path is resolved relative to this source file: state/internal/testutil/ → testdata/.
func LoadGoldenDataset(t *testing.T) *GoldenDataset {
	t.Helper()

	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("Failed to get current file path")
	}
	path := filepath.Join(filepath.Dir(thisFile), "..", "..", "..", "testdata", "golden_histories.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read golden dataset: %v", err)
	}

	var dataset GoldenDataset
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&dataset); err != nil {
		t.Fatalf("Failed to parse golden dataset: %v", err)
	}
	return &dataset
}

// EventList decodes the records of a test case.
func (tc GoldenTestCase) EventList(t *testing.T) []*event.Event {
	t.Helper()
	events := make([]*event.Event, 0, len(tc.Events))
	for i, record := range tc.Events {
		ev, err := event.FromRecord(record)
		if err != nil {
			t.Fatalf("%s: event %d: %v", tc.Name, i, err)
		}
		events = append(events, ev)
	}
	return events
}

// NonNullIntervals returns the non-null intervals of the attribute at path
// over the whole history of ss.
func NonNullIntervals(t *testing.T, ss *state.StateSystem, path string) []state.Interval {
	t.Helper()
	q, err := ss.Tree().QuarkAbsolute(strings.Split(path, state.PathSeparator)...)
	if err != nil {
		t.Fatalf("attribute %s: %v", path, err)
	}
	ivs, err := ss.Query2D([]state.Quark{q}, ss.StartTime(), ss.CurrentEndTime())
	if err != nil {
		t.Fatalf("query %s: %v", path, err)
	}
	result := make([]state.Interval, 0, len(ivs))
	for _, iv := range ivs {
		if !iv.Value.IsNull() {
			result = append(result, iv)
		}
	}
	return result
}

// AssertGolden checks every expected interval of tc against ss: for each path,
// the non-null intervals must equal the expected ones in order.
func AssertGolden(t *testing.T, ss *state.StateSystem, tc GoldenTestCase) {
	t.Helper()
	byPath := make(map[string][]GoldenInterval)
	var order []string
	for _, want := range tc.Expect {
		if _, seen := byPath[want.Path]; !seen {
			order = append(order, want.Path)
		}
		byPath[want.Path] = append(byPath[want.Path], want)
	}
	for _, path := range order {
		want := byPath[path]
		got := NonNullIntervals(t, ss, path)
		if len(got) != len(want) {
			t.Errorf("%s: %s: got %d intervals %v, want %d", tc.Name, path, len(got), got, len(want))
			continue
		}
		for i := range want {
			g := GoldenInterval{Path: path, Start: got[i].Start, End: got[i].End, Value: got[i].Value.String()}
			if g != want[i] {
				t.Errorf("%s: %s[%d]: got %+v, want %+v", tc.Name, path, i, g, want[i])
			}
		}
	}
}
