package event

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, src Source) []*Event {
	t.Helper()
	it, err := src.Iterator()
	require.NoError(t, err)
	defer it.Close()
	var events []*Event
	for {
		ev, err := it.Next(context.Background())
		if errors.Is(err, io.EOF) {
			return events
		}
		require.NoError(t, err)
		events = append(events, ev)
	}
}

func TestSliceSource_Replayable(t *testing.T) {
	// GIVEN a slice source with two events
	src := NewSliceSource(New("a", 1, nil), New("b", 2, nil))

	// WHEN it is iterated twice
	firstPass := drain(t, src)
	secondPass := drain(t, src)

	// THEN both passes see the full stream from the beginning
	assert.Len(t, firstPass, 2)
	assert.Equal(t, firstPass, secondPass)
}

func TestSliceIterator_CancelledContext(t *testing.T) {
	it, err := NewSliceSource(New("a", 1, nil)).Iterator()
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = it.Next(ctx)

	assert.ErrorIs(t, err, context.Canceled)
}

func TestFileSource_JSONLines_SkipsMalformedLines(t *testing.T) {
	// GIVEN a JSON lines file with one broken line and one record without timestamp
	path := filepath.Join(t.TempDir(), "events.jsonl")
	content := `{"name": "op_begin", "ts": 10, "tid": 1}
{not json
{"name": "op_end", "tid": 1}

{"name": "op_end", "ts": 25, "tid": 1}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	// WHEN the file is read
	src, err := NewFileSource(path, "")
	require.NoError(t, err)
	events := drain(t, src)

	// THEN only the well-formed records come through, in order
	require.Len(t, events, 2)
	assert.Equal(t, "op_begin", events[0].Name)
	assert.Equal(t, int64(10), events[0].Timestamp)
	assert.Equal(t, int64(25), events[1].Timestamp)
	tid, ok := events[1].Long("tid")
	assert.True(t, ok)
	assert.Equal(t, int64(1), tid)
}

func TestFileSource_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.yaml")
	content := `events:
  - name: kernel
    ts: 5
    dur: 20
    gpu_id: 0
    queue_id: 1
  - name: dispatch
    ts: 3
    fields:
      correlation_id: 7
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	src, err := NewFileSource(path, FormatYAML)
	require.NoError(t, err)
	events := drain(t, src)

	require.Len(t, events, 2)
	dur, _ := events[0].Long("dur")
	assert.Equal(t, int64(20), dur)
	corr, _ := events[1].Long("correlation_id")
	assert.Equal(t, int64(7), corr)
}

func TestFileSource_YAML_UnknownTopLevelKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.yaml")
	require.NoError(t, os.WriteFile(path, []byte("evnets: []\n"), 0o644))

	src, err := NewFileSource(path, FormatYAML)
	require.NoError(t, err)
	_, err = src.Iterator()

	assert.Error(t, err)
}

func TestNewFileSource_Errors(t *testing.T) {
	_, err := NewFileSource(filepath.Join(t.TempDir(), "absent.jsonl"), "")
	assert.Error(t, err)

	_, err = NewFileSource("whatever", Format("csv"))
	assert.Error(t, err)
	assert.False(t, IsValidFormat("csv"))
	assert.True(t, IsValidFormat("jsonl"))
}
