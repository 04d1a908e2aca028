package history

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracestate/tracestate/state"
)

// buildHistory writes a small history through a state system into backend:
// a queue lane null [0,5) "k1" [5,25) null [25,40), a counter and an edge lane.
func buildHistory(t *testing.T, backend state.Backend) *state.StateSystem {
	t.Helper()
	ss := state.New(state.Config{StartTime: 0, Backend: backend})
	tree := ss.Tree()
	queue := tree.QuarkAbsoluteAndAdd("Processes", "GPU 0", "Queues", "Queue 1", "CallStack")
	counter := tree.QuarkAbsoluteAndAdd("Counters", "0", "bytes")
	lane := tree.QuarkAbsoluteAndAdd("Edges", "0")

	require.NoError(t, ss.PushAttribute(5, state.StringValue("k1"), queue))
	require.NoError(t, ss.IncrementAttribute(7, 64, counter))
	edge := state.Edge{ID: 7, Source: state.Endpoint{Host: "Thread 1", ID: 0}, Dest: state.Endpoint{Host: "Queue 1", ID: 1}}
	require.NoError(t, ss.ModifyAttribute(3, state.EdgeValue(edge), lane))
	require.NoError(t, ss.ModifyAttribute(9, state.NullValue(), lane))
	require.NoError(t, ss.ModifyAttribute(12, state.DoubleValue(0.5), counter))
	_, err := ss.PopAttribute(25, queue)
	require.NoError(t, err)
	require.NoError(t, ss.CloseHistory(40))
	return ss
}

func TestHistory_InMemory_MatchesStateSystem(t *testing.T) {
	// GIVEN a history written to an in-memory store
	w, err := NewWriter(state.BackendConfig{InMemory: true})
	require.NoError(t, err)
	defer w.Close()
	ss := buildHistory(t, w)

	// WHEN read back
	r, err := w.Reader()
	require.NoError(t, err)
	defer r.Close()

	// THEN the tree and every query agree with the in-memory store
	assert.Equal(t, ss.Tree().NumAttributes(), r.Tree().NumAttributes())
	for q := state.Quark(0); int(q) < ss.Tree().NumAttributes(); q++ {
		assert.Equal(t, ss.Tree().FullPath(q), r.Tree().FullPath(q))
	}
	for _, at := range []int64{0, 3, 5, 8, 9, 24, 25, 39, 40} {
		want, err := ss.QueryFullState(at)
		require.NoError(t, err)
		got, err := r.QueryFullState(at)
		require.NoError(t, err)
		if diff := cmp.Diff(want, got, cmp.AllowUnexported(state.Value{})); diff != "" {
			t.Errorf("full state at %d mismatch (-memory +stored):\n%s", at, diff)
		}
	}
	all := make([]state.Quark, 0)
	for q := state.Quark(0); int(q) < ss.Tree().NumAttributes(); q++ {
		all = append(all, q)
	}
	want, err := ss.Query2D(all, 4, 30)
	require.NoError(t, err)
	got, err := r.Query2D(all, 4, 30)
	require.NoError(t, err)
	if diff := cmp.Diff(want, got, cmp.AllowUnexported(state.Value{})); diff != "" {
		t.Errorf("2D query mismatch (-memory +stored):\n%s", diff)
	}
}

func TestHistory_OnDisk_ReopenedReadOnly(t *testing.T) {
	// GIVEN a history written to disk through the registered backend
	dir := filepath.Join(t.TempDir(), "callstack")
	backend, err := state.NewPersistentBackend(state.BackendConfig{Path: dir})
	require.NoError(t, err)
	ss := buildHistory(t, backend)
	require.NoError(t, ss.Dispose())

	// WHEN reopened
	r, err := OpenReader(dir)
	require.NoError(t, err)
	defer r.Close()

	// THEN range and values survive
	assert.Equal(t, int64(0), r.StartTime())
	assert.Equal(t, int64(40), r.EndTime())
	assert.Positive(t, r.Intervals())
	q, err := r.Tree().QuarkAbsolute("Processes", "GPU 0", "Queues", "Queue 1", "CallStack")
	require.NoError(t, err)
	iv, err := r.QuerySingleState(10, q)
	require.NoError(t, err)
	assert.Equal(t, state.Interval{Quark: q, Start: 5, End: 25, Value: state.StringValue("k1")}, iv)

	lane, err := r.Tree().QuarkAbsolute("Edges", "0")
	require.NoError(t, err)
	iv, err = r.QuerySingleState(3, lane)
	require.NoError(t, err)
	edge, ok := iv.Value.Edge()
	require.True(t, ok)
	assert.Equal(t, int32(7), edge.ID)
	assert.Equal(t, "Queue 1", edge.Dest.Host)

	iv, err = r.QuerySingleState(40, q)
	require.NoError(t, err)
	assert.Equal(t, int64(25), iv.Start, "end of history gives the last interval")
}

func TestReader_Errors(t *testing.T) {
	w, err := NewWriter(state.BackendConfig{InMemory: true})
	require.NoError(t, err)
	defer w.Close()
	buildHistory(t, w)
	r, err := w.Reader()
	require.NoError(t, err)

	_, err = r.QuerySingleState(41, 0)
	assert.True(t, errors.Is(err, state.ErrTimeRange))
	_, err = r.QuerySingleState(1, state.Quark(99))
	assert.True(t, errors.Is(err, state.ErrAttributeNotFound))
	_, err = r.Query2D([]state.Quark{0}, 20, 10)
	assert.True(t, errors.Is(err, state.ErrTimeRange))
	_, err = r.Query2D([]state.Quark{0}, 50, 60)
	assert.True(t, errors.Is(err, state.ErrTimeRange))
}

func TestHistory_SingleTimestamp_KeepsValues(t *testing.T) {
	// GIVEN a history that starts and ends at 5 with values written at 5
	w, err := NewWriter(state.BackendConfig{InMemory: true})
	require.NoError(t, err)
	defer w.Close()
	ss := state.New(state.Config{StartTime: 5, Backend: w})
	info := ss.Tree().QuarkAbsoluteAndAdd("GPUInfo", "0", "arch")
	host := ss.Tree().QuarkAbsoluteAndAdd("Processes", "System", "Thread 1", "API")
	require.NoError(t, ss.ModifyAttribute(5, state.StringValue("gfx90a"), info))
	require.NoError(t, ss.ModifyAttribute(5, state.IntValue(0), host))
	require.NoError(t, ss.CloseHistory(5))

	// WHEN read back
	r, err := w.Reader()
	require.NoError(t, err)

	// THEN point and range queries agree with the in-memory store
	for q := state.Quark(0); int(q) < ss.Tree().NumAttributes(); q++ {
		want, err := ss.QuerySingleState(5, q)
		require.NoError(t, err)
		got, err := r.QuerySingleState(5, q)
		require.NoError(t, err)
		if diff := cmp.Diff(want, got, cmp.AllowUnexported(state.Value{})); diff != "" {
			t.Errorf("%s at 5 mismatch (-memory +stored):\n%s", ss.Tree().FullPath(q), diff)
		}
	}
	got, err := r.Query2D([]state.Quark{info}, 5, 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, state.StringValue("gfx90a"), got[0].Value)
}

func TestWriter_Lifecycle(t *testing.T) {
	w, err := NewWriter(state.BackendConfig{InMemory: true})
	require.NoError(t, err)

	_, err = w.Reader()
	assert.Error(t, err, "not finished yet")

	require.NoError(t, w.Close())
	require.NoError(t, w.Close(), "close is idempotent")
	err = w.Append(state.Interval{Quark: 0, Start: 0, End: 1})
	assert.True(t, errors.Is(err, ErrClosed))
}

func TestOpenReader_UnfinishedHistory(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(state.BackendConfig{Path: dir})
	require.NoError(t, err)
	require.NoError(t, w.Append(state.Interval{Quark: 0, Start: 0, End: 1, Value: state.IntValue(1)}))
	require.NoError(t, w.Close())

	_, err = OpenReader(dir)
	assert.Error(t, err)
}

func TestNewWriter_RequiresPath(t *testing.T) {
	_, err := NewWriter(state.BackendConfig{})
	assert.Error(t, err)
}

func TestIntervalKey_OrdersNegativeTimesFirst(t *testing.T) {
	assert.Less(t, string(intervalKey(1, -5)), string(intervalKey(1, 3)))
	assert.Less(t, string(intervalKey(1, 1<<40)), string(intervalKey(2, -1)))
}
