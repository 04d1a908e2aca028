package analysis

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracestate/tracestate/state"
	"github.com/tracestate/tracestate/state/event"
	"github.com/tracestate/tracestate/state/history"
	"github.com/tracestate/tracestate/state/provider"
)

func sampleEvents() []*event.Event {
	return []*event.Event{
		event.New("gpu_info", 0, event.Fields{"gpu_id": 0, "arch": "gfx90a"}),
		event.New("op_begin", 10, event.Fields{"tid": 1}),
		event.New("kernel", 12, event.Fields{"gpu_id": 0, "queue_id": 1, "dur": 8, "grid": 64}),
		event.New("op_end", 25, event.Fields{"tid": 1}),
	}
}

func counterLayout(t *testing.T) *provider.Layout {
	t.Helper()
	layout, err := provider.ParseLayout([]byte("counters:\n  - {event: kernel, field: grid, group: gpu_id, cumulative: true}\n"))
	require.NoError(t, err)
	return layout
}

func TestRun_AllAnalyses_SeparateStores(t *testing.T) {
	// GIVEN one trace and every built-in analysis
	src := event.NewSliceSource(sampleEvents()...)

	// WHEN built
	report, err := Run(context.Background(), src, Config{Layout: counterLayout(t)})

	// THEN each analysis holds only its own attributes
	require.NoError(t, err)
	require.Len(t, report.Results, 3)
	assert.NotEmpty(t, report.BuildID)

	cs, ok := report.Result(CallStack)
	require.True(t, ok)
	_, err = cs.StateSystem.Tree().QuarkAbsolute("Processes", "GPU 0", "Queues", "Queue 1", "CallStack")
	assert.NoError(t, err)
	_, err = cs.StateSystem.Tree().QuarkAbsolute("Counters")
	assert.True(t, errors.Is(err, state.ErrAttributeNotFound))

	counters, ok := report.Result(Counters)
	require.True(t, ok)
	q, err := counters.StateSystem.Tree().QuarkAbsolute("Counters", "0", "grid")
	require.NoError(t, err)
	iv, err := counters.StateSystem.QuerySingleState(15, q)
	require.NoError(t, err)
	assert.Equal(t, state.LongValue(64), iv.Value)

	meta, ok := report.Result(Metadata)
	require.True(t, ok)
	_, err = meta.StateSystem.Tree().QuarkAbsolute("GPUInfo", "0", "arch")
	assert.NoError(t, err)

	for _, res := range report.Results {
		assert.True(t, res.StateSystem.IsFinished(), res.ID)
		assert.Equal(t, int64(0), res.StateSystem.StartTime(), res.ID)
		assert.Equal(t, int64(25), res.StateSystem.CurrentEndTime(), res.ID)
	}
}

func TestRun_HistoryDir_PersistsEveryAnalysis(t *testing.T) {
	// GIVEN a history directory
	dir := filepath.Join(t.TempDir(), "histories")

	// WHEN the build finishes
	report, err := Run(context.Background(), event.NewSliceSource(sampleEvents()...),
		Config{Analyses: []string{CallStack, Metadata}, HistoryDir: dir})
	require.NoError(t, err)

	// THEN the manifest lists both histories and each can be reopened
	m, err := ReadManifest(dir)
	require.NoError(t, err)
	assert.Equal(t, report.BuildID, m.BuildID)
	require.Len(t, m.Analyses, 2)
	entry, ok := m.Entry(CallStack)
	require.True(t, ok)
	assert.Equal(t, int64(25), entry.EndTime)

	r, err := history.OpenReader(filepath.Join(dir, entry.Path))
	require.NoError(t, err)
	defer r.Close()
	q, err := r.Tree().QuarkAbsolute("Processes", "System", "Thread 1", "API", "CallStack")
	require.NoError(t, err)
	iv, err := r.QuerySingleState(20, q)
	require.NoError(t, err)
	assert.Equal(t, state.Interval{Quark: q, Start: 10, End: 25, Value: state.StringValue("op")}, iv)
}

func TestStart_ConcurrentReaders(t *testing.T) {
	// GIVEN a long stream of back-to-back kernels
	events := make([]*event.Event, 0, 3000)
	for i := int64(0); i < 3000; i++ {
		events = append(events, event.New("kernel", i*10, event.Fields{"gpu_id": 0, "queue_id": 0, "dur": 5}))
	}
	session, err := Start(context.Background(), event.NewSliceSource(events...), Config{Analyses: []string{CallStack}})
	require.NoError(t, err)
	ss, ok := session.StateSystem(CallStack)
	require.True(t, ok)

	// WHEN readers query while the builder runs
	var wg sync.WaitGroup
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-session.Done():
					return
				default:
				}
				q, err := ss.Tree().QuarkAbsolute("Processes", "GPU 0", "Queues", "Queue 0", "CallStack")
				if err != nil {
					continue
				}
				at := ss.CurrentEndTime()
				iv, err := ss.QuerySingleState(at, q)
				if err != nil {
					t.Errorf("query at %d: %v", at, err)
					return
				}
				if iv.Start > at || iv.End < at {
					t.Errorf("interval %v does not cover %d", iv, at)
					return
				}
			}
		}()
	}
	report, err := session.Wait()
	wg.Wait()

	// THEN the build completes with every kernel on the lane
	require.NoError(t, err)
	res, _ := report.Result(CallStack)
	assert.Equal(t, 3000, res.Stats.Events)
	q, err := ss.Tree().QuarkAbsolute("Processes", "GPU 0", "Queues", "Queue 0", "CallStack")
	require.NoError(t, err)
	ivs, err := ss.Query2D([]state.Quark{q}, 0, ss.CurrentEndTime())
	require.NoError(t, err)
	assert.Len(t, ivs, 5999, "3000 kernels separated by 2999 idle gaps")
}

// blockingSource yields one event, then blocks until its context ends.
type blockingSource struct{}

func (blockingSource) Iterator() (event.Iterator, error) { return &blockingIterator{}, nil }

type blockingIterator struct{ sent bool }

func (it *blockingIterator) Next(ctx context.Context) (*event.Event, error) {
	if !it.sent {
		it.sent = true
		return event.New("op_begin", 1, event.Fields{"tid": 1}), nil
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (it *blockingIterator) Close() error { return nil }

func TestSession_Cancel_DisposesStores(t *testing.T) {
	session, err := Start(context.Background(), blockingSource{}, Config{})
	require.NoError(t, err)

	session.Cancel()
	_, err = session.Wait()

	assert.True(t, errors.Is(err, context.Canceled))
	for _, id := range session.Analyses() {
		ss, _ := session.StateSystem(id)
		assert.True(t, ss.Disposed(), id)
	}
}

// failingSource fails every builder pass after the first event.
type failingSource struct{}

func (failingSource) Iterator() (event.Iterator, error) { return &failingIterator{}, nil }

type failingIterator struct{ sent bool }

func (it *failingIterator) Next(context.Context) (*event.Event, error) {
	if !it.sent {
		it.sent = true
		return event.New("op_begin", 1, event.Fields{"tid": 1}), nil
	}
	return nil, errors.New("disk on fire")
}

func (it *failingIterator) Close() error { return nil }

func TestRun_SourceError_FailsBuild(t *testing.T) {
	_, err := Run(context.Background(), failingSource{}, Config{Analyses: []string{CallStack}})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk on fire")
}

func TestStart_InvalidSelection(t *testing.T) {
	src := event.NewSliceSource(sampleEvents()...)

	_, err := Start(context.Background(), src, Config{Analyses: []string{"flamegraph"}})
	assert.Error(t, err)

	_, err = Start(context.Background(), src, Config{Analyses: []string{CallStack, CallStack}})
	assert.Error(t, err)

	_, err = Start(context.Background(), src, Config{Analyses: []string{}})
	assert.Error(t, err)
}

func TestRun_EmptySource(t *testing.T) {
	report, err := Run(context.Background(), event.NewSliceSource(), Config{Analyses: []string{CallStack}})

	require.NoError(t, err)
	res, ok := report.Result(CallStack)
	require.True(t, ok)
	assert.True(t, res.StateSystem.IsFinished())
	assert.Equal(t, 0, res.Stats.Events)
}

func TestNames_Sorted(t *testing.T) {
	assert.Equal(t, []string{CallStack, Counters, Metadata}, Names())
	assert.True(t, IsValidAnalysis(Counters))
	assert.False(t, IsValidAnalysis("flamegraph"))
}
