package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracestate/tracestate/state"
	"github.com/tracestate/tracestate/state/analysis"
	"github.com/tracestate/tracestate/state/event"
	"github.com/tracestate/tracestate/state/history"
	"github.com/tracestate/tracestate/state/provider"
	"github.com/tracestate/tracestate/state/trace"
)

func buildSample(t *testing.T, dir string) *analysis.Report {
	t.Helper()
	src := event.NewSliceSource(
		event.New("op_begin", 10, event.Fields{"tid": 1}),
		event.New("kernel", 12, event.Fields{"gpu_id": 0, "queue_id": 1, "dur": 8}),
		event.New("kernel", 13, event.Fields{"gpu_id": 0}),
		event.New("op_end", 25, event.Fields{"tid": 1}),
	)
	report, err := analysis.Run(context.Background(), src, analysis.Config{
		Analyses:   []string{analysis.CallStack},
		HistoryDir: dir,
		Trace:      trace.TraceConfig{Level: trace.TraceLevelEvents},
	})
	require.NoError(t, err)
	return report
}

func TestResolveLayout_EmptyPath_BuiltIn(t *testing.T) {
	layout, err := resolveLayout("")

	require.NoError(t, err)
	assert.Equal(t, provider.DefaultLayout(), layout)
}

func TestResolveLayout_File_MergedOverDefaults(t *testing.T) {
	// GIVEN a layout file overriding one key
	path := filepath.Join(t.TempDir(), "layout.yaml")
	require.NoError(t, os.WriteFile(path, []byte("gap_analysis: false\n"), 0o644))

	// WHEN resolved
	layout, err := resolveLayout(path)

	// THEN the key is overridden and the rest stays default
	require.NoError(t, err)
	assert.False(t, layout.GapAnalysis)
	assert.Equal(t, provider.DefaultLayout().Fields, layout.Fields)
}

func TestResolveLayout_UnknownKey_Error(t *testing.T) {
	path := filepath.Join(t.TempDir(), "layout.yaml")
	require.NoError(t, os.WriteFile(path, []byte("gap_analysys: false\n"), 0o644))

	_, err := resolveLayout(path)

	assert.Error(t, err, "typos in layout keys must be rejected")
}

func TestPrintReport_IncludesStatsAndTraceSummary(t *testing.T) {
	report := buildSample(t, t.TempDir())

	var buf bytes.Buffer
	printReport(&buf, report)

	out := buf.String()
	assert.Contains(t, out, "=== Build Report ===")
	assert.Contains(t, out, report.BuildID)
	assert.Contains(t, out, "--- callstack ---")
	assert.Contains(t, out, "Skipped              : 1")
	assert.Contains(t, out, "Traced Skips         : 1")
	assert.Contains(t, out, "queue_id")
}

func TestRunQuery_PointOnPath(t *testing.T) {
	// GIVEN a persisted call stack history
	dir := t.TempDir()
	buildSample(t, dir)
	r, err := history.OpenReader(filepath.Join(dir, analysis.CallStack))
	require.NoError(t, err)
	defer r.Close()

	// WHEN the thread lane is queried inside the call
	var buf bytes.Buffer
	err = runQuery(&buf, r, queryRequest{Path: "Processes/System/Thread 1/API/CallStack", Point: true, Time: 15})

	// THEN the one interval holding the call is printed
	require.NoError(t, err)
	assert.Equal(t, "Processes/System/Thread 1/API/CallStack\t[10, 25)\top\n", buf.String())
}

func TestRunQuery_RangeOverEveryAttribute_SkipsNull(t *testing.T) {
	dir := t.TempDir()
	buildSample(t, dir)
	r, err := history.OpenReader(filepath.Join(dir, analysis.CallStack))
	require.NoError(t, err)
	defer r.Close()

	var buf bytes.Buffer
	require.NoError(t, runQuery(&buf, r, queryRequest{Start: r.StartTime(), End: r.EndTime()}))

	out := buf.String()
	assert.Contains(t, out, "Processes/GPU 0/Queues/Queue 1/CallStack\t[12, 20)\tkernel\n")
	assert.Contains(t, out, "Processes/System/Thread 1/API/CallStack\t[10, 25)\top\n")
	assert.NotContains(t, out, "null")
}

func TestRunQuery_UnknownPath_Error(t *testing.T) {
	dir := t.TempDir()
	buildSample(t, dir)
	r, err := history.OpenReader(filepath.Join(dir, analysis.CallStack))
	require.NoError(t, err)
	defer r.Close()

	err = runQuery(&bytes.Buffer{}, r, queryRequest{Path: "Processes/Nowhere", Point: true, Time: 10})

	assert.Error(t, err)
}

func TestQueryHistory_FailedQuery_ReleasesStore(t *testing.T) {
	// GIVEN a persisted call stack history
	dir := t.TempDir()
	buildSample(t, dir)
	path := filepath.Join(dir, analysis.CallStack)

	// WHEN a query on an unknown path fails
	err := queryHistory(&bytes.Buffer{}, path, func(r *history.Reader) queryRequest {
		return queryRequest{Path: "Processes/Nowhere", Point: true, Time: r.StartTime()}
	})
	require.Error(t, err)

	// THEN the store was closed: its directory lock can be taken for writing
	w, err := history.NewWriter(state.BackendConfig{Path: path})
	require.NoError(t, err)
	assert.NoError(t, w.Close())
}

func TestQueryHistory_DefaultWindow_WholeHistory(t *testing.T) {
	dir := t.TempDir()
	buildSample(t, dir)

	var buf bytes.Buffer
	err := queryHistory(&buf, filepath.Join(dir, analysis.CallStack), func(r *history.Reader) queryRequest {
		return queryRequest{Path: "Processes/System/Thread 1/API/CallStack", Start: r.StartTime(), End: r.EndTime()}
	})

	require.NoError(t, err)
	assert.Equal(t, "Processes/System/Thread 1/API/CallStack\t[10, 25)\top\n", buf.String())
}
