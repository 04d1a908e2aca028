package trace

import "testing"

func TestSummarize_EmptyTrace_ZeroValues(t *testing.T) {
	// GIVEN an empty trace
	bt := NewBuildTrace(TraceConfig{Level: TraceLevelEvents})

	// WHEN summarized
	summary := Summarize(bt)

	// THEN all counts are zero
	if summary.SkippedCount != 0 || summary.RejectedCount != 0 || summary.EdgeCount != 0 {
		t.Error("expected zero counts")
	}
	if summary.MeanEdgeDuration != 0 || summary.MaxEdgeDuration != 0 {
		t.Error("expected zero edge durations")
	}
	if len(summary.SkipReasons) != 0 {
		t.Error("expected empty skip reasons")
	}
}

func TestSummarize_NilTrace(t *testing.T) {
	summary := Summarize(nil)
	if summary == nil || summary.SkipReasons == nil || summary.EdgeOrigins == nil {
		t.Fatal("expected non-nil summary with initialized maps")
	}
}

func TestSummarize_PopulatedTrace_CorrectCounts(t *testing.T) {
	// GIVEN a trace with skips, a rejection and edges on two lanes
	bt := NewBuildTrace(TraceConfig{Level: TraceLevelEvents})
	bt.RecordSkip(SkipRecord{Event: "hip_api", Reason: "missing field tid"})
	bt.RecordSkip(SkipRecord{Event: "hsa_api", Reason: "missing field tid"})
	bt.RecordSkip(SkipRecord{Event: "kernel", Reason: "missing field queue_id"})
	bt.RecordRejection(RejectionRecord{Path: "x", Reason: "out of order"})
	bt.RecordEdge(EdgeRecord{Start: 3, End: 9, Lane: "Edges/0", Origin: "correlation"})
	bt.RecordEdge(EdgeRecord{Start: 4, End: 14, Lane: "Edges/1", Origin: "correlation"})
	bt.RecordEdge(EdgeRecord{Start: 10, End: 12, Lane: "Edges/0", Origin: "wait"})

	// WHEN summarized
	summary := Summarize(bt)

	// THEN counts match
	if summary.SkippedCount != 3 {
		t.Errorf("expected 3 skipped, got %d", summary.SkippedCount)
	}
	if summary.SkipReasons["missing field tid"] != 2 {
		t.Errorf("expected 2 skips for missing tid, got %d", summary.SkipReasons["missing field tid"])
	}
	if summary.RejectedCount != 1 {
		t.Errorf("expected 1 rejected, got %d", summary.RejectedCount)
	}
	if summary.EdgeCount != 3 || summary.UniqueLanes != 2 {
		t.Errorf("expected 3 edges on 2 lanes, got %d on %d", summary.EdgeCount, summary.UniqueLanes)
	}
	if summary.MaxEdgeDuration != 10 {
		t.Errorf("expected max edge duration 10, got %d", summary.MaxEdgeDuration)
	}
	if summary.MeanEdgeDuration != 6 {
		t.Errorf("expected mean edge duration 6, got %v", summary.MeanEdgeDuration)
	}
	if summary.EdgeOrigins["wait"] != 1 {
		t.Errorf("expected 1 wait edge, got %d", summary.EdgeOrigins["wait"])
	}
}
