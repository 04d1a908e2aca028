package trace

// TraceSummary aggregates statistics from a BuildTrace.
type TraceSummary struct {
	SkippedCount     int
	RejectedCount    int
	EdgeCount        int
	UniqueLanes      int
	MeanEdgeDuration float64
	MaxEdgeDuration  int64
	SkipReasons      map[string]int // reason → count of skipped events
	EdgeOrigins      map[string]int // origin → count of edges
}

// Summarize computes aggregate statistics from a BuildTrace.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(bt *BuildTrace) *TraceSummary {
	summary := &TraceSummary{
		SkipReasons: make(map[string]int),
		EdgeOrigins: make(map[string]int),
	}
	if bt == nil {
		return summary
	}

	summary.SkippedCount = len(bt.Skips)
	for _, s := range bt.Skips {
		summary.SkipReasons[s.Reason]++
	}
	summary.RejectedCount = len(bt.Rejections)

	if len(bt.Edges) > 0 {
		lanes := make(map[string]bool)
		var total int64
		for _, e := range bt.Edges {
			lanes[e.Lane] = true
			summary.EdgeOrigins[e.Origin]++
			d := e.End - e.Start
			total += d
			if d > summary.MaxEdgeDuration {
				summary.MaxEdgeDuration = d
			}
		}
		summary.EdgeCount = len(bt.Edges)
		summary.UniqueLanes = len(lanes)
		summary.MeanEdgeDuration = float64(total) / float64(len(bt.Edges))
	}

	return summary
}
