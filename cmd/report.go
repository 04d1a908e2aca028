package cmd

import (
	"fmt"
	"io"
	"sort"

	"github.com/tracestate/tracestate/state/analysis"
	"github.com/tracestate/tracestate/state/trace"
)

// printReport writes the per-analysis outcome of a build.
func printReport(w io.Writer, report *analysis.Report) {
	fmt.Fprintln(w, "=== Build Report ===")
	fmt.Fprintf(w, "Build ID             : %s\n", report.BuildID)
	fmt.Fprintf(w, "Duration             : %v\n", report.Duration)
	for _, res := range report.Results {
		ss := res.StateSystem
		fmt.Fprintf(w, "\n--- %s ---\n", res.ID)
		fmt.Fprintf(w, "Time Range           : [%d, %d]\n", ss.StartTime(), ss.CurrentEndTime())
		fmt.Fprintf(w, "Attributes           : %d\n", ss.Tree().NumAttributes())
		fmt.Fprintf(w, "Events               : %d\n", res.Stats.Events)
		fmt.Fprintf(w, "Ignored              : %d\n", res.Stats.Ignored)
		fmt.Fprintf(w, "Skipped              : %d\n", res.Stats.Skipped)
		fmt.Fprintf(w, "Rejected             : %d\n", res.Stats.Rejected)
		fmt.Fprintf(w, "Edges                : %d\n", res.Stats.Edges)
		fmt.Fprintf(w, "Hosts                : %d\n", res.Stats.Hosts)
		if res.HistoryPath != "" {
			fmt.Fprintf(w, "History              : %s\n", res.HistoryPath)
		}
		if res.Trace != nil {
			printTraceSummary(w, trace.Summarize(res.Trace))
		}
	}
}

func printTraceSummary(w io.Writer, s *trace.TraceSummary) {
	fmt.Fprintf(w, "Traced Skips         : %d\n", s.SkippedCount)
	for _, reason := range sortedKeys(s.SkipReasons) {
		fmt.Fprintf(w, "  %4d  %s\n", s.SkipReasons[reason], reason)
	}
	fmt.Fprintf(w, "Traced Rejections    : %d\n", s.RejectedCount)
	fmt.Fprintf(w, "Traced Edges         : %d on %d lanes\n", s.EdgeCount, s.UniqueLanes)
	if s.EdgeCount > 0 {
		fmt.Fprintf(w, "Mean Edge Duration   : %.2f\n", s.MeanEdgeDuration)
		fmt.Fprintf(w, "Max Edge Duration    : %d\n", s.MaxEdgeDuration)
		for _, origin := range sortedKeys(s.EdgeOrigins) {
			fmt.Fprintf(w, "  %4d  %s\n", s.EdgeOrigins[origin], origin)
		}
	}
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
