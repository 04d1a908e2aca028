package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tracestate/tracestate/state"
	"github.com/tracestate/tracestate/state/analysis"
	"github.com/tracestate/tracestate/state/history"
)

var (
	// CLI flags for queries on a persisted history
	queryDir      string // History directory written by build --history-dir
	queryAnalysis string // Analysis whose history is queried
	queryPath     string // Slash-separated attribute path; empty queries every attribute
	queryTime     int64  // Point query time
	queryStart    int64  // Range query start
	queryEnd      int64  // Range query end
)

// queryCmd answers point and range queries on a persisted history
var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query a persisted state history",
	Run: func(cmd *cobra.Command, args []string) {
		setLogLevel()

		if queryDir == "" {
			logrus.Fatalf("--history-dir is required")
		}
		manifest, err := analysis.ReadManifest(queryDir)
		if err != nil {
			logrus.Fatalf("Failed to read history directory: %v", err)
		}
		entry, ok := manifest.Entry(queryAnalysis)
		if !ok {
			logrus.Fatalf("Analysis %q not found in %s", queryAnalysis, queryDir)
		}

		flags := cmd.Flags()
		window := func(r *history.Reader) queryRequest {
			q := queryRequest{Path: queryPath, Start: r.StartTime(), End: r.EndTime()}
			if flags.Changed("time") {
				q.Point, q.Time = true, queryTime
				return q
			}
			if flags.Changed("start") {
				q.Start = queryStart
			}
			if flags.Changed("end") {
				q.End = queryEnd
			}
			return q
		}
		if err := queryHistory(os.Stdout, filepath.Join(queryDir, entry.Path), window); err != nil {
			logrus.Fatalf("Query failed: %v", err)
		}
	},
}

// queryHistory opens the history at path, runs the request built by window
// and closes the history before returning, also on error.
func queryHistory(w io.Writer, path string, window func(r *history.Reader) queryRequest) (err error) {
	r, err := history.OpenReader(path)
	if err != nil {
		return fmt.Errorf("opening history: %w", err)
	}
	defer func() {
		if cerr := r.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("closing history: %w", cerr)
		}
	}()
	return runQuery(w, r, window(r))
}

// queryRequest is either a point query at Time or a range query over [Start, End].
type queryRequest struct {
	Path  string
	Point bool
	Time  int64
	Start int64
	End   int64
}

// runQuery prints the intervals answering q, one per line.
func runQuery(w io.Writer, r *history.Reader, q queryRequest) error {
	tree := r.Tree()
	var quarks []state.Quark
	all := q.Path == ""
	if !all {
		quark, err := tree.QuarkAbsolute(strings.Split(q.Path, "/")...)
		if err != nil {
			return fmt.Errorf("path %q: %w", q.Path, err)
		}
		quarks = []state.Quark{quark}
	}

	var intervals []state.Interval
	var err error
	switch {
	case q.Point && all:
		intervals, err = r.QueryFullState(q.Time)
	case q.Point:
		var iv state.Interval
		iv, err = r.QuerySingleState(q.Time, quarks[0])
		intervals = []state.Interval{iv}
	default:
		if all {
			quarks = tree.SubAttributes(state.RootQuark, true)
		}
		intervals, err = r.Query2D(quarks, q.Start, q.End)
	}
	if err != nil {
		return err
	}
	for _, iv := range intervals {
		if iv.Value.IsNull() && all {
			continue
		}
		fmt.Fprintf(w, "%s\t[%d, %d)\t%s\n", tree.FullPath(iv.Quark), iv.Start, iv.End, iv.Value)
	}
	return nil
}

func init() {
	queryCmd.Flags().StringVar(&queryDir, "history-dir", "", "History directory written by build --history-dir")
	queryCmd.Flags().StringVar(&queryAnalysis, "analysis", analysis.CallStack, "Analysis whose history is queried")
	queryCmd.Flags().StringVar(&queryPath, "path", "", "Slash-separated attribute path (default every attribute)")
	queryCmd.Flags().Int64Var(&queryTime, "time", 0, "Point query time")
	queryCmd.Flags().Int64Var(&queryStart, "start", 0, "Range query start (default history start)")
	queryCmd.Flags().Int64Var(&queryEnd, "end", 0, "Range query end (default history end)")
}
