package cmd

import (
	"context"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tracestate/tracestate/state/analysis"
	"github.com/tracestate/tracestate/state/event"
	_ "github.com/tracestate/tracestate/state/history" // registers the persistent backend
	"github.com/tracestate/tracestate/state/trace"
)

var (
	// CLI flags for the build
	eventsPath      string   // Event file to replay
	eventsFormat    string   // Event file format; empty derives it from the extension
	layoutPath      string   // Layout YAML; empty uses the built-in layout
	analyses        []string // Analyses to build; empty builds all of them
	historyDir      string   // Directory for persisted histories; empty keeps them in memory
	traceLevel      string   // Build trace verbosity
	traceMaxRecords int      // Records kept per trace kind; 0 is unbounded
	logLevel        string   // Log verbosity level
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "tracestate",
	Short: "Build and query attribute state histories from GPU runtime traces",
}

// buildCmd replays an event file into one state history per analysis
var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Replay an event file into state histories",
	Run: func(cmd *cobra.Command, args []string) {
		setLogLevel()

		if eventsPath == "" {
			logrus.Fatalf("--events is required")
		}
		if eventsFormat != "" && !event.IsValidFormat(eventsFormat) {
			logrus.Fatalf("Unknown event format %q. Valid: jsonl, yaml", eventsFormat)
		}
		for _, a := range analyses {
			if !analysis.IsValidAnalysis(a) {
				logrus.Fatalf("Unknown analysis %q. Valid: %s", a, strings.Join(analysis.Names(), ", "))
			}
		}
		if !trace.IsValidTraceLevel(traceLevel) {
			logrus.Fatalf("Unknown trace level %q. Valid: none, events", traceLevel)
		}
		if traceMaxRecords < 0 {
			logrus.Fatalf("--trace-max-records must be >= 0, got %d", traceMaxRecords)
		}

		layout, err := resolveLayout(layoutPath)
		if err != nil {
			logrus.Fatalf("Failed to load layout: %v", err)
		}
		src, err := event.NewFileSource(eventsPath, event.Format(eventsFormat))
		if err != nil {
			logrus.Fatalf("Failed to open events: %v", err)
		}

		cfg := analysis.Config{
			Layout:     layout,
			HistoryDir: historyDir,
			Trace:      trace.TraceConfig{Level: trace.TraceLevel(traceLevel), MaxRecords: traceMaxRecords},
		}
		if len(analyses) > 0 {
			cfg.Analyses = analyses
		}

		logrus.Infof("Building %s from %s", selectedAnalyses(analyses), eventsPath)
		report, err := analysis.Run(context.Background(), src, cfg)
		if err != nil {
			logrus.Fatalf("Build failed: %v", err)
		}
		printReport(os.Stdout, report)
		logrus.Info("Build complete.")
	},
}

func setLogLevel() {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		logrus.Fatalf("Invalid log level: %s", logLevel)
	}
	logrus.SetLevel(level)
}

func selectedAnalyses(ids []string) string {
	if len(ids) == 0 {
		return "all analyses"
	}
	return strings.Join(ids, ", ")
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "warn", "Log level (trace, debug, info, warn, error, fatal, panic)")

	buildCmd.Flags().StringVar(&eventsPath, "events", "", "Event file to replay (JSON lines or YAML)")
	buildCmd.Flags().StringVar(&eventsFormat, "format", "", "Event file format (jsonl, yaml); default derives it from the extension")
	buildCmd.Flags().StringVar(&layoutPath, "layout", "", "Layout YAML mapping event names and fields to handlers")
	buildCmd.Flags().StringSliceVar(&analyses, "analyses", nil, "Comma-separated analyses to build (default all)")
	buildCmd.Flags().StringVar(&historyDir, "history-dir", "", "Directory to persist histories in; empty keeps them in memory")

	// Build trace config
	buildCmd.Flags().StringVar(&traceLevel, "trace-level", "none", "Build trace verbosity (none, events)")
	buildCmd.Flags().IntVar(&traceMaxRecords, "trace-max-records", 0, "Records kept per trace kind (0 = unbounded)")

	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(layoutCmd)
}
