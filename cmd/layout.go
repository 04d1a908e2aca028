package cmd

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tracestate/tracestate/state/provider"
)

// layoutCmd prints the effective layout, a starting point for custom layouts
var layoutCmd = &cobra.Command{
	Use:   "layout",
	Short: "Print the effective layout as YAML",
	Run: func(cmd *cobra.Command, args []string) {
		setLogLevel()

		layout, err := resolveLayout(layoutPath)
		if err != nil {
			logrus.Fatalf("Failed to load layout: %v", err)
		}
		data, err := layout.Marshal()
		if err != nil {
			logrus.Fatalf("Failed to render layout: %v", err)
		}
		if _, err := os.Stdout.Write(data); err != nil {
			logrus.Fatalf("Failed to write layout: %v", err)
		}
	},
}

// resolveLayout loads the layout at path, or the built-in one when path is empty.
func resolveLayout(path string) (*provider.Layout, error) {
	if path == "" {
		return provider.DefaultLayout(), nil
	}
	return provider.LoadLayout(path)
}

func init() {
	layoutCmd.Flags().StringVar(&layoutPath, "layout", "", "Layout YAML to merge over the built-in layout")
}
