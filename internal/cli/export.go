package cli

import (
	"github.com/spf13/cobra"

	"alertsync/internal/app"
)

var (
	exportFrom    string
	exportTo      string
	exportPNGPath string
	exportCSVPath string
	exportMaxRuns int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the run ledger as CSV and/or PNG chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ExportOptions{
			PNGPath: exportPNGPath,
			CSVPath: exportCSVPath,
			MaxRuns: exportMaxRuns,
		}

		var err error
		if opts.From, err = parseTimeFlag("from", exportFrom); err != nil {
			return err
		}
		if opts.To, err = parseTimeFlag("to", exportTo); err != nil {
			return err
		}

		return getApp().Export(cmd.Context(), opts)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportFrom, "from", "", "Start timestamp (RFC3339, inclusive)")
	exportCmd.Flags().StringVar(&exportTo, "to", "", "End timestamp (RFC3339, exclusive)")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
	exportCmd.Flags().IntVar(&exportMaxRuns, "max-runs", 0, "Maximum runs to export (defaults to config)")
}
