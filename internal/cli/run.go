package cli

import (
	"github.com/spf13/cobra"
)

var oncePastDue bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the connector on its cron schedule",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Run(cmd.Context())
	},
}

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Execute a single run and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := getApp().Once(cmd.Context(), oncePastDue)
		return err
	},
}

var dryRunCmd = &cobra.Command{
	Use:   "dry-run",
	Short: "Fetch the next window without uploading or moving the cursor",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := getApp().DryRun(cmd.Context())
		return err
	},
}

func init() {
	onceCmd.Flags().BoolVar(&oncePastDue, "past-due", false, "Mark the run as past due, as a late timer trigger would")
}
