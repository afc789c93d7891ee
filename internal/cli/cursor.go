package cli

import (
	"github.com/spf13/cobra"
)

var cursorCmd = &cobra.Command{
	Use:   "cursor",
	Short: "Inspect or reset the stored watermark",
}

var cursorShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the stored watermark and the next query window",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().CursorShow(cmd.Context())
	},
}

var cursorSetCmd = &cobra.Command{
	Use:   "set <timestamp>",
	Short: "Overwrite the watermark (RFC3339)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().CursorSet(cmd.Context(), args[0])
	},
}

func init() {
	cursorCmd.AddCommand(cursorShowCmd)
	cursorCmd.AddCommand(cursorSetCmd)
}
