package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"alertsync/internal/app"
)

var (
	backfillFrom  string
	backfillTo    string
	backfillChunk time.Duration
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Re-forward alerts created in a past range; the cursor is left alone",
	RunE: func(cmd *cobra.Command, args []string) error {
		if backfillFrom == "" || backfillTo == "" {
			return fmt.Errorf("--from and --to must be provided")
		}

		from, err := parseTimeFlag("from", backfillFrom)
		if err != nil {
			return err
		}
		to, err := parseTimeFlag("to", backfillTo)
		if err != nil {
			return err
		}
		if !from.Before(*to) {
			return fmt.Errorf("--from must be before --to")
		}

		opts := app.BackfillOptions{
			From:  *from,
			To:    *to,
			Chunk: backfillChunk,
		}

		return getApp().Backfill(cmd.Context(), opts)
	},
}

func init() {
	backfillCmd.Flags().StringVar(&backfillFrom, "from", "", "Start timestamp (RFC3339, inclusive)")
	backfillCmd.Flags().StringVar(&backfillTo, "to", "", "End timestamp (RFC3339, exclusive)")
	backfillCmd.Flags().DurationVar(&backfillChunk, "chunk", 0, "Window size per request (defaults to window.default_interval)")
}
