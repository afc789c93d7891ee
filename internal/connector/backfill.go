package connector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"alertsync/internal/window"
)

// Chunks splits [from, to) into consecutive windows of at most size.
func Chunks(from, to time.Time, size time.Duration) []window.Window {
	if size <= 0 || !from.Before(to) {
		return nil
	}
	var out []window.Window
	for start := from; start.Before(to); start = start.Add(size) {
		end := start.Add(size)
		if end.After(to) {
			end = to
		}
		out = append(out, window.Window{Start: start.UTC(), End: end.UTC()})
	}
	return out
}

// Backfill re-fetches [from, to) in chunk-sized windows and uploads each one.
// The cursor is neither read nor written. The first failing chunk stops the
// backfill; the returned report covers the chunks that completed.
func (c *Connector) Backfill(ctx context.Context, from, to time.Time, chunk time.Duration) (Report, error) {
	report := Report{RunID: uuid.NewString()}
	logger := c.logger.With().Str("run_id", report.RunID).Str("mode", "backfill").Logger()

	windows := Chunks(from, to, chunk)
	if len(windows) == 0 {
		return report, errors.New("backfill range is empty")
	}
	report.Window = window.Window{Start: windows[0].Start, End: windows[len(windows)-1].End}

	fetcher, err := c.fetcher(ctx, logger)
	if err != nil {
		return report, err
	}

	for i, w := range windows {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := c.forward(ctx, logger, fetcher, w, &report); err != nil {
			return report, fmt.Errorf("backfill chunk %d/%d: %w", i+1, len(windows), err)
		}
		logger.Debug().Time("start", w.Start).Time("end", w.End).Int("chunk", i+1).Msg("chunk forwarded")
	}

	logger.Info().Int("chunks", len(windows)).Int("alerts", report.Alerts).Msg("backfill completed")
	return report, nil
}
