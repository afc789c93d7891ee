// Package window turns the stored cursor and the current time into the
// half-open query window for one run.
package window

import (
	"context"
	"fmt"
	"time"

	"alertsync/internal/cursor"
)

// DefaultInterval is the first-run lookback when none is configured.
const DefaultInterval = 10 * time.Minute

// Window is the half-open range [Start, End) queried in one run.
type Window struct {
	Start time.Time
	End   time.Time
	// Resumed is true when Start came from a stored cursor.
	Resumed bool
}

// Empty reports whether the window covers no time.
func (w Window) Empty() bool {
	return !w.Start.Before(w.End)
}

// Duration is End-Start, possibly negative.
func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// Compute reads the cursor, derives the window and writes End back to the
// store before returning. Start is the stored cursor or now-interval on the
// first run; End is now-margin.
func Compute(ctx context.Context, store cursor.Store, now func() time.Time, margin, interval time.Duration) (Window, error) {
	w, err := derive(ctx, store, now, margin, interval)
	if err != nil {
		return Window{}, err
	}
	if err := cursor.WriteTime(ctx, store, w.End); err != nil {
		return Window{}, fmt.Errorf("persist cursor: %w", err)
	}
	return w, nil
}

func derive(ctx context.Context, store cursor.Store, now func() time.Time, margin, interval time.Duration) (Window, error) {
	last, ok, err := cursor.ReadTime(ctx, store)
	if err != nil {
		return Window{}, fmt.Errorf("read cursor: %w", err)
	}

	current := now().UTC()
	w := Window{End: current.Add(-margin)}
	if ok {
		w.Start = last
		w.Resumed = true
	} else {
		// anchored on now, not End, so the first window is interval-margin long
		w.Start = current.Add(-interval)
	}
	return w, nil
}
