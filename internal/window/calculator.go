package window

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"alertsync/internal/config"
	"alertsync/internal/cursor"
	"alertsync/internal/logging"
)

// Options tune the calculator.
type Options struct {
	SafetyMargin    time.Duration
	DefaultInterval time.Duration
	// CommitMode is config.CommitEager or config.CommitAfterUpload.
	CommitMode string
	Now        func() time.Time
}

// Calculator opens a window at the start of a run and commits it at the end.
//
// In eager mode the cursor advances inside Open, before anything is fetched,
// so a failed run skips its window. In after_upload mode Open only reads and
// Commit advances the cursor once the run succeeded.
type Calculator struct {
	store  cursor.Store
	opts   Options
	logger zerolog.Logger
}

// NewCalculator applies defaults for unset options.
func NewCalculator(store cursor.Store, opts Options, logger zerolog.Logger) *Calculator {
	if opts.SafetyMargin < 0 {
		opts.SafetyMargin = 0
	}
	if opts.DefaultInterval <= 0 {
		opts.DefaultInterval = DefaultInterval
	}
	if opts.CommitMode == "" {
		opts.CommitMode = config.CommitEager
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Calculator{
		store:  store,
		opts:   opts,
		logger: logging.Component(logger, "window"),
	}
}

// Deferred reports whether the cursor is only advanced by Commit.
func (c *Calculator) Deferred() bool {
	return c.opts.CommitMode == config.CommitAfterUpload
}

// Open computes the window for this run.
func (c *Calculator) Open(ctx context.Context) (Window, error) {
	var (
		w   Window
		err error
	)
	if c.Deferred() {
		w, err = derive(ctx, c.store, c.opts.Now, c.opts.SafetyMargin, c.opts.DefaultInterval)
	} else {
		w, err = Compute(ctx, c.store, c.opts.Now, c.opts.SafetyMargin, c.opts.DefaultInterval)
	}
	if err != nil {
		return Window{}, err
	}

	event := c.logger.Info()
	if w.Empty() {
		event = c.logger.Warn()
	}
	event.Str("start", cursor.FormatTimestamp(w.Start)).
		Str("end", cursor.FormatTimestamp(w.End)).
		Bool("resumed", w.Resumed).
		Bool("deferred_commit", c.Deferred()).
		Msg("query window opened")
	return w, nil
}

// Commit records w.End as the next start. It is a no-op in eager mode.
func (c *Calculator) Commit(ctx context.Context, w Window) error {
	if !c.Deferred() {
		return nil
	}
	if err := cursor.WriteTime(ctx, c.store, w.End); err != nil {
		return fmt.Errorf("persist cursor: %w", err)
	}
	c.logger.Debug().Str("cursor", cursor.FormatTimestamp(w.End)).Msg("cursor committed")
	return nil
}
