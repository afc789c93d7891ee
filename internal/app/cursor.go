package app

import (
	"context"
	"fmt"
	"time"

	"alertsync/internal/cursor"
)

// CursorShow prints the stored watermark and the window the next run would query.
func (a *App) CursorShow(ctx context.Context) error {
	cur, closeCursor, err := a.openCursorForRead(ctx)
	if err != nil {
		return err
	}
	defer closeCursor()

	return a.describeCursor(ctx, cur, time.Now())
}

func (a *App) describeCursor(ctx context.Context, cur cursor.Store, now time.Time) error {
	raw, ok, err := cur.Read(ctx)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintf(a.Out, "backend: %s\ncursor: (none, next run starts at now-%s)\n",
			a.Config.Cursor.Backend, a.Config.Window.DefaultInterval)
		return nil
	}

	t, err := cursor.ParseTimestamp(raw)
	if err != nil {
		fmt.Fprintf(a.Out, "backend: %s\ncursor: %q (unreadable)\n", a.Config.Cursor.Backend, raw)
		return err
	}
	end := now.UTC().Add(-a.Config.Window.SafetyMargin)
	fmt.Fprintf(a.Out, "backend: %s\ncursor: %s\nnext window: [%s, %s)\n",
		a.Config.Cursor.Backend, cursor.FormatTimestamp(t),
		cursor.FormatTimestamp(t), cursor.FormatTimestamp(end))
	return nil
}

// CursorSet overwrites the watermark, e.g. to replay from a known point.
func (a *App) CursorSet(ctx context.Context, value string) error {
	t, err := cursor.ParseTimestamp(value)
	if err != nil {
		return err
	}

	cur, closeCursor, err := a.openCursorForRead(ctx)
	if err != nil {
		return err
	}
	defer closeCursor()

	if err := cursor.WriteTime(ctx, cur, t); err != nil {
		return fmt.Errorf("write cursor: %w", err)
	}
	a.Logger.Warn().Str("cursor", cursor.FormatTimestamp(t)).Msg("cursor overwritten by operator")
	fmt.Fprintf(a.Out, "cursor set to %s\n", cursor.FormatTimestamp(t))
	return nil
}
