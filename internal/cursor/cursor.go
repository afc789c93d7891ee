// Package cursor persists the watermark that marks the end of the last queried
// alert window.
package cursor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrCorrupt is returned when a stored cursor cannot be parsed as a timestamp.
var ErrCorrupt = errors.New("cursor: stored value is not a timestamp")

// Store reads and overwrites a single cursor value.
// Read reports ok=false when nothing has been recorded yet.
type Store interface {
	Read(ctx context.Context) (value string, ok bool, err error)
	Write(ctx context.Context, value string) error
}

const (
	layoutSeconds = "2006-01-02T15:04:05-07:00"
	layoutMicros  = "2006-01-02T15:04:05.000000-07:00"
	layoutNaive   = "2006-01-02T15:04:05.999999999"
)

// FormatTimestamp renders t in UTC with an explicit +00:00 offset. A six digit
// fraction is written only when t carries sub-second microseconds.
func FormatTimestamp(t time.Time) string {
	t = t.UTC().Truncate(time.Microsecond)
	if t.Nanosecond() == 0 {
		return t.Format(layoutSeconds)
	}
	return t.Format(layoutMicros)
}

// ParseTimestamp accepts RFC 3339 values with any fraction or offset. Values
// without an offset are read as UTC.
func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.ParseInLocation(layoutNaive, value, time.UTC); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrCorrupt, value)
}

// ReadTime reads the store and decodes the cursor.
func ReadTime(ctx context.Context, store Store) (time.Time, bool, error) {
	raw, ok, err := store.Read(ctx)
	if err != nil {
		return time.Time{}, false, err
	}
	if !ok {
		return time.Time{}, false, nil
	}
	t, err := ParseTimestamp(raw)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

// WriteTime encodes t and overwrites the store.
func WriteTime(ctx context.Context, store Store, t time.Time) error {
	return store.Write(ctx, FormatTimestamp(t))
}

// ReadOnly wraps a store so that writes are discarded. Used by dry runs.
func ReadOnly(store Store) Store {
	return readOnly{store: store}
}

type readOnly struct {
	store Store
}

func (r readOnly) Read(ctx context.Context) (string, bool, error) {
	return r.store.Read(ctx)
}

func (r readOnly) Write(context.Context, string) error {
	return nil
}
