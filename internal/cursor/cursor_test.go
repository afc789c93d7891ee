package cursor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatTimestamp(t *testing.T) {
	tests := []struct {
		name string
		in   time.Time
		want string
	}{
		{"whole seconds", time.Date(2024, 1, 1, 0, 9, 0, 0, time.UTC), "2024-01-01T00:09:00+00:00"},
		{"microseconds", time.Date(2024, 1, 1, 0, 9, 0, 123456000, time.UTC), "2024-01-01T00:09:00.123456+00:00"},
		{"nanoseconds truncated", time.Date(2024, 1, 1, 0, 9, 0, 1000999, time.UTC), "2024-01-01T00:09:00.001000+00:00"},
		{"sub-microsecond dropped", time.Date(2024, 1, 1, 0, 9, 0, 999, time.UTC), "2024-01-01T00:09:00+00:00"},
		{"converted to utc", time.Date(2024, 1, 1, 2, 9, 0, 0, time.FixedZone("EET", 2*3600)), "2024-01-01T00:09:00+00:00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatTimestamp(tt.in))
		})
	}
}

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, in := range []string{
		"2024-01-01T00:00:00+00:00",
		"2024-01-01T00:00:00Z",
		"2024-01-01T01:00:00+01:00",
		"2024-01-01T00:00:00",
		" 2024-01-01T00:00:00+00:00\n",
	} {
		got, err := ParseTimestamp(in)
		require.NoError(t, err, in)
		assert.True(t, want.Equal(got), in)
		assert.Equal(t, time.UTC, got.Location())
	}

	_, err := ParseTimestamp("yesterday")
	assert.ErrorIs(t, err, ErrCorrupt)
}

type mapStore struct {
	value  string
	ok     bool
	writes int
}

func (m *mapStore) Read(context.Context) (string, bool, error) { return m.value, m.ok, nil }

func (m *mapStore) Write(_ context.Context, v string) error {
	m.value, m.ok = v, true
	m.writes++
	return nil
}

func TestReadWriteTime(t *testing.T) {
	ctx := context.Background()
	store := &mapStore{}

	_, ok, err := ReadTime(ctx, store)
	require.NoError(t, err)
	assert.False(t, ok)

	ts := time.Date(2024, 3, 5, 7, 9, 11, 250000000, time.UTC)
	require.NoError(t, WriteTime(ctx, store, ts))
	assert.Equal(t, "2024-03-05T07:09:11.250000+00:00", store.value)

	got, ok, err := ReadTime(ctx, store)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, ts.Equal(got))
}

func TestReadTimeCorrupt(t *testing.T) {
	_, _, err := ReadTime(context.Background(), &mapStore{value: "garbage", ok: true})
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestReadOnlyDiscardsWrites(t *testing.T) {
	inner := &mapStore{value: "2024-01-01T00:00:00+00:00", ok: true}
	ro := ReadOnly(inner)

	require.NoError(t, ro.Write(context.Background(), "2030-01-01T00:00:00+00:00"))
	v, ok, err := ro.Read(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "2024-01-01T00:00:00+00:00", v)
	assert.Zero(t, inner.writes)
}
