package storage

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewStoreWithDB(mock), mock
}

var runColumnNames = []string{
	"id", "scheduled_at", "past_due", "window_start", "window_end",
	"alerts", "pages", "batches", "status", "error", "started_at", "finished_at",
}

func TestEnsureSchema(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS connector_runs")).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRun(t *testing.T) {
	store, mock := newMockStore(t)

	started := time.Date(2024, 1, 1, 0, 10, 0, 0, time.UTC)
	start := started.Add(-10 * time.Minute)
	end := started.Add(-time.Minute)
	msg := "fetch alerts: boom"
	run := RunRecord{
		ID:          "run-1",
		ScheduledAt: started,
		WindowStart: &start,
		WindowEnd:   &end,
		Alerts:      13,
		Pages:       2,
		Batches:     1,
		Status:      StatusFailed,
		Error:       &msg,
		StartedAt:   started,
		FinishedAt:  started.Add(3 * time.Second),
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO connector_runs")).
		WithArgs("run-1", started, false, start, end, 13, 2, 1, StatusFailed, msg, started, run.FinishedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.RecordRun(context.Background(), run))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRunWithoutWindow(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2024, 1, 1, 0, 10, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO connector_runs")).
		WithArgs("run-2", now, true, nil, nil, 0, 0, 0, StatusSkipped, nil, now, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := store.RecordRun(context.Background(), RunRecord{
		ID: "run-2", ScheduledAt: now, PastDue: true, Status: StatusSkipped, StartedAt: now, FinishedAt: now,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListRecentRuns(t *testing.T) {
	store, mock := newMockStore(t)
	started := time.Date(2024, 1, 1, 0, 10, 0, 0, time.UTC)
	start := started.Add(-10 * time.Minute)
	end := started.Add(-time.Minute)

	rows := pgxmock.NewRows(runColumnNames).
		AddRow("run-1", started, false, start, end, 13, 2, 1, StatusSuccess, "", started, started.Add(time.Second))
	mock.ExpectQuery(regexp.QuoteMeta("FROM connector_runs")).
		WithArgs(5).
		WillReturnRows(rows)

	runs, err := store.ListRecentRuns(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-1", runs[0].ID)
	assert.Equal(t, 13, runs[0].Alerts)
	require.NotNil(t, runs[0].WindowEnd)
	assert.True(t, runs[0].WindowEnd.Equal(end))
	assert.Equal(t, time.Second, runs[0].Duration())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListRunsBetweenQueryError(t *testing.T) {
	store, mock := newMockStore(t)
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)
	boom := errors.New("connection reset")

	mock.ExpectQuery(regexp.QuoteMeta("WHERE started_at >= $1")).
		WithArgs(from, to).
		WillReturnError(boom)

	_, err := store.ListRunsBetween(context.Background(), from, to)
	assert.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCountRuns(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM connector_runs")).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(42)))

	count, err := store.CountRuns(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(42), count)
}

func TestCursorStoreReadWrite(t *testing.T) {
	store, mock := newMockStore(t)
	cur := store.Cursor("main")

	mock.ExpectQuery(regexp.QuoteMeta("SELECT value FROM connector_cursor")).
		WithArgs("main").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO connector_cursor")).
		WithArgs("main", "2024-01-01T00:09:00+00:00").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT value FROM connector_cursor")).
		WithArgs("main").
		WillReturnRows(pgxmock.NewRows([]string{"value"}).AddRow("2024-01-01T00:09:00+00:00\n"))

	_, ok, err := cur.Read(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cur.Write(context.Background(), "2024-01-01T00:09:00+00:00"))

	value, ok, err := cur.Read(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "2024-01-01T00:09:00+00:00", value)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUnconfiguredStore(t *testing.T) {
	var store *Store
	assert.ErrorIs(t, store.RecordRun(context.Background(), RunRecord{}), ErrNotConfigured)

	_, _, err := NewStore(nil).TryAdvisoryLock(context.Background(), 1)
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, _, err = NewStore(nil).Cursor("main").Read(context.Background())
	assert.ErrorIs(t, err, ErrNotConfigured)
}
