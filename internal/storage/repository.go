package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"alertsync/internal/cursor"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	schemaSQL = `CREATE TABLE IF NOT EXISTS connector_runs (
        id           TEXT PRIMARY KEY,
        scheduled_at TIMESTAMPTZ NOT NULL,
        past_due     BOOLEAN NOT NULL DEFAULT FALSE,
        window_start TIMESTAMPTZ,
        window_end   TIMESTAMPTZ,
        alerts       INTEGER NOT NULL DEFAULT 0,
        pages        INTEGER NOT NULL DEFAULT 0,
        batches      INTEGER NOT NULL DEFAULT 0,
        status       TEXT NOT NULL,
        error        TEXT,
        started_at   TIMESTAMPTZ NOT NULL,
        finished_at  TIMESTAMPTZ NOT NULL
    );
    CREATE INDEX IF NOT EXISTS connector_runs_started_at_idx ON connector_runs (started_at);
    CREATE TABLE IF NOT EXISTS connector_cursor (
        name       TEXT PRIMARY KEY,
        value      TEXT NOT NULL,
        updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
    );`

	upsertRunSQL = `INSERT INTO connector_runs (
        id,
        scheduled_at,
        past_due,
        window_start,
        window_end,
        alerts,
        pages,
        batches,
        status,
        error,
        started_at,
        finished_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
    )
    ON CONFLICT (id) DO UPDATE
    SET
        window_start = EXCLUDED.window_start,
        window_end   = EXCLUDED.window_end,
        alerts       = EXCLUDED.alerts,
        pages        = EXCLUDED.pages,
        batches      = EXCLUDED.batches,
        status       = EXCLUDED.status,
        error        = EXCLUDED.error,
        finished_at  = EXCLUDED.finished_at;`

	runColumns = `id,
        scheduled_at,
        past_due,
        window_start,
        window_end,
        alerts,
        pages,
        batches,
        status,
        error,
        started_at,
        finished_at`

	listRunsBetweenSQL = `SELECT ` + runColumns + `
    FROM connector_runs
    WHERE started_at >= $1
      AND started_at < $2
    ORDER BY started_at;`

	listRecentRunsSQL = `SELECT ` + runColumns + `
    FROM connector_runs
    ORDER BY started_at DESC
    LIMIT $1;`

	countRunsSQL = `SELECT COUNT(*) FROM connector_runs;`

	readCursorSQL  = `SELECT value FROM connector_cursor WHERE name = $1;`
	writeCursorSQL = `INSERT INTO connector_cursor (name, value, updated_at)
    VALUES ($1, $2, now())
    ON CONFLICT (name) DO UPDATE
    SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// DB is the subset of pgxpool.Pool the store needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// RunStore defines operations for the run ledger.
type RunStore interface {
	RecordRun(ctx context.Context, run RunRecord) error
	ListRunsBetween(ctx context.Context, from, to time.Time) ([]RunRecord, error)
	ListRecentRuns(ctx context.Context, limit int) ([]RunRecord, error)
	CountRuns(ctx context.Context) (int64, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates the run ledger, the cursor table and the run lock.
type Store struct {
	db   DB
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	s := &Store{pool: pool}
	if pool != nil {
		s.db = pool
	}
	return s
}

// NewStoreWithDB uses an arbitrary DB. Advisory locks need a real pool and
// report ErrNotConfigured here.
func NewStoreWithDB(db DB) *Store {
	return &Store{db: db}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getDB() (DB, error) {
	if s == nil || s.db == nil {
		return nil, ErrNotConfigured
	}
	return s.db, nil
}

// EnsureSchema creates the ledger and cursor tables when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	if _, err := db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	if s == nil || s.pool == nil {
		return nil, false, ErrNotConfigured
	}

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// the lock dies with the session anyway
			conn.Conn().Close(ctxUnlock)
		}
		conn.Release()
	}
	return unlock, true, nil
}

// RecordRun inserts or updates a ledger row.
func (s *Store) RecordRun(ctx context.Context, run RunRecord) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	var errMsg any
	if run.Error != nil {
		errMsg = *run.Error
	}

	_, execErr := db.Exec(ctx, upsertRunSQL,
		run.ID,
		run.ScheduledAt,
		run.PastDue,
		nullableTime(run.WindowStart),
		nullableTime(run.WindowEnd),
		run.Alerts,
		run.Pages,
		run.Batches,
		run.Status,
		errMsg,
		run.StartedAt,
		run.FinishedAt,
	)
	if execErr != nil {
		return fmt.Errorf("record run: %w", execErr)
	}
	return nil
}

// ListRunsBetween lists runs started within [from, to).
func (s *Store) ListRunsBetween(ctx context.Context, from, to time.Time) ([]RunRecord, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, queryErr := db.Query(ctx, listRunsBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list runs between: %w", queryErr)
	}
	return collectRuns(rows, 0)
}

// ListRecentRuns lists the most recent runs, newest first.
func (s *Store) ListRecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, queryErr := db.Query(ctx, listRecentRunsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent runs: %w", queryErr)
	}
	return collectRuns(rows, limit)
}

// CountRuns counts ledger rows.
func (s *Store) CountRuns(ctx context.Context) (int64, error) {
	db, err := s.getDB()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := db.QueryRow(ctx, countRunsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count runs: %w", scanErr)
	}
	return count, nil
}

// Cursor returns a cursor.Store persisted in the connector_cursor table.
func (s *Store) Cursor(name string) *CursorStore {
	return &CursorStore{store: s, name: name}
}

// CursorStore keeps a named cursor in PostgreSQL.
type CursorStore struct {
	store *Store
	name  string
}

func (c *CursorStore) Read(ctx context.Context) (string, bool, error) {
	db, err := c.store.getDB()
	if err != nil {
		return "", false, err
	}

	var value string
	scanErr := db.QueryRow(ctx, readCursorSQL, c.name).Scan(&value)
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return "", false, nil
	}
	if scanErr != nil {
		return "", false, fmt.Errorf("read cursor %s: %w", c.name, scanErr)
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false, nil
	}
	return value, true, nil
}

func (c *CursorStore) Write(ctx context.Context, value string) error {
	db, err := c.store.getDB()
	if err != nil {
		return err
	}
	if _, execErr := db.Exec(ctx, writeCursorSQL, c.name, value); execErr != nil {
		return fmt.Errorf("write cursor %s: %w", c.name, execErr)
	}
	return nil
}

func collectRuns(rows pgx.Rows, capacity int) ([]RunRecord, error) {
	defer rows.Close()

	runs := make([]RunRecord, 0, capacity)
	for rows.Next() {
		run, scanErr := scanRun(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		runs = append(runs, run)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return runs, nil
}

func scanRun(rows pgx.Rows) (RunRecord, error) {
	var (
		run         RunRecord
		windowStart sql.NullTime
		windowEnd   sql.NullTime
		errMsg      sql.NullString
	)

	if err := rows.Scan(
		&run.ID,
		&run.ScheduledAt,
		&run.PastDue,
		&windowStart,
		&windowEnd,
		&run.Alerts,
		&run.Pages,
		&run.Batches,
		&run.Status,
		&errMsg,
		&run.StartedAt,
		&run.FinishedAt,
	); err != nil {
		return RunRecord{}, fmt.Errorf("scan run: %w", err)
	}

	if windowStart.Valid {
		t := windowStart.Time
		run.WindowStart = &t
	}
	if windowEnd.Valid {
		t := windowEnd.Time
		run.WindowEnd = &t
	}
	if errMsg.Valid {
		msg := errMsg.String
		run.Error = &msg
	}
	return run, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

var (
	_ RunStore       = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
	_ cursor.Store   = (*CursorStore)(nil)
)
