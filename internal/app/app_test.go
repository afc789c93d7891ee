package app

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alertsync/internal/config"
	"alertsync/internal/connector"
	"alertsync/internal/metrics"
	"alertsync/internal/storage"
	"alertsync/internal/window"
)

func testApp(t *testing.T, mutate func(*config.Config)) (*App, *bytes.Buffer) {
	t.Helper()
	cfg := &config.Config{
		App:    config.AppConfig{Name: "alertsync"},
		Window: config.WindowConfig{DefaultInterval: 10 * time.Minute, SafetyMargin: time.Minute, CommitMode: config.CommitEager},
		Cursor: config.CursorConfig{
			Backend: config.CursorFile,
			File:    config.FileCursorConfig{Path: filepath.Join(t.TempDir(), "state", "cursor.txt")},
		},
		Database: config.DatabaseConfig{DSN: "postgres://user:hunter2@db/alerts"},
		Export:   config.ExportConfig{MaxRuns: 100},
	}
	if mutate != nil {
		mutate(cfg)
	}
	var out bytes.Buffer
	a := NewApp(cfg, zerolog.Nop())
	a.Out = &out
	return a, &out
}

func TestCursorSetAndShowFileBackend(t *testing.T) {
	a, out := testApp(t, nil)
	ctx := context.Background()

	require.NoError(t, a.CursorShow(ctx))
	assert.Contains(t, out.String(), "cursor: (none")

	require.NoError(t, a.CursorSet(ctx, "2024-01-01T00:00:00Z"))
	out.Reset()

	cur, closeCursor, err := a.openCursor(nil)
	require.NoError(t, err)
	defer closeCursor()

	now := time.Date(2024, 1, 1, 0, 10, 0, 0, time.UTC)
	require.NoError(t, a.describeCursor(ctx, cur, now))
	assert.Contains(t, out.String(), "cursor: 2024-01-01T00:00:00+00:00")
	assert.Contains(t, out.String(), "next window: [2024-01-01T00:00:00+00:00, 2024-01-01T00:09:00+00:00)")
}

func TestCursorSetRejectsGarbage(t *testing.T) {
	a, _ := testApp(t, nil)
	assert.Error(t, a.CursorSet(context.Background(), "yesterday"))
}

func TestCursorSetRedisBackend(t *testing.T) {
	srv := miniredis.RunT(t)
	a, _ := testApp(t, func(c *config.Config) {
		c.Cursor.Backend = config.CursorRedis
		c.Cursor.Redis = config.RedisConfig{Addr: srv.Addr(), Key: "alertsync:cursor"}
	})

	require.NoError(t, a.CursorSet(context.Background(), "2024-01-01T00:09:00+00:00"))
	got, err := srv.Get("alertsync:cursor")
	require.NoError(t, err)
	assert.Equal(t, "2024-01-01T00:09:00+00:00", got)
}

func TestOpenCursorPostgresNeedsStore(t *testing.T) {
	a, _ := testApp(t, func(c *config.Config) { c.Cursor.Backend = config.CursorPostgres })
	_, _, err := a.openCursor(nil)
	assert.ErrorIs(t, err, config.ErrConfig)

	a, _ = testApp(t, func(c *config.Config) { c.Cursor.Backend = "s3" })
	_, _, err = a.openCursor(nil)
	assert.ErrorIs(t, err, config.ErrConfig)
}

func TestDumpConfigRedactsSecrets(t *testing.T) {
	a, out := testApp(t, func(c *config.Config) {
		c.Cursor.Redis.Password = "s3cret"
	})

	require.NoError(t, a.DumpConfig())
	assert.Contains(t, out.String(), "commit_mode: eager")
	assert.NotContains(t, out.String(), "hunter2")
	assert.NotContains(t, out.String(), "s3cret")
}

func TestBackfillRejectsEmptyRange(t *testing.T) {
	a, _ := testApp(t, nil)
	now := time.Now()
	err := a.Backfill(context.Background(), BackfillOptions{From: now, To: now.Add(-time.Hour)})
	assert.ErrorContains(t, err, "empty range")
}

func TestPipelineCommandsCheckRunSettings(t *testing.T) {
	a, _ := testApp(t, func(c *config.Config) { c.Google.Auth = config.AuthServiceAccount })
	ctx := context.Background()

	_, err := a.Once(ctx, false)
	require.ErrorIs(t, err, config.ErrConfig)
	assert.Contains(t, err.Error(), "ingestion.endpoint")
	assert.Contains(t, err.Error(), "keyvault.url")

	err = a.Run(ctx)
	require.ErrorIs(t, err, config.ErrConfig)

	now := time.Now()
	err = a.Backfill(ctx, BackfillOptions{From: now.Add(-time.Hour), To: now})
	require.ErrorIs(t, err, config.ErrConfig)

	_, err = a.DryRun(ctx)
	require.ErrorIs(t, err, config.ErrConfig)
	assert.Contains(t, err.Error(), "keyvault.url")
	assert.NotContains(t, err.Error(), "ingestion.endpoint")

	a.Config.Google.Auth = config.AuthApplicationDefault
	assert.NoError(t, a.Config.ValidateRun(false))
}

func sampleRuns(n int) []storage.RunRecord {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	runs := make([]storage.RunRecord, n)
	for i := range runs {
		started := base.Add(time.Duration(i) * 10 * time.Minute)
		end := started.Add(-time.Minute)
		runs[i] = storage.RunRecord{
			ID:          "run-" + string(rune('a'+i%26)),
			ScheduledAt: started,
			StartedAt:   started,
			FinishedAt:  started.Add(1500 * time.Millisecond),
			WindowEnd:   &end,
			Alerts:      i,
			Status:      storage.StatusSuccess,
		}
	}
	return runs
}

func TestDownsampleRuns(t *testing.T) {
	runs := sampleRuns(10)

	assert.Len(t, downsampleRuns(runs, 0), 10)
	assert.Len(t, downsampleRuns(runs, 20), 10)

	picked := downsampleRuns(runs, 4)
	require.Len(t, picked, 4)
	assert.Equal(t, 0, picked[0].Alerts)
	assert.Equal(t, 9, picked[3].Alerts)

	assert.Equal(t, 9, downsampleRuns(runs, 1)[0].Alerts)
}

func TestWriteRunsCSVAndPNG(t *testing.T) {
	dir := t.TempDir()
	runs := sampleRuns(3)
	msg := "fetch: boom"
	runs[2].Status = storage.StatusFailed
	runs[2].Error = &msg

	csvPath := filepath.Join(dir, "out", "runs.csv")
	require.NoError(t, writeRunsCSV(csvPath, runs))

	f, err := os.Open(csvPath)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, "run_id", records[0][0])
	assert.Equal(t, "1500", records[1][10])
	assert.Equal(t, "fetch: boom", records[3][11])

	pngPath := filepath.Join(dir, "out", "runs.png")
	require.NoError(t, writeRunsPNG(pngPath, runs))
	info, err := os.Stat(pngPath)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

type ledgerStub struct {
	storage.RunStore
	runs  []storage.RunRecord
	total int64
}

func (l ledgerStub) ListRecentRuns(_ context.Context, limit int) ([]storage.RunRecord, error) {
	if limit < len(l.runs) {
		return l.runs[:limit], nil
	}
	return l.runs, nil
}

func (l ledgerStub) CountRuns(context.Context) (int64, error) { return l.total, nil }

func TestShowRunsPrintsTotal(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, showRuns(context.Background(), &buf, ledgerStub{runs: sampleRuns(3), total: 42}, 2))
	assert.Contains(t, buf.String(), "showing 2 of 42 runs")

	buf.Reset()
	require.NoError(t, showRuns(context.Background(), &buf, ledgerStub{}, 5))
	assert.Equal(t, "no runs found\n", buf.String())
}

func TestRenderRuns(t *testing.T) {
	runs := sampleRuns(2)
	msg := "line one\nline two"
	runs[1].Error = &msg

	var buf bytes.Buffer
	require.NoError(t, renderRuns(&buf, runs))

	out := buf.String()
	assert.Contains(t, out, "2024-01-01T00:00:00Z")
	assert.Contains(t, out, "line one line two")
	assert.Contains(t, out, "-")
}

func TestHealthEndpoint(t *testing.T) {
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	h := newHealth(func() time.Time { return clock })
	reg := prometheus.NewRegistry()
	metrics.NewPrometheusSink(reg, zerolog.Nop()).RunStarted(false)
	router := newRouter("/metrics", reg, h)

	h.observe(connector.Report{Alerts: 4, Window: window.Window{}}, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var st healthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "ok", st.Status)
	assert.Equal(t, 4, st.LastAlerts)
	require.NotNil(t, st.LastSuccess)

	h.observe(connector.Report{}, errors.New("upload failed"))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "degraded", st.Status)
	assert.Equal(t, "upload failed", st.LastError)

	h.observe(connector.Report{Alerts: 1}, nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code, "recovers after a successful run")

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "alertsync_runs_past_due_total"))
}
