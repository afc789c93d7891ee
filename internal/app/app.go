package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/option"

	"alertsync/internal/alertcenter"
	"alertsync/internal/config"
	"alertsync/internal/connector"
	"alertsync/internal/credentials"
	"alertsync/internal/cursor"
	"alertsync/internal/ingestion"
	"alertsync/internal/logging"
	"alertsync/internal/metrics"
	"alertsync/internal/scheduler"
	"alertsync/internal/secrets"
	"alertsync/internal/storage"
	"alertsync/internal/version"
	"alertsync/internal/window"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer

	azureCred azcore.TokenCredential
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logging.Component(logger, "app"), Out: os.Stdout}
}

// azureCredential resolves the ambient Azure identity once: managed identity
// in the function host, environment or CLI credentials elsewhere.
func (a *App) azureCredential() (azcore.TokenCredential, error) {
	if a.azureCred != nil {
		return a.azureCred, nil
	}
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("resolve azure credential: %w", err)
	}
	a.azureCred = cred
	return cred, nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database, a.Config.App.Name)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, nil, err
	}
	return store, store.Close, nil
}

// openCursor builds the configured cursor backend. store is only needed for
// the postgres backend and may be nil otherwise.
func (a *App) openCursor(store *storage.Store) (cursor.Store, func(), error) {
	cfg := a.Config.Cursor
	noop := func() {}

	switch cfg.Backend {
	case config.CursorBlob:
		cred, err := a.azureCredential()
		if err != nil {
			return nil, nil, err
		}
		blob, err := cursor.NewBlobStore(cursor.BlobOptions{
			AccountName: cfg.Blob.AccountName,
			Container:   cfg.Blob.Container,
			BlobName:    cfg.Blob.BlobName,
			ServiceURL:  cfg.Blob.ServiceURL,
		}, cred, a.Logger)
		if err != nil {
			return nil, nil, err
		}
		return blob, noop, nil
	case config.CursorRedis:
		rs, err := cursor.NewRedisStore(cursor.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Key:      cfg.Redis.Key,
		})
		if err != nil {
			return nil, nil, err
		}
		return rs, func() { _ = rs.Close() }, nil
	case config.CursorPostgres:
		if store == nil {
			return nil, nil, fmt.Errorf("%w: postgres cursor requires database.dsn", config.ErrConfig)
		}
		return store.Cursor(cfg.Name), noop, nil
	case config.CursorFile:
		return cursor.NewFileStore(cfg.File.Path), noop, nil
	default:
		return nil, nil, fmt.Errorf("%w: unknown cursor backend %q", config.ErrConfig, cfg.Backend)
	}
}

func (a *App) listerFactory() connector.ListerFactory {
	g := a.Config.Google
	return func(ctx context.Context, creds credentials.Credentials) (alertcenter.Lister, error) {
		return alertcenter.NewGoogleLister(ctx, alertcenter.GoogleOptions{
			Endpoint:       g.Endpoint,
			UserAgent:      version.UserAgent(),
			RequestTimeout: g.RequestTimeout,
		}, option.WithTokenSource(creds.TokenSource()))
	}
}

type buildOptions struct {
	dryRun bool
	sink   metrics.Sink
	store  *storage.Store
	cursor cursor.Store
	now    func() time.Time
	noLock bool
}

// newConnector wires the production collaborators around cur.
func (a *App) newConnector(opts buildOptions) (*connector.Connector, error) {
	cred, err := a.azureCredential()
	if err != nil {
		return nil, err
	}

	deps := connector.Deps{
		Window: window.NewCalculator(opts.cursor, window.Options{
			SafetyMargin:    a.Config.Window.SafetyMargin,
			DefaultInterval: a.Config.Window.DefaultInterval,
			CommitMode:      a.Config.Window.CommitMode,
			Now:             opts.now,
		}, a.Logger),
		Listers: a.listerFactory(),
		Metrics: opts.sink,
	}

	var connOpts connector.Options
	switch a.Config.Google.Auth {
	case config.AuthApplicationDefault:
		deps.Auth = credentials.ApplicationDefault{Scopes: a.Config.Google.Scopes}
	default:
		vault, err := secrets.NewKeyVault(a.Config.KeyVault.URL, cred, a.Logger)
		if err != nil {
			return nil, err
		}
		deps.Secrets = vault
		deps.Auth = credentials.ServiceAccount{Scopes: a.Config.Google.Scopes}
		connOpts.ServiceAccountSecret = a.Config.KeyVault.ServiceAccountSecret
		connOpts.SubjectSecret = a.Config.KeyVault.SubjectSecret
	}

	if !opts.dryRun {
		uploader, err := ingestion.NewLogsIngestion(ingestion.Destination{
			Endpoint:   a.Config.Ingestion.Endpoint,
			RuleID:     a.Config.Ingestion.RuleID,
			StreamName: a.Config.Ingestion.StreamName,
		}, ingestion.Options{MaxBatchBytes: a.Config.Ingestion.MaxBatchBytes}, cred, a.Logger)
		if err != nil {
			return nil, err
		}
		deps.Uploader = uploader
	}

	var lockKey int64
	if opts.store != nil {
		deps.Runs = opts.store
		if !opts.noLock {
			deps.Locker = opts.store
			lockKey = a.Config.Database.RunLockKey
		}
	}

	connOpts.Fetch = alertcenter.Options{
		PageSize:          a.Config.Google.PageSize,
		MaxPages:          a.Config.Google.MaxPages,
		RequestsPerSecond: a.Config.Google.RequestsPerSecond,
	}
	connOpts.LockKey = lockKey
	connOpts.RunTimeout = a.Config.Schedule.RunTimeout
	connOpts.DryRun = opts.dryRun
	return connector.New(deps, connOpts, a.Logger)
}

// Run executes the long-running scheduled connector.
func (a *App) Run(ctx context.Context) error {
	if err := a.Config.ValidateRun(true); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; run ledger and run lock disabled")
	} else {
		defer closeStore()
	}

	cur, closeCursor, err := a.openCursor(store)
	if err != nil {
		return err
	}
	defer closeCursor()

	var sink metrics.Sink = metrics.NewNoopSink()
	registry := prometheus.NewRegistry()
	if a.Config.Metrics.Enabled {
		sink = metrics.NewPrometheusSink(registry, a.Logger)
	}

	conn, err := a.newConnector(buildOptions{sink: sink, store: store, cursor: cur})
	if err != nil {
		return err
	}

	schedule, err := scheduler.Parse(a.Config.Schedule.Cron, a.Config.Schedule.Timezone)
	if err != nil {
		return fmt.Errorf("%w: schedule.cron: %w", config.ErrConfig, err)
	}
	sched, err := scheduler.New(scheduler.Options{
		Schedule:         schedule,
		RunOnStartup:     a.Config.Schedule.RunOnStartup,
		PastDueTolerance: a.Config.Schedule.PastDueTolerance,
	}, a.Logger)
	if err != nil {
		return err
	}

	health := newHealth(time.Now)
	tick := func(ctx context.Context, t scheduler.Tick) error {
		report, err := conn.Run(ctx, t)
		health.observe(report, err)
		return err
	}

	g, gCtx := errgroup.WithContext(ctx)
	if a.Config.Metrics.Enabled {
		srv := newServer(a.Config.Metrics, registry, health, a.Logger)
		g.Go(func() error { return srv.serve(gCtx) })
	}
	g.Go(func() error {
		a.Logger.Info().Str("cron", a.Config.Schedule.Cron).Str("commit_mode", a.Config.Window.CommitMode).Msg("starting connector")
		return sched.Run(gCtx, tick)
	})

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("connector terminated with error")
		return err
	}

	a.Logger.Info().Msg("connector stopped")
	return nil
}

// Once performs a single invocation, as the function host would on a timer trigger.
func (a *App) Once(ctx context.Context, pastDue bool) (connector.Report, error) {
	if err := a.Config.ValidateRun(true); err != nil {
		return connector.Report{}, err
	}
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return connector.Report{}, err
	}
	if store != nil {
		defer closeStore()
	}

	cur, closeCursor, err := a.openCursor(store)
	if err != nil {
		return connector.Report{}, err
	}
	defer closeCursor()

	conn, err := a.newConnector(buildOptions{store: store, cursor: cur})
	if err != nil {
		return connector.Report{}, err
	}

	report, err := conn.Run(ctx, scheduler.Tick{PastDue: pastDue})
	if err != nil {
		return report, err
	}
	a.printReport(report)
	return report, nil
}

// DryRun computes the next window without moving the cursor, fetches it and
// reports what would be uploaded.
func (a *App) DryRun(ctx context.Context) (connector.Report, error) {
	if err := a.Config.ValidateRun(false); err != nil {
		return connector.Report{}, err
	}
	cur, closeCursor, err := a.openCursorForRead(ctx)
	if err != nil {
		return connector.Report{}, err
	}
	defer closeCursor()

	conn, err := a.newConnector(buildOptions{dryRun: true, cursor: cursor.ReadOnly(cur), noLock: true})
	if err != nil {
		return connector.Report{}, err
	}

	report, err := conn.Run(ctx, scheduler.Tick{})
	if err != nil {
		return report, err
	}
	a.printReport(report)
	return report, nil
}

// openCursorForRead opens the cursor along with whatever store it needs.
func (a *App) openCursorForRead(ctx context.Context) (cursor.Store, func(), error) {
	var (
		store      *storage.Store
		closeStore = func() {}
		err        error
	)
	if a.Config.Cursor.Backend == config.CursorPostgres {
		store, closeStore, err = a.openStore(ctx)
		if err != nil {
			return nil, nil, err
		}
	}

	cur, closeCursor, err := a.openCursor(store)
	if err != nil {
		if store != nil {
			closeStore()
		}
		return nil, nil, err
	}
	return cur, func() {
		closeCursor()
		if store != nil {
			closeStore()
		}
	}, nil
}

func (a *App) printReport(r connector.Report) {
	if r.Skipped {
		fmt.Fprintf(a.Out, "run %s skipped: run lock held elsewhere\n", r.RunID)
		return
	}
	fmt.Fprintf(a.Out, "run %s window [%s, %s) alerts=%d pages=%d batches=%d\n",
		r.RunID,
		cursor.FormatTimestamp(r.Window.Start),
		cursor.FormatTimestamp(r.Window.End),
		r.Alerts, r.Pages, r.Batches)
}

// ExportOptions hold parameters for exporting the run ledger.
type ExportOptions struct {
	From    *time.Time
	To      *time.Time
	PNGPath string
	CSVPath string
	MaxRuns int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// BackfillOptions configure the backfill job.
type BackfillOptions struct {
	From  time.Time
	To    time.Time
	Chunk time.Duration
}
