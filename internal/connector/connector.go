// Package connector runs one poll-and-forward cycle: open the query window,
// resolve credentials, fetch every alert in the window and upload them.
package connector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"alertsync/internal/alertcenter"
	"alertsync/internal/credentials"
	"alertsync/internal/ingestion"
	"alertsync/internal/logging"
	"alertsync/internal/metrics"
	"alertsync/internal/scheduler"
	"alertsync/internal/secrets"
	"alertsync/internal/storage"
	"alertsync/internal/window"
)

// Run failures, by stage. Each is fatal for the run.
var (
	ErrCursor      = errors.New("cursor store failure")
	ErrSecret      = errors.New("secret retrieval failure")
	ErrCredentials = errors.New("credentials failure")
	ErrFetch       = errors.New("alert fetch failure")
	ErrUpload      = errors.New("alert upload failure")
	ErrLock        = errors.New("run lock failure")
)

// ListerFactory binds an alerts lister to freshly issued credentials.
type ListerFactory func(ctx context.Context, creds credentials.Credentials) (alertcenter.Lister, error)

// Deps are the collaborators of a Connector. Runs, Locker and Metrics are
// optional. Secrets is needed only when Options names a secret.
type Deps struct {
	Window   *window.Calculator
	Secrets  secrets.Getter
	Auth     credentials.Authenticator
	Listers  ListerFactory
	Uploader ingestion.Uploader
	Runs     storage.RunStore
	Locker   storage.AdvisoryLocker
	Metrics  metrics.Sink
}

// Options tune a Connector.
type Options struct {
	// Secret names passed to Secrets. Empty names are not read and reach the
	// Authenticator as empty strings.
	ServiceAccountSecret string
	SubjectSecret        string
	Fetch                alertcenter.Options
	// LockKey enables the advisory run lock when non-zero and Locker is set.
	LockKey    int64
	RunTimeout time.Duration
	// DryRun fetches but never uploads. Pair it with a read-only cursor.
	DryRun bool
	Now    func() time.Time
}

// Report summarises one run.
type Report struct {
	RunID   string
	Window  window.Window
	Alerts  int
	Pages   int
	Batches int
	Skipped bool
}

// Connector orchestrates runs. Runs must not overlap within a process.
type Connector struct {
	deps   Deps
	opts   Options
	logger zerolog.Logger
}

// New checks the wiring and returns a Connector.
func New(deps Deps, opts Options, logger zerolog.Logger) (*Connector, error) {
	switch {
	case deps.Window == nil:
		return nil, errors.New("connector: window calculator required")
	case deps.Secrets == nil && (opts.ServiceAccountSecret != "" || opts.SubjectSecret != ""):
		return nil, errors.New("connector: secret getter required")
	case deps.Auth == nil:
		return nil, errors.New("connector: authenticator required")
	case deps.Listers == nil:
		return nil, errors.New("connector: lister factory required")
	case deps.Uploader == nil && !opts.DryRun:
		return nil, errors.New("connector: uploader required")
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNoopSink()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Connector{
		deps:   deps,
		opts:   opts,
		logger: logging.Component(logger, "connector"),
	}, nil
}

// Tick adapts Run to scheduler.TickFunc.
func (c *Connector) Tick(ctx context.Context, tick scheduler.Tick) error {
	_, err := c.Run(ctx, tick)
	return err
}

// Run executes one invocation for tick.
func (c *Connector) Run(ctx context.Context, tick scheduler.Tick) (Report, error) {
	report := Report{RunID: uuid.NewString()}
	logger := c.logger.With().Str("run_id", report.RunID).Logger()

	started := c.now()
	if tick.Scheduled.IsZero() {
		tick.Scheduled = started
	}
	c.deps.Metrics.RunStarted(tick.PastDue)
	logger.Info().Time("scheduled", tick.Scheduled).Bool("past_due", tick.PastDue).Bool("dry_run", c.opts.DryRun).Msg("run started")

	if c.opts.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.RunTimeout)
		defer cancel()
	}

	unlock, proceed, err := c.acquireLock(ctx)
	if err == nil && !proceed {
		report.Skipped = true
		logger.Info().Msg("skip run because the run lock is held elsewhere")
	}
	if err == nil && proceed {
		if unlock != nil {
			defer unlock()
		}
		err = c.execute(ctx, logger, &report)
	}

	finished := c.now()
	outcome := outcomeOf(err, report.Skipped)
	c.deps.Metrics.RunCompleted(outcome, finished.Sub(started))
	if err == nil && !report.Skipped {
		c.deps.Metrics.LastSuccess(finished)
	}
	c.record(ctx, logger, tick, report, err, started, finished)

	if err != nil {
		logger.Error().Err(err).Str("outcome", outcome).Dur("elapsed", finished.Sub(started)).Msg("run failed")
		return report, err
	}
	logger.Info().Str("outcome", outcome).
		Int("alerts", report.Alerts).
		Int("pages", report.Pages).
		Int("batches", report.Batches).
		Dur("elapsed", finished.Sub(started)).
		Msg("run finished")
	return report, nil
}

func (c *Connector) execute(ctx context.Context, logger zerolog.Logger, report *Report) error {
	w, err := c.deps.Window.Open(ctx)
	if err != nil {
		return fmt.Errorf("%w: open window: %w", ErrCursor, err)
	}
	report.Window = w
	c.deps.Metrics.WindowObserved(w.Duration(), c.now().Sub(w.End))

	fetcher, err := c.fetcher(ctx, logger)
	if err != nil {
		return err
	}
	if err := c.forward(ctx, logger, fetcher, w, report); err != nil {
		return err
	}

	if err := c.deps.Window.Commit(ctx, w); err != nil {
		return fmt.Errorf("%w: %w", ErrCursor, err)
	}
	return nil
}

// fetcher resolves secrets and credentials and binds a paginating fetcher to them.
func (c *Connector) fetcher(ctx context.Context, logger zerolog.Logger) (*alertcenter.Fetcher, error) {
	keyJSON, err := c.secret(ctx, c.opts.ServiceAccountSecret)
	if err != nil {
		return nil, err
	}
	subject, err := c.secret(ctx, c.opts.SubjectSecret)
	if err != nil {
		return nil, err
	}

	creds, err := c.deps.Auth.Authenticate(ctx, keyJSON, subject)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCredentials, err)
	}
	logger.Debug().Str("subject", creds.Subject()).Msg("credentials issued")
	lister, err := c.deps.Listers(ctx, creds)
	if err != nil {
		return nil, fmt.Errorf("%w: build alerts client: %w", ErrCredentials, err)
	}
	return alertcenter.NewFetcher(lister, c.opts.Fetch, logger), nil
}

func (c *Connector) secret(ctx context.Context, name string) (string, error) {
	if name == "" {
		return "", nil
	}
	value, err := c.deps.Secrets.GetSecret(ctx, name)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrSecret, name, err)
	}
	return value, nil
}

// forward fetches w and uploads the result, accumulating into report.
func (c *Connector) forward(ctx context.Context, logger zerolog.Logger, fetcher *alertcenter.Fetcher, w window.Window, report *Report) error {
	res, err := fetcher.Fetch(ctx, w.Start, w.End)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFetch, err)
	}
	report.Alerts += len(res.Alerts)
	report.Pages += res.Pages
	c.deps.Metrics.AlertsFetched(len(res.Alerts), res.Pages)
	logger.Info().Int("alerts", len(res.Alerts)).Int("pages", res.Pages).Msg("alerts fetched")

	if c.opts.DryRun {
		logger.Info().Msg("dry run, upload skipped")
		return nil
	}

	batches, err := c.upload(ctx, res.Alerts)
	report.Batches += batches
	c.deps.Metrics.BatchesUploaded(batches)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUpload, err)
	}
	return nil
}

func (c *Connector) upload(ctx context.Context, alerts []alertcenter.Alert) (int, error) {
	if counted, ok := c.deps.Uploader.(ingestion.BatchUploader); ok {
		return counted.UploadBatches(ctx, alerts)
	}
	if err := c.deps.Uploader.Upload(ctx, alerts); err != nil {
		return 0, err
	}
	return 1, nil
}

func (c *Connector) acquireLock(ctx context.Context) (func(), bool, error) {
	if c.opts.LockKey == 0 || c.deps.Locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := c.deps.Locker.TryAdvisoryLock(ctx, c.opts.LockKey)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %w", ErrLock, err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

func (c *Connector) record(ctx context.Context, logger zerolog.Logger, tick scheduler.Tick, report Report, runErr error, started, finished time.Time) {
	if c.deps.Runs == nil {
		return
	}

	rec := storage.RunRecord{
		ID:          report.RunID,
		ScheduledAt: tick.Scheduled,
		PastDue:     tick.PastDue,
		Alerts:      report.Alerts,
		Pages:       report.Pages,
		Batches:     report.Batches,
		Status:      statusOf(runErr, report.Skipped, c.opts.DryRun),
		StartedAt:   started,
		FinishedAt:  finished,
	}
	if !report.Window.Start.IsZero() {
		start, end := report.Window.Start, report.Window.End
		rec.WindowStart = &start
		rec.WindowEnd = &end
	}
	if runErr != nil {
		msg := runErr.Error()
		rec.Error = &msg
	}

	// the run context may already be past its deadline
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := c.deps.Runs.RecordRun(recordCtx, rec); err != nil {
		logger.Error().Err(err).Msg("failed to record run")
	}
}

func (c *Connector) now() time.Time {
	return c.opts.Now().UTC()
}

func statusOf(err error, skipped, dryRun bool) string {
	switch {
	case err != nil:
		return storage.StatusFailed
	case skipped:
		return storage.StatusSkipped
	case dryRun:
		return storage.StatusDryRun
	default:
		return storage.StatusSuccess
	}
}

func outcomeOf(err error, skipped bool) string {
	switch {
	case err == nil && skipped:
		return metrics.OutcomeSkipped
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.Is(err, ErrLock):
		return metrics.OutcomeLock
	case errors.Is(err, ErrCursor):
		return metrics.OutcomeCursor
	case errors.Is(err, ErrSecret):
		return metrics.OutcomeSecret
	case errors.Is(err, ErrCredentials):
		return metrics.OutcomeCredentials
	case errors.Is(err, ErrFetch):
		return metrics.OutcomeFetch
	case errors.Is(err, ErrUpload):
		return metrics.OutcomeUpload
	default:
		return metrics.OutcomeConfig
	}
}
