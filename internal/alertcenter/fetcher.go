package alertcenter

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"alertsync/internal/logging"
)

// ErrPageLimitExceeded is returned when the API keeps offering pages past MaxPages.
var ErrPageLimitExceeded = errors.New("alertcenter: page limit exceeded")

// Defaults applied by NewFetcher.
const (
	DefaultPageSize = 10
	DefaultMaxPages = 1000
)

// Options parameterise the fetcher.
type Options struct {
	PageSize int
	MaxPages int
	// RequestsPerSecond paces page requests; zero disables pacing.
	RequestsPerSecond float64
}

// Result is the aggregated outcome of one fetch.
type Result struct {
	Alerts []Alert
	Pages  int
}

// Fetcher aggregates every page of a windowed alert query.
type Fetcher struct {
	lister  Lister
	opts    Options
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// NewFetcher wraps a lister.
func NewFetcher(lister Lister, opts Options, logger zerolog.Logger) *Fetcher {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = DefaultMaxPages
	}

	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}

	return &Fetcher{
		lister:  lister,
		opts:    opts,
		limiter: limiter,
		logger:  logging.Component(logger, "alert_fetcher"),
	}
}

// Pages lazily walks the pages for [start, end). The sequence stops after the
// first error, which is yielded with a zero Page.
func (f *Fetcher) Pages(ctx context.Context, start, end time.Time) iter.Seq2[Page, error] {
	return func(yield func(Page, error) bool) {
		req := PageRequest{Filter: Filter(start, end), PageSize: f.opts.PageSize}

		for n := 1; ; n++ {
			if n > f.opts.MaxPages {
				yield(Page{}, fmt.Errorf("%w: more than %d pages", ErrPageLimitExceeded, f.opts.MaxPages))
				return
			}
			if f.limiter != nil {
				if err := f.limiter.Wait(ctx); err != nil {
					yield(Page{}, fmt.Errorf("wait for page %d: %w", n, err))
					return
				}
			}

			page, err := f.lister.ListPage(ctx, req)
			if err != nil {
				yield(Page{}, fmt.Errorf("list alerts page %d: %w", n, err))
				return
			}
			page.Number = n

			f.logger.Debug().Int("page", n).Int("alerts", len(page.Alerts)).
				Bool("has_next", page.NextPageToken != "").Msg("alerts page fetched")

			if !yield(page, nil) {
				return
			}
			if page.NextPageToken == "" {
				return
			}
			req.PageToken = page.NextPageToken
		}
	}
}

// Fetch collects every alert in [start, end) in page order. Any page failure
// discards what was collected so far.
func (f *Fetcher) Fetch(ctx context.Context, start, end time.Time) (Result, error) {
	var res Result
	res.Alerts = make([]Alert, 0)
	for page, err := range f.Pages(ctx, start, end) {
		if err != nil {
			return Result{}, err
		}
		res.Pages++
		res.Alerts = append(res.Alerts, page.Alerts...)
	}
	return res, nil
}

// FetchAlerts is Fetch without the page count.
func (f *Fetcher) FetchAlerts(ctx context.Context, start, end time.Time) ([]Alert, error) {
	res, err := f.Fetch(ctx, start, end)
	if err != nil {
		return nil, err
	}
	return res.Alerts, nil
}
