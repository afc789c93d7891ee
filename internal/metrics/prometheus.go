package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"alertsync/internal/logging"
)

// PrometheusSink implements Sink with client_golang collectors.
// Registration errors are logged and never propagated.
type PrometheusSink struct {
	runsTotal        *prometheus.CounterVec
	pastDueTotal     prometheus.Counter
	runDuration      prometheus.Histogram
	alertsTotal      prometheus.Counter
	pagesTotal       prometheus.Counter
	batchesTotal     prometheus.Counter
	lastRunAlerts    prometheus.Gauge
	windowSpan       prometheus.Gauge
	windowLag        prometheus.Gauge
	lastSuccessEpoch prometheus.Gauge

	logger zerolog.Logger
}

// NewPrometheusSink registers the connector collectors on reg.
func NewPrometheusSink(reg prometheus.Registerer, logger zerolog.Logger) *PrometheusSink {
	s := &PrometheusSink{logger: logging.Component(logger, "metrics")}

	s.runsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "alertsync_runs_total",
		Help: "Connector runs by outcome.",
	}, []string{"outcome"})
	s.pastDueTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "alertsync_runs_past_due_total",
		Help: "Runs that fired later than scheduled.",
	})
	s.runDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "alertsync_run_duration_seconds",
		Help:    "Wall time of a connector run.",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	})
	s.alertsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "alertsync_alerts_fetched_total",
		Help: "Alerts fetched from the alerts API.",
	})
	s.pagesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "alertsync_pages_fetched_total",
		Help: "Alert list pages fetched.",
	})
	s.batchesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "alertsync_upload_batches_total",
		Help: "Batches sent to the ingestion endpoint.",
	})
	s.lastRunAlerts = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "alertsync_last_run_alerts",
		Help: "Alerts fetched by the most recent run.",
	})
	s.windowSpan = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "alertsync_window_span_seconds",
		Help: "Length of the most recent query window.",
	})
	s.windowLag = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "alertsync_window_lag_seconds",
		Help: "Distance between now and the end of the most recent window.",
	})
	s.lastSuccessEpoch = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "alertsync_last_success_timestamp_seconds",
		Help: "Unix time of the last successful run.",
	})

	s.register(reg, s.runsTotal, "alertsync_runs_total")
	s.register(reg, s.pastDueTotal, "alertsync_runs_past_due_total")
	s.register(reg, s.runDuration, "alertsync_run_duration_seconds")
	s.register(reg, s.alertsTotal, "alertsync_alerts_fetched_total")
	s.register(reg, s.pagesTotal, "alertsync_pages_fetched_total")
	s.register(reg, s.batchesTotal, "alertsync_upload_batches_total")
	s.register(reg, s.lastRunAlerts, "alertsync_last_run_alerts")
	s.register(reg, s.windowSpan, "alertsync_window_span_seconds")
	s.register(reg, s.windowLag, "alertsync_window_lag_seconds")
	s.register(reg, s.lastSuccessEpoch, "alertsync_last_success_timestamp_seconds")
	return s
}

func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		s.logger.Warn().Err(err).Str("metric", name).Msg("failed to register metric")
	}
}

func (s *PrometheusSink) RunStarted(pastDue bool) {
	if pastDue {
		s.pastDueTotal.Inc()
	}
}

func (s *PrometheusSink) RunCompleted(outcome string, duration time.Duration) {
	s.runsTotal.WithLabelValues(outcome).Inc()
	s.runDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) AlertsFetched(count int, pages int) {
	s.alertsTotal.Add(float64(count))
	s.pagesTotal.Add(float64(pages))
	s.lastRunAlerts.Set(float64(count))
}

func (s *PrometheusSink) BatchesUploaded(count int) {
	s.batchesTotal.Add(float64(count))
}

func (s *PrometheusSink) WindowObserved(span time.Duration, lag time.Duration) {
	s.windowSpan.Set(span.Seconds())
	s.windowLag.Set(lag.Seconds())
}

func (s *PrometheusSink) LastSuccess(at time.Time) {
	s.lastSuccessEpoch.Set(float64(at.Unix()))
}

var _ Sink = (*PrometheusSink)(nil)
