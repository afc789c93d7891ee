package storage

import "time"

// Run statuses.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
	StatusDryRun  = "dry_run"
)

// RunRecord is one connector invocation as kept in the run ledger.
type RunRecord struct {
	ID          string
	ScheduledAt time.Time
	PastDue     bool
	WindowStart *time.Time
	WindowEnd   *time.Time
	Alerts      int
	Pages       int
	Batches     int
	Status      string
	Error       *string
	StartedAt   time.Time
	FinishedAt  time.Time
}

// Duration is the run's wall time.
func (r RunRecord) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
