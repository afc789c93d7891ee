package metrics

import "time"

// Sink records connector metrics.
// All methods are fire-and-forget: implementations must not block or return errors.
type Sink interface {
	RunStarted(pastDue bool)
	RunCompleted(outcome string, duration time.Duration)
	AlertsFetched(count int, pages int)
	BatchesUploaded(count int)
	WindowObserved(span time.Duration, lag time.Duration)
	LastSuccess(at time.Time)
}

// Outcome labels for RunCompleted. Failures are labelled by the stage that failed.
const (
	OutcomeSuccess     = "success"
	OutcomeSkipped     = "skipped"
	OutcomeConfig      = "config_error"
	OutcomeCursor      = "cursor_error"
	OutcomeSecret      = "secret_error"
	OutcomeCredentials = "credentials_error"
	OutcomeFetch       = "fetch_error"
	OutcomeUpload      = "upload_error"
	OutcomeLock        = "lock_error"
)
