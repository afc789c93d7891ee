// Package alertcenter pages through Google Workspace Alert Center alerts for
// a time window.
package alertcenter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"alertsync/internal/cursor"
)

// Alert is one alert exactly as the API returned it. Fields are not interpreted.
type Alert = json.RawMessage

// PageRequest describes a single list call.
type PageRequest struct {
	Filter    string
	PageSize  int
	PageToken string
}

// Page is one list response. An empty NextPageToken ends pagination.
type Page struct {
	Number        int
	Alerts        []Alert
	NextPageToken string
}

// Lister issues one list call against the alerts API.
type Lister interface {
	ListPage(ctx context.Context, req PageRequest) (Page, error)
}

// Filter selects alerts created in [start, end).
func Filter(start, end time.Time) string {
	return fmt.Sprintf(`createTime >= "%s" AND createTime < "%s"`,
		cursor.FormatTimestamp(start), cursor.FormatTimestamp(end))
}
