package cli

import (
	"fmt"
	"time"
)

// parseTimeFlag reads an RFC3339 flag value. Empty values yield nil.
func parseTimeFlag(name, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, fmt.Errorf("invalid --%s value: %w", name, err)
	}
	return &t, nil
}
