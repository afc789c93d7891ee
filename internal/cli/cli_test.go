package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionSkipsConfig(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version", "--config", "/nonexistent/alertsync.yaml"})
	t.Cleanup(func() { rootCmd.SetArgs(nil); rootCmd.SetOut(nil) })

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "user agent: alertsync/")
	assert.Nil(t, appHandle)
}

func TestCommandsRegistered(t *testing.T) {
	for _, path := range [][]string{
		{"run"}, {"once"}, {"dry-run"}, {"backfill"}, {"cursor", "show"}, {"cursor", "set"},
		{"show"}, {"export"}, {"config"}, {"version"},
	} {
		cmd, _, err := rootCmd.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}
}

func TestBackfillRequiresRange(t *testing.T) {
	backfillFrom, backfillTo = "", ""
	err := backfillCmd.RunE(backfillCmd, nil)
	assert.EqualError(t, err, "--from and --to must be provided")

	backfillFrom, backfillTo = "2024-01-02T00:00:00Z", "2024-01-01T00:00:00Z"
	t.Cleanup(func() { backfillFrom, backfillTo = "", "" })
	err = backfillCmd.RunE(backfillCmd, nil)
	assert.EqualError(t, err, "--from must be before --to")
}

func TestParseTimeFlag(t *testing.T) {
	got, err := parseTimeFlag("from", "")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = parseTimeFlag("from", "2024-01-01T00:00:00Z")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 2024, got.Year())

	_, err = parseTimeFlag("to", "yesterday")
	assert.ErrorContains(t, err, "invalid --to value")
}
