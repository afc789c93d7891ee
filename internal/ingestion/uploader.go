// Package ingestion ships alerts to an Azure Monitor Logs Ingestion endpoint.
package ingestion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/monitor/ingestion/azlogs"
	"github.com/rs/zerolog"

	"alertsync/internal/logging"
)

// DefaultMaxBatchBytes keeps each request under the service's 1 MB limit.
const DefaultMaxBatchBytes = 1_000_000

// Uploader delivers a sequence of alert records. An empty sequence is still delivered.
type Uploader interface {
	Upload(ctx context.Context, records []json.RawMessage) error
}

// BatchUploader also reports how many requests an upload took.
type BatchUploader interface {
	Uploader
	UploadBatches(ctx context.Context, records []json.RawMessage) (int, error)
}

// Destination identifies where records land.
type Destination struct {
	Endpoint   string
	RuleID     string
	StreamName string
}

// Options tune batching.
type Options struct {
	MaxBatchBytes int
}

type logsAPI interface {
	upload(ctx context.Context, ruleID, stream string, payload []byte) error
}

// LogsIngestion uploads JSON arrays to a data collection rule stream.
type LogsIngestion struct {
	api      logsAPI
	dest     Destination
	maxBytes int
	logger   zerolog.Logger
}

// NewLogsIngestion connects to the data collection endpoint.
func NewLogsIngestion(dest Destination, opts Options, cred azcore.TokenCredential, logger zerolog.Logger) (*LogsIngestion, error) {
	if strings.TrimSpace(dest.Endpoint) == "" || dest.RuleID == "" || dest.StreamName == "" {
		return nil, errors.New("ingestion endpoint, rule id and stream name required")
	}
	client, err := azlogs.NewClient(dest.Endpoint, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("create logs ingestion client: %w", err)
	}
	return newLogsIngestion(&azureLogs{client: client}, dest, opts, logger), nil
}

func newLogsIngestion(api logsAPI, dest Destination, opts Options, logger zerolog.Logger) *LogsIngestion {
	maxBytes := opts.MaxBatchBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBatchBytes
	}
	return &LogsIngestion{
		api:      api,
		dest:     dest,
		maxBytes: maxBytes,
		logger: logging.Component(logger, "ingestion").With().
			Str("rule_id", dest.RuleID).
			Str("stream", dest.StreamName).Logger(),
	}
}

// Upload sends records in order, split into as few batches as the size limit
// allows. The first failing batch aborts the upload.
func (l *LogsIngestion) Upload(ctx context.Context, records []json.RawMessage) error {
	_, err := l.UploadBatches(ctx, records)
	return err
}

// UploadBatches is Upload returning the number of batches sent.
func (l *LogsIngestion) UploadBatches(ctx context.Context, records []json.RawMessage) (int, error) {
	batches := Batch(records, l.maxBytes)
	for i, payload := range batches {
		if err := l.api.upload(ctx, l.dest.RuleID, l.dest.StreamName, payload); err != nil {
			return i, fmt.Errorf("upload batch %d/%d: %w", i+1, len(batches), err)
		}
	}

	l.logger.Info().Int("records", len(records)).Int("batches", len(batches)).Msg("records uploaded")
	return len(batches), nil
}

// Batch packs records into JSON arrays no larger than maxBytes. A record that
// alone exceeds the limit travels in its own batch. No records yields one "[]".
func Batch(records []json.RawMessage, maxBytes int) [][]byte {
	if len(records) == 0 {
		return [][]byte{[]byte("[]")}
	}

	var (
		batches [][]byte
		buf     bytes.Buffer
		count   int
	)
	flush := func() {
		buf.WriteByte(']')
		batches = append(batches, append([]byte(nil), buf.Bytes()...))
		buf.Reset()
		count = 0
	}

	for _, rec := range records {
		rec = bytes.TrimSpace(rec)
		// +1 for the separator or opening bracket, +1 for the closing bracket
		if count > 0 && buf.Len()+len(rec)+2 > maxBytes {
			flush()
		}
		if count == 0 {
			buf.WriteByte('[')
		} else {
			buf.WriteByte(',')
		}
		buf.Write(rec)
		count++
	}
	flush()
	return batches
}

type azureLogs struct {
	client *azlogs.Client
}

func (a *azureLogs) upload(ctx context.Context, ruleID, stream string, payload []byte) error {
	_, err := a.client.Upload(ctx, ruleID, stream, payload, nil)
	return err
}

var _ BatchUploader = (*LogsIngestion)(nil)
