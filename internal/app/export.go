package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"alertsync/internal/storage"
)

// Export renders the run ledger as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxRuns = a.Config.ResolveMaxRuns(opts.MaxRuns)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	defer closeStore()

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-time.Duration(opts.MaxRuns) * a.Config.Window.DefaultInterval)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	runs, err := store.ListRunsBetween(ctx, from, to)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		a.Logger.Info().Msg("no runs found for export window")
		return nil
	}

	downsampled := downsampleRuns(runs, opts.MaxRuns)
	a.Logger.Info().Int("total", len(runs)).Int("exported", len(downsampled)).Msg("exporting runs")

	if opts.CSVPath != "" {
		if err := writeRunsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeRunsPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleRuns(runs []storage.RunRecord, max int) []storage.RunRecord {
	if max <= 0 || len(runs) <= max {
		return runs
	}
	if max == 1 {
		return runs[len(runs)-1:]
	}

	result := make([]storage.RunRecord, 0, max)
	step := float64(len(runs)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(runs) {
			idx = len(runs) - 1
		}
		result = append(result, runs[idx])
	}
	return result
}

func writeRunsCSV(path string, runs []storage.RunRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"run_id", "scheduled_at", "started_at", "window_start", "window_end", "alerts", "pages", "batches", "status", "past_due", "duration_ms", "error"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, run := range runs {
		errMsg := ""
		if run.Error != nil {
			errMsg = *run.Error
		}
		record := []string{
			run.ID,
			run.ScheduledAt.UTC().Format(time.RFC3339),
			run.StartedAt.UTC().Format(time.RFC3339),
			optionalRFC3339(run.WindowStart),
			optionalRFC3339(run.WindowEnd),
			strconv.Itoa(run.Alerts),
			strconv.Itoa(run.Pages),
			strconv.Itoa(run.Batches),
			run.Status,
			strconv.FormatBool(run.PastDue),
			strconv.FormatInt(run.Duration().Milliseconds(), 10),
			errMsg,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeRunsPNG(path string, runs []storage.RunRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(runs))
	alerts := make([]float64, len(runs))
	lag := make([]float64, len(runs))

	for i, run := range runs {
		x[i] = run.StartedAt
		alerts[i] = float64(run.Alerts)
		if run.WindowEnd != nil {
			lag[i] = run.StartedAt.Sub(*run.WindowEnd).Seconds()
		}
	}

	countFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.0f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Alerts per run",
			ValueFormatter: countFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Window lag (s)",
			ValueFormatter: countFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Alerts",
				XValues: x,
				YValues: alerts,
			},
			chart.TimeSeries{
				Name:    "Window lag",
				XValues: x,
				YValues: lag,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func optionalRFC3339(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
