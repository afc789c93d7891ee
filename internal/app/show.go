package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"alertsync/internal/storage"
)

// Show prints recent runs from the ledger.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show runs")
	}
	defer closeStore()

	return showRuns(ctx, a.Out, store, opts.Limit)
}

func showRuns(ctx context.Context, w io.Writer, store storage.RunStore, limit int) error {
	runs, err := store.ListRecentRuns(ctx, limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(w, "no runs found")
		return nil
	}
	total, err := store.CountRuns(ctx)
	if err != nil {
		return err
	}
	if err := renderRuns(w, runs); err != nil {
		return err
	}
	fmt.Fprintf(w, "showing %d of %d runs\n", len(runs), total)
	return nil
}

func renderRuns(w io.Writer, runs []storage.RunRecord) error {
	table := tablewriter.NewTable(w,
		tablewriter.WithConfig(tablewriter.Config{
			Row: tw.CellConfig{
				Formatting: tw.CellFormatting{AutoWrap: tw.WrapNone},
				Alignment:  tw.CellAlignment{Global: tw.AlignLeft},
			},
			Header: tw.CellConfig{
				Formatting: tw.CellFormatting{AutoFormat: tw.On},
				Alignment:  tw.CellAlignment{Global: tw.AlignLeft},
			},
		}),
		tablewriter.WithRendition(tw.Rendition{Borders: tw.BorderNone}),
	)
	table.Header([]string{"Started (UTC)", "Window start", "Window end", "Alerts", "Pages", "Status", "Past due", "Duration", "Error"})

	rows := make([][]string, 0, len(runs))
	for _, run := range runs {
		errMsg := ""
		if run.Error != nil {
			errMsg = sanitizeInline(*run.Error)
		}
		rows = append(rows, []string{
			run.StartedAt.UTC().Format(time.RFC3339),
			formatOptionalTime(run.WindowStart),
			formatOptionalTime(run.WindowEnd),
			strconv.Itoa(run.Alerts),
			strconv.Itoa(run.Pages),
			run.Status,
			strconv.FormatBool(run.PastDue),
			run.Duration().Round(time.Millisecond).String(),
			errMsg,
		})
	}
	if err := table.Bulk(rows); err != nil {
		return err
	}
	return table.Render()
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
