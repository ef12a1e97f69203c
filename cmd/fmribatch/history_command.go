package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/surveybott/fmribatch/internal/ledger"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var submissions bool

	cmd := &cobra.Command{
		Use:   "history [batch-id]",
		Short: "Show recorded batches, or the runs of one batch",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withLedger(func(l *ledger.Ledger) error {
				switch {
				case submissions:
					return showSubmissions(cmd, l, limit)
				case len(args) == 1:
					return showResults(cmd, l, args[0])
				default:
					return showBatches(cmd, l, limit)
				}
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of entries to show")
	cmd.Flags().BoolVar(&submissions, "submissions", false, "Show scheduler submissions instead of batches")
	return cmd
}

func showBatches(cmd *cobra.Command, l *ledger.Ledger, limit int) error {
	batches, err := l.Batches(cmd.Context(), limit)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(batches) == 0 {
		fmt.Fprintf(out, "No batches recorded in %s\n", l.Path())
		return nil
	}
	rows := make([][]string, 0, len(batches))
	for _, b := range batches {
		rows = append(rows, []string{
			b.ID,
			b.Step,
			b.Status,
			strconv.Itoa(b.Dispatched),
			strconv.Itoa(b.Succeeded),
			strconv.Itoa(b.Failed),
			strconv.Itoa(b.Skipped),
			strconv.Itoa(b.Canceled),
			formatTime(b.StartedAt),
			formatDuration(b.DurationSec),
		})
	}
	fmt.Fprint(out, renderTable(out,
		[]string{"Batch", "Step", "Status", "Dispatched", "OK", "Failed", "Skipped", "Canceled", "Started", "Duration"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight, alignLeft, alignRight},
	))
	return nil
}

func showResults(cmd *cobra.Command, l *ledger.Ledger, batchID string) error {
	results, err := l.Results(cmd.Context(), batchID)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(results) == 0 {
		fmt.Fprintf(out, "No results for batch %s\n", batchID)
		return nil
	}
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		status, detail := "ok", ""
		if r.Error != nil {
			status, detail = string(r.Error.Type), r.Error.Message
		}
		rows = append(rows, []string{r.Prefix, r.Step, status, formatDuration(r.DurationSec), r.OutputDir, detail})
	}
	fmt.Fprint(out, renderTable(out,
		[]string{"Run", "Step", "Status", "Duration", "Output", "Error"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight},
	))
	return nil
}

func showSubmissions(cmd *cobra.Command, l *ledger.Ledger, limit int) error {
	subs, err := l.Submissions(cmd.Context(), limit)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(subs) == 0 {
		fmt.Fprintf(out, "No submissions recorded in %s\n", l.Path())
		return nil
	}
	rows := make([][]string, 0, len(subs))
	for _, s := range subs {
		host := s.Remote
		if host == "" {
			host = "local"
		}
		rows = append(rows, []string{s.JobID, s.Scheduler, strconv.Itoa(s.Subjects), host, formatTime(s.SubmittedAt), s.ScriptPath})
	}
	fmt.Fprint(out, renderTable(out,
		[]string{"Job", "Scheduler", "Subjects", "Host", "Submitted", "Script"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight},
	))
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func formatDuration(sec float64) string {
	if sec <= 0 {
		return "-"
	}
	return (time.Duration(sec * float64(time.Second))).Round(time.Second).String()
}
