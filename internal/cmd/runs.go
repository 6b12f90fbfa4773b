package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/lodgepole/farmsight/pkg/ingest"
	"github.com/lodgepole/farmsight/pkg/output"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Track media ingest runs",
	Long: `Track media ingest runs registered with the farmsight service.

Ingest tooling reports into the service: record marks a run as started,
complete attaches the outcome report. The dashboard summary rolls up
recent runs into success and failure counts.

Report files are JSON matching the run report shape:

  {
    "processed": [{"path": "...", "media_info": {...}}],
    "invalid":   [{"path": "...", "reason": "..."}]
  }

Examples:
  # List recent runs
  farmsight runs list

  # Start a run, then complete it with a report
  farmsight runs record nightly-20260825
  farmsight runs complete nightly-20260825 --report report.json

  # One-shot: record a run that already finished
  farmsight runs record nightly-20260825 --report report.json

  # Dashboard rollup of the last 20 runs
  farmsight runs summary --window 20`,
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List ingest runs",
	RunE:  runRunsList,
}

var runsGetCmd = &cobra.Command{
	Use:   "get <run_id>",
	Short: "Show a single ingest run",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsGet,
}

var runsSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show the ingest run rollup",
	RunE:  runRunsSummary,
}

var runsRecordCmd = &cobra.Command{
	Use:   "record <run_id>",
	Short: "Record the start of an ingest run",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsRecord,
}

var runsCompleteCmd = &cobra.Command{
	Use:   "complete <run_id>",
	Short: "Complete an ingest run with its report",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsComplete,
}

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsGetCmd)
	runsCmd.AddCommand(runsSummaryCmd)
	runsCmd.AddCommand(runsRecordCmd)
	runsCmd.AddCommand(runsCompleteCmd)

	runsListCmd.Flags().Int("limit", 0, "Maximum runs to return (0 = server default)")
	runsListCmd.Flags().String("format", "table", "Output format: table or jsonl")
	runsGetCmd.Flags().Bool("json", false, "Output as JSON")
	runsSummaryCmd.Flags().Int("window", 0, "Number of recent runs to roll up (0 = server default)")
	runsSummaryCmd.Flags().Bool("json", false, "Output as JSON")
	runsRecordCmd.Flags().String("report", "", "Report file for a run that already finished")
	runsCompleteCmd.Flags().String("report", "", "Report file with the run outcome")
}

func runRunsList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	limit, _ := cmd.Flags().GetInt("limit")
	format, _ := cmd.Flags().GetString("format")

	api, err := newAPIClient()
	if err != nil {
		return exitError(exitUsage, "Invalid server address", err)
	}

	runs, err := api.ListRuns(ctx, limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		_, _ = fmt.Fprintln(os.Stdout, "No runs found")
		return nil
	}

	switch format {
	case "jsonl":
		return printRunsJSONL(ctx, runs)
	case "table", "":
		return printRunsTable(runs)
	default:
		return fmt.Errorf("unknown format %q: expected table or jsonl", format)
	}
}

func printRunsTable(runs []ingest.RunRecord) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	_, _ = fmt.Fprintln(w, "RUN ID\tSTATUS\tPROCESSED\tINVALID\tSTARTED\tCOMPLETED")
	for _, r := range runs {
		completed := "-"
		if r.CompletedAt != nil {
			completed = formatRelativeTime(*r.CompletedAt)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\n",
			r.RunID,
			r.Status,
			r.Report.ProcessedCount,
			r.Report.InvalidCount,
			formatRelativeTime(r.StartedAt),
			completed,
		)
	}

	return nil
}

func printRunsJSONL(ctx context.Context, runs []ingest.RunRecord) error {
	w := output.NewJSONLWriter(os.Stdout, "", "")
	defer func() { _ = w.Close() }()

	for _, r := range runs {
		rec := &output.RunRecord{
			RunID:          r.RunID,
			Status:         string(r.Status),
			StartedAt:      r.StartedAt,
			CompletedAt:    r.CompletedAt,
			ProcessedCount: r.Report.ProcessedCount,
			InvalidCount:   r.Report.InvalidCount,
		}
		if err := w.WriteRun(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

func runRunsGet(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	jsonOutput, _ := cmd.Flags().GetBool("json")
	runID := strings.TrimSpace(args[0])
	if runID == "" {
		return fmt.Errorf("run_id is required")
	}

	api, err := newAPIClient()
	if err != nil {
		return exitError(exitUsage, "Invalid server address", err)
	}

	run, err := api.GetRun(ctx, runID)
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	}

	_, _ = fmt.Fprintf(os.Stdout, "run_id=%s\n", run.RunID)
	_, _ = fmt.Fprintf(os.Stdout, "status=%s\n", run.Status)
	_, _ = fmt.Fprintf(os.Stdout, "processed=%d\n", run.Report.ProcessedCount)
	_, _ = fmt.Fprintf(os.Stdout, "invalid=%d\n", run.Report.InvalidCount)
	_, _ = fmt.Fprintf(os.Stdout, "started_at=%s\n", run.StartedAt.UTC().Format(time.RFC3339))
	if run.CompletedAt != nil {
		_, _ = fmt.Fprintf(os.Stdout, "completed_at=%s\n", run.CompletedAt.UTC().Format(time.RFC3339))
	}
	for _, inv := range run.Report.Invalid {
		_, _ = fmt.Fprintf(os.Stdout, "rejected %s: %s\n", inv.Path, inv.Reason)
	}

	return nil
}

func runRunsSummary(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	window, _ := cmd.Flags().GetInt("window")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	api, err := newAPIClient()
	if err != nil {
		return exitError(exitUsage, "Invalid server address", err)
	}

	summary, err := api.IngestSummary(ctx, window)
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}

	_, _ = fmt.Fprintf(os.Stdout, "total=%d\n", summary.Counts.Total)
	_, _ = fmt.Fprintf(os.Stdout, "successful=%d\n", summary.Counts.Successful)
	_, _ = fmt.Fprintf(os.Stdout, "failed=%d\n", summary.Counts.Failed)
	_, _ = fmt.Fprintf(os.Stdout, "running=%d\n", summary.Counts.Running)
	if summary.LastSuccessAt != nil {
		_, _ = fmt.Fprintf(os.Stdout, "last_success_at=%s\n", summary.LastSuccessAt.UTC().Format(time.RFC3339))
	}
	_, _ = fmt.Fprintf(os.Stdout, "failure_streak=%d\n", summary.FailureStreak)

	return nil
}

func runRunsRecord(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	reportPath, _ := cmd.Flags().GetString("report")
	runID := strings.TrimSpace(args[0])
	if runID == "" {
		return fmt.Errorf("run_id is required")
	}

	if err := requireWritable("recording an ingest run"); err != nil {
		return err
	}

	var report *ingest.Report
	if reportPath != "" {
		r, err := loadRunReport(reportPath)
		if err != nil {
			return err
		}
		report = r
	}

	api, err := newAPIClient()
	if err != nil {
		return exitError(exitUsage, "Invalid server address", err)
	}

	run, err := api.RecordRun(ctx, runID, report)
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintf(os.Stdout, "run %s is %s\n", run.RunID, run.Status)
	return nil
}

func runRunsComplete(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	reportPath, _ := cmd.Flags().GetString("report")
	runID := strings.TrimSpace(args[0])
	if runID == "" {
		return fmt.Errorf("run_id is required")
	}

	if err := requireWritable("completing an ingest run"); err != nil {
		return err
	}

	var report ingest.Report
	if reportPath != "" {
		r, err := loadRunReport(reportPath)
		if err != nil {
			return err
		}
		report = *r
	}

	api, err := newAPIClient()
	if err != nil {
		return exitError(exitUsage, "Invalid server address", err)
	}

	run, err := api.CompleteRun(ctx, runID, report)
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintf(os.Stdout, "run %s is %s (%d processed, %d invalid)\n",
		run.RunID, run.Status, run.Report.ProcessedCount, run.Report.InvalidCount)
	return nil
}

func loadRunReport(path string) (*ingest.Report, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read report file: %w", err)
	}

	var report ingest.Report
	if err := json.Unmarshal(b, &report); err != nil {
		return nil, fmt.Errorf("parse report file %s: %w", path, err)
	}
	return &report, nil
}
