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

	"github.com/lodgepole/farmsight/internal/client"
	"github.com/lodgepole/farmsight/pkg/jobregistry"
	"github.com/lodgepole/farmsight/pkg/output"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and manage render jobs",
	Long: `Inspect and manage render jobs tracked by the farmsight service.

Job listings come from the service's job history, newest first. Use
--match to filter by scene glob and --status to filter by lifecycle
state.

Examples:
  # List recent jobs
  farmsight jobs list

  # List queued lighting scenes as JSONL
  farmsight jobs list --status queued --match "shots/**/lighting/*.ma" --format jsonl

  # Show one job
  farmsight jobs get 7a4c1e02

  # Cancel a queued job
  farmsight jobs cancel 7a4c1e02`,
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List render jobs",
	RunE:  runJobsList,
}

var jobsGetCmd = &cobra.Command{
	Use:   "get <job_id>",
	Short: "Show a single render job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsGet,
}

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <job_id>",
	Short: "Cancel a queued or running job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsCancel,
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsGetCmd)
	jobsCmd.AddCommand(jobsCancelCmd)

	jobsListCmd.Flags().String("status", "", "Filter by status: queued, running, completed, failed, cancelled")
	jobsListCmd.Flags().String("farm", "", "Filter by farm adapter")
	jobsListCmd.Flags().String("match", "", "Filter by scene glob pattern")
	jobsListCmd.Flags().Int("limit", 0, "Maximum jobs to return (0 = server default)")
	jobsListCmd.Flags().String("format", "table", "Output format: table or jsonl")
	jobsGetCmd.Flags().Bool("json", false, "Output as JSON")
}

func runJobsList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	status, _ := cmd.Flags().GetString("status")
	farmName, _ := cmd.Flags().GetString("farm")
	pattern, _ := cmd.Flags().GetString("match")
	limit, _ := cmd.Flags().GetInt("limit")
	format, _ := cmd.Flags().GetString("format")

	api, err := newAPIClient()
	if err != nil {
		return exitError(exitUsage, "Invalid server address", err)
	}

	jobs, err := api.ListJobs(ctx, client.ListJobsOptions{
		Status: status,
		Farm:   farmName,
		Match:  pattern,
		Limit:  limit,
	})
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		_, _ = fmt.Fprintln(os.Stdout, "No jobs found")
		return nil
	}

	switch format {
	case "jsonl":
		return printJobsJSONL(ctx, jobs)
	case "table", "":
		return printJobsTable(jobs)
	default:
		return fmt.Errorf("unknown format %q: expected table or jsonl", format)
	}
}

func printJobsTable(jobs []jobregistry.JobRecord) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	_, _ = fmt.Fprintln(w, "JOB ID\tSTATUS\tFARM\tSCENE\tFRAMES\tUSER\tUPDATED")
	for _, j := range jobs {
		user := j.Request.User
		if user == "" {
			user = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			j.JobID,
			j.Status,
			j.Farm,
			j.Request.Scene,
			j.Request.Frames,
			user,
			formatRelativeTime(j.UpdatedAt),
		)
	}

	return nil
}

func printJobsJSONL(ctx context.Context, jobs []jobregistry.JobRecord) error {
	w := output.NewJSONLWriter(os.Stdout, "", "")
	defer func() { _ = w.Close() }()

	for _, j := range jobs {
		if err := w.WriteJob(ctx, jobOutputRecord(j)); err != nil {
			return err
		}
	}
	return nil
}

// jobOutputRecord flattens a registry record into the JSONL job shape.
func jobOutputRecord(j jobregistry.JobRecord) *output.JobRecord {
	return &output.JobRecord{
		JobID:     j.JobID,
		Status:    string(j.Status),
		Farm:      j.Farm,
		Scene:     j.Request.Scene,
		Frames:    j.Request.Frames,
		Priority:  j.Request.Priority,
		ChunkSize: j.Request.ChunkSize,
		User:      j.Request.User,
		Message:   j.Message,
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	}
}

func runJobsGet(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	jsonOutput, _ := cmd.Flags().GetBool("json")
	jobID := strings.TrimSpace(args[0])
	if jobID == "" {
		return fmt.Errorf("job_id is required")
	}

	api, err := newAPIClient()
	if err != nil {
		return exitError(exitUsage, "Invalid server address", err)
	}

	job, err := api.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(job)
	}

	_, _ = fmt.Fprintf(os.Stdout, "job_id=%s\n", job.JobID)
	_, _ = fmt.Fprintf(os.Stdout, "status=%s\n", job.Status)
	_, _ = fmt.Fprintf(os.Stdout, "farm=%s\n", job.Farm)
	_, _ = fmt.Fprintf(os.Stdout, "scene=%s\n", job.Request.Scene)
	_, _ = fmt.Fprintf(os.Stdout, "frames=%s\n", job.Request.Frames)
	if job.Request.Priority != nil {
		_, _ = fmt.Fprintf(os.Stdout, "priority=%d\n", *job.Request.Priority)
	}
	if job.Request.ChunkSize != nil {
		_, _ = fmt.Fprintf(os.Stdout, "chunk_size=%d\n", *job.Request.ChunkSize)
	}
	if job.Request.User != "" {
		_, _ = fmt.Fprintf(os.Stdout, "user=%s\n", job.Request.User)
	}
	if job.Message != "" {
		_, _ = fmt.Fprintf(os.Stdout, "message=%s\n", job.Message)
	}
	_, _ = fmt.Fprintf(os.Stdout, "created_at=%s\n", job.CreatedAt.UTC().Format(time.RFC3339))
	_, _ = fmt.Fprintf(os.Stdout, "updated_at=%s\n", job.UpdatedAt.UTC().Format(time.RFC3339))

	return nil
}

func runJobsCancel(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	jobID := strings.TrimSpace(args[0])
	if jobID == "" {
		return fmt.Errorf("job_id is required")
	}

	if err := requireWritable("cancelling a job"); err != nil {
		return err
	}

	api, err := newAPIClient()
	if err != nil {
		return exitError(exitUsage, "Invalid server address", err)
	}

	job, err := api.CancelJob(ctx, jobID)
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintf(os.Stdout, "job %s is now %s\n", job.JobID, job.Status)
	return nil
}

// formatRelativeTime formats a time as relative to now.
func formatRelativeTime(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	case d < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	default:
		return t.Format("2006-01-02")
	}
}
