package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/lodgepole/farmsight/internal/client"
	"github.com/lodgepole/farmsight/internal/observability"
	"github.com/lodgepole/farmsight/pkg/jobregistry"
	"github.com/lodgepole/farmsight/pkg/manifest"
	"github.com/lodgepole/farmsight/pkg/match"
	"github.com/lodgepole/farmsight/pkg/output"
)

// progressEvery is the submission count between progress records.
const progressEvery = 25

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a render batch from a manifest",
	Long: `Submit a batch of render jobs as defined in a YAML or JSON manifest.

The manifest names the farm, the scene selection globs, and the render
settings applied to every job. Scene paths are recorded relative to the
scenes root.

Example:
  farmsight submit --job wilderun.yaml
  farmsight submit --job wilderun.yaml --output results.jsonl
  farmsight submit --job wilderun.yaml --quiet
  farmsight submit --job wilderun.yaml --dry-run`,
	RunE: runSubmit,
}

var (
	submitJobPath string
	submitOutput  string
	submitQuiet   bool
	submitDryRun  bool
	submitPlan    bool
)

func init() {
	rootCmd.AddCommand(submitCmd)

	submitCmd.Flags().StringVarP(&submitJobPath, "job", "j", "", "Path to submission manifest (required)")
	submitCmd.Flags().StringVarP(&submitOutput, "output", "o", "", "Override output destination")
	submitCmd.Flags().BoolVarP(&submitQuiet, "quiet", "q", false, "Suppress progress records")
	submitCmd.Flags().BoolVar(&submitDryRun, "dry-run", false, "Validate manifest and show plan without submitting")
	submitCmd.Flags().BoolVar(&submitPlan, "plan", false, "Alias for --dry-run")

	_ = submitCmd.MarkFlagRequired("job")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	m, err := manifest.Load(submitJobPath)
	if err != nil {
		observability.CLILogger.Error("Failed to load manifest",
			zap.String("path", submitJobPath),
			zap.Error(err))
		return exitError(exitUsage, "Invalid manifest", err)
	}

	observability.CLILogger.Debug("Loaded manifest",
		zap.String("path", submitJobPath),
		zap.String("farm", m.Farm),
		zap.String("root", m.Scenes.Root),
		zap.Strings("includes", m.Scenes.Includes))

	if submitOutput != "" {
		m.Output.Destination = submitOutput
	}
	if submitQuiet {
		enabled := false
		m.Output.Progress = &enabled
	}

	if submitPlan || submitDryRun {
		return showSubmitPlan(m)
	}

	if err := requireWritable("submitting render jobs"); err != nil {
		return err
	}

	return executeSubmit(ctx, m)
}

// showSubmitPlan displays what would be submitted without executing.
func showSubmitPlan(m *manifest.Manifest) error {
	fmt.Println("=== Submission Plan (dry-run) ===")
	fmt.Println()
	fmt.Printf("Farm:        %s\n", m.Farm)
	fmt.Printf("Scene Root:  %s\n", m.Scenes.Root)
	fmt.Println()
	fmt.Println("Patterns:")
	fmt.Println("  Include:")
	for _, p := range m.Scenes.Includes {
		fmt.Printf("    - %s\n", p)
	}
	if len(m.Scenes.Excludes) > 0 {
		fmt.Println("  Exclude:")
		for _, p := range m.Scenes.Excludes {
			fmt.Printf("    - %s\n", p)
		}
	}
	fmt.Println()

	if m.Scenes.Filters != nil {
		fmt.Println("Filters:")
		if m.Scenes.Filters.Size != nil {
			fmt.Printf("  Size:       min=%s max=%s\n", m.Scenes.Filters.Size.Min, m.Scenes.Filters.Size.Max)
		}
		if m.Scenes.Filters.Modified != nil {
			fmt.Printf("  Modified:   after=%s before=%s\n", m.Scenes.Filters.Modified.After, m.Scenes.Filters.Modified.Before)
		}
		if m.Scenes.Filters.PathRegex != "" {
			fmt.Printf("  Path Regex: %s\n", m.Scenes.Filters.PathRegex)
		}
		fmt.Println()
	}

	fmt.Println("Render:")
	fmt.Printf("  Frames:    %s\n", m.Render.Frames)
	if m.Render.Priority != nil {
		fmt.Printf("  Priority:  %d\n", *m.Render.Priority)
	}
	if m.Render.ChunkSize != nil {
		fmt.Printf("  Chunk:     %d frames/task\n", *m.Render.ChunkSize)
	}
	if m.Render.User != "" {
		fmt.Printf("  User:      %s\n", m.Render.User)
	}
	fmt.Println()

	fmt.Printf("Concurrency: %d\n", m.Submit.Concurrency)
	if m.Submit.RateLimit > 0 {
		fmt.Printf("Rate Limit:  %.1f jobs/s\n", m.Submit.RateLimit)
	}
	fmt.Printf("Output:      %s\n", m.Output.Destination)
	fmt.Printf("Progress:    %v\n", m.Output.ProgressEnabled())
	fmt.Println()
	fmt.Println("Manifest validated successfully. Remove --dry-run to execute.")
	return nil
}

// executeSubmit scans the scene tree and submits one job per scene.
func executeSubmit(ctx context.Context, m *manifest.Manifest) error {
	batchID := uuid.New().String()

	api, err := newAPIClient()
	if err != nil {
		observability.CLILogger.Error("Failed to create API client", zap.Error(err))
		return exitError(exitUsage, "Invalid server address", err)
	}

	matcher, err := match.New(match.Config{
		Includes:      m.Scenes.Includes,
		Excludes:      m.Scenes.Excludes,
		IncludeHidden: m.Scenes.IncludeHidden,
	})
	if err != nil {
		observability.CLILogger.Error("Failed to create matcher", zap.Error(err))
		return exitError(exitUsage, "Invalid scene patterns", err)
	}

	composite, err := buildSceneFilter(m)
	if err != nil {
		observability.CLILogger.Error("Invalid filters", zap.Error(err))
		return exitError(exitUsage, "Invalid filters", err)
	}
	var filter match.Filter
	if composite != nil {
		filter = composite
	}

	writer, cleanup, err := createWriter(m, batchID)
	if err != nil {
		observability.CLILogger.Error("Failed to create writer", zap.Error(err))
		return exitError(exitCantCreate, "Failed to create output", err)
	}
	defer cleanup()

	progress := m.Output.ProgressEnabled()
	start := time.Now()

	if progress {
		_ = writer.WriteProgress(ctx, &output.ProgressRecord{Phase: output.PhaseScanning})
	}

	scenes, err := match.Scan(ctx, os.DirFS(m.Scenes.Root), matcher, filter)
	if err != nil {
		if ctx.Err() != nil {
			return exitError(exitInterrupted, "Submission cancelled", err)
		}
		observability.CLILogger.Error("Scene scan failed",
			zap.String("root", m.Scenes.Root),
			zap.Error(err))
		return exitError(exitNoInput, "Scene scan failed", err)
	}

	observability.CLILogger.Info("Starting submission",
		zap.String("batch_id", batchID),
		zap.String("farm", m.Farm),
		zap.Int("scenes", len(scenes)),
		zap.Int("concurrency", m.Submit.Concurrency))

	var submitted, errCount atomic.Int64

	var limiter *rate.Limiter
	if m.Submit.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(m.Submit.RateLimit), 1)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(m.Submit.Concurrency)

	for _, scene := range scenes {
		scene := scene
		group.Go(func() error {
			if limiter != nil {
				if err := limiter.Wait(groupCtx); err != nil {
					return err
				}
			}

			job, err := api.SubmitJob(groupCtx, jobregistry.SubmissionRequest{
				Farm:      m.Farm,
				Scene:     scene.Path,
				Frames:    m.Render.Frames,
				Priority:  m.Render.Priority,
				ChunkSize: m.Render.ChunkSize,
				User:      m.Render.User,
				Metadata:  m.Render.Metadata,
			})
			if err != nil {
				// Per-scene failures become records; the batch carries on.
				errCount.Add(1)
				_ = writer.WriteError(groupCtx, submissionErrorRecord(scene.Path, err))
				return nil
			}

			n := submitted.Add(1)
			_ = writer.WriteJob(groupCtx, jobOutputRecord(job))

			if progress && n%progressEvery == 0 {
				_ = writer.WriteProgress(groupCtx, &output.ProgressRecord{
					Phase:         output.PhaseSubmitting,
					ScenesFound:   int64(len(scenes)),
					JobsSubmitted: n,
					Errors:        errCount.Load(),
					Scene:         scene.Path,
				})
			}
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		observability.CLILogger.Warn("Submission cancelled",
			zap.String("batch_id", batchID),
			zap.Int64("jobs_submitted", submitted.Load()))
		return exitError(exitInterrupted, "Submission cancelled", err)
	}

	duration := time.Since(start)
	_ = writer.WriteSummary(ctx, &output.SummaryRecord{
		ScenesMatched: int64(len(scenes)),
		JobsSubmitted: submitted.Load(),
		Errors:        errCount.Load(),
		Duration:      duration,
		DurationHuman: duration.Round(time.Millisecond).String(),
	})

	observability.CLILogger.Info("Submission completed",
		zap.String("batch_id", batchID),
		zap.Int64("scenes_matched", int64(len(scenes))),
		zap.Int64("jobs_submitted", submitted.Load()),
		zap.Int64("errors", errCount.Load()),
		zap.Duration("duration", duration))

	if errCount.Load() > 0 && submitted.Load() == 0 {
		return exitError(exitUnavailable, "Every submission failed",
			fmt.Errorf("%d of %d submissions rejected", errCount.Load(), len(scenes)))
	}
	return nil
}

// submissionErrorRecord maps a submit failure onto an error record,
// preserving the server's error code when one came back.
func submissionErrorRecord(scene string, err error) *output.ErrorRecord {
	rec := &output.ErrorRecord{
		Code:    output.ErrCodeUnavailable,
		Message: err.Error(),
		Scene:   scene,
	}
	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		rec.Code = apiErr.Code
		rec.Message = apiErr.Message
		if apiErr.Hint != "" {
			rec.Details = map[string]any{"hint": apiErr.Hint}
		}
	}
	return rec
}

func buildSceneFilter(m *manifest.Manifest) (*match.CompositeFilter, error) {
	if m.Scenes.Filters == nil {
		return nil, nil
	}

	cfg := &match.FilterConfig{
		PathRegex: m.Scenes.Filters.PathRegex,
	}
	if m.Scenes.Filters.Size != nil {
		cfg.Size = &match.SizeFilterConfig{
			Min: m.Scenes.Filters.Size.Min,
			Max: m.Scenes.Filters.Size.Max,
		}
	}
	if m.Scenes.Filters.Modified != nil {
		cfg.Modified = &match.DateFilterConfig{
			After:  m.Scenes.Filters.Modified.After,
			Before: m.Scenes.Filters.Modified.Before,
		}
	}

	return match.NewFilterFromConfig(cfg)
}

// createWriter creates an output writer from manifest configuration.
// Returns the writer, a cleanup function, and any error.
func createWriter(m *manifest.Manifest, batchID string) (output.Writer, func(), error) {
	dest := m.Output.Destination

	if dest == "" || dest == "stdout" {
		w := output.NewJSONLWriter(os.Stdout, batchID, m.Farm)
		return w, func() { _ = w.Close() }, nil
	}

	path := dest
	if strings.HasPrefix(dest, "file:") {
		path = strings.TrimPrefix(dest, "file:")
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output file %s: %w", path, err)
	}

	w := output.NewJSONLWriter(f, batchID, m.Farm)
	cleanup := func() {
		_ = w.Close()
		_ = f.Close()
	}
	return w, cleanup, nil
}
