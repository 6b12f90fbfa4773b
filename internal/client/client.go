// Package client is the HTTP client for the farmsight API, used by CLI
// commands that talk to a running server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/lodgepole/farmsight/pkg/farm"
	"github.com/lodgepole/farmsight/pkg/ingest"
	"github.com/lodgepole/farmsight/pkg/jobregistry"
)

// DefaultTimeout bounds each API call when Config.Timeout is unset.
const DefaultTimeout = 30 * time.Second

// maxErrorBody caps how much of a failure response is read while
// decoding the error envelope.
const maxErrorBody = 64 * 1024

// Config describes how to reach the server.
type Config struct {
	// BaseURL is the server root, e.g. http://localhost:8080.
	BaseURL string

	// APIKey and APISecret are the service credentials. Leave empty
	// against a server with authentication disabled.
	APIKey    string
	APISecret string

	// Timeout bounds each call. Zero means DefaultTimeout.
	Timeout time.Duration
}

// Client calls the farmsight API.
type Client struct {
	base      *url.URL
	apiKey    string
	apiSecret string
	http      *http.Client
}

// New validates the config and returns a ready client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q in base URL", base.Scheme)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Client{
		base:      base,
		apiKey:    cfg.APIKey,
		apiSecret: cfg.APISecret,
		http:      &http.Client{Timeout: timeout},
	}, nil
}

// APIError is a non-2xx response decoded from the server's error
// envelope.
type APIError struct {
	Status    int
	Code      string
	Message   string
	Hint      string
	RequestID string
}

func (e *APIError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Hint)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ListJobsOptions narrows ListJobs. Zero values match everything.
type ListJobsOptions struct {
	Status string
	Farm   string
	Match  string
	Limit  int
}

// ListJobs returns history jobs, newest first.
func (c *Client) ListJobs(ctx context.Context, opts ListJobsOptions) ([]jobregistry.JobRecord, error) {
	query := url.Values{}
	if opts.Status != "" {
		query.Set("status", opts.Status)
	}
	if opts.Farm != "" {
		query.Set("farm", opts.Farm)
	}
	if opts.Match != "" {
		query.Set("match", opts.Match)
	}
	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}

	var out struct {
		Jobs []jobregistry.JobRecord `json:"jobs"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/render/jobs", query, nil, &out); err != nil {
		return nil, err
	}
	return out.Jobs, nil
}

// SubmitJob submits a render job and returns the queued record.
func (c *Client) SubmitJob(ctx context.Context, req jobregistry.SubmissionRequest) (jobregistry.JobRecord, error) {
	var job jobregistry.JobRecord
	err := c.do(ctx, http.MethodPost, "/api/render/jobs", nil, req, &job)
	return job, err
}

// GetJob fetches one job by id.
func (c *Client) GetJob(ctx context.Context, jobID string) (jobregistry.JobRecord, error) {
	var job jobregistry.JobRecord
	err := c.do(ctx, http.MethodGet, "/api/render/jobs/"+url.PathEscape(jobID), nil, nil, &job)
	return job, err
}

// CancelJob cancels a job and returns the updated record.
func (c *Client) CancelJob(ctx context.Context, jobID string) (jobregistry.JobRecord, error) {
	var job jobregistry.JobRecord
	err := c.do(ctx, http.MethodPost, "/api/render/jobs/"+url.PathEscape(jobID)+"/cancel", nil, nil, &job)
	return job, err
}

// ListFarms returns the registered farm adapters.
func (c *Client) ListFarms(ctx context.Context) ([]farm.Description, error) {
	var out struct {
		Farms []farm.Description `json:"farms"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/render/farms", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Farms, nil
}

// RegistryHealth returns the registry's health snapshot.
func (c *Client) RegistryHealth(ctx context.Context) (jobregistry.Health, error) {
	var health jobregistry.Health
	err := c.do(ctx, http.MethodGet, "/api/render/health", nil, nil, &health)
	return health, err
}

// ListRuns returns recent ingest runs, newest first.
func (c *Client) ListRuns(ctx context.Context, limit int) ([]ingest.RunRecord, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	var out struct {
		Runs []ingest.RunRecord `json:"runs"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/ingest/runs", query, nil, &out); err != nil {
		return nil, err
	}
	return out.Runs, nil
}

// RecordRun registers an ingest run. A non-nil report records the run
// already completed.
func (c *Client) RecordRun(ctx context.Context, runID string, report *ingest.Report) (ingest.RunRecord, error) {
	body := struct {
		ID     string         `json:"id,omitempty"`
		Report *ingest.Report `json:"report,omitempty"`
	}{ID: runID, Report: report}

	var run ingest.RunRecord
	err := c.do(ctx, http.MethodPost, "/api/ingest/runs", nil, body, &run)
	return run, err
}

// GetRun fetches one ingest run by id.
func (c *Client) GetRun(ctx context.Context, runID string) (ingest.RunRecord, error) {
	var run ingest.RunRecord
	err := c.do(ctx, http.MethodGet, "/api/ingest/runs/"+url.PathEscape(runID), nil, nil, &run)
	return run, err
}

// CompleteRun closes a running ingest run with its report.
func (c *Client) CompleteRun(ctx context.Context, runID string, report ingest.Report) (ingest.RunRecord, error) {
	var run ingest.RunRecord
	err := c.do(ctx, http.MethodPost, "/api/ingest/runs/"+url.PathEscape(runID)+"/complete", nil, report, &run)
	return run, err
}

// IngestSummary returns the rollup over the most recent runs.
func (c *Client) IngestSummary(ctx context.Context, window int) (ingest.Summary, error) {
	query := url.Values{}
	if window > 0 {
		query.Set("window", strconv.Itoa(window))
	}

	var summary ingest.Summary
	err := c.do(ctx, http.MethodGet, "/api/ingest/summary", query, nil, &summary)
	return summary, err
}

// ServerVersion describes the build of a running server.
type ServerVersion struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
}

// Version fetches the server's build info. Doubles as a reachability
// check for doctor.
func (c *Client) Version(ctx context.Context) (ServerVersion, error) {
	var v ServerVersion
	err := c.do(ctx, http.MethodGet, "/version", nil, nil, &v)
	return v, err
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(buf)
	}

	u := c.base.JoinPath(path)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
		req.Header.Set("X-API-Secret", c.apiSecret)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}

	var envelope struct {
		Error struct {
			Code      string `json:"code"`
			Message   string `json:"message"`
			Hint      string `json:"hint"`
			RequestID string `json:"request_id"`
		} `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err := json.Unmarshal(raw, &envelope); err != nil || envelope.Error.Code == "" {
		// Not the standard envelope; a proxy or middleware wrote it.
		apiErr.Code = "HTTP_" + strconv.Itoa(resp.StatusCode)
		apiErr.Message = http.StatusText(resp.StatusCode)
		return apiErr
	}

	apiErr.Code = envelope.Error.Code
	apiErr.Message = envelope.Error.Message
	apiErr.Hint = envelope.Error.Hint
	apiErr.RequestID = envelope.Error.RequestID
	return apiErr
}
