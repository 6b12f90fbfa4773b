// Package manifest provides loading and validation of farmsight submission
// manifests.
//
// A submission manifest is a YAML or JSON file that configures a batch
// render submission: the farm target, scene selection, render settings,
// and output behavior.
//
// Manifests are validated against a JSON Schema to ensure correctness
// before execution. The schema enforces strict typing and disallows
// unknown properties.
//
// Example manifest (YAML):
//
//	version: "1.0"
//	farm: tractor
//	scenes:
//	  root: /mnt/projects/wilderun
//	  includes:
//	    - "shots/ep01/**/*.ma"
//	  excludes:
//	    - "**/autosave/**"
//	render:
//	  frames: "1-240"
//	  priority: 50
//	submit:
//	  concurrency: 4
//	output:
//	  destination: stdout
//	  progress: true
package manifest

// Manifest represents a validated submission manifest.
//
// A manifest configures one batch render submission. Required fields are
// Version, Farm, Scenes, and Render. Submit and Output are optional with
// sensible defaults.
type Manifest struct {
	// Schema is an optional JSON Schema reference for editor support.
	// Example: "https://schemas.lodgepole.dev/farmsight/v1.0.0/submission-manifest.schema.json"
	Schema string `json:"$schema,omitempty" yaml:"$schema,omitempty"`

	// Version is the manifest schema version. Must be "1.0".
	Version string `json:"version" yaml:"version"`

	// Farm is the farm adapter name as registered with the service.
	Farm string `json:"farm" yaml:"farm"`

	// Scenes configures scene selection by glob patterns.
	Scenes ScenesConfig `json:"scenes" yaml:"scenes"`

	// Render configures the render settings applied to each job.
	Render RenderConfig `json:"render" yaml:"render"`

	// Submit configures submission behavior (optional).
	Submit SubmitConfig `json:"submit,omitempty" yaml:"submit,omitempty"`

	// Output configures output destination and format (optional).
	Output OutputConfig `json:"output,omitempty" yaml:"output,omitempty"`
}

// ScenesConfig configures scene selection by glob patterns and metadata
// filters.
type ScenesConfig struct {
	// Root is the scene tree root to scan.
	Root string `json:"root" yaml:"root"`

	// Includes is a list of glob patterns for scenes to include.
	// At least one pattern is required.
	Includes []string `json:"includes" yaml:"includes"`

	// Excludes is a list of glob patterns for scenes to exclude. Optional.
	Excludes []string `json:"excludes,omitempty" yaml:"excludes,omitempty"`

	// IncludeHidden includes hidden entries (starting with .). Default: false.
	IncludeHidden bool `json:"include_hidden,omitempty" yaml:"include_hidden,omitempty"`

	// Filters specifies additional metadata-based filters. Optional.
	// Filters are applied after glob pattern matching with AND semantics.
	Filters *FilterConfig `json:"filters,omitempty" yaml:"filters,omitempty"`
}

// FilterConfig specifies metadata-based scene filters.
// All filters are optional and compose with AND semantics.
type FilterConfig struct {
	// Size specifies min/max size constraints.
	// Supports human-readable values: "1KB", "100MiB", "1GB".
	Size *SizeFilterConfig `json:"size,omitempty" yaml:"size,omitempty"`

	// Modified specifies last-modified date range constraints.
	// Dates are in ISO 8601 format: "2024-01-15" or "2024-01-15T10:30:00Z".
	Modified *DateFilterConfig `json:"modified,omitempty" yaml:"modified,omitempty"`

	// PathRegex is a regex applied to scene paths after glob matching.
	// Use for patterns not expressible with globs, e.g., "lighting_v\\d{3}".
	PathRegex string `json:"path_regex,omitempty" yaml:"path_regex,omitempty"`
}

// SizeFilterConfig specifies size constraints.
type SizeFilterConfig struct {
	// Min is the minimum size (inclusive).
	// Supports: raw bytes "1024", base-10 "1KB", base-2 "1KiB".
	Min string `json:"min,omitempty" yaml:"min,omitempty"`

	// Max is the maximum size (inclusive).
	Max string `json:"max,omitempty" yaml:"max,omitempty"`
}

// DateFilterConfig specifies date range constraints.
type DateFilterConfig struct {
	// After filters to scenes modified at or after this time (inclusive).
	After string `json:"after,omitempty" yaml:"after,omitempty"`

	// Before filters to scenes modified before this time (exclusive end).
	Before string `json:"before,omitempty" yaml:"before,omitempty"`
}

// RenderConfig holds the render settings applied to every job in the
// batch.
type RenderConfig struct {
	// Frames is the frame range submitted with each scene.
	// Examples: "1-240", "1-240x2", "1,5,9".
	Frames string `json:"frames" yaml:"frames"`

	// Priority is the requested priority. Optional; when omitted the
	// farm's advertised default applies.
	Priority *int `json:"priority,omitempty" yaml:"priority,omitempty"`

	// ChunkSize is the number of frames per task. Optional; when omitted
	// the farm's advertised default applies.
	ChunkSize *int `json:"chunk_size,omitempty" yaml:"chunk_size,omitempty"`

	// User is the submitting user recorded on each job. Optional.
	User string `json:"user,omitempty" yaml:"user,omitempty"`

	// Metadata holds free-form labels recorded on each job. Optional.
	Metadata map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// SubmitConfig configures submission behavior.
//
// All fields are optional with sensible defaults applied during loading.
type SubmitConfig struct {
	// Concurrency is the number of concurrent submissions.
	// Range: 1-16. Default: 4.
	Concurrency int `json:"concurrency,omitempty" yaml:"concurrency,omitempty"`

	// RateLimit is the maximum submissions per second (0 = unlimited).
	// Default: 0.
	RateLimit float64 `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"`
}

// OutputConfig configures output destination and format.
//
// All fields are optional with sensible defaults applied during loading.
type OutputConfig struct {
	// Destination is the output target.
	// Values: "stdout" or "file:/path/to/output.jsonl"
	// Default: "stdout".
	Destination string `json:"destination,omitempty" yaml:"destination,omitempty"`

	// Progress enables progress record emission during submission.
	// Default: true.
	Progress *bool `json:"progress,omitempty" yaml:"progress,omitempty"`
}

// Default values for optional configuration fields.
const (
	// DefaultVersion is the current manifest schema version.
	DefaultVersion = "1.0"

	// DefaultConcurrency is the default number of concurrent submissions.
	DefaultConcurrency = 4

	// DefaultRateLimit is the default rate limit (0 = unlimited).
	DefaultRateLimit = 0.0

	// DefaultDestination is the default output destination.
	DefaultDestination = "stdout"

	// DefaultProgress is the default value for progress emission.
	DefaultProgress = true
)

// ApplyDefaults fills in default values for optional fields.
//
// This should be called after loading and validating the manifest to
// ensure all optional fields have sensible values.
func (m *Manifest) ApplyDefaults() {
	if m.Submit.Concurrency == 0 {
		m.Submit.Concurrency = DefaultConcurrency
	}
	// RateLimit: 0 is a valid value (unlimited), so no default needed

	if m.Output.Destination == "" {
		m.Output.Destination = DefaultDestination
	}
	if m.Output.Progress == nil {
		defaultProgress := DefaultProgress
		m.Output.Progress = &defaultProgress
	}
}

// ProgressEnabled returns whether progress records should be emitted.
// Returns the configured value, or DefaultProgress if not set.
func (o *OutputConfig) ProgressEnabled() bool {
	if o.Progress == nil {
		return DefaultProgress
	}
	return *o.Progress
}
