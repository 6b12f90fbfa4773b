package manifest

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validManifestYAML returns a minimal valid manifest in YAML format.
func validManifestYAML() string {
	return `version: "1.0"
farm: tractor
scenes:
  root: /mnt/projects/wilderun
  includes:
    - "shots/**/*.ma"
render:
  frames: "1-240"
`
}

// validManifestJSON returns a minimal valid manifest in JSON format.
func validManifestJSON() string {
	return `{
  "version": "1.0",
  "farm": "tractor",
  "scenes": {
    "root": "/mnt/projects/wilderun",
    "includes": ["shots/**/*.ma"]
  },
  "render": {
    "frames": "1-240"
  }
}`
}

// manifestWithSchemaYAML returns a manifest with the $schema field for editor support.
func manifestWithSchemaYAML() string {
	return `$schema: https://schemas.lodgepole.dev/farmsight/v1.0.0/submission-manifest.schema.json
version: "1.0"
farm: tractor
scenes:
  root: /mnt/projects/wilderun
  includes:
    - "shots/**/*.ma"
render:
  frames: "1-240"
`
}

// fullManifestYAML returns a complete manifest with all optional fields.
func fullManifestYAML() string {
	return `version: "1.0"
farm: tractor
scenes:
  root: /mnt/projects/wilderun
  includes:
    - "shots/ep01/**/*.ma"
    - "shots/ep02/**/*.ma"
  excludes:
    - "**/autosave/**"
    - "**/incrementalSave/**"
  include_hidden: true
  filters:
    size:
      min: 1KB
    modified:
      after: "2026-01-01"
    path_regex: "lighting_v\\d{3}"
render:
  frames: 1-240x2
  priority: 75
  chunk_size: 10
  user: render-bot
  metadata:
    department: lighting
submit:
  concurrency: 8
  rate_limit: 100.5
output:
  destination: file:/tmp/output.jsonl
  progress: false
`
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name        string
		content     string
		filename    string
		wantErr     bool
		errContains string
		validate    func(t *testing.T, m *Manifest)
	}{
		{
			name:     "YAML manifest gets defaults",
			content:  validManifestYAML(),
			filename: "manifest.yaml",
			wantErr:  false,
			validate: func(t *testing.T, m *Manifest) {
				assert.Equal(t, "1.0", m.Version)
				assert.Equal(t, "tractor", m.Farm)
				assert.Equal(t, "/mnt/projects/wilderun", m.Scenes.Root)
				assert.Equal(t, []string{"shots/**/*.ma"}, m.Scenes.Includes)
				assert.Equal(t, "1-240", m.Render.Frames)
				// Submit and output defaults land on load.
				assert.Equal(t, DefaultConcurrency, m.Submit.Concurrency)
				assert.Equal(t, DefaultDestination, m.Output.Destination)
				assert.True(t, m.Output.ProgressEnabled())
			},
		},
		{
			name:     "JSON manifest",
			content:  validManifestJSON(),
			filename: "manifest.json",
			wantErr:  false,
			validate: func(t *testing.T, m *Manifest) {
				assert.Equal(t, "1.0", m.Version)
				assert.Equal(t, "tractor", m.Farm)
				assert.Equal(t, "/mnt/projects/wilderun", m.Scenes.Root)
			},
		},
		{
			name:     "editor $schema passthrough",
			content:  manifestWithSchemaYAML(),
			filename: "editor-schema.yaml",
			wantErr:  false,
			validate: func(t *testing.T, m *Manifest) {
				assert.Equal(t, "https://schemas.lodgepole.dev/farmsight/v1.0.0/submission-manifest.schema.json", m.Schema)
				assert.Equal(t, "1.0", m.Version)
			},
		},
		{
			name:     "every optional knob set",
			content:  fullManifestYAML(),
			filename: "everything.yaml",
			wantErr:  false,
			validate: func(t *testing.T, m *Manifest) {
				// Scenes
				assert.Equal(t, []string{"shots/ep01/**/*.ma", "shots/ep02/**/*.ma"}, m.Scenes.Includes)
				assert.Equal(t, []string{"**/autosave/**", "**/incrementalSave/**"}, m.Scenes.Excludes)
				assert.True(t, m.Scenes.IncludeHidden)
				require.NotNil(t, m.Scenes.Filters)
				require.NotNil(t, m.Scenes.Filters.Size)
				assert.Equal(t, "1KB", m.Scenes.Filters.Size.Min)
				require.NotNil(t, m.Scenes.Filters.Modified)
				assert.Equal(t, "2026-01-01", m.Scenes.Filters.Modified.After)
				assert.Equal(t, `lighting_v\d{3}`, m.Scenes.Filters.PathRegex)
				// Render
				assert.Equal(t, "1-240x2", m.Render.Frames)
				require.NotNil(t, m.Render.Priority)
				assert.Equal(t, 75, *m.Render.Priority)
				require.NotNil(t, m.Render.ChunkSize)
				assert.Equal(t, 10, *m.Render.ChunkSize)
				assert.Equal(t, "render-bot", m.Render.User)
				assert.Equal(t, map[string]string{"department": "lighting"}, m.Render.Metadata)
				// Submit
				assert.Equal(t, 8, m.Submit.Concurrency)
				assert.InDelta(t, 100.5, m.Submit.RateLimit, 0.001)
				// Output
				assert.Equal(t, "file:/tmp/output.jsonl", m.Output.Destination)
				assert.False(t, m.Output.ProgressEnabled())
			},
		},
		{
			name:     ".yml spelling of the extension",
			content:  validManifestYAML(),
			filename: "manifest.yml",
			wantErr:  false,
		},
		{
			name:        "zero-byte manifest",
			content:     "",
			filename:    "blank.yaml",
			wantErr:     true,
			errContains: "empty",
		},
		{
			name:        "torn YAML",
			content:     "version: [invalid yaml",
			filename:    "torn.yaml",
			wantErr:     true,
			errContains: "invalid YAML",
		},
		{
			name:        "torn JSON",
			content:     `{"version": "1.0"`,
			filename:    "torn.json",
			wantErr:     true,
			errContains: "invalid JSON",
		},
		{
			name: "version absent",
			content: `farm: tractor
scenes:
  root: /mnt/projects/wilderun
  includes:
    - "**/*"
render:
  frames: "1-240"
`,
			filename:    "missing-version.yaml",
			wantErr:     true,
			errContains: "version",
		},
		{
			name: "unsupported version",
			content: `version: "2.0"
farm: tractor
scenes:
  root: /mnt/projects/wilderun
  includes:
    - "**/*"
render:
  frames: "1-240"
`,
			filename:    "unsupported-version.yaml",
			wantErr:     true,
			errContains: "version",
		},
		{
			name: "farm absent",
			content: `version: "1.0"
scenes:
  root: /mnt/projects/wilderun
  includes:
    - "**/*"
render:
  frames: "1-240"
`,
			filename:    "missing-farm.yaml",
			wantErr:     true,
			errContains: "farm",
		},
		{
			name: "scene root absent",
			content: `version: "1.0"
farm: tractor
scenes:
  includes:
    - "**/*"
render:
  frames: "1-240"
`,
			filename:    "missing-root.yaml",
			wantErr:     true,
			errContains: "root",
		},
		{
			name: "includes absent",
			content: `version: "1.0"
farm: tractor
scenes:
  root: /mnt/projects/wilderun
  excludes:
    - "**/autosave/**"
render:
  frames: "1-240"
`,
			filename:    "missing-includes.yaml",
			wantErr:     true,
			errContains: "includes",
		},
		{
			name: "includes empty",
			content: `version: "1.0"
farm: tractor
scenes:
  root: /mnt/projects/wilderun
  includes: []
render:
  frames: "1-240"
`,
			filename:    "bare-includes.yaml",
			wantErr:     true,
			errContains: "includes",
		},
		{
			name: "frames absent",
			content: `version: "1.0"
farm: tractor
scenes:
  root: /mnt/projects/wilderun
  includes:
    - "**/*"
render:
  priority: 50
`,
			filename:    "missing-frames.yaml",
			wantErr:     true,
			errContains: "frames",
		},
		{
			name: "frames not a range",
			content: `version: "1.0"
farm: tractor
scenes:
  root: /mnt/projects/wilderun
  includes:
    - "**/*"
render:
  frames: "all of them"
`,
			filename:    "prose-frames.yaml",
			wantErr:     true,
			errContains: "frames",
		},
		{
			name: "priority below floor",
			content: `version: "1.0"
farm: tractor
scenes:
  root: /mnt/projects/wilderun
  includes:
    - "**/*"
render:
  frames: "1-240"
  priority: 0
`,
			filename:    "priority-floor.yaml",
			wantErr:     true,
			errContains: "priority",
		},
		{
			name: "concurrency above ceiling",
			content: `version: "1.0"
farm: tractor
scenes:
  root: /mnt/projects/wilderun
  includes:
    - "**/*"
render:
  frames: "1-240"
submit:
  concurrency: 100
`,
			filename:    "concurrency-ceiling.yaml",
			wantErr:     true,
			errContains: "concurrency",
		},
		{
			name: "concurrency below floor",
			content: `version: "1.0"
farm: tractor
scenes:
  root: /mnt/projects/wilderun
  includes:
    - "**/*"
render:
  frames: "1-240"
submit:
  concurrency: 0
`,
			filename:    "concurrency-floor.yaml",
			wantErr:     true,
			errContains: "concurrency",
		},
		{
			name: "rate limit negative",
			content: `version: "1.0"
farm: tractor
scenes:
  root: /mnt/projects/wilderun
  includes:
    - "**/*"
render:
  frames: "1-240"
submit:
  rate_limit: -1
`,
			filename:    "negative-rate.yaml",
			wantErr:     true,
			errContains: "rate_limit",
		},
		{
			name: "stray key rejected",
			content: `version: "1.0"
farm: tractor
scenes:
  root: /mnt/projects/wilderun
  includes:
    - "**/*"
  unknown_field: value
render:
  frames: "1-240"
`,
			filename:    "stray-key.yaml",
			wantErr:     true,
			errContains: "additional",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.filename)
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))

			m, err := Load(path)
			if tt.wantErr {
				require.Error(t, err)
				if tt.errContains != "" {
					assert.Contains(t, strings.ToLower(err.Error()), strings.ToLower(tt.errContains),
						"error should mention %q", tt.errContains)
				}
				return
			}

			require.NoError(t, err)
			require.NotNil(t, m)
			if tt.validate != nil {
				tt.validate(t, m)
			}
		})
	}
}

func TestLoad_FileErrors(t *testing.T) {
	t.Run("file not found", func(t *testing.T) {
		_, err := Load("/nonexistent/path/manifest.yaml")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found")
	})

	t.Run("permission denied", func(t *testing.T) {
		if os.Getuid() == 0 {
			t.Skip("skipping permission test when running as root")
		}

		path := filepath.Join(t.TempDir(), "noperm.yaml")
		require.NoError(t, os.WriteFile(path, []byte(validManifestYAML()), 0o000))
		t.Cleanup(func() {
			// TempDir removal needs the file readable again.
			_ = os.Chmod(path, 0o644)
		})

		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "permission")
	})
}

func TestLoadFromBytes(t *testing.T) {
	t.Run("YAML by extension", func(t *testing.T) {
		m, err := LoadFromBytes([]byte(validManifestYAML()), "test.yaml")
		require.NoError(t, err)
		assert.Equal(t, "tractor", m.Farm)
	})

	t.Run("JSON by extension", func(t *testing.T) {
		m, err := LoadFromBytes([]byte(validManifestJSON()), "test.json")
		require.NoError(t, err)
		assert.Equal(t, "tractor", m.Farm)
	})

	t.Run("auto-detect YAML", func(t *testing.T) {
		m, err := LoadFromBytes([]byte(validManifestYAML()), "")
		require.NoError(t, err)
		assert.Equal(t, "tractor", m.Farm)
	})

	t.Run("auto-detect JSON", func(t *testing.T) {
		m, err := LoadFromBytes([]byte(validManifestJSON()), "")
		require.NoError(t, err)
		assert.Equal(t, "tractor", m.Farm)
	})

	t.Run("unknown extension tries both", func(t *testing.T) {
		m, err := LoadFromBytes([]byte(validManifestYAML()), "test.txt")
		require.NoError(t, err)
		assert.Equal(t, "tractor", m.Farm)
	})
}

func TestLoadFromReader(t *testing.T) {
	t.Run("reads from reader", func(t *testing.T) {
		r := strings.NewReader(validManifestYAML())
		m, err := LoadFromReader(r, "test.yaml")
		require.NoError(t, err)
		assert.Equal(t, "tractor", m.Farm)
	})
}

func TestApplyDefaults(t *testing.T) {
	t.Run("applies all defaults", func(t *testing.T) {
		m := &Manifest{
			Version: "1.0",
			Farm:    "tractor",
			Scenes: ScenesConfig{
				Root:     "/mnt/projects/wilderun",
				Includes: []string{"**/*"},
			},
			Render: RenderConfig{Frames: "1-240"},
		}

		m.ApplyDefaults()

		assert.Equal(t, DefaultConcurrency, m.Submit.Concurrency)
		assert.Equal(t, DefaultDestination, m.Output.Destination)
		assert.NotNil(t, m.Output.Progress)
		assert.True(t, *m.Output.Progress)
	})

	t.Run("preserves explicit values", func(t *testing.T) {
		progress := false
		m := &Manifest{
			Version: "1.0",
			Submit: SubmitConfig{
				Concurrency: 8,
			},
			Output: OutputConfig{
				Destination: "file:/tmp/out.jsonl",
				Progress:    &progress,
			},
		}

		m.ApplyDefaults()

		assert.Equal(t, 8, m.Submit.Concurrency)
		assert.Equal(t, "file:/tmp/out.jsonl", m.Output.Destination)
		assert.False(t, *m.Output.Progress)
	})

	t.Run("zero rate limit stays unlimited", func(t *testing.T) {
		m := &Manifest{}

		m.ApplyDefaults()

		// Zero means no throttle; defaults must not invent one.
		assert.Equal(t, 0.0, m.Submit.RateLimit)
	})
}

func TestProgressEnabled(t *testing.T) {
	t.Run("nil returns default true", func(t *testing.T) {
		o := OutputConfig{}
		assert.True(t, o.ProgressEnabled())
	})

	t.Run("explicit true", func(t *testing.T) {
		v := true
		o := OutputConfig{Progress: &v}
		assert.True(t, o.ProgressEnabled())
	})

	t.Run("explicit false", func(t *testing.T) {
		v := false
		o := OutputConfig{Progress: &v}
		assert.False(t, o.ProgressEnabled())
	})
}

func TestValidationErrors(t *testing.T) {
	t.Run("single error", func(t *testing.T) {
		errs := ValidationErrors{
			{Path: "/version", Message: "required"},
		}
		assert.Contains(t, errs.Error(), "/version")
		assert.Contains(t, errs.Error(), "required")
	})

	t.Run("multiple errors", func(t *testing.T) {
		errs := ValidationErrors{
			{Path: "/version", Message: "required"},
			{Path: "/scenes/root", Message: "must not be empty"},
		}
		errStr := errs.Error()
		assert.Contains(t, errStr, "2 errors")
		assert.Contains(t, errStr, "/version")
		assert.Contains(t, errStr, "/scenes/root")
	})

	t.Run("empty path", func(t *testing.T) {
		errs := ValidationErrors{
			{Path: "", Message: "root error"},
		}
		assert.Equal(t, "root error", errs.Error())
	})

	t.Run("unwrap returns ErrValidationFailed", func(t *testing.T) {
		errs := ValidationErrors{{Path: "/x", Message: "bad"}}
		assert.True(t, errors.Is(errs, ErrValidationFailed))
	})
}

func TestValidate(t *testing.T) {
	t.Run("valid manifest passes", func(t *testing.T) {
		m := &Manifest{
			Version: "1.0",
			Farm:    "tractor",
			Scenes: ScenesConfig{
				Root:     "/mnt/projects/wilderun",
				Includes: []string{"shots/**/*.ma"},
			},
			Render: RenderConfig{Frames: "1-240"},
		}
		err := Validate(m)
		assert.NoError(t, err)
	})

	t.Run("invalid manifest fails", func(t *testing.T) {
		m := &Manifest{
			Version: "1.0",
			Farm:    "tractor",
			Scenes: ScenesConfig{
				Root:     "/mnt/projects/wilderun",
				Includes: []string{"shots/**/*.ma"},
			},
			Render: RenderConfig{Frames: "not a frame range"},
		}
		err := Validate(m)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrValidationFailed))
	})
}

func TestValidationError_Error(t *testing.T) {
	t.Run("with path", func(t *testing.T) {
		e := ValidationError{Path: "/foo/bar", Message: "invalid"}
		assert.Equal(t, "/foo/bar: invalid", e.Error())
	})

	t.Run("without path", func(t *testing.T) {
		e := ValidationError{Path: "", Message: "something wrong"}
		assert.Equal(t, "something wrong", e.Error())
	})
}

func TestValidate_EmbeddedSchema(t *testing.T) {
	// The schema is compiled from embedded bytes, so validation must not
	// depend on the working directory.
	t.Run("works from arbitrary directory", func(t *testing.T) {
		originalDir, err := os.Getwd()
		require.NoError(t, err)

		tmpDir := t.TempDir()
		err = os.Chdir(tmpDir)
		require.NoError(t, err)
		t.Cleanup(func() {
			_ = os.Chdir(originalDir)
		})

		m := &Manifest{
			Version: "1.0",
			Farm:    "tractor",
			Scenes: ScenesConfig{
				Root:     "/mnt/projects/wilderun",
				Includes: []string{"shots/**/*.ma"},
			},
			Render: RenderConfig{Frames: "1-240"},
		}
		err = Validate(m)
		assert.NoError(t, err, "validation should work from any directory using embedded schema")
	})

	t.Run("validation errors work from arbitrary directory", func(t *testing.T) {
		originalDir, err := os.Getwd()
		require.NoError(t, err)

		tmpDir := t.TempDir()
		err = os.Chdir(tmpDir)
		require.NoError(t, err)
		t.Cleanup(func() {
			_ = os.Chdir(originalDir)
		})

		m := &Manifest{
			Version: "1.0",
			Farm:    "tractor",
			Scenes: ScenesConfig{
				Root:     "/mnt/projects/wilderun",
				Includes: []string{"shots/**/*.ma"},
			},
			Render: RenderConfig{Frames: "frame soup"},
		}
		err = Validate(m)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrValidationFailed))
	})
}
