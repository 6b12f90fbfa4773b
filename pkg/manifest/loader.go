package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// docFormat is the on-disk encoding of a manifest document.
type docFormat int

const (
	formatAuto docFormat = iota
	formatYAML
	formatJSON
)

// Load reads a submission manifest from disk, validates it against the
// embedded schema, and fills in defaults for optional fields.
//
// The encoding is chosen by file extension: .yaml/.yml or .json.
// Any other extension is tried as YAML first, then JSON.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		switch {
		case os.IsNotExist(err):
			return nil, fmt.Errorf("manifest file not found: %s", path)
		case os.IsPermission(err):
			return nil, fmt.Errorf("permission denied reading manifest: %s", path)
		default:
			return nil, fmt.Errorf("failed to read manifest file: %w", err)
		}
	}
	return LoadFromBytes(data, path)
}

// LoadFromReader reads a manifest from r. The path is used only for
// encoding detection and error messages; it may be empty.
func LoadFromReader(r io.Reader, path string) (*Manifest, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return LoadFromBytes(data, path)
}

// LoadFromBytes parses, validates, and defaults a manifest held in memory.
//
// The raw document is normalized to JSON and checked against the schema
// before it is decoded into the Manifest struct. Schema validation runs
// on the raw form so that unknown keys are rejected instead of being
// silently dropped by struct decoding.
func LoadFromBytes(data []byte, path string) (*Manifest, error) {
	if len(data) == 0 {
		return nil, errors.New("manifest file is empty")
	}

	jsonData, err := normalize(data, formatForPath(path))
	if err != nil {
		return nil, err
	}

	if err := ValidateRaw(jsonData); err != nil {
		return nil, err
	}

	var m Manifest
	if err := json.Unmarshal(jsonData, &m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	m.ApplyDefaults()
	return &m, nil
}

// formatForPath picks the document encoding from the file extension.
// Unrecognized and empty paths resolve to formatAuto.
func formatForPath(path string) docFormat {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return formatYAML
	case ".json":
		return formatJSON
	default:
		return formatAuto
	}
}

// normalize converts a manifest document to JSON so that a single schema
// pass and a single decode serve both encodings.
func normalize(data []byte, format docFormat) ([]byte, error) {
	switch format {
	case formatJSON:
		if err := checkJSON(data); err != nil {
			return nil, err
		}
		return data, nil
	case formatYAML:
		return yamlToJSON(data)
	default:
		jsonData, yamlErr := yamlToJSON(data)
		if yamlErr == nil {
			return jsonData, nil
		}
		if checkJSON(data) == nil {
			return data, nil
		}
		// Report the YAML error; YAML is the documented format.
		return nil, fmt.Errorf("failed to parse manifest (tried YAML and JSON): %w", yamlErr)
	}
}

// checkJSON verifies that data is a well-formed JSON document.
func checkJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("invalid JSON in manifest: %w", err)
	}
	return nil
}

// yamlToJSON re-encodes a YAML document as JSON.
func yamlToJSON(data []byte) ([]byte, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid YAML in manifest: %w", err)
	}
	jsonData, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to convert manifest to JSON: %w", err)
	}
	return jsonData, nil
}
