package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	schemasassets "github.com/lodgepole/farmsight/internal/assets/schemas"
)

// SchemaURL is the canonical identifier of the submission-manifest schema.
const SchemaURL = "https://schemas.lodgepole.dev/farmsight/v1.0.0/submission-manifest.schema.json"

// Validation errors
var (
	// ErrSchemaNotFound indicates the schema could not be located.
	ErrSchemaNotFound = errors.New("manifest schema not found")

	// ErrValidationFailed indicates the manifest failed schema validation.
	ErrValidationFailed = errors.New("manifest validation failed")
)

// Cached schema instance (compiled once from the embedded asset)
var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

// ValidationError represents a single validation issue.
type ValidationError struct {
	// Path is the JSON pointer to the problematic field (e.g., "/scenes/includes").
	Path string

	// Message describes the validation failure.
	Message string
}

// Error implements error interface.
func (e ValidationError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error renders a single issue bare and multiple issues as a bulleted
// list headed by the error count.
func (e ValidationErrors) Error() string {
	switch len(e) {
	case 0:
		return "validation failed"
	case 1:
		return e[0].Error()
	}

	lines := make([]string, len(e))
	for i, err := range e {
		lines[i] = "  - " + err.Error()
	}
	return fmt.Sprintf("manifest validation failed with %d errors:\n%s",
		len(e), strings.Join(lines, "\n"))
}

// Unwrap returns the underlying error type.
func (e ValidationErrors) Unwrap() error {
	return ErrValidationFailed
}

// Validate checks a manifest struct against the schema. Struct decoding
// has already dropped unknown fields by this point; use ValidateRaw on
// the original input when unknown keys must be rejected.
//
// On failure the returned error is a ValidationErrors listing every
// failing field.
func Validate(m *Manifest) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to serialize manifest for validation: %w", err)
	}

	return ValidateRaw(data)
}

// ValidateRaw checks a raw JSON document against the embedded manifest
// schema. The raw form still carries unknown keys, so this is the
// strict path: additionalProperties violations are reported here.
//
// On failure the returned error is a ValidationErrors listing every
// failing field.
func ValidateRaw(jsonData []byte) error {
	s, err := getSchema()
	if err != nil {
		return err
	}

	var doc any
	if err := json.Unmarshal(jsonData, &doc); err != nil {
		return fmt.Errorf("invalid JSON in manifest: %w", err)
	}

	err = s.Validate(doc)
	if err == nil {
		return nil
	}

	var ve *jsonschema.ValidationError
	if errors.As(err, &ve) {
		return collectValidationErrors(ve)
	}
	return fmt.Errorf("schema validation error: %w", err)
}

// collectValidationErrors flattens jsonschema's cause tree into leaf
// diagnostics, one per failing field.
func collectValidationErrors(ve *jsonschema.ValidationError) ValidationErrors {
	var errs ValidationErrors
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			errs = append(errs, ValidationError{
				Path:    e.InstanceLocation,
				Message: e.Message,
			})
			return
		}
		for _, cause := range e.Causes {
			walk(cause)
		}
	}
	walk(ve)
	return errs
}

// getSchema compiles the embedded schema on first use and caches the
// result for the life of the process.
func getSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		if len(schemasassets.SubmissionManifestSchema) == 0 {
			schemaErr = fmt.Errorf("%w: embedded submission-manifest schema is empty", ErrSchemaNotFound)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(SchemaURL, bytes.NewReader(schemasassets.SubmissionManifestSchema)); err != nil {
			schemaErr = fmt.Errorf("failed to load manifest schema: %w", err)
			return
		}
		schema, schemaErr = compiler.Compile(SchemaURL)
		if schemaErr != nil {
			schemaErr = fmt.Errorf("failed to compile manifest schema: %w", schemaErr)
		}
	})
	return schema, schemaErr
}
