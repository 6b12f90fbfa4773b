// Package schemasassets carries the JSON schemas compiled into the
// binary. Embedding keeps manifest validation working no matter where
// the binary is installed or run from.
package schemasassets

import _ "embed"

// SubmissionManifestSchema validates submission manifests before a
// batch is executed.
//
//go:embed submission-manifest.schema.json
var SubmissionManifestSchema []byte
