package output

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Writer emits the JSONL record stream produced by CLI commands.
//
// Each Write* method must emit one complete record as a single JSON
// line. Implementations must tolerate concurrent calls from the
// submission workers.
type Writer interface {
	// WriteJob emits a render job record.
	WriteJob(ctx context.Context, job *JobRecord) error

	// WriteRun emits an ingest run record.
	WriteRun(ctx context.Context, run *RunRecord) error

	// WriteError emits an error record.
	WriteError(ctx context.Context, err *ErrorRecord) error

	// WriteProgress emits a progress record.
	WriteProgress(ctx context.Context, prog *ProgressRecord) error

	// WriteSummary emits a summary record.
	WriteSummary(ctx context.Context, sum *SummaryRecord) error

	// Close flushes any buffered output and releases resources.
	Close() error
}

// JSONLWriter writes records as newline-delimited JSON to an io.Writer.
// A mutex serializes writes so concurrent submission workers never
// interleave lines.
type JSONLWriter struct {
	w       io.Writer
	batchID string
	farm    string
	mu      sync.Mutex
	closed  bool
}

// NewJSONLWriter returns a writer that stamps every record with the
// given batch id and farm. Both may be empty for list output, where
// records do not belong to a submission batch.
func NewJSONLWriter(w io.Writer, batchID, farm string) *JSONLWriter {
	return &JSONLWriter{
		w:       w,
		batchID: batchID,
		farm:    farm,
	}
}

// WriteJob emits a render job record.
func (jw *JSONLWriter) WriteJob(ctx context.Context, job *JobRecord) error {
	return jw.writeRecord(ctx, TypeJob, job)
}

// WriteRun emits an ingest run record.
func (jw *JSONLWriter) WriteRun(ctx context.Context, run *RunRecord) error {
	return jw.writeRecord(ctx, TypeRun, run)
}

// WriteError emits an error record.
func (jw *JSONLWriter) WriteError(ctx context.Context, err *ErrorRecord) error {
	return jw.writeRecord(ctx, TypeError, err)
}

// WriteProgress emits a progress record.
func (jw *JSONLWriter) WriteProgress(ctx context.Context, prog *ProgressRecord) error {
	return jw.writeRecord(ctx, TypeProgress, prog)
}

// WriteSummary emits a summary record.
func (jw *JSONLWriter) WriteSummary(ctx context.Context, sum *SummaryRecord) error {
	return jw.writeRecord(ctx, TypeSummary, sum)
}

// Close marks the writer as closed. The underlying io.Writer is left
// open; the caller owns it.
func (jw *JSONLWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	jw.closed = true
	return nil
}

// writeRecord wraps data in the record envelope and emits it as one
// JSON line. The write itself is serialized under the mutex; the
// payload marshal happens before the lock is taken.
func (jw *JSONLWriter) writeRecord(ctx context.Context, recordType string, data any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return &WriteError{Op: "marshal_data", Err: err}
	}

	jw.mu.Lock()
	defer jw.mu.Unlock()

	if jw.closed {
		return ErrWriterClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// The timestamp is taken under the lock so line order matches
	// record order.
	line, err := json.Marshal(Record{
		Type:    recordType,
		TS:      time.Now().UTC(),
		BatchID: jw.batchID,
		Farm:    jw.farm,
		Data:    payload,
	})
	if err != nil {
		return &WriteError{Op: "marshal_record", Err: err}
	}
	line = append(line, '\n')

	// io.Writer may report n < len(p) with a nil error. A partial line
	// corrupts the stream, so keep writing until the line is out.
	for len(line) > 0 {
		n, err := jw.w.Write(line)
		if err != nil {
			return &WriteError{Op: "write", Err: err}
		}
		if n == 0 {
			return &WriteError{Op: "write", Err: io.ErrShortWrite}
		}
		line = line[n:]
	}
	return nil
}

// Compile-time check that JSONLWriter implements Writer.
var _ Writer = (*JSONLWriter)(nil)
