// Package errors provides the HTTP error envelope shared by every API
// surface and the mapping from domain errors to status codes.
package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/lodgepole/farmsight/pkg/dashboard"
	"github.com/lodgepole/farmsight/pkg/farm"
	"github.com/lodgepole/farmsight/pkg/ingest"
	"github.com/lodgepole/farmsight/pkg/jobregistry"
	"github.com/lodgepole/farmsight/pkg/tracking"
)

// Envelope codes owned by the HTTP layer. Registry errors carry their own
// codes (jobregistry.CodeValidation and friends) through unchanged.
const (
	CodeNotFound            = "NOT_FOUND"
	CodeMethodNotAllowed    = "METHOD_NOT_ALLOWED"
	CodeInternal            = "INTERNAL_ERROR"
	CodeServiceUnavailable  = "SERVICE_UNAVAILABLE"
	CodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeForbidden           = "FORBIDDEN"
	CodeRunNotFound         = "RUN_NOT_FOUND"
	CodeDuplicateRun        = "DUPLICATE_RUN"
	CodeRunCompleted        = "RUN_ALREADY_COMPLETED"
)

// HTTPErrorResponse is the wire envelope for API failures.
type HTTPErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody carries the machine-readable failure description.
type ErrorBody struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Hint      string         `json:"hint,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// ErrorEnvelope builds an ErrorBody incrementally.
type ErrorEnvelope struct {
	Code      string
	Message   string
	Hint      string
	RequestID string
	Details   map[string]any
}

// NewErrorEnvelope starts an envelope with a code and message.
func NewErrorEnvelope(code, message string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: code, Message: message}
}

// WithHint attaches a remediation hint.
func (e *ErrorEnvelope) WithHint(hint string) *ErrorEnvelope {
	e.Hint = hint
	return e
}

// WithRequestID attaches the request correlation id.
func (e *ErrorEnvelope) WithRequestID(id string) *ErrorEnvelope {
	e.RequestID = id
	return e
}

// WithDetails attaches structured context.
func (e *ErrorEnvelope) WithDetails(details map[string]any) *ErrorEnvelope {
	e.Details = details
	return e
}

type ctxKey int

const requestIDKey ctxKey = 0

// WithRequestID stores the request id on the context. The RequestID
// middleware calls this for every request.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFrom returns the request id stored on the context, or "".
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// Write encodes the envelope as the standard JSON error response.
func Write(w http.ResponseWriter, status int, env *ErrorEnvelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := HTTPErrorResponse{Error: ErrorBody{
		Code:      env.Code,
		Message:   env.Message,
		Hint:      env.Hint,
		RequestID: env.RequestID,
		Details:   env.Details,
	}}
	_ = json.NewEncoder(w).Encode(resp)
}

// RespondWithError maps a domain error onto the HTTP envelope and status
// code and writes it.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	status, env := mapError(err)
	env.WithRequestID(RequestIDFrom(r.Context()))
	Write(w, status, env)
}

// mapError converts a domain error into a status code and envelope.
func mapError(err error) (int, *ErrorEnvelope) {
	var regErr *jobregistry.Error
	if stderrors.As(err, &regErr) {
		env := NewErrorEnvelope(regErr.Code, regErr.Message).
			WithHint(regErr.Hint).
			WithDetails(regErr.Context)
		return registryStatus(regErr.Code), env
	}

	var dashErr *dashboard.ValidationError
	if stderrors.As(err, &dashErr) {
		env := NewErrorEnvelope(jobregistry.CodeValidation, dashErr.Error()).
			WithDetails(map[string]any{"field": dashErr.Field})
		return http.StatusBadRequest, env
	}

	switch {
	case stderrors.Is(err, ingest.ErrNotFound):
		return http.StatusNotFound, NewErrorEnvelope(CodeRunNotFound, err.Error())
	case stderrors.Is(err, ingest.ErrDuplicateRun):
		return http.StatusConflict, NewErrorEnvelope(CodeDuplicateRun, err.Error())
	case stderrors.Is(err, ingest.ErrAlreadyCompleted):
		return http.StatusConflict, NewErrorEnvelope(CodeRunCompleted, err.Error())

	case tracking.IsNotFound(err):
		return http.StatusNotFound, NewErrorEnvelope(CodeNotFound, err.Error())
	case tracking.IsUnavailable(err), tracking.IsThrottled(err):
		return http.StatusBadGateway, NewErrorEnvelope(CodeUpstreamUnavailable, err.Error())

	case farm.IsUnknownFarm(err):
		return http.StatusBadRequest, NewErrorEnvelope(jobregistry.CodeValidation, err.Error())
	case farm.IsNotImplemented(err):
		return http.StatusNotImplemented, NewErrorEnvelope(jobregistry.CodeUnsupportedOperation, err.Error())
	case farm.IsUnavailable(err), farm.IsRejected(err):
		return http.StatusBadGateway, NewErrorEnvelope(CodeUpstreamUnavailable, err.Error())

	case stderrors.Is(err, context.DeadlineExceeded):
		return http.StatusBadGateway, NewErrorEnvelope(CodeUpstreamUnavailable, "upstream request timed out")
	}

	return http.StatusInternalServerError, NewErrorEnvelope(CodeInternal, err.Error())
}

// registryStatus maps registry taxonomy codes to HTTP statuses.
func registryStatus(code string) int {
	switch code {
	case jobregistry.CodeValidation:
		return http.StatusBadRequest
	case jobregistry.CodeCapabilityViolation:
		return http.StatusForbidden
	case jobregistry.CodeJobNotFound:
		return http.StatusNotFound
	case jobregistry.CodeInvalidTransition:
		return http.StatusConflict
	case jobregistry.CodeUnsupportedOperation:
		return http.StatusNotImplemented
	case jobregistry.CodePersistenceFailure:
		return http.StatusInternalServerError
	}
	return http.StatusInternalServerError
}

// NotFoundHandler renders 404s in the standard envelope.
func NotFoundHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		env := NewErrorEnvelope(CodeNotFound, "resource not found").
			WithRequestID(RequestIDFrom(r.Context()))
		Write(w, http.StatusNotFound, env)
	}
}

// MethodNotAllowedHandler renders 405s in the standard envelope.
func MethodNotAllowedHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		env := NewErrorEnvelope(CodeMethodNotAllowed, "method not allowed").
			WithRequestID(RequestIDFrom(r.Context()))
		Write(w, http.StatusMethodNotAllowed, env)
	}
}
