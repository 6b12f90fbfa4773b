package middleware

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"

	apperrors "github.com/lodgepole/farmsight/internal/errors"
)

// ErrorResponse is the JSON shape written for recovered panics. It is the
// same envelope the rest of the API uses.
type ErrorResponse = apperrors.HTTPErrorResponse

// Recovery converts panics into a 500 response in the standard envelope.
// The panic value and stack are logged; the connection stays usable.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}

			zap.L().Error("Panic recovered",
				zap.Any("panic", rec),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("request_id", apperrors.RequestIDFrom(r.Context())),
				zap.Stack("stack"),
			)

			env := apperrors.NewErrorEnvelope(
				apperrors.CodeInternal,
				fmt.Sprintf("panic: %v", rec),
			).WithRequestID(apperrors.RequestIDFrom(r.Context()))

			writeErrorResponse(w, env, http.StatusInternalServerError)
		}()

		next.ServeHTTP(w, r)
	})
}

// ErrorHandler is Recovery under the name older call sites use.
func ErrorHandler(next http.Handler) http.Handler {
	return Recovery(next)
}

// writeErrorResponse writes the envelope with the given status.
func writeErrorResponse(w http.ResponseWriter, env *apperrors.ErrorEnvelope, statusCode int) {
	apperrors.Write(w, statusCode, env)
}
