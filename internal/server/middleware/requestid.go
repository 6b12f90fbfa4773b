// Package middleware provides the HTTP middleware chain for the farmsight
// API server.
package middleware

import (
	"net/http"

	"github.com/google/uuid"

	apperrors "github.com/lodgepole/farmsight/internal/errors"
)

// requestIDHeader carries the correlation id on requests and responses.
const requestIDHeader = "X-Request-ID"

// RequestID assigns each request a correlation id. A client-supplied
// X-Request-ID is honored; otherwise a fresh UUID is generated. The id is
// stored on the context and echoed on the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}

		w.Header().Set(requestIDHeader, id)
		ctx := apperrors.WithRequestID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
