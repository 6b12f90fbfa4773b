package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/lodgepole/farmsight/internal/observability"
)

// Metrics records request counts and latency on the telemetry HTTP
// meters. Routes are labeled by chi pattern, not raw path, so job ids and
// project names never become label values.
func Metrics(tel *observability.Telemetry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if tel == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			route := routePattern(r)
			tel.HTTPRequestsTotal.
				WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).
				Inc()
			tel.HTTPRequestDuration.
				WithLabelValues(route, r.Method).
				Observe(time.Since(start).Seconds())
		})
	}
}
