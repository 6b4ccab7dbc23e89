package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"wellness-activity/internal/metrics"
)

// statusRecorder captures the status code written by the wrapped handler
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rw *statusRecorder) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

func (rw *statusRecorder) Write(b []byte) (int, error) {
	if !rw.written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// Instrument records request count and latency for endpoint, logs each
// request at debug level and turns handler panics into 500 responses.
func Instrument(endpoint string, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			defer func() {
				if p := recover(); p != nil {
					logger.Error("Handler panicked", "endpoint", endpoint, "panic", p)
					if !rec.written {
						http.Error(rec, "Internal server error", http.StatusInternalServerError)
					} else {
						rec.statusCode = http.StatusInternalServerError
					}
				}

				duration := time.Since(start)
				statusStr := strconv.Itoa(rec.statusCode)
				metrics.HTTPRequestsTotal.WithLabelValues(endpoint, statusStr).Inc()
				metrics.HTTPRequestDuration.WithLabelValues(endpoint, statusStr).Observe(duration.Seconds())

				logger.Debug("HTTP request",
					"endpoint", endpoint,
					"method", r.Method,
					"user_id", r.Header.Get("X-User-ID"),
					"status", rec.statusCode,
					"duration_ms", duration.Milliseconds())
			}()

			next.ServeHTTP(rec, r)
		})
	}
}

// WrapHandler wraps a HandlerFunc with Instrument using the default logger
func WrapHandler(endpoint string, handler http.HandlerFunc) http.Handler {
	return Instrument(endpoint, nil)(handler)
}
