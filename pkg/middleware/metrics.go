// Package middleware provides the HTTP middleware of the rewrite service:
// request IDs, CORS, Prometheus metrics, rate limiting and request timeouts.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/rwsdm-rewriter/pkg/metrics"
)

// Metrics records request count, latency and in-flight requests per route.
func Metrics(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m.HTTPRequestsInFlight.Inc()
			defer m.HTTPRequestsInFlight.Dec()

			rec := &statusRecorder{ResponseWriter: w}
			start := time.Now()
			next.ServeHTTP(rec, r)
			elapsed := time.Since(start)

			route := routeLabel(r.URL.Path)
			m.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.code())).Inc()
			m.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(elapsed.Seconds())
		})
	}
}

// statusRecorder remembers the first status written. A handler that only
// calls Write implicitly sends 200.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }

func (s *statusRecorder) code() int {
	if s.status == 0 {
		return http.StatusOK
	}
	return s.status
}

// routeLabel bounds label cardinality: service routes pass through, anything
// else is reported as "other".
func routeLabel(path string) string {
	for _, prefix := range []string{"/api/v1/", "/health/"} {
		if strings.HasPrefix(path, prefix) {
			return strings.TrimSuffix(path, "/")
		}
	}
	if path == "/metrics" {
		return path
	}
	return "other"
}
