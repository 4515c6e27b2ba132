package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
)

// responseWriter captures the status code and byte count written so the
// middleware can record them after the handler returns.
type responseWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *responseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *responseWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

func (w *responseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// httpRequests and httpLatency are process-wide since chi middlewares are
// constructed once at router build time, independent of Manager lifecycle.
var (
	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "voxelcrew", Subsystem: "http", Name: "requests_total",
		Help: "HTTP requests by route pattern, method, and status.",
	}, []string{"route", "method", "status"})
	httpLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "voxelcrew", Subsystem: "http", Name: "request_duration_seconds",
		Help:    "HTTP request latency by route pattern.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method"})
)

func init() {
	prometheus.MustRegister(httpRequests, httpLatency)
}

// HTTPMetrics is chi middleware recording a span and Prometheus metrics per
// request, keyed by the matched chi route pattern rather than the raw path
// so that "/session/{id}" aggregates instead of fragmenting per session id.
func HTTPMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		tracer := GetTracer("voxelcrew/server")
		ctx, span := tracer.Start(r.Context(), "http.request")
		defer span.End()

		rw := &responseWriter{ResponseWriter: w}
		next.ServeHTTP(rw, r.WithContext(ctx))

		pattern := routePattern(r)
		duration := time.Since(start)

		span.SetAttributes(
			attribute.String("http.route", pattern),
			attribute.String("http.method", r.Method),
			attribute.Int("http.status_code", rw.status),
		)

		httpRequests.WithLabelValues(pattern, r.Method, http.StatusText(rw.status)).Inc()
		httpLatency.WithLabelValues(pattern, r.Method).Observe(duration.Seconds())
	})
}

func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}
