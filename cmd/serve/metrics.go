package serve

import (
	"net/http"
	"time"

	"github.com/ValentinKolb/dPort/rpc/core"
	"github.com/VictoriaMetrics/metrics"
)

// newMetricsServer serves the process metrics and the metrics of all running
// ports in the Prometheus text format
func newMetricsServer(endpoint string, debug bool) *http.Server {
	mux := http.NewServeMux()

	// Register handler
	if debug {
		mux.HandleFunc("GET /metrics", loggerMiddleware(handleMetrics))
	} else {
		mux.HandleFunc("GET /metrics", handleMetrics)
	}

	Logger.Infof("serving metrics on %s/metrics", endpoint)
	return &http.Server{
		Addr:              endpoint,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func handleMetrics(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	metrics.WritePrometheus(w, true)
	core.WritePrometheus(w)
}

// --------------------------------------------------------------------------
// Middleware (logging)
// --------------------------------------------------------------------------

// responseWriter is a custom ResponseWriter that captures status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

// WriteHeader captures the status code before writing it
func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// loggerMiddleware is a middleware that logs HTTP requests
func loggerMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Create custom response writer to capture status code
		rw := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		// Process request
		next.ServeHTTP(rw, r)

		// Log the request
		Logger.Debugf("%s %s => %d took %s", r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	}
}
