// Package metrics provides Prometheus metrics for the RoomDrop server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomdrop_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "roomdrop_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Room engine metrics
	roomsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "roomdrop_rooms_open",
			Help: "Number of live room sessions held by the registry",
		},
	)

	sseClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "roomdrop_sse_clients",
			Help: "Number of connected event stream clients",
		},
	)

	sweptSessionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roomdrop_swept_sessions_total",
			Help: "Total idle room sessions reclaimed by the sweeper",
		},
	)

	// Upload metrics
	imageUploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomdrop_image_uploads_total",
			Help: "Total gallery image uploads",
		},
		[]string{"status"},
	)

	imageUploadBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roomdrop_image_upload_bytes_total",
			Help: "Total raw bytes received by gallery uploads",
		},
	)

	// Database metrics
	mongoOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "roomdrop_mongo_op_duration_seconds",
			Help:    "Mongo collection operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	mongoOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomdrop_mongo_ops_total",
			Help: "Total Mongo collection operations",
		},
		[]string{"op", "status"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetRoomsOpen sets the live room session gauge.
func SetRoomsOpen(n int) {
	roomsOpen.Set(float64(n))
}

// AddSSEClient bumps the connected stream client gauge.
func AddSSEClient() {
	sseClients.Inc()
}

// RemoveSSEClient drops the connected stream client gauge.
func RemoveSSEClient() {
	sseClients.Dec()
}

// AddSweptSessions records idle sessions reclaimed in one sweep.
func AddSweptSessions(n int) {
	sweptSessionsTotal.Add(float64(n))
}

// RecordImageUpload records one gallery upload attempt.
func RecordImageUpload(rawBytes int64, success bool) {
	imageUploadBytes.Add(float64(rawBytes))
	status := "success"
	if !success {
		status = "error"
	}
	imageUploadsTotal.WithLabelValues(status).Inc()
}

// RecordMongoOp records one Mongo collection operation.
func RecordMongoOp(op string, duration time.Duration, success bool) {
	mongoOpDuration.WithLabelValues(op).Observe(duration.Seconds())
	status := "success"
	if !success {
		status = "error"
	}
	mongoOpsTotal.WithLabelValues(op, status).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics. The
// route label uses the chi route pattern so ids and slugs do not blow
// up label cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
