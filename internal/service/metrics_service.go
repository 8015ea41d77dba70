package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/course-api/internal/models"
)

// Result labels used by the token counters.
const (
	ResultSuccess = "success"
	ResultDenied  = "denied"
	ResultError   = "error"
)

// MetricsService encapsulates Prometheus instrumentation and provides lightweight snapshots for API consumption.
type MetricsService struct {
	registry          *prometheus.Registry
	handler           http.Handler
	requestDuration   *prometheus.HistogramVec
	requestTotal      *prometheus.CounterVec
	tokensIssued      prometheus.Counter
	rotations         *prometheus.CounterVec
	authorizations    *prometheus.CounterVec
	blacklistLookups  *prometheus.CounterVec
	housekeepingPurge prometheus.Counter
	dbQueryDuration   *prometheus.HistogramVec

	issuedCount          uint64
	rotationOK           uint64
	rotationRejected     uint64
	authorizeOK          uint64
	authorizeDenied      uint64
	requestCount         uint64
	requestDurationTotal uint64
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	tokensIssued := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_tokens_issued_total",
		Help: "Token pairs issued by login or rotation",
	})

	rotations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_refresh_rotations_total",
		Help: "Refresh token rotations by outcome",
	}, []string{"result"})

	authorizations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_authorize_total",
		Help: "Access token checks by outcome or rejection reason",
	}, []string{"result"})

	blacklistLookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_blacklist_lookups_total",
		Help: "Blacklist lookups by tier and hit",
	}, []string{"tier", "hit"})

	housekeepingPurge := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_housekeeping_deleted_total",
		Help: "Expired refresh records removed by housekeeping",
	})

	dbQueryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "db_query_duration_seconds",
		Help:    "Duration of database queries",
		Buckets: prometheus.DefBuckets,
	}, []string{"query"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, tokensIssued, rotations, authorizations, blacklistLookups, housekeepingPurge, dbQueryDuration, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:          registry,
		handler:           handler,
		requestDuration:   requestDuration,
		requestTotal:      requestTotal,
		tokensIssued:      tokensIssued,
		rotations:         rotations,
		authorizations:    authorizations,
		blacklistLookups:  blacklistLookups,
		housekeepingPurge: housekeepingPurge,
		dbQueryDuration:   dbQueryDuration,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics and aggregates simple stats for snapshots.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
	atomic.AddUint64(&m.requestDurationTotal, uint64(duration.Nanoseconds()))
}

// RecordIssued counts one issued token pair.
func (m *MetricsService) RecordIssued() {
	if m == nil {
		return
	}
	m.tokensIssued.Inc()
	atomic.AddUint64(&m.issuedCount, 1)
}

// RecordRotation counts a rotation attempt. result is ResultSuccess or the coarse failure code.
func (m *MetricsService) RecordRotation(result string) {
	if m == nil {
		return
	}
	m.rotations.WithLabelValues(result).Inc()
	if result == ResultSuccess {
		atomic.AddUint64(&m.rotationOK, 1)
	} else {
		atomic.AddUint64(&m.rotationRejected, 1)
	}
}

// RecordAuthorize counts a gate decision. Rejections carry the internal reason as label.
func (m *MetricsService) RecordAuthorize(result string) {
	if m == nil {
		return
	}
	m.authorizations.WithLabelValues(result).Inc()
	if result == ResultSuccess {
		atomic.AddUint64(&m.authorizeOK, 1)
	} else {
		atomic.AddUint64(&m.authorizeDenied, 1)
	}
}

// RecordBlacklistLookup counts a lookup against one blacklist tier.
func (m *MetricsService) RecordBlacklistLookup(tier string, hit bool) {
	if m == nil {
		return
	}
	m.blacklistLookups.WithLabelValues(tier, fmt.Sprintf("%t", hit)).Inc()
}

// RecordHousekeeping adds the number of refresh records removed by one sweep.
func (m *MetricsService) RecordHousekeeping(deleted int64) {
	if m == nil || deleted <= 0 {
		return
	}
	m.housekeepingPurge.Add(float64(deleted))
}

// ObserveDBQuery records database query timing.
func (m *MetricsService) ObserveDBQuery(label string, duration time.Duration) {
	if m == nil {
		return
	}
	m.dbQueryDuration.WithLabelValues(label).Observe(duration.Seconds())
}

// Snapshot returns aggregated counters for the admin stats endpoint.
func (m *MetricsService) Snapshot() models.AuthStats {
	if m == nil {
		return models.AuthStats{}
	}
	requests := atomic.LoadUint64(&m.requestCount)
	reqDuration := atomic.LoadUint64(&m.requestDurationTotal)

	var avgRequestMs float64
	if requests > 0 {
		avgRequestMs = float64(reqDuration) / float64(requests) / float64(time.Millisecond)
	}

	return models.AuthStats{
		TokensIssued:             atomic.LoadUint64(&m.issuedCount),
		RotationsSucceeded:       atomic.LoadUint64(&m.rotationOK),
		RotationsRejected:        atomic.LoadUint64(&m.rotationRejected),
		AuthorizeSucceeded:       atomic.LoadUint64(&m.authorizeOK),
		AuthorizeDenied:          atomic.LoadUint64(&m.authorizeDenied),
		RequestsTotal:            requests,
		AverageRequestDurationMs: avgRequestMs,
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}
