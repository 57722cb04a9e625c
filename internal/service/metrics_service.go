package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/attendance-engine/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation for the HTTP surface and the evaluation engine.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    prometheus.Observer
	cacheWrite      prometheus.Observer
	cacheLookups    *prometheus.CounterVec

	scansIngested      *prometheus.CounterVec
	dataQualityEvents  *prometheus.CounterVec
	roundTransitions   *prometheus.CounterVec
	roundEvaluations   *prometheus.CounterVec
	evaluationDuration prometheus.Histogram
	attendanceOutcomes *prometheus.CounterVec
	faceVerifications  *prometheus.CounterVec
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

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache lookups",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheLookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cache_lookups_total",
		Help: "Cache lookups by result",
	}, []string{"result"})

	scansIngested := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_scans_ingested_total",
		Help: "Bluetooth scan messages processed by result",
	}, []string{"result"})

	dataQualityEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_data_quality_events_total",
		Help: "Dropped observations by reason",
	}, []string{"reason"})

	roundTransitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_round_transitions_total",
		Help: "Round status transitions",
	}, []string{"from", "to"})

	roundEvaluations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_round_evaluations_total",
		Help: "Round evaluations by outcome",
	}, []string{"outcome"})

	evaluationDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "attendance_round_evaluation_seconds",
		Help:    "Duration of round evaluations",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120},
	})

	attendanceOutcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_outcomes_total",
		Help: "Per-enrollment evaluation outcomes",
	}, []string{"status", "reason"})

	faceVerifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_face_verifications_total",
		Help: "Face verification requests by final status",
	}, []string{"status"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(
		requestDuration, requestTotal, cacheLatency, cacheWrite, cacheLookups,
		scansIngested, dataQualityEvents, roundTransitions, roundEvaluations,
		evaluationDuration, attendanceOutcomes, faceVerifications, goroutines,
	)

	return &MetricsService{
		registry:           registry,
		handler:            promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:    requestDuration,
		requestTotal:       requestTotal,
		cacheLatency:       cacheLatency,
		cacheWrite:         cacheWrite,
		cacheLookups:       cacheLookups,
		scansIngested:      scansIngested,
		dataQualityEvents:  dataQualityEvents,
		roundTransitions:   roundTransitions,
		roundEvaluations:   roundEvaluations,
		evaluationDuration: evaluationDuration,
		attendanceOutcomes: attendanceOutcomes,
		faceVerifications:  faceVerifications,
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

// Registry exposes the underlying registry for tests.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordCacheOperation records a cache hit or miss.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheLookups.WithLabelValues("hit").Inc()
		return
	}
	m.cacheLookups.WithLabelValues("miss").Inc()
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// RecordScan counts a processed scan message: inserted, duplicate or rejected.
func (m *MetricsService) RecordScan(result string) {
	if m == nil {
		return
	}
	m.scansIngested.WithLabelValues(result).Inc()
}

// RecordDataQuality counts a dropped observation.
func (m *MetricsService) RecordDataQuality(reason string) {
	if m == nil {
		return
	}
	m.dataQualityEvents.WithLabelValues(reason).Inc()
}

// RecordRoundTransition counts a round status change.
func (m *MetricsService) RecordRoundTransition(from, to models.RoundStatus) {
	if m == nil {
		return
	}
	m.roundTransitions.WithLabelValues(string(from), string(to)).Inc()
}

// ObserveRoundEvaluation records the outcome and duration of one evaluation run.
func (m *MetricsService) ObserveRoundEvaluation(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.roundEvaluations.WithLabelValues(outcome).Inc()
	m.evaluationDuration.Observe(duration.Seconds())
}

// RecordAttendanceOutcome counts one enrollment result.
func (m *MetricsService) RecordAttendanceOutcome(status models.RecordStatus, reason models.AbsenceReason) {
	if m == nil {
		return
	}
	m.attendanceOutcomes.WithLabelValues(string(status), string(reason)).Inc()
}

// RecordFaceVerification counts a face verification request reaching a final status.
func (m *MetricsService) RecordFaceVerification(status models.VerifyStatus) {
	if m == nil {
		return
	}
	m.faceVerifications.WithLabelValues(string(status)).Inc()
}
