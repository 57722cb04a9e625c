package service

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/attendance-engine/internal/models"
)

func TestMetricsServiceRecordsEngineCounters(t *testing.T) {
	m := NewMetricsService()

	m.RecordScan(ScanResultStored)
	m.RecordScan(ScanResultStored)
	m.RecordDataQuality("malformed_mac")
	m.RecordRoundTransition(models.RoundStatusActive, models.RoundStatusCompleted)
	m.RecordAttendanceOutcome(models.RecordStatusAbsent, models.ReasonIsolated)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.scansIngested.WithLabelValues(ScanResultStored)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dataQualityEvents.WithLabelValues("malformed_mac")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.roundTransitions.WithLabelValues("active", "completed")))

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["attendance_scans_ingested_total"])
	assert.True(t, names["attendance_outcomes_total"])
}

func TestMetricsServiceNilSafe(t *testing.T) {
	var m *MetricsService
	assert.NotPanics(t, func() {
		m.RecordScan(ScanResultDropped)
		m.ObserveHTTPRequest(http.MethodGet, "/health", http.StatusOK, time.Millisecond)
		m.ObserveRoundEvaluation("finalized", time.Second)
	})

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
