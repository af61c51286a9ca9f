package service

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sufragio-api/pkg/ledger"
)

func TestMetricsServiceSnapshot(t *testing.T) {
	m := NewMetricsService()
	m.ObserveHTTPRequest(http.MethodPost, "/api/v1/sufragios", http.StatusCreated, 20*time.Millisecond)
	m.ObserveHTTPRequest(http.MethodPost, "/api/v1/sufragios", http.StatusBadRequest, 40*time.Millisecond)
	m.ObserveLedgerTx(ledger.OutcomeCommitted, 1, 4*time.Millisecond)
	m.ObserveLedgerTx(ledger.OutcomeConflicted, 5, 8*time.Millisecond)
	m.RecordOperation(OpCreate, nil)
	m.RecordOperation(OpCreate, errors.New("duplicate"))
	m.RecordProjection(true)
	m.RecordProjection(false)

	snap := m.Snapshot()
	assert.Equal(t, uint64(2), snap.RequestsTotal)
	assert.InDelta(t, 30.0, snap.AverageRequestDurationMs, 0.001)
	assert.Equal(t, uint64(2), snap.LedgerTransactions)
	assert.Equal(t, uint64(1), snap.LedgerConflicts)
	assert.InDelta(t, 6.0, snap.AverageLedgerTxMs, 0.001)
	assert.Equal(t, uint64(1), snap.ProjectionApplied)
	assert.Equal(t, uint64(1), snap.ProjectionSkipped)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `sufragio_operations_total{operation="create",outcome="failure"} 1`))
	assert.True(t, strings.Contains(body, `ledger_transaction_duration_seconds_count{outcome="conflicted"} 1`))
}

func TestMetricsServiceNilReceiver(t *testing.T) {
	var m *MetricsService
	m.ObserveHTTPRequest(http.MethodGet, "/", http.StatusOK, time.Millisecond)
	m.ObserveLedgerTx(ledger.OutcomeCommitted, 1, time.Millisecond)
	m.RecordOperation(OpGet, nil)
	m.RecordProjection(true)
	assert.Zero(t, m.Snapshot().RequestsTotal)
	assert.Nil(t, m.Registry())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsServiceProjectionBacklog(t *testing.T) {
	m := NewMetricsService()
	backlog := 3
	m.TrackProjectionBacklog(func() int { return backlog })

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "sufragio_projection_backlog 3")

	var nilMetrics *MetricsService
	assert.NotPanics(t, func() { nilMetrics.TrackProjectionBacklog(func() int { return 1 }) })
}
