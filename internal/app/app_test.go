package app

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sufragio-api/internal/repository"
	"github.com/noah-isme/sufragio-api/internal/service"
	"github.com/noah-isme/sufragio-api/pkg/ledger"
)

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	metrics := service.NewMetricsService()
	driver := ledger.NewMemoryDriver(ledger.WithObserver(metrics))
	repo := repository.NewSufragioRepository("sufragios")
	return NewRouter(RouterConfig{
		Env:       "test",
		APIPrefix: "/api/v1",
		Metrics:   metrics,
		Sufragios: service.NewSufragioService(driver, repo, validator.New(), metrics, service.SufragioOptions{
			Now: func() time.Time { return time.Date(2024, 2, 4, 7, 30, 0, 0, time.UTC) },
		}, nil),
		History: service.NewHistoryService(driver, repo, metrics, "", nil),
	})
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code   string `json:"code"`
		Status int    `json:"status"`
	} `json:"error"`
}

func call(t *testing.T, r http.Handler, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader *bytes.Buffer
	if body != "" {
		reader = bytes.NewBufferString(body)
	} else {
		reader = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	if bytes.HasPrefix(w.Body.Bytes(), []byte("{")) {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w, env
}

func TestSufragioLifecycleOverHTTP(t *testing.T) {
	r := newTestRouter(t)
	payload := `{"nationalId":"00000000-0","name":"Ana","votingCenter":"C1","department":"D1","municipality":"M1","sex":"F"}`

	w, env := call(t, r, http.MethodPost, "/api/v1/sufragios", payload)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created struct {
		RecordID string `json:"recordId"`
		State    int    `json:"state"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &created))
	require.NotEmpty(t, created.RecordID)
	assert.Equal(t, 0, created.State)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w, env = call(t, r, http.MethodPost, "/api/v1/sufragios", payload)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "DUPLICATE_RECORD", env.Error.Code)

	w, _ = call(t, r, http.MethodPost, "/api/v1/sufragios/verify", `{"recordId":"`+created.RecordID+`"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, _ = call(t, r, http.MethodPost, "/api/v1/sufragios/cast", `{"recordId":"`+created.RecordID+`","ballotId":"ballot-77"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, env = call(t, r, http.MethodPost, "/api/v1/sufragios/verify", `{"recordId":"nonexistent"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "RECORD_NOT_FOUND", env.Error.Code)

	w, env = call(t, r, http.MethodGet, "/api/v1/sufragios/"+created.RecordID+"/history", "")
	require.Equal(t, http.StatusOK, w.Code)
	var revisions []json.RawMessage
	require.NoError(t, json.Unmarshal(env.Data, &revisions))
	assert.Len(t, revisions, 4)

	w, env = call(t, r, http.MethodGet, "/api/v1/sufragios/"+created.RecordID+"/history/verify", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), `"valid":true`)

	w, _ = call(t, r, http.MethodGet, "/api/v1/sufragios/"+created.RecordID+"/history/export?format=csv", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ballot-77")

	w, env = call(t, r, http.MethodGet, "/api/v1/sufragios/"+created.RecordID+"/projection", "")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "UNAVAILABLE", env.Error.Code)

	w, _ = call(t, r, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ledger_transaction_duration_seconds")
}

func TestOpsRoutes(t *testing.T) {
	r := newTestRouter(t)
	w, _ := call(t, r, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = call(t, r, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = call(t, r, http.MethodGet, "/metrics/summary", "")
	assert.Equal(t, http.StatusOK, w.Code)
}
