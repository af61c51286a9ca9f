package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	method string
	path   string
	status int
}

type requestRecorder struct{ seen []recordedRequest }

func (r *requestRecorder) ObserveHTTPRequest(method, path string, status int, _ time.Duration) {
	r.seen = append(r.seen, recordedRequest{method: method, path: path, status: status})
}

func TestMetricsMiddlewareUsesRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := &requestRecorder{}
	router := gin.New()
	router.Use(Metrics(rec))
	router.GET("/sufragios/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/sufragios/abc", nil))
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	require.Len(t, rec.seen, 2)
	assert.Equal(t, recordedRequest{http.MethodGet, "/sufragios/:id", http.StatusOK}, rec.seen[0])
	assert.Equal(t, "unmatched", rec.seen[1].path)
	assert.Equal(t, http.StatusNotFound, rec.seen[1].status)
}
