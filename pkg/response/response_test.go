package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/sufragio-api/pkg/errors"
)

func newContext() (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	return c, w
}

func TestErrorRendersTypedBody(t *testing.T) {
	c, w := newContext()
	Error(c, appErrors.Clone(appErrors.ErrDuplicateRecord, "nationalId 00000000-0 already registered"))

	require.Equal(t, http.StatusBadRequest, w.Code)
	var body struct {
		Error appErrors.Error `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "DUPLICATE_RECORD", body.Error.Code)
	assert.Equal(t, http.StatusBadRequest, body.Error.Status)
	assert.Contains(t, body.Error.Detail, "00000000-0")
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.Empty(t, c.Errors)
}

func TestErrorRecordsUnexpectedFailures(t *testing.T) {
	c, w := newContext()
	Error(c, errors.New("connection reset"))

	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Len(t, c.Errors, 1)
}

func TestJSONWithMeta(t *testing.T) {
	c, w := newContext()
	JSON(c, http.StatusOK, map[string]int{"state": 1}, map[string]interface{}{"revisions": 3})

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"data":{"state":1},"meta":{"revisions":3}}`, w.Body.String())
}

func TestAttachment(t *testing.T) {
	c, w := newContext()
	Attachment(c, "history.csv", "text/csv", []byte("a,b\n"))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `attachment; filename="history.csv"`, w.Header().Get("Content-Disposition"))
	assert.Equal(t, "a,b\n", w.Body.String())
}
