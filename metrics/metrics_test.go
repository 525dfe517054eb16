package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordUpload(t *testing.T) {
	m := New()

	m.RecordUpload(UploadStored, 10)
	m.RecordUpload(UploadStored, 5)
	m.RecordUpload(UploadNoFile, 0)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.UploadsTotal.WithLabelValues(UploadStored)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.UploadsTotal.WithLabelValues(UploadNoFile)))
	assert.Equal(t, float64(15), testutil.ToFloat64(m.UploadBytes))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.RecordUpload(UploadStored, 1)
		m.RecordEvent()
		m.RecordProjectCreated()
	})
}

func TestMiddlewareAndHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := New()

	r := gin.New()
	r.Use(m.Middleware())
	r.GET("/ping/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/metrics", m.Handler())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping/abc", nil))
	require.Equal(t, http.StatusNoContent, w.Code)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.RequestsTotal.WithLabelValues(http.MethodGet, "/ping/:id", "204")))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "stash_http_requests_total")
}
