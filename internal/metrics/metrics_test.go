package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveOperation(t *testing.T) {
	before := testutil.ToFloat64(operations.WithLabelValues("charge", "ok"))
	ObserveOperation("charge", "ok", time.Now())
	assert.Equal(t, before+1, testutil.ToFloat64(operations.WithLabelValues("charge", "ok")))
}

func TestRecordSweepIgnoresZero(t *testing.T) {
	before := testutil.ToFloat64(sweepTransitions.WithLabelValues("listing", "EXPIRED"))
	RecordSweep("listing", "EXPIRED", 0)
	RecordSweep("listing", "EXPIRED", 3)
	assert.Equal(t, before+3, testutil.ToFloat64(sweepTransitions.WithLabelValues("listing", "EXPIRED")))
}

func TestHandlerServesRegistry(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(GinMiddleware())
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	r.GET("/metrics", gin.WrapH(Handler()))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `economy_http_requests_total{method="GET",path="/ping",status="200"}`)
}
