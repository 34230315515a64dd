package monitoring

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_DomainCounters(t *testing.T) {
	m := NewMetrics()

	m.RecordCapture("host", "beacon", true)
	m.RecordCapture("host", "beacon", true)
	m.RecordCapture("isolated", "fetch", false)
	m.RecordDuplicate("beacon")
	m.RecordFrameBuild()
	m.RecordBridgeMessage("", "ignored")
	m.RecordTagStatus("active")
	m.SetActiveSessions(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Captures.WithLabelValues("host", "beacon", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Captures.WithLabelValues("isolated", "fetch", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BridgeMessages.WithLabelValues("unknown", "ignored")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.SessionsActive))

	snap := m.Snapshot()
	assert.Equal(t, int64(2), snap.Captured["beacon"])
	assert.NotContains(t, snap.Captured, "fetch")
	assert.Equal(t, int64(1), snap.Duplicates)
	assert.Equal(t, int64(1), snap.FrameBuilds)
	assert.Equal(t, int64(3), snap.ActiveSessions)
}

func TestMiddleware_RecordsRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := NewMetrics()

	router := gin.New()
	router.Use(Middleware(m))
	router.GET("/sessions/:id", func(c *gin.Context) { c.String(http.StatusNotFound, "nope") })
	router.GET("/metrics", gin.WrapH(Handler(m)))

	for _, sid := range []string{"a", "b"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/sessions/"+sid, nil))
	}
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "/sessions/:id", "404")))

	snap := m.Snapshot()
	assert.Equal(t, int64(2), snap.Requests)
	assert.Equal(t, int64(2), snap.Errors)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	body, _ := io.ReadAll(w.Body)
	assert.Contains(t, string(body), "tracklab_http_requests_total")
	assert.Contains(t, string(body), "tracklab_uptime_seconds")
}
