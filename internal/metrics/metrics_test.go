package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"example.com/backstage/services/keygate/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.GateDecision("allow")
	m.Escalation()
	m.KeyIssued(context.Background(), &models.AccessKey{}, "funnel")
	m.JobRun("key-sweeper", nil)
	m.SetHealth("store", true)
	assert.Empty(t, m.GetHealthChecks())
	assert.Nil(t, m.Registry())
}

func TestCounters(t *testing.T) {
	m := NewMetrics()
	m.GateDecision("allow")
	m.GateDecision("allow")
	m.GateDecision("redirect_blocked")
	m.Escalation()
	m.JobRun("progress-reaper", errors.New("boom"))
	m.KeyIssued(context.Background(), &models.AccessKey{Token: "TheBasement_abc"}, "payment")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.gateDecisions.WithLabelValues("allow")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.escalations))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobRuns.WithLabelValues("progress-reaper", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.keysIssued.WithLabelValues("payment")))

	m.SetHealth("store", false)
	assert.Equal(t, map[string]bool{"store": false}, m.GetHealthChecks())
}

func TestMiddlewareRecordsRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := NewMetrics()

	r := gin.New()
	r.Use(m.Middleware())
	r.GET("/key", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/key", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/key", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "unmatched", "404")))
}
