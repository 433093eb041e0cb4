package metrics

import (
	"context"
	"strconv"
	"sync"
	"time"

	"example.com/backstage/services/keygate/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "keygate"

// Metrics is the service's Prometheus collector set.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	gateDecisions *prometheus.CounterVec
	escalations   prometheus.Counter
	keysIssued    *prometheus.CounterVec
	verifications *prometheus.CounterVec
	jobRuns       *prometheus.CounterVec
	health        *prometheus.GaugeVec

	mu       sync.RWMutex
	statuses map[string]bool
	started  time.Time
}

// NewMetrics creates the collectors on a private registry
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests by route and status",
		}, []string{"method", "route", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		gateDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_decisions_total",
			Help:      "Total number of Gate decisions by outcome",
		}, []string{"outcome"}),
		escalations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_escalations_total",
			Help:      "Total number of clients blacklisted for skipping steps",
		}),
		keysIssued: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "keys_issued_total",
			Help:      "Total number of access keys minted by source",
		}, []string{"source"}),
		verifications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "key_verifications_total",
			Help:      "Total number of key verifications by result",
		}, []string{"result"}),
		jobRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Total number of background job runs by job and result",
		}, []string{"job", "result"}),
		health: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "component_healthy",
			Help:      "1 when the component is healthy",
		}, []string{"component"}),
		statuses: make(map[string]bool),
		started:  time.Now(),
	}
}

// Registry exposes the registry for the /metrics handler
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// GateDecision counts one Gate outcome
func (m *Metrics) GateDecision(outcome string) {
	if m == nil {
		return
	}
	m.gateDecisions.WithLabelValues(outcome).Inc()
}

// Escalation counts one Gate blacklisting
func (m *Metrics) Escalation() {
	if m == nil {
		return
	}
	m.escalations.Inc()
}

// KeyIssued counts a minted key; source is funnel, admin or payment
func (m *Metrics) KeyIssued(_ context.Context, _ *models.AccessKey, source string) {
	if m == nil {
		return
	}
	m.keysIssued.WithLabelValues(source).Inc()
}

// Verification counts a verify-key result
func (m *Metrics) Verification(result string) {
	if m == nil {
		return
	}
	m.verifications.WithLabelValues(result).Inc()
}

// JobRun counts a background job execution
func (m *Metrics) JobRun(job string, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.jobRuns.WithLabelValues(job, result).Inc()
}

// SetHealth records a component's health status
func (m *Metrics) SetHealth(component string, healthy bool) {
	if m == nil {
		return
	}
	value := 0.0
	if healthy {
		value = 1
	}
	m.health.WithLabelValues(component).Set(value)

	m.mu.Lock()
	m.statuses[component] = healthy
	m.mu.Unlock()
}

// GetHealthChecks returns the last reported status per component
func (m *Metrics) GetHealthChecks() map[string]bool {
	if m == nil {
		return map[string]bool{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]bool, len(m.statuses))
	for k, v := range m.statuses {
		result[k] = v
	}
	return result
}

// GetUptimeSeconds returns seconds since the collectors were created
func (m *Metrics) GetUptimeSeconds() int64 {
	if m == nil {
		return 0
	}
	return int64(time.Since(m.started).Seconds())
}

// Middleware records request counts and latency per matched route
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.httpRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.httpDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}
