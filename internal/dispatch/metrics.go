// ABOUTME: Prometheus metrics for authentication attempts and ACL decisions
// ABOUTME: Uses a private registry exposed through Handler

package dispatch

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/2389/gatekeeper/internal/auth"
)

// Attempt results recorded in gatekeeper_auth_attempts_total.
const (
	ResultSuccess  = "success"
	ResultFailure  = "failure"
	ResultRejected = "rejected"
	ResultError    = "error"
)

// Metrics holds the dispatcher's collectors. A nil *Metrics records nothing.
type Metrics struct {
	registry  *prometheus.Registry
	attempts  *prometheus.CounterVec
	decisions *prometheus.CounterVec
	duration  *prometheus.HistogramVec
}

// NewMetrics creates the collectors on a fresh registry, together with the
// Go runtime and process collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gatekeeper",
			Name:      "auth_attempts_total",
			Help:      "Authentication attempts by mechanism and result.",
		}, []string{"mechanism", "result"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gatekeeper",
			Name:      "acl_decisions_total",
			Help:      "ACL decisions by outcome.",
		}, []string{"decision"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gatekeeper",
			Name:      "auth_duration_seconds",
			Help:      "Time spent authenticating a request.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"mechanism"}),
	}
	registry.MustRegister(
		m.attempts,
		m.decisions,
		m.duration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func mechanismLabel(mech auth.Mechanism) string {
	return strings.ToLower(mech.String())
}

func (m *Metrics) observeAttempt(mech auth.Mechanism, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	label := mechanismLabel(mech)
	m.attempts.WithLabelValues(label, result).Inc()
	m.duration.WithLabelValues(label).Observe(elapsed.Seconds())
}

func (m *Metrics) observeDecision(allowed bool) {
	if m == nil {
		return
	}
	decision := "deny"
	if allowed {
		decision = "allow"
	}
	m.decisions.WithLabelValues(decision).Inc()
}
