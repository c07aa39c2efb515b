package routing

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors that report routing activity.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	requests      *prometheus.CounterVec
	executions    *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	cacheLookups  *prometheus.CounterVec
	breakerState  *prometheus.GaugeVec
	fallbacks     prometheus.Counter
	activeRouting prometheus.Gauge
}

// MustNewMetrics constructs a Metrics instance using the provided registerer.
// Collectors that are already registered (for example by a second router
// sharing the default registry) are reused. Any other registration error
// panics, mirroring the promauto helpers.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dispatch",
			Subsystem: "router",
			Name:      "requests_total",
			Help:      "Routing requests by outcome.",
		}, []string{"status"}),
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dispatch",
			Subsystem: "router",
			Name:      "tool_executions_total",
			Help:      "Tool execution attempts made by the router.",
		}, []string{"tool", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dispatch",
			Subsystem: "router",
			Name:      "tool_execution_duration_seconds",
			Help:      "Duration of tool execution attempts.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dispatch",
			Subsystem: "router",
			Name:      "cache_lookups_total",
			Help:      "Result cache lookups by result (hit or miss).",
		}, []string{"result"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "dispatch",
			Subsystem: "router",
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state per tool (0 closed, 1 open, 2 half-open).",
		}, []string{"tool"}),
		fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dispatch",
			Subsystem: "router",
			Name:      "fallbacks_total",
			Help:      "Attempts that moved on to the next candidate after a failure.",
		}),
		activeRouting: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dispatch",
			Subsystem: "router",
			Name:      "active_requests",
			Help:      "Routing requests currently in flight.",
		}),
	}

	m.requests = register(reg, m.requests)
	m.executions = register(reg, m.executions)
	m.duration = register(reg, m.duration)
	m.cacheLookups = register(reg, m.cacheLookups)
	m.breakerState = register(reg, m.breakerState)
	m.fallbacks = register(reg, m.fallbacks)
	m.activeRouting = register(reg, m.activeRouting)
	return m
}

// register adds c to reg, returning the existing collector of the same
// type when one is already registered.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

func (m *Metrics) observeRequest(status string) {
	if m == nil || m.requests == nil {
		return
	}
	m.requests.WithLabelValues(status).Inc()
}

func (m *Metrics) observeExecution(toolID, status string, d time.Duration) {
	if m == nil || m.executions == nil {
		return
	}
	m.executions.WithLabelValues(toolID, status).Inc()
	m.duration.WithLabelValues(toolID).Observe(d.Seconds())
}

func (m *Metrics) observeCache(hit bool) {
	if m == nil || m.cacheLookups == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) setBreakerState(toolID string, state BreakerState) {
	if m == nil || m.breakerState == nil {
		return
	}
	m.breakerState.WithLabelValues(toolID).Set(state.gaugeValue())
}

func (m *Metrics) incFallback() {
	if m == nil || m.fallbacks == nil {
		return
	}
	m.fallbacks.Inc()
}

func (m *Metrics) trackActive(delta float64) {
	if m == nil || m.activeRouting == nil {
		return
	}
	m.activeRouting.Add(delta)
}
