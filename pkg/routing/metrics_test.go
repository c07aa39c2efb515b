package routing

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ag-ui/go-dispatch/internal/testutil"
	"github.com/ag-ui/go-dispatch/pkg/tools"
)

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.observeRequest("success")
		m.observeExecution("t", "success", 0)
		m.observeCache(true)
		m.setBreakerState("t", StateOpen)
		m.incFallback()
		m.trackActive(1)
	})
}

func TestMetrics_ReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := MustNewMetrics(reg)
	second := MustNewMetrics(reg)

	second.observeRequest("success")
	assert.Equal(t, 1.0, promtestutil.ToFloat64(first.requests.WithLabelValues("success")))
}

func TestMetrics_RouterInstrumentation(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := MustNewMetrics(reg)

	exec := testutil.NewFailingExecutor(nil)
	registry := testutil.Registry(t, testutil.NewTool("flaky", "flaky_search", exec, tools.CapabilityWebSearch))
	cfg := DefaultConfig()
	cfg.Breaker.FailureThreshold = 1
	router, err := NewRouter(registry, tools.NewExecutor(registry), WithConfig(cfg), WithMetrics(metrics))
	require.NoError(t, err)

	_, err = router.RouteIntelligently(context.Background(), "search the web", nil, testutil.Context())
	require.Error(t, err)

	assert.Equal(t, 1.0, promtestutil.ToFloat64(metrics.executions.WithLabelValues("flaky", "execution")))
	assert.Equal(t, 1.0, promtestutil.ToFloat64(metrics.cacheLookups.WithLabelValues("miss")))
	assert.Equal(t, 1.0, promtestutil.ToFloat64(metrics.requests.WithLabelValues("execution")))
	assert.Equal(t, StateOpen.gaugeValue(), promtestutil.ToFloat64(metrics.breakerState.WithLabelValues("flaky")))
	assert.Equal(t, 0.0, promtestutil.ToFloat64(metrics.activeRouting))

	count, err := promtestutil.GatherAndCount(reg, "dispatch_router_tool_execution_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
