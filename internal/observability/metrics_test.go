package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsForTesting_Independent(t *testing.T) {
	a := NewMetricsForTesting()
	b := NewMetricsForTesting()

	a.OracleFallbacks.Inc()
	a.OracleRequests.WithLabelValues("timeout").Inc()

	assert.Equal(t, 1.0, testutil.ToFloat64(a.OracleFallbacks))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.OracleFallbacks))
	assert.Equal(t, 1.0, testutil.ToFloat64(a.OracleRequests.WithLabelValues("timeout")))
}

func TestMetrics_RegisterOnFreshRegistry(t *testing.T) {
	m := NewMetricsForTesting()
	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(m.CyclesTotal))
	for _, c := range m.collectors()[1:] {
		require.NoError(t, reg.Register(c))
	}

	m.CyclesTotal.WithLabelValues("completed").Inc()
	m.PlanOutcomes.WithLabelValues("Re-routed").Add(2)
	m.CycleDuration.Observe(3)

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["fcsentinel_cycles_total"])
	assert.True(t, names["fcsentinel_plan_outcomes_total"])
	assert.True(t, names["fcsentinel_cycle_duration_seconds"])
	assert.Equal(t, 2.0, testutil.ToFloat64(m.PlanOutcomes.WithLabelValues("Re-routed")))
}

func TestMetrics_CollectorsComplete(t *testing.T) {
	m := NewMetricsForTesting()
	assert.Len(t, m.collectors(), 10)
	for i, c := range m.collectors() {
		assert.NotNil(t, c, "collector %d", i)
	}
}
