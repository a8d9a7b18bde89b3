package telemetry

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withRegistry(t *testing.T) {
	t.Helper()
	prev := registry
	registry = prometheus.NewRegistry()
	InitMetrics()
	t.Cleanup(func() {
		registry = prev
		InitMetrics()
	})
}

func TestNoopWithoutRegistry(t *testing.T) {
	prev := registry
	registry = nil
	defer func() { registry = prev }()

	assert.Equal(t, NoopStat{}, NewCounter("c", "help"))
	assert.Equal(t, noopCounterVec{}, NewCounterVec("cv", "help", []string{"kind"}))
	assert.Nil(t, GetMetricsHandler())

	// Must not panic
	NewHistogramVec("hv", "help", []string{"x"}, nil).With("a").Observe(1)
	NewGaugeVec("gv", "help", []string{"x"}).With("a").Set(2)
}

func TestCounterVecLabels(t *testing.T) {
	withRegistry(t)

	StateTransitionsTotal.With("GOP", "GTRANS").Inc()
	StateTransitionsTotal.With("GOP", "GTRANS").Inc()
	StateTransitionsTotal.With("GTRANS", "GOP").Inc()

	vec := StateTransitionsTotal.(*prometheusCounterVec).vec
	assert.Equal(t, 2.0, testutil.ToFloat64(vec.WithLabelValues("GOP", "GTRANS")))
	assert.Equal(t, 1.0, testutil.ToFloat64(vec.WithLabelValues("GTRANS", "GOP")))
	assert.NotNil(t, GetMetricsHandler())
}

func TestUpdateRegistryStats(t *testing.T) {
	withRegistry(t)

	UpdateRegistryStats(3, 7, 2, 4)

	assert.Equal(t, 3.0, testutil.ToFloat64(GroupsTotal.(prometheus.Gauge)))
	assert.Equal(t, 7.0, testutil.ToFloat64(MembersTotal.(prometheus.Gauge)))
	assert.Equal(t, 2.0, testutil.ToFloat64(LocalMailboxes.(prometheus.Gauge)))
	assert.Equal(t, 4.0, testutil.ToFloat64(SyncedSetSize.(prometheus.Gauge)))
}

type fakeProvider struct {
	stats RegistryStats
	err   error
}

func (f fakeProvider) RegistryStats() (RegistryStats, error) { return f.stats, f.err }

func TestMetricsCollector(t *testing.T) {
	withRegistry(t)

	mc := NewMetricsCollector(fakeProvider{stats: RegistryStats{Groups: 5, Members: 9}}, time.Hour)
	mc.Start()
	mc.Stop()

	assert.Equal(t, 5.0, testutil.ToFloat64(GroupsTotal.(prometheus.Gauge)))
	assert.Equal(t, 9.0, testutil.ToFloat64(MembersTotal.(prometheus.Gauge)))
}

func TestMetricsCollectorIgnoresErrors(t *testing.T) {
	withRegistry(t)
	UpdateRegistryStats(1, 1, 1, 1)

	mc := NewMetricsCollector(fakeProvider{err: errors.New("stopped")}, time.Hour)
	mc.Start()
	mc.Stop()

	require.Equal(t, 1.0, testutil.ToFloat64(GroupsTotal.(prometheus.Gauge)))
}
