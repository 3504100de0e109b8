package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// counterValue sums the samples of name whose labels include want.
func counterValue(t *testing.T, reg *prometheus.Registry, name string, want map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metrics:
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			for k, v := range want {
				if labels[k] != v {
					continue metrics
				}
			}
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func TestTrackerRecordsOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	require.NoError(t, m.Track("auth:revocation_sweep").End(nil))
	boom := errors.New("boom")
	assert.ErrorIs(t, m.Track("auth:revocation_sweep").End(boom), boom)

	assert.Equal(t, 1.0, counterValue(t, reg, "odyssey_jobs_total", map[string]string{"job": "auth:revocation_sweep", "status": "success"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "odyssey_jobs_total", map[string]string{"job": "auth:revocation_sweep", "status": "failure"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "odyssey_jobs_failures_total", map[string]string{"job": "auth:revocation_sweep"}))
}

func TestAddRemoved(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.AddRemoved("auth:login_attempt_prune", 7)
	m.AddRemoved("auth:login_attempt_prune", 0)
	assert.Equal(t, 7.0, counterValue(t, reg, "odyssey_auth_maintenance_removed_total", map[string]string{"job": "auth:login_attempt_prune"}))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.AddRemoved("x", 1)
	assert.NoError(t, m.Track("x").End(nil))
}
