package exporter

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestLinkGauges(t *testing.T) {
	m := NewMetrics()
	m.SetLink("1", "2", 492, 3.5, 10)

	assert.Equal(t, 492.0, testutil.ToFloat64(m.linkBandwidth.WithLabelValues("1", "2")))
	assert.Equal(t, 3.5, testutil.ToFloat64(m.linkDelay.WithLabelValues("1", "2")))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.linkLoss.WithLabelValues("1", "2")))

	m.ResetLinks()
	assert.Equal(t, 0, testutil.CollectAndCount(m.linkBandwidth))
}

func TestCountersAndGauges(t *testing.T) {
	m := NewMetrics()
	m.IncPathSelection(2)
	m.IncPathSelection(2)
	m.IncPathSelection(3)
	m.IncSessions()
	m.AddMetricMisses(4)
	m.AddMetricMisses(0)
	m.SetBootstrapIndex(2)
	m.SetConnectedSwitches(8)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.pathSelections.WithLabelValues("2")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.pathSelections.WithLabelValues("3")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessions))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.metricMisses))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.bootstrapIndex))
	assert.Equal(t, 8.0, testutil.ToFloat64(m.connectedSwitches))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SetLink("1", "2", 1, 1, 1)
		m.IncSessions()
		m.SetBootstrapIndex(1)
		m.AddMetricMisses(1)
	})
}
