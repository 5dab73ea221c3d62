package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_IngestCountersIncrement(t *testing.T) {
	m := New()
	m.IngestAccepted()
	m.IngestAccepted()
	m.IngestDuplicate()

	assert.Equal(t, float64(2), testutil.ToFloat64(m.ingestAccepted))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ingestDuplicate))
}

func TestMetrics_QueueDepthReflectsLastSet(t *testing.T) {
	m := New()
	m.QueueDepth(42)
	assert.Equal(t, float64(42), testutil.ToFloat64(m.queueDepth))
}

func TestMetrics_RouteDurationObservesWithoutPanicking(t *testing.T) {
	m := New()
	assert.NotPanics(t, func() {
		m.RouteDuration("GET", "/users", "200", 0.012)
	})
}
