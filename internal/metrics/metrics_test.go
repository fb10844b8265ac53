package metrics

import (
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c interface{ Write(*dto.Metric) error }) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestNewForTesting_Independent(t *testing.T) {
	a := NewForTesting()
	b := NewForTesting()

	a.JobSubmitted()
	assert.Equal(t, 1.0, counterValue(t, a.JobsSubmitted))
	assert.Equal(t, 0.0, counterValue(t, b.JobsSubmitted))
}

func TestObserveHelpers(t *testing.T) {
	m := NewForTesting()

	m.ObserveLookup("success", 120*time.Millisecond)
	m.ObserveLookup("skipped", 0)
	m.ObserveRow("success", "address_context")
	m.JobFinished("complete", "limit_hit")
	m.PersistFailed()
	m.NotifyFailed()
	m.QuotaDenial("submit")

	assert.Equal(t, 1.0, counterValue(t, m.GeocodeRequests.WithLabelValues("success")))
	assert.Equal(t, 1.0, counterValue(t, m.GeocodeRequests.WithLabelValues("skipped")))
	assert.Equal(t, 1.0, counterValue(t, m.RowsProcessed.WithLabelValues("success")))
	assert.Equal(t, 1.0, counterValue(t, m.WaterfallMatches.WithLabelValues("address_context")))
	assert.Equal(t, 1.0, counterValue(t, m.JobsFinished.WithLabelValues("complete", "limit_hit")))
	assert.Equal(t, 1.0, counterValue(t, m.PersistErrors))
	assert.Equal(t, 1.0, counterValue(t, m.NotifyFailures))
	assert.Equal(t, 1.0, counterValue(t, m.QuotaDenied.WithLabelValues("submit")))

	var h dto.Metric
	require.NoError(t, m.GeocodeAPIDuration.Write(&h))
	assert.Equal(t, uint64(1), h.GetHistogram().GetSampleCount(), "skipped lookups record no duration")
}

func TestRunningGauge(t *testing.T) {
	m := NewForTesting()
	m.JobStarted()
	m.JobStarted()
	m.JobStopped()

	var g dto.Metric
	require.NoError(t, m.JobsRunning.Write(&g))
	assert.Equal(t, 1.0, g.GetGauge().GetValue())
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveLookup("success", time.Second)
		m.ObserveRow("error", "none")
		m.JobStarted()
		m.JobStopped()
		m.JobSubmitted()
		m.JobFinished("failed", "cancelled")
		m.PersistFailed()
		m.NotifyFailed()
		m.QuotaDenial("row")
	})
}
