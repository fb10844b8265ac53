package metrics

import "time"

// The helpers below are nil-safe so components can run without metrics.

// ObserveLookup records one geocode lookup outcome and, when a request was
// sent, its duration.
func (m *Metrics) ObserveLookup(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.GeocodeRequests.WithLabelValues(outcome).Inc()
	if d > 0 {
		m.GeocodeAPIDuration.Observe(d.Seconds())
	}
}

// ObserveRow records one processed batch row.
func (m *Metrics) ObserveRow(status, matchType string) {
	if m == nil {
		return
	}
	m.RowsProcessed.WithLabelValues(status).Inc()
	m.WaterfallMatches.WithLabelValues(matchType).Inc()
}

// JobStarted marks a job as holding a worker slot.
func (m *Metrics) JobStarted() {
	if m == nil {
		return
	}
	m.JobsRunning.Inc()
}

// JobStopped releases the running gauge for a job.
func (m *Metrics) JobStopped() {
	if m == nil {
		return
	}
	m.JobsRunning.Dec()
}

// JobSubmitted counts an accepted submission.
func (m *Metrics) JobSubmitted() {
	if m == nil {
		return
	}
	m.JobsSubmitted.Inc()
}

// JobFinished counts a terminal transition.
func (m *Metrics) JobFinished(status, reason string) {
	if m == nil {
		return
	}
	m.JobsFinished.WithLabelValues(status, reason).Inc()
}

// PersistFailed counts a job store write that was given up on.
func (m *Metrics) PersistFailed() {
	if m == nil {
		return
	}
	m.PersistErrors.Inc()
}

// NotifyFailed counts an undelivered completion notification.
func (m *Metrics) NotifyFailed() {
	if m == nil {
		return
	}
	m.NotifyFailures.Inc()
}

// QuotaDenial counts a quota refusal at the given stage.
func (m *Metrics) QuotaDenial(stage string) {
	if m == nil {
		return
	}
	m.QuotaDenied.WithLabelValues(stage).Inc()
}

// QuotaCheckFailed counts a quota check that could not read usage.
func (m *Metrics) QuotaCheckFailed(stage string) {
	if m == nil {
		return
	}
	m.QuotaCheckErrors.WithLabelValues(stage).Inc()
}
