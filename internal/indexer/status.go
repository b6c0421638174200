package indexer

import "time"

// Status is a point-in-time view of the coordinator.
type Status struct {
	Started      bool      `json:"started"`
	StartedAt    time.Time `json:"started_at,omitempty"`
	PendingKeys  int       `json:"pending_keys"`
	QueueLength  int       `json:"queue_length"`
	RetryRecords int       `json:"retry_records"`
	Processed    int64     `json:"processed"`
}

// Status returns the current coordinator state.
func (m *Manager) Status() Status {
	m.stateMu.RLock()
	started := m.started && !m.closed
	startedAt := m.startedAt
	queue := m.queue
	m.stateMu.RUnlock()

	st := Status{
		Started:      started,
		StartedAt:    startedAt,
		PendingKeys:  m.dedup.Len(),
		RetryRecords: m.ledger.Count(),
	}
	if queue != nil {
		st.QueueLength = queue.Len()
		st.Processed = queue.Processed()
	}
	return st
}

// updateGauges publishes the state gauges. It must not take stateMu.
func (m *Manager) updateGauges() {
	if m.metrics == nil {
		return
	}
	queueLength := 0
	if q := m.queue; q != nil {
		queueLength = q.Len()
	}
	m.metrics.SetState(m.dedup.Len(), queueLength, m.ledger.Count())
}
