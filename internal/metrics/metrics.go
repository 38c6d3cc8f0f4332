package metrics

import (
	"sync"
)

// Metrics tracks pipeline counters
type Metrics struct {
	mu sync.RWMutex

	jobsCreated      int64
	jobsCompleted    int64
	batchesPublished int64
	batchesProcessed int64
	matchesFound     int64
	eventsDropped    int64
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{}
}

// IncrementJobsCreated increments the created jobs counter
func (m *Metrics) IncrementJobsCreated() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobsCreated++
}

// IncrementJobsCompleted increments the completed jobs counter
func (m *Metrics) IncrementJobsCompleted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobsCompleted++
}

// AddBatchesPublished adds to the published work units counter
func (m *Metrics) AddBatchesPublished(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batchesPublished += int64(n)
}

// IncrementBatchesProcessed increments the processed result batches counter
func (m *Metrics) IncrementBatchesProcessed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batchesProcessed++
}

// AddMatchesFound adds to the discovered matches counter
func (m *Metrics) AddMatchesFound(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.matchesFound += int64(n)
}

// IncrementEventsDropped increments the dropped events counter
func (m *Metrics) IncrementEventsDropped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.eventsDropped++
}

// GetSnapshot returns a snapshot of all metrics
func (m *Metrics) GetSnapshot() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]int64{
		"jobs_created":      m.jobsCreated,
		"jobs_completed":    m.jobsCompleted,
		"batches_published": m.batchesPublished,
		"batches_processed": m.batchesProcessed,
		"matches_found":     m.matchesFound,
		"events_dropped":    m.eventsDropped,
	}
}
