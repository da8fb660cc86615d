// Package stats keeps the in-process counters behind the /status
// endpoint. Prometheus covers scraping; this is the cheap snapshot the
// human-readable status JSON is built from.
package stats

import (
	"sync"
	"sync/atomic"
)

const (
	// maxDurationSamples caps the rolling request-duration window; the
	// oldest half is dropped when the cap is exceeded.
	maxDurationSamples = 1000
	drainBatch         = 500
)

type Collector struct {
	messagesProcessed atomic.Uint64
	pairingOps        atomic.Uint64
	errorCount        atomic.Uint64

	mu        sync.Mutex
	durations []float64
}

// Snapshot is a point-in-time copy of the counters. AvgRequestDuration
// is in seconds and only meaningful when HasDurations is set.
type Snapshot struct {
	MessagesProcessed  uint64
	PairingOps         uint64
	Errors             uint64
	AvgRequestDuration float64
	HasDurations       bool
}

func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) MessageProcessed() { c.messagesProcessed.Add(1) }

func (c *Collector) PairingOp() { c.pairingOps.Add(1) }

func (c *Collector) Error() { c.errorCount.Add(1) }

func (c *Collector) RecordRequestDuration(seconds float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.durations = append(c.durations, seconds)
	if len(c.durations) > maxDurationSamples {
		n := copy(c.durations, c.durations[drainBatch:])
		c.durations = c.durations[:n]
	}
}

func (c *Collector) Snapshot() Snapshot {
	s := Snapshot{
		MessagesProcessed: c.messagesProcessed.Load(),
		PairingOps:        c.pairingOps.Load(),
		Errors:            c.errorCount.Load(),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.durations) > 0 {
		var sum float64
		for _, d := range c.durations {
			sum += d
		}
		s.AvgRequestDuration = sum / float64(len(c.durations))
		s.HasDurations = true
	}
	return s
}
