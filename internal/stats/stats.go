// Package stats tracks operational counters and the search failure log.
package stats

import "sync"

// Failure is one rejected search request: the rejection reason and the raw
// request body as received.
type Failure struct {
	Reason string
	Body   []byte
}

// Stats is a point-in-time snapshot of the collector.
type Stats struct {
	SearchSuccess        uint64
	SearchFailure        uint64
	NonSearchPassthrough uint64
	Failures             []Failure
}

// Collector holds the shared counters, guarded by an exclusive lock. One
// instance is constructed at startup and injected into every handler;
// there is no package-level singleton so tests can use isolated instances.
//
// The lock is held only for in-memory updates, never across I/O.
type Collector struct {
	mu            sync.Mutex
	failureLogMax int
	searchSuccess uint64
	searchFailure uint64
	passthrough   uint64
	failures      []Failure
}

// NewCollector creates a Collector. failureLogMax bounds the retained
// failure log; once full, the oldest entries are dropped. A value <= 0
// keeps the log unbounded.
func NewCollector(failureLogMax int) *Collector {
	return &Collector{failureLogMax: failureLogMax}
}

// RecordSearchSuccess counts a search request answered locally.
func (c *Collector) RecordSearchSuccess() {
	c.mu.Lock()
	c.searchSuccess++
	c.mu.Unlock()
}

// RecordSearchFailure counts a search request that fell back to forwarding
// and appends the rejection to the failure log. The body is copied; the
// caller keeps ownership of its slice.
func (c *Collector) RecordSearchFailure(reason string, body []byte) {
	bodyCopy := make([]byte, len(body))
	copy(bodyCopy, body)

	c.mu.Lock()
	c.searchFailure++
	c.failures = append(c.failures, Failure{Reason: reason, Body: bodyCopy})
	if c.failureLogMax > 0 && len(c.failures) > c.failureLogMax {
		c.failures = c.failures[len(c.failures)-c.failureLogMax:]
	}
	c.mu.Unlock()
}

// RecordPassthrough counts a non-search request forwarded upstream.
func (c *Collector) RecordPassthrough() {
	c.mu.Lock()
	c.passthrough++
	c.mu.Unlock()
}

// Snapshot returns a consistent copy of all counters and the retained
// failure log.
func (c *Collector) Snapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	failures := make([]Failure, len(c.failures))
	copy(failures, c.failures)

	return Stats{
		SearchSuccess:        c.searchSuccess,
		SearchFailure:        c.searchFailure,
		NonSearchPassthrough: c.passthrough,
		Failures:             failures,
	}
}
