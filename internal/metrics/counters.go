package metrics

import (
	"sync"
	"time"
)

// Counters tracks failover outcomes for one engine instance. Monotonically
// non-decreasing; reset only by building a new instance. Single writer (the
// engine), any number of Snapshot readers.
type Counters struct {
	mu        sync.Mutex
	attempts  uint64
	successes uint64
	failures  uint64
	downtime  time.Duration
}

type CounterSnapshot struct {
	Attempts  uint64
	Successes uint64
	Failures  uint64
	Downtime  time.Duration
}

func NewCounters() *Counters {
	return &Counters{}
}

func (c *Counters) Attempt() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts++
}

func (c *Counters) Success() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.successes++
}

func (c *Counters) Failure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures++
}

func (c *Counters) AddDowntime(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.downtime += d
}

func (c *Counters) Snapshot() CounterSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CounterSnapshot{
		Attempts:  c.attempts,
		Successes: c.successes,
		Failures:  c.failures,
		Downtime:  c.downtime,
	}
}
