package stats

import (
	"sync"
	"time"
)

// TimingResult aggregates the recorded calls of one instrumented method.
type TimingResult struct {
	Count   int64         `json:"count"`
	Total   time.Duration `json:"total"`
	Min     time.Duration `json:"min"`
	Max     time.Duration `json:"max"`
	Average time.Duration `json:"average"`
}

// Collector records call counts and wall-clock timings for instrumented
// methods. It is safe for concurrent use and cheap enough to sit on the
// message hot path.
type Collector struct {
	mu      sync.Mutex
	counts  map[string]int64
	timings map[string]*timing
}

type timing struct {
	count int64
	total time.Duration
	min   time.Duration
	max   time.Duration
}

// NewCollector creates an empty Collector.
func NewCollector() *Collector {
	return &Collector{
		counts:  make(map[string]int64),
		timings: make(map[string]*timing),
	}
}

// Count increments a named counter.
func (c *Collector) Count(name string) {
	c.mu.Lock()
	c.counts[name]++
	c.mu.Unlock()
}

// Timer starts a stopwatch for the named method and returns the stop
// function. Typical use: defer collector.Timer("dispatch.HandleMessage")().
func (c *Collector) Timer(name string) func() {
	start := time.Now()
	return func() {
		c.record(name, time.Since(start))
	}
}

func (c *Collector) record(name string, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.timings[name]
	if !ok {
		t = &timing{min: d, max: d}
		c.timings[name] = t
	}
	t.count++
	t.total += d
	if d < t.min {
		t.min = d
	}
	if d > t.max {
		t.max = d
	}
}

// Counters returns a snapshot of all counters.
func (c *Collector) Counters() map[string]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int64, len(c.counts))
	for k, v := range c.counts {
		out[k] = v
	}
	return out
}

// Timings returns a snapshot of all timing results.
func (c *Collector) Timings() map[string]TimingResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]TimingResult, len(c.timings))
	for k, t := range c.timings {
		r := TimingResult{
			Count: t.count,
			Total: t.total,
			Min:   t.min,
			Max:   t.max,
		}
		if t.count > 0 {
			r.Average = t.total / time.Duration(t.count)
		}
		out[k] = r
	}
	return out
}

// Snapshot returns counters and timings together, keyed for the admin
// status endpoint.
func (c *Collector) Snapshot() map[string]any {
	return map[string]any{
		"counters": c.Counters(),
		"timings":  c.Timings(),
	}
}

// Reset clears all recorded data.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts = make(map[string]int64)
	c.timings = make(map[string]*timing)
}
