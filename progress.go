package xpool

import (
	"sync"
	"time"
)

// DefaultProgressWindow is the record window used when none is configured.
const DefaultProgressWindow = 5 * time.Second

type progressSample struct {
	delta int64
	age   time.Duration
}

// ProgressCounter turns byte deltas reported each tick into a throughput figure
// over a sliding record window shared by all tasks.
type ProgressCounter struct {
	window time.Duration

	mu       sync.Mutex
	samples  []progressSample // oldest first
	observed time.Duration    // time seen since reset, capped at window
	inWindow int64
	total    int64
	speed    float64
}

// NewProgressCounter creates a counter; window <= 0 uses DefaultProgressWindow.
func NewProgressCounter(window time.Duration) *ProgressCounter {
	if window <= 0 {
		window = DefaultProgressWindow
	}
	return &ProgressCounter{window: window, samples: make([]progressSample, 0, 64)}
}

// Window returns the record window length.
func (c *ProgressCounter) Window() time.Duration { return c.window }

// AddDelta records bytes received since the last call.
func (c *ProgressCounter) AddDelta(bytes int64) {
	if bytes <= 0 {
		return
	}
	c.mu.Lock()
	c.samples = append(c.samples, progressSample{delta: bytes})
	c.inWindow += bytes
	c.total += bytes
	c.mu.Unlock()
}

// Update ages the samples by elapsed, drops those that left the window and
// recomputes the speed.
func (c *ProgressCounter) Update(elapsed time.Duration) {
	if elapsed <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	drop := 0
	for i := range c.samples {
		c.samples[i].age += elapsed
		if c.samples[i].age > c.window {
			drop = i + 1
		}
	}
	if drop > 0 {
		for _, s := range c.samples[:drop] {
			c.inWindow -= s.delta
		}
		n := copy(c.samples, c.samples[drop:])
		c.samples = c.samples[:n]
	}

	c.observed += elapsed
	if c.observed > c.window {
		c.observed = c.window
	}
	c.speed = float64(c.inWindow) / c.observed.Seconds()
}

// Speed returns bytes per second over the window as of the last Update.
func (c *ProgressCounter) Speed() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speed
}

// TotalBytes returns every byte recorded since the last Reset.
func (c *ProgressCounter) TotalBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// Reset clears samples, totals and speed.
func (c *ProgressCounter) Reset() {
	c.mu.Lock()
	c.samples = c.samples[:0]
	c.observed = 0
	c.inWindow = 0
	c.total = 0
	c.speed = 0
	c.mu.Unlock()
}
