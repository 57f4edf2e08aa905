package xpool

import (
	"time"
)

// PoolStats is a point-in-time copy of one pool's counters.
type PoolStats struct {
	Type         string
	FreeCount    int
	InUseCount   int
	AcquireTotal uint64
	ReleaseTotal uint64
	CreatedTotal uint64
	RemovedTotal uint64
	Strict       bool
}

// EventType enumerates lifecycle events for the Observer pattern.
type EventType string

const (
	PoolCreated    EventType = "pool_created"
	Violation      EventType = "violation"
	Leak           EventType = "leak"
	HandlerFailed  EventType = "handler_failed"
	NoHandler      EventType = "no_handler"
	TaskStarted    EventType = "task_started"
	TaskSucceeded  EventType = "task_succeeded"
	TaskFailed     EventType = "task_failed"
	TaskRetried    EventType = "task_retried"
	TaskTimedOut   EventType = "task_timed_out"
	ObserverClosed EventType = "observer_closed"
)

// Event carries telemetry for observers.
type Event struct {
	Type     EventType
	Pool     string
	EventID  int
	Serial   int64
	Tag      string
	Duration time.Duration
	At       time.Time
	Err      error

	// attached for async dispatch
	observers []Observer
}

// ObserverPoolStats returns telemetry about the observer pool.
type ObserverPoolStats struct {
	Dropped      uint64 // Events dropped due to full buffer
	Processed    uint64 // Events successfully processed
	ActiveEvents int    // Current queue depth
	Workers      int    // Number of dispatch goroutines
	BufferSize   int    // Channel capacity
}

// Metrics defines observable telemetry for the bus.
type Metrics struct {
	Fired         uint64
	Deferred      uint64
	Delivered     uint64
	HandlerErrors uint64
	NoHandler     uint64
	EventsDropped uint64
	Pending       int
	AvgDispatchMs float64
}
