package xpool

import (
	"sync/atomic"
	"time"
)

// TaskStatus is the lifecycle state of a queued task.
type TaskStatus uint8

const (
	TaskTodo TaskStatus = iota
	TaskDoing
	TaskDone
)

func (s TaskStatus) String() string {
	switch s {
	case TaskTodo:
		return "todo"
	case TaskDoing:
		return "doing"
	case TaskDone:
		return "done"
	default:
		return "unknown"
	}
}

// taskSerial is process-wide and never rewinds, so serial ids are not reused.
var taskSerial atomic.Int64

// Task is the pooled base of queue items. Embed it in concrete task types.
type Task struct {
	SerialID int64
	Tag      string
	Priority int
	UserData any
	Done     bool

	status  TaskStatus
	timeout time.Duration
	elapsed time.Duration
	attempt int
	index   int // position in the pending heap, -1 when not queued
}

// Reset returns the task to its zero state.
func (t *Task) Reset() {
	*t = Task{index: -1}
}

// Base gives the queue access to the embedded Task.
func (t *Task) Base() *Task { return t }

// SourceKey names the logical source for retry accounting. Defaults to the tag.
func (t *Task) SourceKey() string { return t.Tag }

// Status returns the lifecycle state.
func (t *Task) Status() TaskStatus { return t.status }

// Elapsed returns the time spent in TaskDoing for the current attempt.
func (t *Task) Elapsed() time.Duration { return t.elapsed }

// Attempt returns how many times the task was started.
func (t *Task) Attempt() int { return t.attempt }

// Timeout returns the per-task timeout; zero uses the queue default.
func (t *Task) Timeout() time.Duration { return t.timeout }

// SetTimeout sets the per-task timeout. Must be called before Enqueue.
func (t *Task) SetTimeout(d time.Duration) { t.timeout = d }

// TaskItem is the constraint for values managed by a TaskQueue.
type TaskItem interface {
	Item
	Base() *Task
	SourceKey() string
}

// Outcome reports how an attempt ended.
type Outcome struct {
	Err       error
	Retryable bool
}

// Succeeded is the outcome of a successful attempt.
func Succeeded() Outcome { return Outcome{} }

// Failed is a terminal failure.
func Failed(err error) Outcome { return Outcome{Err: err} }

// Retry is a transient failure eligible for requeue while the retry budget lasts.
func Retry(err error) Outcome { return Outcome{Err: err, Retryable: true} }

// Result is what MarkDone decided for a task.
type Result struct {
	Serial    int64
	Succeeded bool
	// Requeued is set when the task went back to TaskTodo for another attempt.
	Requeued bool
	// Failures is the consecutive failure count of the task's source.
	Failures int
	Err      error
}
