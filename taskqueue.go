package xpool

import (
	"cmp"
	"container/heap"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// QueueConfig controls retry and timeout policy of a TaskQueue.
type QueueConfig struct {
	// MaxRetries is how many consecutive retryable failures of one source are requeued.
	MaxRetries int
	// DefaultTimeout applies to tasks without their own timeout; zero disables it.
	DefaultTimeout time.Duration
}

// TaskQueue orders pending tasks by (priority desc, serial asc) and tracks the active set.
//
// Enqueue may be called from any goroutine. DequeueNext, MarkDone and Tick are
// meant for the owner goroutine that drives the queue, but are safe anyway.
type TaskQueue[T TaskItem] struct {
	cfg       QueueConfig
	logger    *xlog.Logger
	clock     Clock
	observers *observerSet

	mu       sync.Mutex
	pending  taskHeap[T]
	active   map[int64]T
	failures map[string]int
	closed   bool
}

// NewTaskQueue creates a queue. Lifecycle events go to observers when obs is non-empty.
func NewTaskQueue[T TaskItem](cfg QueueConfig, logger *xlog.Logger, clock Clock, obs ...Observer) *TaskQueue[T] {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if logger == nil {
		logger = xlog.Default()
	}
	if clock == nil {
		clock = xclock.Default()
	}
	q := &TaskQueue[T]{
		cfg:       cfg,
		logger:    logger,
		clock:     clock,
		observers: newObserverSet(0, 0),
		active:    make(map[int64]T),
		failures:  make(map[string]int),
	}
	for _, o := range obs {
		q.observers.add(o)
	}
	return q
}

// Enqueue assigns t the next serial id and queues it.
// A task that finished (TaskDone) may be enqueued again and gets a fresh serial id.
func (q *TaskQueue[T]) Enqueue(t T, tag string, priority int, userData any) (int64, error) {
	var zero T
	if t == zero {
		return 0, &ViolationError{Type: "task", Op: "enqueue", Reason: "nil task"}
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return 0, ErrQueueClosed
	}
	b := t.Base()
	if b.status == TaskDoing || (b.status == TaskTodo && b.SerialID != 0) {
		return 0, &ViolationError{Type: "task", Op: "enqueue", Reason: fmt.Sprintf("task %d is already %s", b.SerialID, b.status)}
	}

	b.SerialID = taskSerial.Add(1)
	b.Tag = tag
	b.Priority = priority
	b.UserData = userData
	b.Done = false
	b.status = TaskTodo
	b.elapsed = 0
	b.attempt = 0
	heap.Push(&q.pending, t)
	return b.SerialID, nil
}

// DequeueNext moves the most urgent pending task to TaskDoing, unless
// maxConcurrent tasks are already active. maxConcurrent <= 0 means unlimited.
func (q *TaskQueue[T]) DequeueNext(maxConcurrent int) (T, bool) {
	var zero T

	q.mu.Lock()
	if q.closed || q.pending.Len() == 0 || (maxConcurrent > 0 && len(q.active) >= maxConcurrent) {
		q.mu.Unlock()
		return zero, false
	}
	t := heap.Pop(&q.pending).(T)
	b := t.Base()
	b.status = TaskDoing
	b.elapsed = 0
	b.attempt++
	q.active[b.SerialID] = t
	q.mu.Unlock()

	q.observers.notify(Event{Type: TaskStarted, Serial: b.SerialID, Tag: b.Tag, At: q.clock.Now()})
	return t, true
}

// MarkDone records the outcome of an active task's attempt.
// Retryable failures go back to TaskTodo while the source's consecutive
// failures stay within MaxRetries; everything else ends in TaskDone.
func (q *TaskQueue[T]) MarkDone(t T, outcome Outcome) (Result, error) {
	var zero T
	if t == zero {
		return Result{}, &ViolationError{Type: "task", Op: "mark_done", Reason: "nil task"}
	}

	q.mu.Lock()
	b := t.Base()
	cur, ok := q.active[b.SerialID]
	if !ok || cur != t {
		q.mu.Unlock()
		return Result{}, &ViolationError{Type: "task", Op: "mark_done", Reason: fmt.Sprintf("task %d is not active", b.SerialID)}
	}
	delete(q.active, b.SerialID)

	key := t.SourceKey()
	res := Result{Serial: b.SerialID}
	ev := Event{Serial: b.SerialID, Tag: b.Tag, Duration: b.elapsed, At: q.clock.Now(), Err: outcome.Err}

	switch {
	case outcome.Err == nil:
		delete(q.failures, key)
		b.status = TaskDone
		b.Done = true
		res.Succeeded = true
		ev.Type = TaskSucceeded
	default:
		q.failures[key]++
		res.Failures = q.failures[key]
		res.Err = outcome.Err
		if outcome.Retryable && res.Failures <= q.cfg.MaxRetries && !q.closed {
			b.status = TaskTodo
			b.elapsed = 0
			heap.Push(&q.pending, t)
			res.Requeued = true
			ev.Type = TaskRetried
		} else {
			// Terminal: the next deliberate enqueue of this source starts a fresh budget.
			delete(q.failures, key)
			b.status = TaskDone
			b.Done = true
			ev.Type = TaskFailed
		}
	}
	q.mu.Unlock()

	q.observers.notify(ev)
	return res, nil
}

// Tick advances the elapsed time of active tasks and fails those past their
// timeout with ErrTimeout. Timed-out tasks leave the active set in TaskDone
// and are returned in serial order; they are not retried.
func (q *TaskQueue[T]) Tick(elapsed time.Duration) []T {
	q.mu.Lock()
	var expired []T
	for serial, t := range q.active {
		b := t.Base()
		b.elapsed += elapsed
		timeout := b.timeout
		if timeout <= 0 {
			timeout = q.cfg.DefaultTimeout
		}
		if timeout > 0 && b.elapsed > timeout {
			delete(q.active, serial)
			b.status = TaskDone
			b.Done = true
			expired = append(expired, t)
		}
	}
	q.mu.Unlock()

	if len(expired) == 0 {
		return nil
	}
	slices.SortFunc(expired, func(a, b T) int {
		return cmp.Compare(a.Base().SerialID, b.Base().SerialID)
	})
	now := q.clock.Now()
	for _, t := range expired {
		b := t.Base()
		q.logger.Warn().Str("tag", b.Tag).Dur("elapsed", b.elapsed).Err(ErrTimeout).Msg("xpool: task timed out")
		q.observers.notify(Event{Type: TaskTimedOut, Serial: b.SerialID, Tag: b.Tag, Duration: b.elapsed, At: now, Err: ErrTimeout})
	}
	return expired
}

// Find returns the pending or active task with the given serial id.
func (q *TaskQueue[T]) Find(serial int64) (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if t, ok := q.active[serial]; ok {
		return t, true
	}
	for _, t := range q.pending {
		if t.Base().SerialID == serial {
			return t, true
		}
	}
	var zero T
	return zero, false
}

// RemoveBySerial takes a pending or active task out of the queue. The task ends
// in TaskDone without Done set; the caller owns it (and any running work) afterwards.
func (q *TaskQueue[T]) RemoveBySerial(serial int64) (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.removeLocked(func(b *Task) bool { return b.SerialID == serial })
}

// RemoveByTag takes every pending or active task with tag out of the queue.
func (q *TaskQueue[T]) RemoveByTag(tag string) []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []T
	for {
		t, ok := q.removeLocked(func(b *Task) bool { return b.Tag == tag })
		if !ok {
			return out
		}
		out = append(out, t)
	}
}

func (q *TaskQueue[T]) removeLocked(match func(*Task) bool) (T, bool) {
	for i, t := range q.pending {
		if match(t.Base()) {
			heap.Remove(&q.pending, i)
			t.Base().status = TaskDone
			return t, true
		}
	}
	for serial, t := range q.active {
		if match(t.Base()) {
			delete(q.active, serial)
			t.Base().status = TaskDone
			return t, true
		}
	}
	var zero T
	return zero, false
}

// Pending returns the number of queued tasks.
func (q *TaskQueue[T]) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending.Len()
}

// Active returns the number of tasks in TaskDoing.
func (q *TaskQueue[T]) Active() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.active)
}

// Failures returns the consecutive failure count of a source.
func (q *TaskQueue[T]) Failures(source string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.failures[source]
}

// Close stops the queue and hands back every pending and active task so the
// caller can recycle them.
func (q *TaskQueue[T]) Close() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true

	out := make([]T, 0, q.pending.Len()+len(q.active))
	for q.pending.Len() > 0 {
		out = append(out, heap.Pop(&q.pending).(T))
	}
	for _, t := range q.active {
		out = append(out, t)
	}
	clear(q.active)
	for _, t := range out {
		t.Base().status = TaskDone
	}
	return out
}

// AddObserver registers an observer (thread-safe).
func (q *TaskQueue[T]) AddObserver(obs Observer) { q.observers.add(obs) }

// taskHeap implements heap.Interface ordered by priority desc, serial asc.
type taskHeap[T TaskItem] []T

func (h taskHeap[T]) Len() int { return len(h) }

func (h taskHeap[T]) Less(i, j int) bool {
	a, b := h[i].Base(), h[j].Base()
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.SerialID < b.SerialID
}

func (h taskHeap[T]) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].Base().index = i
	h[j].Base().index = j
}

func (h *taskHeap[T]) Push(x any) {
	t := x.(T)
	t.Base().index = len(*h)
	*h = append(*h, t)
}

func (h *taskHeap[T]) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	var zero T
	old[n-1] = zero
	*h = old[:n-1]
	t.Base().index = -1
	return t
}
