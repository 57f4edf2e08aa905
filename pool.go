package xpool

import (
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"
)

// Pool recycles instances of a single type.
// All mutations serialize on one mutex per pool; counters are atomics so Stats never waits on it.
type Pool[T Item] struct {
	name             string
	newFn            func() T
	strict           bool
	panicOnViolation bool
	onViolation      func(*ViolationError)

	mu    sync.Mutex
	free  *queue.Queue
	inUse map[T]struct{}

	freeCount    atomic.Int64
	acquireTotal atomic.Uint64
	releaseTotal atomic.Uint64
	createdTotal atomic.Uint64
	removedTotal atomic.Uint64
}

// PoolOption configures a Pool.
type PoolOption func(*poolOptions)

type poolOptions struct {
	strict           bool
	panicOnViolation bool
	onViolation      func(*ViolationError)
}

// WithStrict enables in-use tracking to catch double release and release without acquire.
func WithStrict(on bool) PoolOption {
	return func(o *poolOptions) { o.strict = on }
}

// WithPanicOnViolation makes strict violations panic instead of returning an error.
func WithPanicOnViolation(on bool) PoolOption {
	return func(o *poolOptions) { o.panicOnViolation = on }
}

// WithViolationHook is called (outside the pool lock) for every strict violation.
func WithViolationHook(fn func(*ViolationError)) PoolOption {
	return func(o *poolOptions) { o.onViolation = fn }
}

// NewPool creates a pool named name that constructs instances with factory.
func NewPool[T Item](name string, factory func() T, opts ...PoolOption) *Pool[T] {
	if factory == nil {
		panic("xpool: NewPool called with nil factory")
	}
	var o poolOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	p := &Pool[T]{
		name:             name,
		newFn:            factory,
		strict:           o.strict,
		panicOnViolation: o.panicOnViolation,
		onViolation:      o.onViolation,
		free:             queue.New(),
	}
	if p.strict {
		p.inUse = make(map[T]struct{})
	}
	return p
}

// Name returns the type name used in diagnostics.
func (p *Pool[T]) Name() string { return p.name }

// Strict reports whether in-use tracking is enabled.
func (p *Pool[T]) Strict() bool { return p.strict }

// Acquire returns an idle instance, constructing one when none is available.
func (p *Pool[T]) Acquire() (T, error) {
	var zero T

	p.mu.Lock()
	var obj T
	if p.free.Length() > 0 {
		obj = p.free.Remove().(T)
		p.freeCount.Add(-1)
	} else {
		obj = p.newFn()
		p.createdTotal.Add(1)
	}
	if p.strict {
		if _, dup := p.inUse[obj]; dup {
			// The instance is lost to the pool; account for it as removed.
			p.removedTotal.Add(1)
			p.mu.Unlock()
			return zero, p.violation("acquire", "instance is already in use (lost release)")
		}
		p.inUse[obj] = struct{}{}
	}
	p.acquireTotal.Add(1)
	p.mu.Unlock()

	return obj, nil
}

// Release resets obj and returns it to the idle list.
// In strict mode, releasing an instance that is not in use fails and leaves counters unchanged.
func (p *Pool[T]) Release(obj T) error {
	var zero T
	if obj == zero {
		return p.violation("release", "nil instance")
	}

	p.mu.Lock()
	if p.strict {
		if _, ok := p.inUse[obj]; !ok {
			p.mu.Unlock()
			return p.violation("release", "instance is not in use (double release or foreign object)")
		}
		delete(p.inUse, obj)
	}
	obj.Reset()
	p.free.Add(obj)
	p.freeCount.Add(1)
	p.releaseTotal.Add(1)
	p.mu.Unlock()

	return nil
}

// Prewarm constructs n idle instances ahead of demand.
func (p *Pool[T]) Prewarm(n int) {
	if n <= 0 {
		return
	}
	p.mu.Lock()
	for i := 0; i < n; i++ {
		p.free.Add(p.newFn())
	}
	p.freeCount.Add(int64(n))
	p.createdTotal.Add(uint64(n))
	p.mu.Unlock()
}

// Remove drops up to n idle instances and returns how many were dropped.
func (p *Pool[T]) Remove(n int) int {
	if n <= 0 {
		return 0
	}
	p.mu.Lock()
	removed := p.removeLocked(n)
	p.mu.Unlock()
	return removed
}

// RemoveAll drops every idle instance. In-use instances are untouched.
func (p *Pool[T]) RemoveAll() int {
	p.mu.Lock()
	removed := p.removeLocked(p.free.Length())
	p.mu.Unlock()
	return removed
}

func (p *Pool[T]) removeLocked(n int) int {
	if n > p.free.Length() {
		n = p.free.Length()
	}
	for i := 0; i < n; i++ {
		p.free.Remove()
	}
	p.freeCount.Add(-int64(n))
	p.removedTotal.Add(uint64(n))
	return n
}

// Clear drops idle instances and resets the counters.
// Outstanding instances stay accounted as acquired so they can still be released.
func (p *Pool[T]) Clear() {
	p.mu.Lock()
	inUse := p.acquireTotal.Load() - p.releaseTotal.Load()
	p.free = queue.New()
	p.freeCount.Store(0)
	p.acquireTotal.Store(inUse)
	p.releaseTotal.Store(0)
	p.createdTotal.Store(inUse)
	p.removedTotal.Store(0)
	p.mu.Unlock()
}

// InUse returns the number of outstanding instances.
func (p *Pool[T]) InUse() int {
	return int(p.acquireTotal.Load() - p.releaseTotal.Load())
}

// Stats returns a point-in-time copy of the counters.
func (p *Pool[T]) Stats() PoolStats {
	release := p.releaseTotal.Load()
	acquire := p.acquireTotal.Load()
	return PoolStats{
		Type:         p.name,
		FreeCount:    int(p.freeCount.Load()),
		InUseCount:   int(acquire - release),
		AcquireTotal: acquire,
		ReleaseTotal: release,
		CreatedTotal: p.createdTotal.Load(),
		RemovedTotal: p.removedTotal.Load(),
		Strict:       p.strict,
	}
}

func (p *Pool[T]) violation(op, reason string) error {
	err := &ViolationError{Type: p.name, Op: op, Reason: reason}
	if p.onViolation != nil {
		p.onViolation(err)
	}
	if p.panicOnViolation {
		panic(err)
	}
	return err
}
