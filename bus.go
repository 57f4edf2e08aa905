package xpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"
	"github.com/trickstertwo/xlog"
)

// Mode selects the subscription rules of a Bus.
type Mode uint8

const (
	// ModeAllowNoHandler lets events without subscribers pass silently.
	ModeAllowNoHandler Mode = 1 << iota
	// ModeAllowMultiHandler allows more than one handler per event identity.
	ModeAllowMultiHandler
	// ModeAllowDuplicateHandler allows subscribing the identical handler twice.
	ModeAllowDuplicateHandler

	DefaultMode = ModeAllowNoHandler | ModeAllowMultiHandler
)

// Bus dispatches pooled envelopes to handlers keyed by event identity.
//
// FireNow runs handlers on the caller's goroutine. FireDeferred queues the event
// and Update delivers the queue on the goroutine that owns the bus; Update must
// not be called concurrently with itself.
//
// Handler failures abort the remaining handlers of that dispatch and are returned
// to the caller as *HandlerError.
type Bus struct {
	registry        *Registry
	envelopes       *Pool[*Envelope]
	clock           Clock
	logger          *xlog.Logger
	middlewares     []Middleware
	mode            Mode
	deferredRelease func(EventArgs)

	mu             sync.RWMutex
	handlers       map[int][]*Subscription // copy-on-write per identity
	defaultHandler EventHandler

	qmu      sync.Mutex
	deferred *queue.Queue // *Envelope, FIFO

	observers *observerSet
	metrics   *busMetrics
	closed    atomic.Bool
	closeOnce sync.Once
}

// busMetrics uses lock-free atomics for telemetry.
type busMetrics struct {
	fired         atomic.Uint64
	deferred      atomic.Uint64
	delivered     atomic.Uint64
	handlerErrors atomic.Uint64
	noHandler     atomic.Uint64
	dispatchNs    atomic.Int64
}

// Subscription is an active handler registration.
type Subscription struct {
	bus     *Bus
	id      int
	handler EventHandler
	wrapped EventHandler
	active  atomic.Bool
}

// EventID returns the identity the handler is subscribed to.
func (s *Subscription) EventID() int { return s.id }

// Active reports whether the subscription still receives events.
func (s *Subscription) Active() bool { return s.active.Load() }

// Cancel removes the subscription. Calling it more than once is a no-op.
func (s *Subscription) Cancel() {
	if !s.active.Swap(false) {
		return
	}
	s.bus.detach(s)
}

// Registry returns the registry the bus draws envelopes from.
func (b *Bus) Registry() *Registry { return b.registry }

// Subscribe registers h for event identity id.
func (b *Bus) Subscribe(id int, h EventHandler) (*Subscription, error) {
	if h == nil || !isComparable(h) {
		return nil, ErrInvalidHandler
	}
	if b.closed.Load() {
		return nil, ErrBusClosed
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.handlers[id]
	if len(subs) > 0 && b.mode&ModeAllowMultiHandler == 0 {
		return nil, fmt.Errorf("%w: event %d", ErrMultipleHandlers, id)
	}
	if b.mode&ModeAllowDuplicateHandler == 0 {
		for _, s := range subs {
			if s.handler == h {
				return nil, fmt.Errorf("%w: event %d", ErrDuplicateSubscription, id)
			}
		}
	}

	s := &Subscription{
		bus:     b,
		id:      id,
		handler: h,
		wrapped: Chain(RecoveryMiddleware()(h), b.middlewares...),
	}
	s.active.Store(true)

	next := make([]*Subscription, len(subs), len(subs)+1)
	copy(next, subs)
	b.handlers[id] = append(next, s)
	return s, nil
}

// Unsubscribe removes the first subscription of h for id.
func (b *Bus) Unsubscribe(id int, h EventHandler) error {
	if h == nil || !isComparable(h) {
		return ErrInvalidHandler
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, s := range b.handlers[id] {
		if s.handler == h {
			s.active.Store(false)
			b.detachLocked(s)
			return nil
		}
	}
	return fmt.Errorf("%w: event %d", ErrUnknownSubscription, id)
}

// Count returns the number of handlers subscribed to id.
func (b *Bus) Count(id int) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[id])
}

// Check reports whether h is subscribed to id.
func (b *Bus) Check(id int, h EventHandler) bool {
	if h == nil || !isComparable(h) {
		return false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.handlers[id] {
		if s.handler == h {
			return true
		}
	}
	return false
}

// SetDefaultHandler installs the handler invoked for events without subscribers. Nil removes it.
func (b *Bus) SetDefaultHandler(h EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if h == nil {
		b.defaultHandler = nil
		return
	}
	b.defaultHandler = Chain(RecoveryMiddleware()(h), b.middlewares...)
}

func (b *Bus) detach(s *Subscription) {
	b.mu.Lock()
	b.detachLocked(s)
	b.mu.Unlock()
}

func (b *Bus) detachLocked(s *Subscription) {
	subs := b.handlers[s.id]
	for i, cur := range subs {
		if cur != s {
			continue
		}
		if len(subs) == 1 {
			delete(b.handlers, s.id)
			return
		}
		next := make([]*Subscription, 0, len(subs)-1)
		next = append(next, subs[:i]...)
		next = append(next, subs[i+1:]...)
		b.handlers[s.id] = next
		return
	}
}

// FireNow dispatches args synchronously. The envelope goes back to the pool
// before FireNow returns, whatever the handlers did.
func (b *Bus) FireNow(sender any, args EventArgs) error {
	if b.closed.Load() {
		return ErrBusClosed
	}
	if args == nil {
		return ErrInvalidEvent
	}

	env, err := b.envelopes.Acquire()
	if err != nil {
		return err
	}
	defer b.releaseEnvelope(env)

	b.metrics.fired.Add(1)
	return b.dispatch(env.fill(sender, args))
}

// FireDeferred queues args for the next Update. Queued events keep submission order.
func (b *Bus) FireDeferred(sender any, args EventArgs) error {
	if b.closed.Load() {
		return ErrBusClosed
	}
	if args == nil {
		return ErrInvalidEvent
	}

	env, err := b.envelopes.Acquire()
	if err != nil {
		return err
	}
	env.fill(sender, args)

	b.qmu.Lock()
	b.deferred.Add(env)
	b.qmu.Unlock()

	b.metrics.deferred.Add(1)
	return nil
}

// Update delivers the events that were queued when it started; events fired
// from handlers during Update wait for the next call. Failures are logged and
// returned joined.
func (b *Bus) Update() error {
	b.qmu.Lock()
	n := b.deferred.Length()
	b.qmu.Unlock()

	var errs []error
	for i := 0; i < n; i++ {
		env, ok := b.popDeferred()
		if !ok {
			break
		}
		if err := b.deliver(env); err != nil {
			b.logger.Warn().Err(err).Msg("xpool: deferred dispatch failed")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *Bus) popDeferred() (*Envelope, bool) {
	b.qmu.Lock()
	defer b.qmu.Unlock()
	if b.deferred.Length() == 0 {
		return nil, false
	}
	return b.deferred.Remove().(*Envelope), true
}

func (b *Bus) deliver(env *Envelope) error {
	args := env.Args
	defer func() {
		b.releaseEnvelope(env)
		if b.deferredRelease != nil {
			b.deferredRelease(args)
		}
	}()

	b.metrics.delivered.Add(1)
	return b.dispatch(env)
}

// Pending returns the number of queued deferred events.
func (b *Bus) Pending() int {
	b.qmu.Lock()
	defer b.qmu.Unlock()
	return b.deferred.Length()
}

// Clear drops every queued deferred event without delivering it.
func (b *Bus) Clear() {
	for {
		env, ok := b.popDeferred()
		if !ok {
			return
		}
		args := env.Args
		b.releaseEnvelope(env)
		if b.deferredRelease != nil {
			b.deferredRelease(args)
		}
	}
}

func (b *Bus) dispatch(env *Envelope) error {
	id := env.Args.EventID()
	start := b.clock.Now()
	defer func() { b.recordDispatchTime(b.clock.Since(start).Nanoseconds()) }()

	b.mu.RLock()
	subs := b.handlers[id]
	def := b.defaultHandler
	b.mu.RUnlock()

	if len(subs) == 0 {
		if def != nil {
			if err := def.Handle(env.Sender, env.Args); err != nil {
				return b.handlerFailed(id, -1, err)
			}
			return nil
		}
		if b.mode&ModeAllowNoHandler == 0 {
			b.metrics.noHandler.Add(1)
			b.observers.notify(Event{Type: NoHandler, EventID: id, At: start})
			return fmt.Errorf("%w: event %d", ErrNoHandler, id)
		}
		return nil
	}

	for i, s := range subs {
		// Cancelled after the snapshot was taken.
		if !s.active.Load() {
			continue
		}
		if err := s.wrapped.Handle(env.Sender, env.Args); err != nil {
			return b.handlerFailed(id, i, err)
		}
	}
	return nil
}

func (b *Bus) handlerFailed(id, index int, err error) error {
	herr := &HandlerError{EventID: id, Index: index, Err: err}
	b.metrics.handlerErrors.Add(1)
	b.observers.notify(Event{Type: HandlerFailed, EventID: id, At: b.clock.Now(), Err: herr})
	return herr
}

func (b *Bus) releaseEnvelope(env *Envelope) {
	if err := b.envelopes.Release(env); err != nil {
		b.logger.Error().Err(err).Msg("xpool: envelope release failed")
	}
}

// Metrics returns current bus metrics.
func (b *Bus) Metrics() Metrics {
	return Metrics{
		Fired:         b.metrics.fired.Load(),
		Deferred:      b.metrics.deferred.Load(),
		Delivered:     b.metrics.delivered.Load(),
		HandlerErrors: b.metrics.handlerErrors.Load(),
		NoHandler:     b.metrics.noHandler.Load(),
		EventsDropped: b.observers.dropped(),
		Pending:       b.Pending(),
		AvgDispatchMs: float64(b.metrics.dispatchNs.Load()) / 1e6,
	}
}

// Close drops queued events and stops the observer pool. Idempotent.
func (b *Bus) Close(ctx context.Context) error {
	var closeErr error
	b.closeOnce.Do(func() {
		b.closed.Store(true)
		b.Clear()
		if err := b.observers.close(ctx); err != nil {
			b.logger.Warn().Err(err).Msg("xpool: observer pool shutdown timeout")
			closeErr = err
		}
	})
	return closeErr
}

// AddObserver registers an observer (thread-safe).
func (b *Bus) AddObserver(obs Observer) { b.observers.add(obs) }

// RemoveObserver removes an observer.
func (b *Bus) RemoveObserver(obs Observer) { b.observers.remove(obs) }

// recordDispatchTime keeps an exponential moving average of dispatch time.
func (b *Bus) recordDispatchTime(ns int64) {
	const alpha = 0.2
	current := b.metrics.dispatchNs.Load()
	if current == 0 {
		b.metrics.dispatchNs.Store(ns)
		return
	}
	b.metrics.dispatchNs.Store(int64(float64(ns)*alpha + float64(current)*(1-alpha)))
}

// isComparable reports whether h can be used with ==; func-typed handlers cannot.
func isComparable(h EventHandler) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	return h == h
}
