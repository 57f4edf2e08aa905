package xpool

import (
	"context"
	"strconv"
	"sync"

	"github.com/trickstertwo/xlog"
)

// ObserverFunc is an Adapter that lets a plain function satisfy Observer.
// Func observers cannot be removed with RemoveObserver; use a pointer type for that.
type ObserverFunc func(e Event)

func (f ObserverFunc) OnEvent(e Event) { f(e) }

// LoggingObserver is an Adapter that emits lifecycle events via xlog.
type LoggingObserver struct {
	Logger *xlog.Logger
}

func (o LoggingObserver) OnEvent(e Event) {
	if o.Logger == nil {
		return
	}
	ev := o.Logger.With(
		xlog.Str("type", string(e.Type)),
		xlog.Str("pool", e.Pool),
		xlog.Str("event_id", strconv.Itoa(e.EventID)),
		xlog.Str("serial", strconv.FormatInt(e.Serial, 10)),
		xlog.Str("tag", e.Tag),
	)
	switch e.Type {
	case Violation, Leak, HandlerFailed, TaskFailed, TaskTimedOut:
		ev.Warn().Err(e.Err).Msg("xpool event")
	default:
		if e.Duration > 0 {
			ev = ev.With(xlog.Dur("duration", e.Duration))
		}
		ev.Debug().Msg("xpool event")
	}
}

// observerSet fans lifecycle events out to observers, synchronously or through an ObserverPool.
type observerSet struct {
	mu        sync.RWMutex
	observers []Observer
	pool      *ObserverPool
}

func newObserverSet(workers, buffer int) *observerSet {
	s := &observerSet{}
	if workers > 0 {
		s.pool = NewObserverPool(context.Background(), workers, buffer)
	}
	return s
}

func (s *observerSet) add(obs Observer) {
	if obs == nil {
		return
	}
	s.mu.Lock()
	s.observers = append(s.observers, obs)
	s.mu.Unlock()
}

func (s *observerSet) remove(obs Observer) {
	if obs == nil {
		return
	}
	if _, ok := obs.(ObserverFunc); ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, o := range s.observers {
		if _, isFunc := o.(ObserverFunc); isFunc {
			continue
		}
		if o == obs {
			s.observers = append(s.observers[:i:i], s.observers[i+1:]...)
			break
		}
	}
}

func (s *observerSet) notify(e Event) {
	s.mu.RLock()
	if len(s.observers) == 0 {
		s.mu.RUnlock()
		return
	}
	obs := make([]Observer, len(s.observers))
	copy(obs, s.observers)
	s.mu.RUnlock()

	if s.pool != nil {
		s.pool.Notify(e, obs)
		return
	}
	for _, o := range obs {
		func() {
			defer func() { _ = recover() }()
			o.OnEvent(e)
		}()
	}
}

func (s *observerSet) dropped() uint64 {
	if s.pool == nil {
		return 0
	}
	return s.pool.Stats().Dropped
}

func (s *observerSet) close(ctx context.Context) error {
	if s.pool == nil {
		return nil
	}
	return s.pool.Close(ctx)
}
