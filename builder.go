package xpool

import (
	"context"

	"github.com/eapache/queue"
	"github.com/trickstertwo/xlog"
)

// BusBuilder constructs Bus instances (Builder pattern).
type BusBuilder struct {
	registry        *Registry
	middlewares     []Middleware
	observers       []Observer
	logger          *xlog.Logger
	clock           Clock
	mode            Mode
	deferredRelease func(EventArgs)
	observerWorkers int
	observerBuffer  int
}

// NewBusBuilder returns a new builder with DefaultMode.
func NewBusBuilder() *BusBuilder {
	return &BusBuilder{mode: DefaultMode}
}

// WithRegistry selects the registry envelopes are pooled in (default: Default()).
func (bb *BusBuilder) WithRegistry(r *Registry) *BusBuilder {
	bb.registry = r
	return bb
}

func (bb *BusBuilder) WithMiddleware(mw ...Middleware) *BusBuilder {
	if len(mw) == 0 {
		return bb
	}
	bb.middlewares = append(bb.middlewares, mw...)
	return bb
}

func (bb *BusBuilder) WithObserver(obs ...Observer) *BusBuilder {
	for _, o := range obs {
		if o != nil {
			bb.observers = append(bb.observers, o)
		}
	}
	return bb
}

func (bb *BusBuilder) WithLogger(l *xlog.Logger) *BusBuilder {
	bb.logger = l
	return bb
}

func (bb *BusBuilder) WithClock(c Clock) *BusBuilder {
	bb.clock = c
	return bb
}

func (bb *BusBuilder) WithMode(m Mode) *BusBuilder {
	bb.mode = m
	return bb
}

// WithDeferredRelease hands deferred payloads back to the caller's pool once delivered or dropped.
func (bb *BusBuilder) WithDeferredRelease(fn func(EventArgs)) *BusBuilder {
	bb.deferredRelease = fn
	return bb
}

// WithObserverPool dispatches observer notifications asynchronously.
func (bb *BusBuilder) WithObserverPool(workers, bufferSize int) *BusBuilder {
	bb.observerWorkers = workers
	bb.observerBuffer = bufferSize
	return bb
}

func (bb *BusBuilder) Build() (*Bus, error) {
	reg := bb.registry
	if reg == nil {
		reg = Default()
	}

	envelopes, err := Ensure[Envelope](reg, "xpool.Envelope", func() *Envelope { return new(Envelope) })
	if err != nil {
		return nil, err
	}

	clk := bb.clock
	if clk == nil {
		clk = reg.Clock()
	}
	lg := bb.logger
	if lg == nil {
		lg = reg.Logger()
	}

	b := &Bus{
		registry:        reg,
		envelopes:       envelopes,
		clock:           clk,
		logger:          lg,
		middlewares:     bb.middlewares,
		mode:            bb.mode,
		deferredRelease: bb.deferredRelease,
		handlers:        make(map[int][]*Subscription),
		deferred:        queue.New(),
		observers:       newObserverSet(bb.observerWorkers, bb.observerBuffer),
		metrics:         &busMetrics{},
	}

	// Attach logging observer first unless one was supplied.
	hasLoggingObserver := false
	for _, o := range bb.observers {
		if _, ok := o.(LoggingObserver); ok {
			hasLoggingObserver = true
			break
		}
	}
	if !hasLoggingObserver && lg != nil {
		b.AddObserver(LoggingObserver{Logger: lg})
	}
	for _, o := range bb.observers {
		b.AddObserver(o)
	}

	return b, nil
}

// NewBus constructs a Bus via Builder and returns a close func for convenience.
func NewBus(init func(b *BusBuilder)) (*Bus, func() error, error) {
	b := NewBusBuilder()
	if init != nil {
		init(b)
	}
	bus, err := b.Build()
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() error { return bus.Close(context.Background()) }
	return bus, closeFn, nil
}
