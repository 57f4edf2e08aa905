package memory

import (
	"fmt"

	"github.com/trickstertwo/xlog"
	"github.com/trickstertwo/xpool"
	"github.com/trickstertwo/xpool/download"
)

// Use builds a download Manager backed by a new in-memory transport drawing
// from the default registry unless WithRegistry says otherwise.
//
// Example:
//
//	mgr, tr := memory.Use(memory.Config{
//	    ChunkSize: 4096,
//	},
//	    memory.WithLogger(logger),
//	    memory.WithManagerConfig(download.Config{MaxConcurrent: 8, ...}),
//	)
//	tr.Put("mem://a", payload)
//
// Use panics when the manager cannot be built.
func Use(cfg Config, opts ...Option) (*download.Manager, *Transport) {
	tr, err := download.NewTransport(TransportName, cfg.toMap())
	if err != nil {
		panic(fmt.Errorf("memory.Use: %w", err))
	}

	mb := download.NewManagerBuilder().WithTransport(tr)
	for _, o := range opts {
		if o != nil {
			o(mb)
		}
	}

	mgr, err := mb.Build()
	if err != nil {
		panic(fmt.Errorf("memory.Use: %w", err))
	}
	return mgr, tr.(*Transport)
}

// Option configures the download.ManagerBuilder when calling Use.
type Option func(*download.ManagerBuilder)

// WithLogger injects a custom xlog logger.
func WithLogger(l *xlog.Logger) Option {
	return func(b *download.ManagerBuilder) { b.WithLogger(l) }
}

// WithClock injects a custom clock.
func WithClock(c xpool.Clock) Option {
	return func(b *download.ManagerBuilder) { b.WithClock(c) }
}

// WithRegistry pools tasks and events in r instead of the default registry.
func WithRegistry(r *xpool.Registry) Option {
	return func(b *download.ManagerBuilder) { b.WithRegistry(r) }
}

// WithBus fires download events on an existing bus.
func WithBus(bus *xpool.Bus) Option {
	return func(b *download.ManagerBuilder) { b.WithBus(bus) }
}

// WithManagerConfig replaces the manager defaults.
func WithManagerConfig(cfg download.Config) Option {
	return func(b *download.ManagerBuilder) { b.WithConfig(cfg) }
}

// WithObserver attaches observers for task lifecycle events.
func WithObserver(obs ...xpool.Observer) Option {
	return func(b *download.ManagerBuilder) { b.WithObserver(obs...) }
}
