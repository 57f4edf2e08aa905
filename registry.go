package xpool

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// typeKey identifies a pooled type without reflection: each E yields a distinct key type.
type typeKey[E any] struct{}

type poolHandle interface {
	Name() string
	Stats() PoolStats
	InUse() int
	RemoveAll() int
}

// Registry maps pooled types to their pools. The type map is copy-on-write:
// reads are lock-free, the mutex only guards first-use creation.
type Registry struct {
	cfg       Config
	logger    *xlog.Logger
	clock     Clock
	strict    atomic.Bool
	mu        sync.Mutex
	pools     atomic.Pointer[map[any]poolHandle]
	observers *observerSet
	closeOnce sync.Once
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogger injects a custom xlog logger.
func WithLogger(l *xlog.Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithClock injects a custom clock.
func WithClock(c Clock) RegistryOption {
	return func(r *Registry) {
		if c != nil {
			r.clock = c
		}
	}
}

// WithObserver attaches observers for lifecycle events.
func WithObserver(obs ...Observer) RegistryOption {
	return func(r *Registry) {
		for _, o := range obs {
			r.observers.add(o)
		}
	}
}

// NewRegistry creates a registry. Panics on an invalid Config.
func NewRegistry(cfg Config, opts ...RegistryOption) *Registry {
	if err := cfg.Validate(); err != nil {
		panic(err)
	}
	r := &Registry{
		cfg:    cfg,
		logger: xlog.Default(),
		clock:  xclock.Default(),
	}
	r.observers = newObserverSet(cfg.ObserverWorkers, cfg.ObserverBuffer)
	r.strict.Store(cfg.StrictCheck)
	empty := make(map[any]poolHandle)
	r.pools.Store(&empty)
	for _, o := range opts {
		if o != nil {
			o(r)
		}
	}
	return r
}

// EnableStrictCheck toggles strict mode for pools created from now on.
func (r *Registry) EnableStrictCheck(on bool) { r.strict.Store(on) }

// StrictCheck reports the current strict-mode flag.
func (r *Registry) StrictCheck() bool { return r.strict.Load() }

// Logger returns the registry logger.
func (r *Registry) Logger() *xlog.Logger { return r.logger }

// Clock returns the registry clock.
func (r *Registry) Clock() Clock { return r.clock }

// AddObserver registers an observer (thread-safe).
func (r *Registry) AddObserver(obs Observer) { r.observers.add(obs) }

// RemoveObserver removes an observer.
func (r *Registry) RemoveObserver(obs Observer) { r.observers.remove(obs) }

// Count returns the number of pools.
func (r *Registry) Count() int { return len(*r.pools.Load()) }

func (r *Registry) load(key any) (poolHandle, bool) {
	h, ok := (*r.pools.Load())[key]
	return h, ok
}

// Snapshot returns every pool's counters sorted by type name.
func (r *Registry) Snapshot() []PoolStats {
	pools := *r.pools.Load()
	out := make([]PoolStats, 0, len(pools))
	for _, h := range pools {
		out = append(out, h.Stats())
	}
	slices.SortFunc(out, func(a, b PoolStats) int { return strings.Compare(a.Type, b.Type) })
	return out
}

// ReleaseAllUnused drops the idle instances of every pool and returns how many were dropped.
func (r *Registry) ReleaseAllUnused() int {
	total := 0
	for _, h := range *r.pools.Load() {
		total += h.RemoveAll()
	}
	return total
}

// Shutdown drops all pools. Pools with instances still in use are logged and
// reported to observers; with FailOnLeak the leaks are returned as ErrLeakedObjects.
// Subsequent calls are no-ops.
func (r *Registry) Shutdown(ctx context.Context) error {
	var shutdownErr error
	r.closeOnce.Do(func() {
		r.mu.Lock()
		pools := *r.pools.Load()
		empty := make(map[any]poolHandle)
		r.pools.Store(&empty)
		r.mu.Unlock()

		var leaks []error
		for _, h := range pools {
			h.RemoveAll()
			n := h.InUse()
			if n <= 0 {
				continue
			}
			leak := fmt.Errorf("%w: %s has %d", ErrLeakedObjects, h.Name(), n)
			r.logger.Error().Str("type", h.Name()).Err(leak).Msg("xpool: leaked objects at shutdown")
			r.observers.notify(Event{Type: Leak, Pool: h.Name(), At: r.clock.Now(), Err: leak})
			leaks = append(leaks, leak)
		}

		if err := r.observers.close(ctx); err != nil {
			r.logger.Warn().Err(err).Msg("xpool: observer pool shutdown timeout")
		}
		if r.cfg.FailOnLeak && len(leaks) > 0 {
			shutdownErr = errors.Join(leaks...)
		}
	})
	return shutdownErr
}

func (r *Registry) reportViolation(err *ViolationError) {
	r.logger.Error().Str("type", err.Type).Str("op", err.Op).Err(err).Msg("xpool: strict violation")
	r.observers.notify(Event{Type: Violation, Pool: err.Type, At: r.clock.Now(), Err: err})
}

func typeName[E any, P Ptr[E]]() string {
	var zero P
	return fmt.Sprintf("%T", zero)
}

// createPool returns the pool for E, creating it with factory if needed.
// exclusive makes an existing pool a ConfigurationError (explicit registration).
func createPool[E any, P Ptr[E]](r *Registry, name string, factory func() P, exclusive bool) (*Pool[P], error) {
	key := typeKey[E]{}
	if h, ok := r.load(key); ok {
		if exclusive {
			return nil, &ConfigurationError{Type: h.Name(), Reason: "type already registered"}
		}
		return h.(*Pool[P]), nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.load(key); ok {
		if exclusive {
			return nil, &ConfigurationError{Type: h.Name(), Reason: "type already registered"}
		}
		return h.(*Pool[P]), nil
	}

	p := NewPool[P](name, factory,
		WithStrict(r.strict.Load()),
		WithPanicOnViolation(r.cfg.PanicOnViolation),
		WithViolationHook(r.reportViolation),
	)

	old := *r.pools.Load()
	next := make(map[any]poolHandle, len(old)+1)
	for k, v := range old {
		next[k] = v
	}
	next[key] = p
	r.pools.Store(&next)

	r.logger.Debug().Str("type", name).Msg("xpool: pool created")
	r.observers.notify(Event{Type: PoolCreated, Pool: name, At: r.clock.Now()})
	return p, nil
}

// Register installs the constructor for E. Registering the same type twice is a ConfigurationError.
// An empty name defaults to the Go type name.
func Register[E any, P Ptr[E]](r *Registry, name string, factory func() P) (*Pool[P], error) {
	if factory == nil {
		return nil, &ConfigurationError{Type: typeName[E, P](), Reason: "factory must not be nil"}
	}
	if name == "" {
		name = typeName[E, P]()
	}
	return createPool[E, P](r, name, factory, true)
}

// Ensure returns the pool for E, creating it with factory if no pool exists yet.
// Unlike Register it tolerates a prior registration and ignores AutoCreate.
func Ensure[E any, P Ptr[E]](r *Registry, name string, factory func() P) (*Pool[P], error) {
	if factory == nil {
		return nil, &ConfigurationError{Type: typeName[E, P](), Reason: "factory must not be nil"}
	}
	if name == "" {
		name = typeName[E, P]()
	}
	return createPool[E, P](r, name, factory, false)
}

// PoolOf returns the pool for E, creating it with new(E) when auto-creation is allowed.
func PoolOf[E any, P Ptr[E]](r *Registry) (*Pool[P], error) {
	if h, ok := r.load(typeKey[E]{}); ok {
		return h.(*Pool[P]), nil
	}
	if !r.cfg.AutoCreate {
		return nil, &ConfigurationError{Type: typeName[E, P](), Reason: "type not registered and auto-create disabled"}
	}
	return createPool[E, P](r, typeName[E, P](), func() P { return P(new(E)) }, false)
}

// Acquire takes an instance of E from its pool.
func Acquire[E any, P Ptr[E]](r *Registry) (P, error) {
	p, err := PoolOf[E, P](r)
	if err != nil {
		return nil, err
	}
	return p.Acquire()
}

// Release returns obj to the pool of its type.
func Release[E any, P Ptr[E]](r *Registry, obj P) error {
	h, ok := r.load(typeKey[E]{})
	if !ok {
		err := &ViolationError{Type: typeName[E, P](), Op: "release", Reason: "no pool for type (foreign object)"}
		r.reportViolation(err)
		if r.cfg.PanicOnViolation {
			panic(err)
		}
		return err
	}
	return h.(*Pool[P]).Release(obj)
}

// Prewarm constructs n idle instances of E.
func Prewarm[E any, P Ptr[E]](r *Registry, n int) error {
	p, err := PoolOf[E, P](r)
	if err != nil {
		return err
	}
	p.Prewarm(n)
	return nil
}

// Remove drops up to n idle instances of E.
func Remove[E any, P Ptr[E]](r *Registry, n int) (int, error) {
	p, err := PoolOf[E, P](r)
	if err != nil {
		return 0, err
	}
	return p.Remove(n), nil
}

// RemoveAll drops every idle instance of E.
func RemoveAll[E any, P Ptr[E]](r *Registry) (int, error) {
	p, err := PoolOf[E, P](r)
	if err != nil {
		return 0, err
	}
	return p.RemoveAll(), nil
}
