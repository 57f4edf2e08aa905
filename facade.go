package xpool

import (
	"context"
	"sync"
)

var (
	defaultRegistry   *Registry
	defaultRegistryMu sync.Mutex
)

// Default returns the process-wide Registry, creating it with Defaults() on first use.
// Prefer passing a Registry explicitly; Default exists for glue code.
func Default() *Registry {
	defaultRegistryMu.Lock()
	defer defaultRegistryMu.Unlock()

	if defaultRegistry == nil {
		defaultRegistry = NewRegistry(Defaults())
	}
	return defaultRegistry
}

// SetDefault replaces the process-wide Registry.
func SetDefault(r *Registry) {
	if r == nil {
		panic("xpool: SetDefault called with nil Registry")
	}
	defaultRegistryMu.Lock()
	defaultRegistry = r
	defaultRegistryMu.Unlock()
}

// Shutdown tears down the process-wide Registry if one was created.
func Shutdown(ctx context.Context) error {
	defaultRegistryMu.Lock()
	r := defaultRegistry
	defaultRegistry = nil
	defaultRegistryMu.Unlock()

	if r == nil {
		return nil
	}
	return r.Shutdown(ctx)
}
