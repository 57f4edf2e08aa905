package download

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/trickstertwo/xpool"
)

// Request is the immutable description of one download attempt handed to a Transport.
type Request struct {
	Serial          int64
	SourceURI       string
	DestinationPath string
	// FlushThreshold is the chunk size after which received bytes are written out.
	FlushThreshold int64
	Timeout        time.Duration
}

// Progress reports bytes received since the previous call.
type Progress func(delta int64)

// Transport fetches one source into its destination.
//
// Download blocks until the transfer ends and must return promptly once ctx is
// cancelled (timeout, removal, shutdown). Errors wrapped with Transient are retried.
type Transport interface {
	Download(ctx context.Context, req Request, progress Progress) error
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, req Request, progress Progress) error

func (f TransportFunc) Download(ctx context.Context, req Request, progress Progress) error {
	return f(ctx, req, progress)
}

type transientError struct{ err error }

func (e *transientError) Error() string { return "transient: " + e.err.Error() }
func (e *transientError) Unwrap() []error {
	return []error{xpool.ErrTransientFailure, e.err}
}

// Transient marks err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err was marked with Transient.
func IsTransient(err error) bool {
	return errors.Is(err, xpool.ErrTransientFailure)
}

// TransportFactory constructs transports from a config blob.
type TransportFactory func(cfg map[string]any) (Transport, error)

var (
	transportRegistryMu sync.RWMutex
	transportRegistry   = map[string]TransportFactory{}
)

// ErrUnknownTransport is returned by NewTransport for unregistered names.
var ErrUnknownTransport = errors.New("download: unknown transport")

// RegisterTransport registers a transport adapter by name.
func RegisterTransport(name string, factory TransportFactory) error {
	if name == "" {
		return errors.New("transport name must not be empty")
	}
	if factory == nil {
		return errors.New("transport factory must not be nil")
	}
	transportRegistryMu.Lock()
	transportRegistry[name] = factory
	transportRegistryMu.Unlock()
	return nil
}

// NewTransport constructs a transport by name with config.
func NewTransport(name string, cfg map[string]any) (Transport, error) {
	transportRegistryMu.RLock()
	f, ok := transportRegistry[name]
	transportRegistryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTransport, name)
	}
	return f(cfg)
}
