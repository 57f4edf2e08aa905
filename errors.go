package xpool

import (
	"errors"
	"fmt"
	"strconv"
)

var (
	// ErrInvariantViolation marks caller bugs caught by strict mode: double release,
	// release without acquire, or a lost release.
	ErrInvariantViolation = errors.New("xpool: invariant violation")

	ErrDuplicateSubscription = errors.New("xpool: duplicate subscription")
	ErrUnknownSubscription   = errors.New("xpool: unknown subscription")
	ErrMultipleHandlers      = errors.New("xpool: multiple handlers not allowed")
	ErrNoHandler             = errors.New("xpool: no handler for event")

	// ErrConfiguration is returned for rejected setup such as acquiring an unregistered type.
	ErrConfiguration = errors.New("xpool: configuration error")

	ErrTimeout          = errors.New("xpool: task timed out")
	ErrTransientFailure = errors.New("xpool: transient failure")

	ErrLeakedObjects               = errors.New("xpool: objects still in use at shutdown")
	ErrBusClosed                   = errors.New("xpool: bus is closed")
	ErrQueueClosed                 = errors.New("xpool: task queue is closed")
	ErrInvalidHandler              = errors.New("xpool: handler must not be nil")
	ErrInvalidEvent                = errors.New("xpool: event args must not be nil")
	ErrObserverPoolShutdownTimeout = errors.New("xpool: observer pool shutdown timeout")
)

// ViolationError describes a strict-mode violation on a specific pool.
type ViolationError struct {
	Type   string
	Op     string
	Reason string
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("xpool: invariant violation: %s %s: %s", e.Op, e.Type, e.Reason)
}

func (e *ViolationError) Unwrap() error { return ErrInvariantViolation }

// ConfigurationError describes a rejected registry or builder setup.
type ConfigurationError struct {
	Type   string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Type == "" {
		return "xpool: configuration error: " + e.Reason
	}
	return fmt.Sprintf("xpool: configuration error: %s: %s", e.Type, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }

// HandlerError carries the failure of one handler during a dispatch.
// The remaining handlers of that dispatch were not invoked.
type HandlerError struct {
	EventID int
	Index   int
	Err     error
}

func (e *HandlerError) Error() string {
	return "xpool: handler " + strconv.Itoa(e.Index) + " for event " + strconv.Itoa(e.EventID) + " failed: " + e.Err.Error()
}

func (e *HandlerError) Unwrap() error { return e.Err }
