package xpool

import (
	"fmt"
	"math/rand"
	"time"
)

type funcHandler struct {
	fn func(sender any, args EventArgs) error
}

func (h *funcHandler) Handle(sender any, args EventArgs) error { return h.fn(sender, args) }

// Func adapts a plain function to EventHandler. Each call returns a distinct
// handler value; keep it to Unsubscribe later.
func Func(fn func(sender any, args EventArgs) error) EventHandler {
	return &funcHandler{fn: fn}
}

type middlewareHandler struct {
	fn func(sender any, args EventArgs) error
}

func (h middlewareHandler) Handle(sender any, args EventArgs) error { return h.fn(sender, args) }

// HandlerFunc wraps fn for use inside middlewares. Unlike Func the result is not
// meant for subscription identity.
func HandlerFunc(fn func(sender any, args EventArgs) error) EventHandler {
	return middlewareHandler{fn: fn}
}

// RetryConfig controls retry behavior for handler middleware.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts including the first execution.
	MaxAttempts int
	// Backoff computes the wait before the next attempt. Nil retries immediately.
	Backoff func(attempt int) time.Duration
	// RetryIf, when provided, returns true if the error should be retried.
	RetryIf func(err error) bool
	// Jitter adds up to [0, Jitter] random delay to the backoff.
	Jitter time.Duration
}

// RetryMiddleware re-invokes a failing handler a bounded number of times.
// Waiting happens on the dispatching goroutine, so keep backoffs short.
func RetryMiddleware(cfg RetryConfig) Middleware {
	return func(next EventHandler) EventHandler {
		return HandlerFunc(func(sender any, args EventArgs) error {
			attempts := cfg.MaxAttempts
			if attempts < 1 {
				attempts = 1
			}
			shouldRetry := cfg.RetryIf
			if shouldRetry == nil {
				shouldRetry = func(error) bool { return true }
			}
			var lastErr error
			for i := 1; i <= attempts; i++ {
				lastErr = next.Handle(sender, args)
				if lastErr == nil {
					return nil
				}
				if i == attempts || !shouldRetry(lastErr) {
					return lastErr
				}
				if cfg.Backoff != nil {
					wait := cfg.Backoff(i)
					if cfg.Jitter > 0 {
						wait += time.Duration(rand.Int63n(int64(cfg.Jitter)))
					}
					time.Sleep(wait)
				}
			}
			return lastErr
		})
	}
}

// RecoveryMiddleware converts handler panics into errors.
func RecoveryMiddleware() Middleware {
	return func(next EventHandler) EventHandler {
		return HandlerFunc(func(sender any, args EventArgs) (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("panic recovered: %v", r)
				}
			}()
			return next.Handle(sender, args)
		})
	}
}

// Chain composes middlewares around a handler in order.
func Chain(h EventHandler, mws ...Middleware) EventHandler {
	if len(mws) == 0 {
		return h
	}
	wrapped := h
	// Apply in reverse so that first middleware wraps last.
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] == nil {
			continue
		}
		wrapped = mws[i](wrapped)
	}
	return wrapped
}
