package xpool

import (
	"context"

	"github.com/trickstertwo/xlog"
)

// ctxKey is the base for all context keys in xpool (prevents collisions).
type ctxKey string

const (
	registryCtxKey ctxKey = "xpool:registry"
	loggerCtxKey   ctxKey = "xpool:logger"
)

// WithRegistryContext attaches r to ctx so subsystems started from it share one registry.
func WithRegistryContext(ctx context.Context, r *Registry) context.Context {
	if r == nil {
		return ctx
	}
	return context.WithValue(ctx, registryCtxKey, r)
}

// RegistryFromContext returns the registry attached to ctx, falling back to Default().
func RegistryFromContext(ctx context.Context) *Registry {
	if v := ctx.Value(registryCtxKey); v != nil {
		if r, ok := v.(*Registry); ok && r != nil {
			return r
		}
	}
	return Default()
}

func WithLoggerContext(ctx context.Context, l *xlog.Logger) context.Context {
	if l == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerCtxKey, l)
}

func LoggerFromContext(ctx context.Context) (*xlog.Logger, bool) {
	if v := ctx.Value(loggerCtxKey); v != nil {
		if l, ok := v.(*xlog.Logger); ok && l != nil {
			return l, true
		}
	}
	return nil, false
}
