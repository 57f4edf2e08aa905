package redisstream

import (
	"fmt"

	"github.com/trickstertwo/xpool"
)

// Use connects an Adapter and attaches it to bus for every identity in ids.
// It panics when Redis is unreachable or a subscription is rejected.
func Use(cfg Config, bus *xpool.Bus, ids []int, opts ...Option) *Adapter {
	a, err := NewAdapter(cfg, opts...)
	if err != nil {
		panic(fmt.Errorf("redisstream.Use: %w", err))
	}
	if _, err := a.Attach(bus, ids...); err != nil {
		_ = a.client.Close()
		panic(fmt.Errorf("redisstream.Use: %w", err))
	}
	return a
}

// NewAdapterFromMap builds an Adapter from a generic config blob.
func NewAdapterFromMap(cfg map[string]any, opts ...Option) (*Adapter, error) {
	return NewAdapter(ConfigFromMap(cfg), opts...)
}
