package xpool

import (
	"context"
	"time"
)

// Recyclable is implemented by values that can be returned to a Pool and reused.
// Reset must leave the value indistinguishable from a freshly constructed one and must not panic.
type Recyclable interface {
	Reset()
}

// Item is the constraint for pooled values: a comparable Recyclable, in practice a pointer.
type Item interface {
	comparable
	Recyclable
}

// Ptr ties a pooled pointer type to its element type so pools can construct
// instances with new(E) when no factory was registered.
type Ptr[E any] interface {
	*E
	Recyclable
}

// EventArgs is a pooled event payload with a stable per-type identity.
type EventArgs interface {
	Recyclable
	EventID() int
}

// EventHandler receives events fired on a Bus. Return an error to abort the dispatch.
// Handlers are compared by value for duplicate detection, so use pointer types or Func.
type EventHandler interface {
	Handle(sender any, args EventArgs) error
}

// Middleware composes processing concerns around an EventHandler.
type Middleware func(next EventHandler) EventHandler

// Observer receives lifecycle events. Implementations should be non-blocking.
type Observer interface {
	OnEvent(e Event)
}

// Clock is the time source used by the bus and task queue.
// xclock.Clock satisfies it.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
}

// API is the event bus surface exposed to the surrounding framework.
type API interface {
	Subscribe(id int, h EventHandler) (*Subscription, error)
	Unsubscribe(id int, h EventHandler) error
	FireNow(sender any, args EventArgs) error
	FireDeferred(sender any, args EventArgs) error
	Update() error
	Metrics() Metrics
	Close(ctx context.Context) error
	AddObserver(obs Observer)
	RemoveObserver(obs Observer)
}

var _ API = (*Bus)(nil)
