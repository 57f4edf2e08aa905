package xpool

import (
	"sync"
	"sync/atomic"
)

// ReservedEventIDs is the top of the range kept for framework-defined identities.
// Identities assigned by EventIDOf start right above it.
const ReservedEventIDs = 1000

var (
	eventIDSeq atomic.Int64
	eventIDs   sync.Map // typeKey[T] -> int
)

// EventIDOf returns the stable identity of payload type T.
// The first caller for a type assigns it; concurrent first calls agree on one value.
// A losing racer burns a number, so identities are unique but not necessarily dense.
func EventIDOf[T any]() int {
	key := typeKey[T]{}
	if v, ok := eventIDs.Load(key); ok {
		return v.(int)
	}
	id := ReservedEventIDs + int(eventIDSeq.Add(1))
	v, _ := eventIDs.LoadOrStore(key, id)
	return v.(int)
}
