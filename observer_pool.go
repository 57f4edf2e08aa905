package xpool

import (
	"context"
	"sync"
	"sync/atomic"
)

// ObserverPool manages asynchronous event dispatching to observers.
// Non-blocking: drops events if the buffer is full instead of stalling the caller.
type ObserverPool struct {
	eventCh   chan Event
	workers   int
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closed    atomic.Bool
	dropped   atomic.Uint64
	processed atomic.Uint64
}

// NewObserverPool creates a pool for async observer notification.
// workers: number of dispatch goroutines; bufferSize: channel capacity.
func NewObserverPool(ctx context.Context, workers, bufferSize int) *ObserverPool {
	if workers < 1 {
		workers = 1
	}
	if bufferSize < 1 {
		bufferSize = 1024
	}

	poolCtx, cancel := context.WithCancel(ctx)
	op := &ObserverPool{
		eventCh: make(chan Event, bufferSize),
		workers: workers,
		ctx:     poolCtx,
		cancel:  cancel,
	}

	for i := 0; i < workers; i++ {
		op.wg.Add(1)
		go op.worker()
	}

	return op
}

// Notify queues e for the given observers. The slice is owned by the pool afterwards.
func (op *ObserverPool) Notify(e Event, observers []Observer) {
	if len(observers) == 0 || op.closed.Load() {
		return
	}
	e.observers = observers

	select {
	case op.eventCh <- e:
	default:
		op.dropped.Add(1)
	}
}

func (op *ObserverPool) worker() {
	defer op.wg.Done()
	for {
		select {
		case <-op.ctx.Done():
			// drain what is already queued
			for {
				select {
				case e := <-op.eventCh:
					op.dispatchEvent(e)
				default:
					return
				}
			}
		case e := <-op.eventCh:
			op.dispatchEvent(e)
		}
	}
}

// dispatchEvent tolerates observer panics so a bad observer cannot kill a worker.
func (op *ObserverPool) dispatchEvent(e Event) {
	for _, obs := range e.observers {
		if obs == nil {
			continue
		}
		func() {
			defer func() { _ = recover() }()
			obs.OnEvent(e)
		}()
	}
	op.processed.Add(1)
}

// Close stops the workers after they drain the queue, or when ctx expires.
func (op *ObserverPool) Close(ctx context.Context) error {
	if op.closed.Swap(true) {
		return nil
	}

	op.cancel()

	done := make(chan struct{})
	go func() {
		op.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ErrObserverPoolShutdownTimeout
	}
}

// Stats returns current pool statistics.
func (op *ObserverPool) Stats() ObserverPoolStats {
	return ObserverPoolStats{
		Dropped:      op.dropped.Load(),
		Processed:    op.processed.Load(),
		ActiveEvents: len(op.eventCh),
		Workers:      op.workers,
		BufferSize:   cap(op.eventCh),
	}
}
