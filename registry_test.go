package xpool

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingObserver collects lifecycle events.
type recordingObserver struct {
	mu     sync.Mutex
	events []Event
}

func (o *recordingObserver) OnEvent(e Event) {
	o.mu.Lock()
	o.events = append(o.events, e)
	o.mu.Unlock()
}

func (o *recordingObserver) ofType(typ EventType) []Event {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []Event
	for _, e := range o.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func TestRegistry_PoolOfConcurrentFirstUse(t *testing.T) {
	r := NewRegistry(Defaults())

	const n = 64
	pools := make([]*Pool[*widget], n)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			p, err := PoolOf[widget](r)
			if err == nil {
				pools[i] = p
			}
		}(i)
	}
	close(start)
	wg.Wait()

	for _, p := range pools {
		assert.Same(t, pools[0], p)
	}
	assert.Equal(t, 1, r.Count())
}

func TestRegistry_AcquireRelease(t *testing.T) {
	r := NewRegistry(Defaults())

	w, err := Acquire[widget](r)
	require.NoError(t, err)
	w.ID = 3
	require.NoError(t, Release(r, w))
	assert.Equal(t, 0, w.ID)

	again, err := Acquire[widget](r)
	require.NoError(t, err)
	assert.Same(t, w, again)

	st := r.Snapshot()
	require.Len(t, st, 1)
	assert.Equal(t, uint64(1), st[0].CreatedTotal)
	assert.Equal(t, "*xpool.widget", st[0].Type)
}

func TestRegistry_AutoCreateDisabled(t *testing.T) {
	cfg := Defaults()
	cfg.AutoCreate = false
	r := NewRegistry(cfg)

	_, err := Acquire[widget](r)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfiguration)
	var cerr *ConfigurationError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "*xpool.widget", cerr.Type)
	assert.Equal(t, 0, r.Count())

	_, err = Register(r, "widget", newWidget)
	require.NoError(t, err)

	w, err := Acquire[widget](r)
	require.NoError(t, err)
	assert.NotNil(t, w.Data, "registered factory is used")
}

func TestRegistry_RegisterTwice(t *testing.T) {
	r := NewRegistry(Defaults())

	_, err := Register(r, "widget", newWidget)
	require.NoError(t, err)
	_, err = Register(r, "widget", newWidget)
	assert.ErrorIs(t, err, ErrConfiguration)

	_, err = Register[gadget](r, "gadget", nil)
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestRegistry_EnsureToleratesExisting(t *testing.T) {
	r := NewRegistry(Defaults())

	p1, err := Register(r, "widget", newWidget)
	require.NoError(t, err)
	p2, err := Ensure(r, "other", newWidget)
	require.NoError(t, err)
	assert.Same(t, p1, p2)
	assert.Equal(t, "widget", p2.Name())
}

func TestRegistry_ReleaseWithoutPool(t *testing.T) {
	obs := &recordingObserver{}
	r := NewRegistry(Defaults(), WithObserver(obs))

	err := Release(r, &gadget{})
	assert.ErrorIs(t, err, ErrInvariantViolation)
	assert.Len(t, obs.ofType(Violation), 1)
}

func TestRegistry_SnapshotSortedByType(t *testing.T) {
	r := NewRegistry(Defaults())
	_, err := Register(r, "b.widget", newWidget)
	require.NoError(t, err)
	_, err = Register(r, "a.gadget", func() *gadget { return &gadget{} })
	require.NoError(t, err)

	st := r.Snapshot()
	require.Len(t, st, 2)
	assert.Equal(t, "a.gadget", st[0].Type)
	assert.Equal(t, "b.widget", st[1].Type)
}

func TestRegistry_PrewarmRemoveReleaseAllUnused(t *testing.T) {
	r := NewRegistry(Defaults())

	require.NoError(t, Prewarm[widget](r, 3))
	require.NoError(t, Prewarm[gadget](r, 2))

	n, err := Remove[widget](r, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, 4, r.ReleaseAllUnused())
	for _, st := range r.Snapshot() {
		assert.Equal(t, 0, st.FreeCount)
	}

	n, err = RemoveAll[widget](r)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRegistry_StrictFlagAppliesToNewPools(t *testing.T) {
	r := NewRegistry(Defaults())
	wp, err := PoolOf[widget](r)
	require.NoError(t, err)

	r.EnableStrictCheck(true)
	assert.True(t, r.StrictCheck())
	gp, err := PoolOf[gadget](r)
	require.NoError(t, err)

	assert.False(t, wp.Strict())
	assert.True(t, gp.Strict())

	g, err := gp.Acquire()
	require.NoError(t, err)
	require.NoError(t, Release(r, g))
	assert.ErrorIs(t, Release(r, g), ErrInvariantViolation)
}

func TestRegistry_ObserverSeesPoolCreated(t *testing.T) {
	obs := &recordingObserver{}
	r := NewRegistry(Defaults())
	r.AddObserver(obs)

	_, err := PoolOf[widget](r)
	require.NoError(t, err)
	_, err = PoolOf[widget](r)
	require.NoError(t, err)

	created := obs.ofType(PoolCreated)
	require.Len(t, created, 1)
	assert.Equal(t, "*xpool.widget", created[0].Pool)

	r.RemoveObserver(obs)
	_, err = PoolOf[gadget](r)
	require.NoError(t, err)
	assert.Len(t, obs.ofType(PoolCreated), 1)
}

func TestRegistry_ShutdownReportsLeaks(t *testing.T) {
	obs := &recordingObserver{}
	r := NewRegistry(Defaults(), WithObserver(obs))

	_, err := Acquire[widget](r)
	require.NoError(t, err)
	g, err := Acquire[gadget](r)
	require.NoError(t, err)
	require.NoError(t, Release(r, g))

	err = r.Shutdown(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLeakedObjects)
	assert.Contains(t, err.Error(), "*xpool.widget")
	assert.NotContains(t, err.Error(), "gadget")

	leaks := obs.ofType(Leak)
	require.Len(t, leaks, 1)
	assert.Equal(t, "*xpool.widget", leaks[0].Pool)

	assert.NoError(t, r.Shutdown(context.Background()), "second shutdown is a no-op")
	assert.Equal(t, 0, r.Count())
}

func TestRegistry_ShutdownWithoutFailOnLeak(t *testing.T) {
	cfg := Defaults()
	cfg.FailOnLeak = false
	r := NewRegistry(cfg)

	_, err := Acquire[widget](r)
	require.NoError(t, err)
	assert.NoError(t, r.Shutdown(context.Background()))
}

func TestNewRegistry_PanicsOnInvalidConfig(t *testing.T) {
	cfg := Defaults()
	cfg.ObserverWorkers = -1
	assert.Panics(t, func() { NewRegistry(cfg) })
}

func TestDefaultRegistryFacade(t *testing.T) {
	r := NewRegistry(Defaults())
	SetDefault(r)
	assert.Same(t, r, Default())

	require.NoError(t, Shutdown(context.Background()))
	fresh := Default()
	assert.NotSame(t, r, fresh)
	assert.Panics(t, func() { SetDefault(nil) })
}

func TestRegistryContext(t *testing.T) {
	r := NewRegistry(Defaults())
	ctx := WithRegistryContext(context.Background(), r)
	assert.Same(t, r, RegistryFromContext(ctx))
	assert.Same(t, Default(), RegistryFromContext(context.Background()))

	_, ok := LoggerFromContext(context.Background())
	assert.False(t, ok)
	l, ok := LoggerFromContext(WithLoggerContext(ctx, r.Logger()))
	assert.True(t, ok)
	assert.Same(t, r.Logger(), l)
}

func TestViolationErrorMatching(t *testing.T) {
	var err error = &ViolationError{Type: "t", Op: "release", Reason: "x"}
	assert.True(t, errors.Is(err, ErrInvariantViolation))
	assert.False(t, errors.Is(err, ErrConfiguration))
}
