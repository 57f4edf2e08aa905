package xpool

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type widget struct {
	ID     int
	Data   []byte
	resets int
}

func (w *widget) Reset() {
	w.ID = 0
	w.Data = w.Data[:0]
	w.resets++
}

type gadget struct{ Name string }

func (g *gadget) Reset() { g.Name = "" }

func newWidget() *widget { return &widget{Data: make([]byte, 0, 64)} }

// manualClock is a Clock that only moves when told to.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Since(t time.Time) time.Duration { return c.Now().Sub(t) }

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func assertPoolInvariant(t *testing.T, st PoolStats) {
	t.Helper()
	assert.Equal(t, int(st.CreatedTotal-st.RemovedTotal), st.FreeCount+st.InUseCount,
		"free + in use must equal created - removed")
}

func TestPool_AcquireConstructsWhenEmpty(t *testing.T) {
	p := NewPool("widget", newWidget)

	w, err := p.Acquire()
	require.NoError(t, err)
	require.NotNil(t, w)

	st := p.Stats()
	assert.Equal(t, uint64(1), st.CreatedTotal)
	assert.Equal(t, uint64(1), st.AcquireTotal)
	assert.Equal(t, 1, st.InUseCount)
	assert.Equal(t, 0, st.FreeCount)
	assertPoolInvariant(t, st)
}

func TestPool_ReleaseResetsAndReuses(t *testing.T) {
	p := NewPool("widget", newWidget)

	w, err := p.Acquire()
	require.NoError(t, err)
	w.ID = 42
	w.Data = append(w.Data, "payload"...)

	require.NoError(t, p.Release(w))
	assert.Equal(t, 0, w.ID)
	assert.Empty(t, w.Data)
	assert.Equal(t, 1, w.resets)

	again, err := p.Acquire()
	require.NoError(t, err)
	assert.Same(t, w, again)

	st := p.Stats()
	assert.Equal(t, uint64(1), st.CreatedTotal, "reuse must not construct")
	assert.Equal(t, uint64(2), st.AcquireTotal)
	assert.Equal(t, uint64(1), st.ReleaseTotal)
	assertPoolInvariant(t, st)
}

func TestPool_FreeListIsFIFO(t *testing.T) {
	p := NewPool("widget", newWidget)
	a, _ := p.Acquire()
	b, _ := p.Acquire()
	require.NoError(t, p.Release(a))
	require.NoError(t, p.Release(b))

	first, _ := p.Acquire()
	second, _ := p.Acquire()
	assert.Same(t, a, first)
	assert.Same(t, b, second)
}

func TestPool_StrictDoubleRelease(t *testing.T) {
	p := NewPool("widget", newWidget, WithStrict(true))

	w, err := p.Acquire()
	require.NoError(t, err)
	require.NoError(t, p.Release(w))
	before := p.Stats()

	err = p.Release(w)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvariantViolation)

	var verr *ViolationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "release", verr.Op)
	assert.Equal(t, "widget", verr.Type)

	assert.Equal(t, before, p.Stats(), "counters must be unchanged on violation")
	assert.Equal(t, 1, w.resets, "rejected instance must not be reset again")
}

func TestPool_StrictForeignObject(t *testing.T) {
	p := NewPool("widget", newWidget, WithStrict(true))
	foreign := &widget{ID: 9}

	err := p.Release(foreign)
	assert.ErrorIs(t, err, ErrInvariantViolation)
	assert.Equal(t, 9, foreign.ID, "foreign object must not be reset")
	assert.Equal(t, PoolStats{Type: "widget", Strict: true}, p.Stats())
}

func TestPool_NilReleaseIsViolation(t *testing.T) {
	p := NewPool("widget", newWidget)
	assert.ErrorIs(t, p.Release(nil), ErrInvariantViolation)
	assert.Equal(t, uint64(0), p.Stats().ReleaseTotal)
}

func TestPool_StrictDuplicateAcquire(t *testing.T) {
	shared := &widget{}
	p := NewPool("widget", func() *widget { return shared }, WithStrict(true))

	first, err := p.Acquire()
	require.NoError(t, err)
	assert.Same(t, shared, first)

	_, err = p.Acquire()
	assert.ErrorIs(t, err, ErrInvariantViolation)

	st := p.Stats()
	assert.Equal(t, uint64(1), st.AcquireTotal)
	assert.Equal(t, uint64(1), st.RemovedTotal)
	assertPoolInvariant(t, st)
}

func TestPool_PanicOnViolation(t *testing.T) {
	p := NewPool("widget", newWidget, WithStrict(true), WithPanicOnViolation(true))
	assert.Panics(t, func() { _ = p.Release(&widget{}) })
}

func TestPool_ViolationHook(t *testing.T) {
	var got []*ViolationError
	p := NewPool("widget", newWidget,
		WithStrict(true),
		WithViolationHook(func(e *ViolationError) { got = append(got, e) }),
	)

	_ = p.Release(&widget{})
	require.Len(t, got, 1)
	assert.Equal(t, "release", got[0].Op)
}

func TestPool_PrewarmAndRemove(t *testing.T) {
	p := NewPool("widget", newWidget)

	p.Prewarm(5)
	st := p.Stats()
	assert.Equal(t, 5, st.FreeCount)
	assert.Equal(t, uint64(5), st.CreatedTotal)
	assert.Equal(t, uint64(0), st.AcquireTotal)

	assert.Equal(t, 2, p.Remove(2))
	assert.Equal(t, 3, p.Stats().FreeCount)

	assert.Equal(t, 3, p.Remove(10), "remove is capped at the free count")
	assert.Equal(t, 0, p.Remove(1))
	assert.Equal(t, 0, p.Remove(-1))
	p.Prewarm(0)

	st = p.Stats()
	assert.Equal(t, uint64(5), st.RemovedTotal)
	assertPoolInvariant(t, st)
}

func TestPool_RemoveAllKeepsInUse(t *testing.T) {
	p := NewPool("widget", newWidget, WithStrict(true))
	w, err := p.Acquire()
	require.NoError(t, err)
	p.Prewarm(3)

	assert.Equal(t, 3, p.RemoveAll())
	assert.Equal(t, 1, p.InUse())
	require.NoError(t, p.Release(w), "in-use instances stay releasable")
	assertPoolInvariant(t, p.Stats())
}

func TestPool_Clear(t *testing.T) {
	p := NewPool("widget", newWidget, WithStrict(true))
	a, _ := p.Acquire()
	_, _ = p.Acquire()
	p.Prewarm(3)

	p.Clear()
	st := p.Stats()
	assert.Equal(t, 0, st.FreeCount)
	assert.Equal(t, 2, st.InUseCount)
	assert.Equal(t, uint64(0), st.ReleaseTotal)
	assert.Equal(t, uint64(0), st.RemovedTotal)
	assertPoolInvariant(t, st)

	require.NoError(t, p.Release(a))
	assert.Equal(t, 1, p.InUse())
}

func TestPool_ConcurrentAcquireRelease(t *testing.T) {
	p := NewPool("widget", newWidget, WithStrict(true))

	const (
		workers = 16
		rounds  = 500
	)
	var wg sync.WaitGroup
	errs := make(chan error, workers*rounds)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for r := 0; r < rounds; r++ {
				w, err := p.Acquire()
				if err != nil {
					errs <- err
					return
				}
				w.ID = id
				if err := p.Release(w); err != nil {
					errs <- err
					return
				}
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("unexpected error: %v", err)
	}

	st := p.Stats()
	assert.Equal(t, 0, st.InUseCount)
	assert.Equal(t, uint64(workers*rounds), st.AcquireTotal)
	assert.Equal(t, uint64(workers*rounds), st.ReleaseTotal)
	assert.LessOrEqual(t, st.CreatedTotal, uint64(workers))
	assertPoolInvariant(t, st)
}
