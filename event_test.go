package xpool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

type idProbeA struct{}
type idProbeB struct{}
type idProbeRace struct{}

func TestEventIDOf_StableAndDistinct(t *testing.T) {
	a := EventIDOf[idProbeA]()
	b := EventIDOf[idProbeB]()

	assert.Equal(t, a, EventIDOf[idProbeA]())
	assert.NotEqual(t, a, b)
	assert.Greater(t, a, ReservedEventIDs)
	assert.Greater(t, b, ReservedEventIDs)
	assert.NotEqual(t, EventIDOf[idProbeA](), EventIDOf[*idProbeA](), "pointer and value types are distinct")
}

func TestEventIDOf_ConcurrentFirstUseAgrees(t *testing.T) {
	const n = 32
	ids := make([]int, n)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			ids[i] = EventIDOf[idProbeRace]()
		}(i)
	}
	close(start)
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}
