package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trickstertwo/xpool"
	"github.com/trickstertwo/xpool/download"
)

func testContext(t *testing.T) (context.Context, *xpool.Registry) {
	t.Helper()
	reg := xpool.NewRegistry(xpool.Defaults())
	reg.EnableStrictCheck(true)
	return xpool.WithRegistryContext(context.Background(), reg), reg
}

func TestDownload_FlushesAtThreshold(t *testing.T) {
	ctx, reg := testContext(t)
	tr := NewTransport(Config{ChunkSize: 1 << 10})
	data := make([]byte, 10<<10)
	for i := range data {
		data[i] = byte(i)
	}
	tr.Put("mem://blob", data)

	var deltas []int64
	err := tr.Download(ctx, download.Request{
		Serial:          1,
		SourceURI:       "mem://blob",
		DestinationPath: "/out/blob",
		FlushThreshold:  4 << 10,
	}, func(d int64) { deltas = append(deltas, d) })
	require.NoError(t, err)

	assert.Len(t, deltas, 10)
	for _, d := range deltas {
		assert.Equal(t, int64(1<<10), d)
	}

	file, ok := tr.File("/out/blob")
	require.True(t, ok)
	assert.Equal(t, data, file)

	st := tr.Stats()
	assert.Equal(t, uint64(3), st.Flushes)
	assert.Equal(t, uint64(len(data)), st.Bytes)
	assert.Equal(t, uint64(1), st.Started)
	assert.Equal(t, uint64(1), st.Completed)

	p, err := xpool.PoolOf[chunkBuffer](reg)
	require.NoError(t, err)
	assert.Equal(t, 0, p.InUse(), "chunk buffer goes back to the pool")
}

func TestDownload_DefaultThresholdIsChunkSize(t *testing.T) {
	ctx, _ := testContext(t)
	tr := NewTransport(Config{ChunkSize: 100})
	tr.Put("mem://a", make([]byte, 250))

	require.NoError(t, tr.Download(ctx, download.Request{SourceURI: "mem://a", DestinationPath: "a"}, nil))
	assert.Equal(t, uint64(3), tr.Stats().Flushes)
}

func TestDownload_FailFirstIsTransient(t *testing.T) {
	ctx, _ := testContext(t)
	tr := NewTransport(Config{FailFirst: 2})
	tr.Put("mem://a", []byte("hello"))
	req := download.Request{SourceURI: "mem://a", DestinationPath: "a"}

	for i := 0; i < 2; i++ {
		err := tr.Download(ctx, req, nil)
		assert.True(t, download.IsTransient(err))
		assert.ErrorIs(t, err, ErrFlaky)
	}
	require.NoError(t, tr.Download(ctx, req, nil))
	assert.Equal(t, 3, tr.Attempts("mem://a"))

	file, _ := tr.File("a")
	assert.Equal(t, []byte("hello"), file)
}

func TestDownload_NotFound(t *testing.T) {
	tr := NewTransport(Config{})
	err := tr.Download(context.Background(), download.Request{SourceURI: "mem://nope"}, nil)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, download.IsTransient(err))
	assert.Equal(t, 0, tr.Attempts("mem://nope"))
	assert.Equal(t, uint64(1), tr.Stats().Failed)
}

func TestDownload_InjectedFault(t *testing.T) {
	ctx, _ := testContext(t)
	tr := NewTransport(Config{})
	tr.Put("mem://a", []byte("x"))

	tr.Fail("mem://a", download.Transient(errors.New("503")))
	err := tr.Download(ctx, download.Request{SourceURI: "mem://a", DestinationPath: "a"}, nil)
	assert.True(t, download.IsTransient(err))

	tr.Fail("mem://a", nil)
	assert.NoError(t, tr.Download(ctx, download.Request{SourceURI: "mem://a", DestinationPath: "a"}, nil))
}

func TestDownload_HonorsCancellation(t *testing.T) {
	ctx, _ := testContext(t)
	ctx, cancel := context.WithCancel(ctx)
	tr := NewTransport(Config{ChunkSize: 1, ChunkDelay: time.Hour})
	tr.Put("mem://slow", []byte("abcdef"))

	done := make(chan error, 1)
	go func() {
		done <- tr.Download(ctx, download.Request{SourceURI: "mem://slow", DestinationPath: "s", FlushThreshold: 100}, nil)
	}()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("download ignored cancellation")
	}
	assert.Equal(t, uint64(0), tr.Stats().Completed)
}

func TestDownload_AfterClose(t *testing.T) {
	tr := NewTransport(Config{})
	tr.Put("mem://a", []byte("x"))
	require.NoError(t, tr.Close(context.Background()))

	err := tr.Download(context.Background(), download.Request{SourceURI: "mem://a"}, nil)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestConfigFromMap(t *testing.T) {
	cfg := ConfigFromMap(map[string]any{
		"chunk_size":  float64(512),
		"chunk_delay": "5ms",
		"fail_first":  -1,
	})
	assert.Equal(t, Config{ChunkSize: 512, ChunkDelay: 5 * time.Millisecond}, cfg)

	def := ConfigFromMap(nil)
	assert.Equal(t, 16<<10, def.ChunkSize)

	round := Config{ChunkSize: 64, ChunkDelay: time.Second, FailFirst: 2}
	assert.Equal(t, round, ConfigFromMap(round.toMap()))
}

func TestRegisteredTransport(t *testing.T) {
	tr, err := download.NewTransport(TransportName, map[string]any{"chunk_size": 32})
	require.NoError(t, err)
	mt, ok := tr.(*Transport)
	require.True(t, ok)
	assert.Equal(t, 32, mt.cfg.ChunkSize)
}

func TestUse(t *testing.T) {
	reg := xpool.NewRegistry(xpool.Defaults())
	cfg := download.Defaults()
	cfg.MaxConcurrent = 2

	mgr, tr := Use(Config{ChunkSize: 8}, WithRegistry(reg), WithManagerConfig(cfg))
	require.NotNil(t, mgr)
	require.NotNil(t, tr)
	defer mgr.Close(context.Background())

	tr.Put("mem://a", []byte("0123456789"))
	_, err := mgr.AddDownload("/out/a", "mem://a", "", 0, nil)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		_ = mgr.Update(time.Millisecond)
		file, ok := tr.File("/out/a")
		return ok && string(file) == "0123456789" && mgr.Active() == 0
	}, 5*time.Second, time.Millisecond)

	bad := download.Defaults()
	bad.FlushSize = 0
	assert.Panics(t, func() { Use(Config{}, WithManagerConfig(bad)) })
}
