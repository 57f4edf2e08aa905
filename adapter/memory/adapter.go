package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trickstertwo/xpool"
	"github.com/trickstertwo/xpool/download"
)

const TransportName = "memory"

var (
	// ErrNotFound is returned for sources that were never Put.
	ErrNotFound = errors.New("memory: source not found")
	// ErrFlaky is the transient error injected by Config.FailFirst.
	ErrFlaky = errors.New("memory: simulated transient failure")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("memory: transport is closed")
)

func init() {
	if err := download.RegisterTransport(TransportName, func(cfg map[string]any) (download.Transport, error) {
		return NewTransport(ConfigFromMap(cfg)), nil
	}); err != nil {
		panic(fmt.Errorf("xpool/memory: failed to register transport: %w", err))
	}
}

// Config controls memory transport behavior.
type Config struct {
	// ChunkSize is the simulated read size in bytes (default: 16384).
	ChunkSize int
	// ChunkDelay is the pause between reads (default: 0).
	ChunkDelay time.Duration
	// FailFirst makes the first n attempts of every source fail transiently (default: 0).
	FailFirst int
}

func ConfigFromMap(cfg map[string]any) Config {
	getInt := func(k string, d int) int {
		switch v := cfg[k].(type) {
		case int:
			return v
		case int32:
			return int(v)
		case int64:
			return int(v)
		case float64:
			return int(v)
		default:
			return d
		}
	}

	getDur := func(k string, d time.Duration) time.Duration {
		switch v := cfg[k].(type) {
		case time.Duration:
			return v
		case string:
			if p, err := time.ParseDuration(v); err == nil {
				return p
			}
		case float64:
			return time.Duration(v)
		}
		return d
	}

	return Config{
		ChunkSize:  max(1, getInt("chunk_size", 16<<10)),
		ChunkDelay: getDur("chunk_delay", 0),
		FailFirst:  max(0, getInt("fail_first", 0)),
	}
}

func (c Config) toMap() map[string]any {
	return map[string]any{
		"chunk_size":  c.ChunkSize,
		"chunk_delay": c.ChunkDelay,
		"fail_first":  c.FailFirst,
	}
}

// Transport implements download.Transport over in-memory sources and
// destinations (dev/testing). Received bytes are buffered in pooled chunk
// buffers and written to the destination every FlushThreshold bytes.
type Transport struct {
	cfg Config

	mu       sync.RWMutex
	sources  map[string][]byte
	files    map[string][]byte
	faults   map[string]error
	attempts map[string]int

	closed atomic.Bool

	metrics *transportMetrics
}

type transportMetrics struct {
	started   atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
	flushes   atomic.Uint64
	bytes     atomic.Uint64
}

var _ download.Transport = (*Transport)(nil)

// NewTransport creates a new in-memory transport.
func NewTransport(cfg Config) *Transport {
	if cfg.ChunkSize < 1 {
		cfg.ChunkSize = 16 << 10
	}
	if cfg.FailFirst < 0 {
		cfg.FailFirst = 0
	}
	return &Transport{
		cfg:      cfg,
		sources:  make(map[string][]byte),
		files:    make(map[string][]byte),
		faults:   make(map[string]error),
		attempts: make(map[string]int),
		metrics:  &transportMetrics{},
	}
}

// Put publishes data under uri.
func (t *Transport) Put(uri string, data []byte) {
	t.mu.Lock()
	t.sources[uri] = append([]byte(nil), data...)
	t.mu.Unlock()
}

// Fail makes every download of uri return err. Wrap err with download.Transient
// to make it retryable; nil clears the fault.
func (t *Transport) Fail(uri string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err == nil {
		delete(t.faults, uri)
		return
	}
	t.faults[uri] = err
}

// File returns a copy of what was written to dest.
func (t *Transport) File(dest string) ([]byte, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	b, ok := t.files[dest]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), b...), true
}

// Attempts returns how many downloads of uri were started.
func (t *Transport) Attempts(uri string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.attempts[uri]
}

// Download streams the source in ChunkSize reads, reporting each read to progress.
func (t *Transport) Download(ctx context.Context, req download.Request, progress download.Progress) error {
	if t.closed.Load() {
		return ErrClosed
	}
	t.metrics.started.Add(1)

	data, attempt, fault, ok := t.begin(req)
	if !ok {
		t.metrics.failed.Add(1)
		return fmt.Errorf("%w: %s", ErrNotFound, req.SourceURI)
	}
	if fault != nil {
		t.metrics.failed.Add(1)
		return fault
	}
	if attempt <= t.cfg.FailFirst {
		t.metrics.failed.Add(1)
		return download.Transient(fmt.Errorf("%w: attempt %d of %s", ErrFlaky, attempt, req.SourceURI))
	}

	buffers, err := xpool.Ensure[chunkBuffer](xpool.RegistryFromContext(ctx), "memory.chunkBuffer", newChunkBuffer)
	if err != nil {
		return err
	}
	buf, err := buffers.Acquire()
	if err != nil {
		return err
	}
	defer func() { _ = buffers.Release(buf) }()

	threshold := req.FlushThreshold
	if threshold < 1 {
		threshold = int64(t.cfg.ChunkSize)
	}

	for off := 0; off < len(data); {
		if err := ctx.Err(); err != nil {
			t.metrics.failed.Add(1)
			return err
		}
		n := min(t.cfg.ChunkSize, len(data)-off)
		buf.data = append(buf.data, data[off:off+n]...)
		off += n
		if progress != nil {
			progress(int64(n))
		}
		if int64(len(buf.data)) >= threshold {
			t.flush(ctx, req.DestinationPath, buf)
		}
		if t.cfg.ChunkDelay > 0 && off < len(data) {
			select {
			case <-time.After(t.cfg.ChunkDelay):
			case <-ctx.Done():
				t.metrics.failed.Add(1)
				return ctx.Err()
			}
		}
	}
	t.flush(ctx, req.DestinationPath, buf)
	t.metrics.completed.Add(1)
	return nil
}

// begin counts the attempt and resets the destination.
func (t *Transport) begin(req download.Request) (data []byte, attempt int, fault error, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	data, ok = t.sources[req.SourceURI]
	if !ok {
		return nil, 0, nil, false
	}
	t.attempts[req.SourceURI]++
	t.files[req.DestinationPath] = t.files[req.DestinationPath][:0]
	return data, t.attempts[req.SourceURI], t.faults[req.SourceURI], true
}

func (t *Transport) flush(ctx context.Context, dest string, buf *chunkBuffer) {
	if len(buf.data) == 0 {
		return
	}
	t.mu.Lock()
	t.files[dest] = append(t.files[dest], buf.data...)
	t.mu.Unlock()

	t.metrics.flushes.Add(1)
	t.metrics.bytes.Add(uint64(len(buf.data)))
	if lg, ok := xpool.LoggerFromContext(ctx); ok {
		lg.Debug().Str("dest", dest).Msg("memory: flushed chunk")
	}
	buf.data = buf.data[:0]
}

// Close rejects further downloads. Stored sources and files stay readable.
func (t *Transport) Close(_ context.Context) error {
	t.closed.Store(true)
	return nil
}

// Stats returns transport telemetry.
type Stats struct {
	Started   uint64
	Completed uint64
	Failed    uint64
	Flushes   uint64
	Bytes     uint64
}

// Stats returns current transport metrics.
func (t *Transport) Stats() Stats {
	return Stats{
		Started:   t.metrics.started.Load(),
		Completed: t.metrics.completed.Load(),
		Failed:    t.metrics.failed.Load(),
		Flushes:   t.metrics.flushes.Load(),
		Bytes:     t.metrics.bytes.Load(),
	}
}

// chunkBuffer is the pooled write-behind buffer of one download.
type chunkBuffer struct {
	data []byte
}

func newChunkBuffer() *chunkBuffer { return &chunkBuffer{data: make([]byte, 0, 16<<10)} }

func (b *chunkBuffer) Reset() { b.data = b.data[:0] }
