package redisstream

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
	"github.com/trickstertwo/xpool"
)

// Adapter mirrors bus events into a Redis Stream and publishes registry
// snapshots into a Redis hash.
//
// Handle only encodes and buffers; network writes happen in Flush, which Run
// calls periodically. When the buffer is full new events are dropped and counted.
type Adapter struct {
	cfg      Config
	client   *redis.Client
	codec    xpool.Codec
	logger   *xlog.Logger
	clock    xpool.Clock
	registry *xpool.Registry

	records chan record

	closeOnce sync.Once
	closed    atomic.Bool

	metrics *adapterMetrics
}

type record struct {
	name       string
	eventID    int
	payload    []byte
	producedAt int64
}

type adapterMetrics struct {
	queued        atomic.Uint64
	published     atomic.Uint64
	dropped       atomic.Uint64
	encodeErrors  atomic.Uint64
	publishErrors atomic.Uint64
	snapshots     atomic.Uint64
}

var _ xpool.EventHandler = (*Adapter)(nil)

// Option configures an Adapter.
type Option func(*Adapter)

// WithLogger injects a custom xlog logger.
func WithLogger(l *xlog.Logger) Option {
	return func(a *Adapter) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithClock injects a custom clock used for producedAt and snapshot times.
func WithClock(c xpool.Clock) Option {
	return func(a *Adapter) {
		if c != nil {
			a.clock = c
		}
	}
}

// WithRegistry selects the registry Run takes snapshots of (default: xpool.Default()).
func WithRegistry(r *xpool.Registry) Option {
	return func(a *Adapter) {
		if r != nil {
			a.registry = r
		}
	}
}

// NewAdapter connects to Redis and verifies the connection with PING.
func NewAdapter(cfg Config, opts ...Option) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ropts := &redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   3,
		PoolSize:     10,
		MinIdleConns: 2,
	}
	if cfg.TLS {
		ropts.TLSConfig = &tls.Config{
			MinVersion:    tls.VersionTLS12,
			ServerName:    cfg.TLSServerName,
			Renegotiation: tls.RenegotiateNever,
		}
	}

	client := redis.NewClient(ropts)
	if err := ping(client); err != nil {
		_ = client.Close()
		return nil, err
	}
	return newAdapter(cfg, client, opts...)
}

func newAdapter(cfg Config, client *redis.Client, opts ...Option) (*Adapter, error) {
	codec, err := xpool.NewCodec(cfg.Codec)
	if err != nil {
		return nil, err
	}
	a := &Adapter{
		cfg:     cfg,
		client:  client,
		codec:   codec,
		logger:  xlog.Default(),
		clock:   xclock.Default(),
		records: make(chan record, cfg.BufferSize),
		metrics: &adapterMetrics{},
	}
	for _, o := range opts {
		if o != nil {
			o(a)
		}
	}
	if a.registry == nil {
		a.registry = xpool.Default()
	}
	return a, nil
}

// Attach subscribes the adapter to every event identity in ids.
func (a *Adapter) Attach(bus *xpool.Bus, ids ...int) ([]*xpool.Subscription, error) {
	subs := make([]*xpool.Subscription, 0, len(ids))
	for _, id := range ids {
		s, err := bus.Subscribe(id, a)
		if err != nil {
			for _, prev := range subs {
				prev.Cancel()
			}
			return nil, fmt.Errorf("redisstream: attach event %d: %w", id, err)
		}
		subs = append(subs, s)
	}
	return subs, nil
}

// Handle encodes args and buffers it for the next Flush. It never fails the dispatch.
func (a *Adapter) Handle(_ any, args xpool.EventArgs) error {
	if a.closed.Load() {
		a.metrics.dropped.Add(1)
		return nil
	}
	payload, err := a.codec.Marshal(args)
	if err != nil {
		a.metrics.encodeErrors.Add(1)
		a.logger.Warn().Str("event", eventName(args)).Err(err).Msg("redisstream: encode failed")
		return nil
	}

	rec := record{
		name:       eventName(args),
		eventID:    args.EventID(),
		payload:    payload,
		producedAt: a.clock.Now().UnixNano(),
	}
	select {
	case a.records <- rec:
		a.metrics.queued.Add(1)
	default:
		a.metrics.dropped.Add(1)
	}
	return nil
}

// Flush writes every buffered record with pipelined XADDs of at most BatchSize entries.
func (a *Adapter) Flush(ctx context.Context) error {
	for {
		batch := a.takeBatch()
		if len(batch) == 0 {
			return nil
		}

		pipe := a.client.Pipeline()
		for _, rec := range batch {
			pipe.XAdd(ctx, a.xaddArgs(rec))
		}
		if _, err := pipe.Exec(ctx); err != nil {
			a.metrics.publishErrors.Add(uint64(len(batch)))
			return fmt.Errorf("redisstream: xadd %s: %w", a.cfg.Stream, err)
		}
		a.metrics.published.Add(uint64(len(batch)))
	}
}

func (a *Adapter) takeBatch() []record {
	batch := make([]record, 0, min(len(a.records), a.cfg.BatchSize))
	for len(batch) < a.cfg.BatchSize {
		select {
		case rec := <-a.records:
			batch = append(batch, rec)
		default:
			return batch
		}
	}
	return batch
}

func (a *Adapter) xaddArgs(rec record) *redis.XAddArgs {
	args := &redis.XAddArgs{
		Stream: a.cfg.Stream,
		ID:     "*", // Let Redis generate ID
		Values: map[string]any{
			fieldName:       rec.name,
			fieldEventID:    rec.eventID,
			fieldSource:     a.cfg.Source,
			fieldCodec:      a.codec.Name(),
			fieldProducedAt: rec.producedAt,
			fieldPayload:    rec.payload,
		},
	}
	// Approximate trimming to keep stream bounded
	if a.cfg.MaxLenApprox > 0 {
		args.MaxLen = a.cfg.MaxLenApprox
		args.Approx = true
	}
	return args
}

// PublishSnapshot replaces the snapshot hash with the registry's current pool stats.
func (a *Adapter) PublishSnapshot(ctx context.Context) error {
	stats := a.registry.Snapshot()
	vals := make(map[string]any, len(stats)+1)
	for _, s := range stats {
		b, err := a.codec.Marshal(s)
		if err != nil {
			a.metrics.encodeErrors.Add(1)
			return fmt.Errorf("redisstream: encode stats of %s: %w", s.Type, err)
		}
		vals[s.Type] = b
	}
	vals[snapshotAtField] = a.clock.Now().UnixNano()

	pipe := a.client.TxPipeline()
	pipe.Del(ctx, a.cfg.SnapshotKey)
	pipe.HSet(ctx, a.cfg.SnapshotKey, vals)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redisstream: hset %s: %w", a.cfg.SnapshotKey, err)
	}
	a.metrics.snapshots.Add(1)
	return nil
}

// Run flushes the mirror every FlushInterval and publishes snapshots every
// SnapshotInterval until ctx is done, then flushes what is left.
// Redis errors are logged and retried on the next period.
func (a *Adapter) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ticker := time.NewTicker(a.cfg.FlushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				fctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				return a.Flush(fctx)
			case <-ticker.C:
				if err := a.Flush(gctx); err != nil {
					a.logger.Warn().Err(err).Msg("redisstream: mirror flush failed")
				}
			}
		}
	})

	if a.cfg.SnapshotInterval > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(a.cfg.SnapshotInterval)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					if err := a.PublishSnapshot(gctx); err != nil {
						a.logger.Warn().Err(err).Msg("redisstream: snapshot failed")
					}
				}
			}
		})
	}

	return g.Wait()
}

// Close flushes buffered records and closes the Redis client. Idempotent.
func (a *Adapter) Close(ctx context.Context) error {
	var closeErr error
	a.closeOnce.Do(func() {
		a.closed.Store(true)
		closeErr = errors.Join(a.Flush(ctx), a.client.Close())
	})
	return closeErr
}

// Client exposes the underlying Redis client.
func (a *Adapter) Client() *redis.Client { return a.client }

// Stats is the adapter telemetry.
type Stats struct {
	Queued        uint64
	Published     uint64
	Dropped       uint64
	EncodeErrors  uint64
	PublishErrors uint64
	Snapshots     uint64
	Buffered      int
}

// Stats returns current adapter metrics.
func (a *Adapter) Stats() Stats {
	return Stats{
		Queued:        a.metrics.queued.Load(),
		Published:     a.metrics.published.Load(),
		Dropped:       a.metrics.dropped.Load(),
		EncodeErrors:  a.metrics.encodeErrors.Load(),
		PublishErrors: a.metrics.publishErrors.Load(),
		Snapshots:     a.metrics.snapshots.Load(),
		Buffered:      len(a.records),
	}
}

// eventName is the payload's type name without the pointer star.
func eventName(args xpool.EventArgs) string {
	return strings.TrimPrefix(fmt.Sprintf("%T", args), "*")
}

// Helper functions

func ping(c *redis.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	res, err := c.Ping(ctx).Result()
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return fmt.Errorf("redis ping timeout: %w", err)
		}
		return err
	}

	if strings.ToUpper(res) != "PONG" {
		return fmt.Errorf("unexpected redis ping result: %s", res)
	}

	return nil
}
