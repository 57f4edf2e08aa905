// Package redisstream mirrors xpool bus events to a Redis Stream and
// publishes registry snapshots to a Redis hash.
//
// Every mirrored event becomes one XADD entry with the fields
// name, eventId, source, codec, producedAt and payload (codec-encoded args).
// Snapshots are stored with HSET, one field per pool type holding the
// encoded PoolStats, plus "_at" with the snapshot time in unix nanoseconds.
//
// Minimal config keys:
// - addr: "host:port" (default "127.0.0.1:6379")
// - stream: target stream (default "xpool:events")
// - snapshot_key: hash receiving pool stats (default "xpool:pools")
// - source: producer identity (default random uuid)
// - codec: payload codec (default "json")
// - batch_size: XADDs per pipeline (default 128)
// - buffer_size: pending records before events are dropped (default 4096)
// - flush_interval: mirror flush period (default 250ms)
// - snapshot_interval: snapshot period (default 5s)
//
// Example:
//
//	cfg := redisstream.Defaults()
//	cfg.Addr = "localhost:6379"
//	ad := redisstream.Use(cfg, bus, []int{download.SuccessEventID, download.FailureEventID},
//	    redisstream.WithRegistry(registry),
//	    redisstream.WithLogger(logger),
//	)
//	g.Go(func() error { return ad.Run(ctx) })
package redisstream
