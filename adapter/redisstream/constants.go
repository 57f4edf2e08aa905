package redisstream

// Field constants (avoid typos/allocs)
const (
	fieldName       = "name"
	fieldEventID    = "eventId"
	fieldSource     = "source"
	fieldPayload    = "payload"    // raw []byte, codec-encoded
	fieldProducedAt = "producedAt" // int64 ns
	fieldCodec      = "codec"

	// snapshotAtField holds the unix-ns time of the last snapshot in the pool hash.
	snapshotAtField = "_at"
)
