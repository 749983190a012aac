package dedup

import "errors"

// ErrMissingCard means the evidence store has no fulltext for a card ID.
// Fatal for that card; the driver drops or logs it.
var ErrMissingCard = errors.New("dedup: card has no fulltext")

// ErrCorruptShard means a sentence shard payload is not a whole number of
// occurrence records.
var ErrCorruptShard = errors.New("dedup: corrupt sentence shard")

// ErrInvalidHashKey means an entity hash contains a field with an unknown
// prefix.
var ErrInvalidHashKey = errors.New("dedup: invalid hash field")
