package dedup

import "strconv"

// KV key layout. All keys share the configurable prefix:
//
//	S:<bucketKey>  string  packed occurrence records, append-only
//	C:<cardId>     hash    l = sentence count, sb = owning SubBucket key
//	SB:<key>       hash    bs = BucketSet key, c<id>/m<id> = match counts
//	BS:<key>       set     member SubBucket keys
//	Q              list    card IDs pending (re)processing

const (
	shardPrefix     = "S:"
	cardPrefix      = "C:"
	subBucketPrefix = "SB:"
	bucketSetPrefix = "BS:"
	queueSuffix     = "Q"
)

func (s *Session) shardKey(bucket string) string {
	return s.eng.KeyPrefix + shardPrefix + bucket
}

func (s *Session) cardKey(id uint32) string {
	return s.eng.KeyPrefix + cardPrefix + strconv.FormatUint(uint64(id), 10)
}

func (s *Session) subBucketKey(key uint32) string {
	return s.eng.KeyPrefix + subBucketPrefix + strconv.FormatUint(uint64(key), 10)
}

func (s *Session) bucketSetKey(key uint32) string {
	return s.eng.KeyPrefix + bucketSetPrefix + strconv.FormatUint(uint64(key), 10)
}

// QueueKey returns the ingestion queue key for a given prefix. The queue is
// shared between the engine (re-queue on eviction) and the driver.
func QueueKey(prefix string) string {
	return prefix + queueSuffix
}
