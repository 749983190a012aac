package dedup

import (
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/nearline/nd/internal/config"
	"github.com/nearline/nd/internal/evidence"
	"github.com/nearline/nd/internal/kv"
	"github.com/nearline/nd/internal/types"
)

// Session is the unit of work around one card's ingestion. It owns a single
// KV transaction and a per-entity cache; loads are idempotent within the
// session and every key it loads or creates is read (and therefore watched)
// before it is written; the new key of a rename is written without a prior
// read. Cross-entity references are logical keys resolved through the
// session's caches, never pointers, so rename and delete stay cheap and the
// whole graph serializes cleanly.
//
// A session is single-goroutine. It ends in Commit or Discard; on
// optimistic conflict the processor re-runs with a fresh session.
type Session struct {
	tx  kv.Tx
	eng config.Engine
	ev  evidence.Store
	log *slog.Logger

	cards      map[types.CardID]*card
	subBuckets map[uint32]*subBucket
	bucketSets map[uint32]*bucketSet
	shards     map[string]*shard

	sbRemoved map[uint32]struct{}
	bsRemoved map[uint32]struct{}
}

func newSession(tx kv.Tx, eng config.Engine, ev evidence.Store, log *slog.Logger) *Session {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Session{
		tx:         tx,
		eng:        eng,
		ev:         ev,
		log:        log,
		cards:      make(map[types.CardID]*card),
		subBuckets: make(map[uint32]*subBucket),
		bucketSets: make(map[uint32]*bucketSet),
		shards:     make(map[string]*shard),
		sbRemoved:  make(map[uint32]struct{}),
		bsRemoved:  make(map[uint32]struct{}),
	}
}

// Discard releases the underlying transaction.
func (s *Session) Discard() {
	s.tx.Discard()
}

// shouldMatch is the membership predicate: a card belongs in a bucket when
// it matches strictly more than half of it.
func (s *Session) shouldMatch(matches, total int) bool {
	if total == 0 {
		return false
	}
	return float64(matches)/float64(total) > s.eng.MatchThreshold
}

// shouldMergeCount is the loose family predicate, applied first per member
// and then to the member count.
func (s *Session) shouldMergeCount(matches, total int) bool {
	if matches > s.eng.MergeAbsolute {
		return true
	}
	if total == 0 {
		return false
	}
	return float64(matches)/float64(total) >= s.eng.MergeRatio
}

// requeue pushes an evicted card back onto the ingestion queue. The push
// rides in this session's transaction, so a retried unit of work does not
// enqueue twice.
func (s *Session) requeue(id types.CardID) error {
	return s.tx.RPush(QueueKey(s.eng.KeyPrefix), id.String())
}

// ---------------------------------------------------------------------------
// Card repository (length + SubBucket back-reference, one hash per card)
// ---------------------------------------------------------------------------

type card struct {
	id        types.CardID
	length    int
	hasLength bool
	owner     uint32 // owning SubBucket key; 0 = none
	dirty     bool
}

func (c *card) setLength(n int) {
	c.length = n
	c.hasLength = true
	c.dirty = true
}

func (c *card) setOwner(key uint32) {
	c.owner = key
	c.dirty = true
}

func (s *Session) getCard(id types.CardID) (*card, error) {
	if c, ok := s.cards[id]; ok {
		return c, nil
	}
	fields, err := s.tx.HGetAll(s.cardKey(uint32(id)))
	if err != nil {
		return nil, err
	}
	c := &card{id: id}
	for f, v := range fields {
		switch f {
		case "l":
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return nil, fmt.Errorf("card %d: bad length %q: %w", id, v, ErrInvalidHashKey)
			}
			c.length = n
			c.hasLength = true
		case "sb":
			k, err := strconv.ParseUint(v, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("card %d: bad bucket ref %q: %w", id, v, ErrInvalidHashKey)
			}
			c.owner = uint32(k)
		default:
			return nil, fmt.Errorf("card %d: field %q: %w", id, f, ErrInvalidHashKey)
		}
	}
	s.cards[id] = c
	return c, nil
}

func (s *Session) saveCards() error {
	for id, c := range s.cards {
		if !c.dirty {
			continue
		}
		key := s.cardKey(uint32(id))
		fields := map[string]string{}
		if c.hasLength {
			fields["l"] = strconv.Itoa(c.length)
		}
		if c.owner != 0 {
			fields["sb"] = strconv.FormatUint(uint64(c.owner), 10)
		}
		if len(fields) == 0 {
			if err := s.tx.Del(key); err != nil {
				return err
			}
			continue
		}
		if err := s.tx.HSetAll(key, fields); err != nil {
			return err
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// SubBucket repository
// ---------------------------------------------------------------------------

// getSubBucket returns the SubBucket under key, or nil when none exists.
func (s *Session) getSubBucket(key uint32) (*subBucket, error) {
	if b, ok := s.subBuckets[key]; ok {
		return b, nil
	}
	if _, removed := s.sbRemoved[key]; removed {
		return nil, nil
	}
	fields, err := s.tx.HGetAll(s.subBucketKey(key))
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}
	b := &subBucket{
		key:      key,
		cards:    make(map[types.CardID]int),
		matching: make(map[types.CardID]int),
	}
	for f, v := range fields {
		switch {
		case f == "bs":
			k, err := strconv.ParseUint(v, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("bucket %d: bad set ref %q: %w", key, v, ErrInvalidHashKey)
			}
			b.bucketSet = uint32(k)
		case strings.HasPrefix(f, "c"):
			id, err := types.ParseCardID(f[1:])
			if err != nil {
				return nil, fmt.Errorf("bucket %d: field %q: %w", key, f, ErrInvalidHashKey)
			}
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("bucket %d: field %q: %w", key, f, ErrInvalidHashKey)
			}
			b.cards[id] = n
		case strings.HasPrefix(f, "m"):
			id, err := types.ParseCardID(f[1:])
			if err != nil {
				return nil, fmt.Errorf("bucket %d: field %q: %w", key, f, ErrInvalidHashKey)
			}
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("bucket %d: field %q: %w", key, f, ErrInvalidHashKey)
			}
			b.matching[id] = n
		default:
			return nil, fmt.Errorf("bucket %d: field %q: %w", key, f, ErrInvalidHashKey)
		}
	}
	s.subBuckets[key] = b
	return b, nil
}

// newSubBucket creates an empty SubBucket and its singleton BucketSet at
// key. Both keys are read first so a racing creator conflicts at commit.
func (s *Session) newSubBucket(key uint32) (*subBucket, error) {
	if _, _, err := s.tx.Get(s.subBucketKey(key)); err != nil {
		return nil, err
	}
	if _, _, err := s.tx.Get(s.bucketSetKey(key)); err != nil {
		return nil, err
	}
	b := &subBucket{
		key:       key,
		bucketSet: key,
		cards:     make(map[types.CardID]int),
		matching:  make(map[types.CardID]int),
		updated:   true,
	}
	s.subBuckets[key] = b
	delete(s.sbRemoved, key)

	set := &bucketSet{
		key:     key,
		ids:     map[uint32]struct{}{key: {}},
		updated: true,
	}
	s.bucketSets[key] = set
	delete(s.bsRemoved, key)
	return b, nil
}

// removeSubBucketEntity drops an emptied SubBucket from the cache and
// schedules its KV key for deletion.
func (s *Session) removeSubBucketEntity(key uint32) {
	delete(s.subBuckets, key)
	s.sbRemoved[key] = struct{}{}
}

// renameSubBucket moves the cache entry and schedules deletion of the old
// KV key. Back-references are the caller's responsibility.
func (s *Session) renameSubBucket(old, new uint32) {
	b := s.subBuckets[old]
	delete(s.subBuckets, old)
	s.sbRemoved[old] = struct{}{}
	s.subBuckets[new] = b
	delete(s.sbRemoved, new)
	b.updated = true
}

func (s *Session) saveSubBuckets() error {
	for key := range s.sbRemoved {
		if err := s.tx.Del(s.subBucketKey(key)); err != nil {
			return err
		}
	}
	for key, b := range s.subBuckets {
		if !b.updated {
			continue
		}
		fields := map[string]string{
			"bs": strconv.FormatUint(uint64(b.bucketSet), 10),
		}
		for id, n := range b.cards {
			fields["c"+id.String()] = strconv.Itoa(n)
		}
		for id, n := range b.matching {
			fields["m"+id.String()] = strconv.Itoa(n)
		}
		if err := s.tx.HSetAll(s.subBucketKey(key), fields); err != nil {
			return err
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// BucketSet repository
// ---------------------------------------------------------------------------

// getBucketSet returns the BucketSet under key. A missing KV set is a
// singleton that was never persisted; it is reconstituted as {key}.
func (s *Session) getBucketSet(key uint32) (*bucketSet, error) {
	if b, ok := s.bucketSets[key]; ok {
		return b, nil
	}
	if _, removed := s.bsRemoved[key]; removed {
		// The persisted set was deleted this session; a reference to its
		// key now means an implicit singleton.
		set := &bucketSet{key: key, ids: map[uint32]struct{}{key: {}}, updated: true}
		s.bucketSets[key] = set
		delete(s.bsRemoved, key)
		return set, nil
	}
	members, err := s.tx.SMembers(s.bucketSetKey(key))
	if err != nil {
		return nil, err
	}
	set := &bucketSet{key: key, ids: make(map[uint32]struct{}, len(members))}
	if len(members) == 0 {
		set.ids[key] = struct{}{}
	}
	for _, m := range members {
		k, err := strconv.ParseUint(m, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("bucket set %d: bad member %q: %w", key, m, ErrInvalidHashKey)
		}
		set.ids[uint32(k)] = struct{}{}
	}
	s.bucketSets[key] = set
	delete(s.bsRemoved, key)
	return set, nil
}

// newBucketSet creates a fresh singleton set at key.
func (s *Session) newBucketSet(key uint32) (*bucketSet, error) {
	if _, _, err := s.tx.Get(s.bucketSetKey(key)); err != nil {
		return nil, err
	}
	set := &bucketSet{
		key:     key,
		ids:     map[uint32]struct{}{key: {}},
		updated: true,
	}
	s.bucketSets[key] = set
	delete(s.bsRemoved, key)
	return set, nil
}

func (s *Session) removeBucketSetEntity(key uint32) {
	delete(s.bucketSets, key)
	s.bsRemoved[key] = struct{}{}
}

func (s *Session) renameBucketSet(old, new uint32) {
	b := s.bucketSets[old]
	delete(s.bucketSets, old)
	s.bsRemoved[old] = struct{}{}
	s.bucketSets[new] = b
	delete(s.bsRemoved, new)
	b.updated = true
}

func (s *Session) saveBucketSets() error {
	for key := range s.bsRemoved {
		if err := s.tx.Del(s.bucketSetKey(key)); err != nil {
			return err
		}
	}
	for key, set := range s.bucketSets {
		if !set.updated {
			continue
		}
		// Singleton sets are implicit: never persisted, deleted if they
		// shrank down from a real set.
		if len(set.ids) <= 1 {
			if err := s.tx.Del(s.bucketSetKey(key)); err != nil {
				return err
			}
			continue
		}
		members := make([]string, 0, len(set.ids))
		for id := range set.ids {
			members = append(members, strconv.FormatUint(uint64(id), 10))
		}
		sort.Strings(members)
		if err := s.tx.SSetAll(s.bucketSetKey(key), members); err != nil {
			return err
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Sentence index repository
// ---------------------------------------------------------------------------

type shard struct {
	bucket  string
	occs    []types.Occurrence
	pending []byte
}

// getShard lazily loads the sentence shard for a bucket key. The load reads
// (and so watches) the shard key; a concurrent append then conflicts with
// this session at commit.
func (s *Session) getShard(bucket string) (*shard, error) {
	if sh, ok := s.shards[bucket]; ok {
		return sh, nil
	}
	val, _, err := s.tx.Get(s.shardKey(bucket))
	if err != nil {
		return nil, err
	}
	occs, err := types.ParseOccurrences(val)
	if err != nil {
		return nil, fmt.Errorf("shard %s: %v: %w", bucket, err, ErrCorruptShard)
	}
	sh := &shard{bucket: bucket, occs: occs}
	s.shards[bucket] = sh
	return sh, nil
}

// addOccurrence queues one occurrence record for append to the sentence's
// shard.
func (s *Session) addOccurrence(sent types.Sentence, id types.CardID, index uint16) error {
	sh, err := s.getShard(sent.Bucket)
	if err != nil {
		return err
	}
	packed, err := types.Occurrence{Sub: sent.Sub, Card: id, Index: index}.Pack(sh.pending)
	if err != nil {
		return err
	}
	sh.pending = packed
	return nil
}

func (s *Session) saveShards() error {
	for bucket, sh := range s.shards {
		if len(sh.pending) == 0 {
			continue
		}
		if err := s.tx.Append(s.shardKey(bucket), sh.pending); err != nil {
			return err
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Commit
// ---------------------------------------------------------------------------

// Commit persists every dirty entity and applies the transaction. The save
// order — SubBuckets, cards, sentences, BucketSets — guarantees that no
// persisted reference dangles within the atomic write set. Returns the
// report of touched and deleted BucketSets; on kv.ErrConflict the caller
// re-runs the whole unit of work.
func (s *Session) Commit() (*Report, error) {
	// A BucketSet is touched when it was updated itself or contains an
	// updated SubBucket; touched sets re-persist their membership.
	for _, b := range s.subBuckets {
		if !b.updated {
			continue
		}
		set, err := s.getBucketSet(b.bucketSet)
		if err != nil {
			return nil, err
		}
		set.updated = true
	}

	report, err := s.buildReport()
	if err != nil {
		return nil, err
	}

	if err := s.saveSubBuckets(); err != nil {
		return nil, err
	}
	if err := s.saveCards(); err != nil {
		return nil, err
	}
	if err := s.saveShards(); err != nil {
		return nil, err
	}
	if err := s.saveBucketSets(); err != nil {
		return nil, err
	}
	if err := s.tx.Commit(); err != nil {
		return nil, err
	}
	return report, nil
}

// buildReport summarizes every touched BucketSet with its final card
// membership, plus the keys of deleted sets.
func (s *Session) buildReport() (*Report, error) {
	report := &Report{}
	for key := range s.bsRemoved {
		if _, resurrected := s.bucketSets[key]; resurrected {
			continue
		}
		report.Deletes = append(report.Deletes, key)
	}
	sort.Slice(report.Deletes, func(i, j int) bool { return report.Deletes[i] < report.Deletes[j] })

	for key, set := range s.bucketSets {
		if !set.updated {
			continue
		}
		summary := BucketSummary{BucketSet: key}
		for sbKey := range set.ids {
			b, err := s.getSubBucket(sbKey)
			if err != nil {
				return nil, err
			}
			if b == nil {
				continue
			}
			for id := range b.cards {
				summary.Cards = append(summary.Cards, id)
			}
		}
		sort.Slice(summary.Cards, func(i, j int) bool { return summary.Cards[i] < summary.Cards[j] })
		report.Updates = append(report.Updates, summary)
	}
	sort.Slice(report.Updates, func(i, j int) bool {
		return report.Updates[i].BucketSet < report.Updates[j].BucketSet
	})
	return report, nil
}
