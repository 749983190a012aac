package dedup

import (
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/nearline/nd/internal/config"
	"github.com/nearline/nd/internal/kv"
	"github.com/nearline/nd/internal/types"
)

// Problem is one invariant violation found by Verify.
type Problem struct {
	Property string // P1..P6
	Key      string // offending KV key
	Detail   string
}

func (p Problem) String() string {
	return fmt.Sprintf("%s %s: %s", p.Property, p.Key, p.Detail)
}

// Stats summarizes the persisted clustering state.
type Stats struct {
	Cards          int
	SubBuckets     int
	BucketSets     int // persisted (multi-member) sets only
	SentenceShards int
	QueueDepth     int
}

// Auditor validates the persisted state against the engine's invariants.
// It runs offline relative to ingestion: scans and reads use their own
// snapshots, so run it against a quiesced store for exact results.
type Auditor struct {
	store kv.Store
	eng   config.Engine
	log   *slog.Logger
}

func NewAuditor(store kv.Store, eng config.Engine, log *slog.Logger) *Auditor {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Auditor{store: store, eng: eng, log: log}
}

// Stats counts the persisted entities.
func (a *Auditor) Stats() (Stats, error) {
	var st Stats
	prefix := a.eng.KeyPrefix
	counts := map[string]*int{
		prefix + cardPrefix:      &st.Cards,
		prefix + subBucketPrefix: &st.SubBuckets,
		prefix + bucketSetPrefix: &st.BucketSets,
		prefix + shardPrefix:     &st.SentenceShards,
	}
	for p, n := range counts {
		err := a.store.Scan(p, func(string, []byte) error {
			*n++
			return nil
		})
		if err != nil {
			return st, err
		}
	}

	tx := a.store.BeginRead()
	defer tx.Discard()
	depth, err := tx.LLen(QueueKey(prefix))
	if err != nil {
		return st, err
	}
	st.QueueDepth = depth
	return st, nil
}

// Verify checks properties P1 through P6 over the whole persisted state and
// returns every violation found.
func (a *Auditor) Verify() ([]Problem, error) {
	var problems []Problem
	prefix := a.eng.KeyPrefix

	var sbKeys, bsKeys, cardKeys []uint32
	collect := func(keyPrefix string, out *[]uint32) error {
		return a.store.Scan(prefix+keyPrefix, func(key string, _ []byte) error {
			raw := strings.TrimPrefix(key, prefix+keyPrefix)
			n, err := strconv.ParseUint(raw, 10, 32)
			if err != nil {
				problems = append(problems, Problem{"P6", key, "unparseable key"})
				return nil
			}
			*out = append(*out, uint32(n))
			return nil
		})
	}
	if err := collect(subBucketPrefix, &sbKeys); err != nil {
		return nil, err
	}
	if err := collect(bucketSetPrefix, &bsKeys); err != nil {
		return nil, err
	}
	if err := collect(cardPrefix, &cardKeys); err != nil {
		return nil, err
	}

	// P6: every shard payload is a whole number of records.
	err := a.store.Scan(prefix+shardPrefix, func(key string, val []byte) error {
		if len(val)%types.OccurrenceSize != 0 {
			problems = append(problems, Problem{"P6", key,
				fmt.Sprintf("payload length %d not a multiple of %d", len(val), types.OccurrenceSize)})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s := newSession(a.store.BeginRead(), a.eng, nil, a.log)
	defer s.Discard()

	for _, key := range sbKeys {
		a.verifySubBucket(s, key, &problems)
	}
	for _, key := range bsKeys {
		a.verifyBucketSet(s, key, &problems)
	}
	for _, id := range cardKeys {
		a.verifyCardOwner(s, types.CardID(id), &problems)
	}
	sort.Slice(problems, func(i, j int) bool {
		if problems[i].Property != problems[j].Property {
			return problems[i].Property < problems[j].Property
		}
		return problems[i].Key < problems[j].Key
	})
	return problems, nil
}

func (a *Auditor) verifySubBucket(s *Session, key uint32, problems *[]Problem) {
	kvKey := s.subBucketKey(key)
	b, err := s.getSubBucket(key)
	if err != nil {
		*problems = append(*problems, Problem{"P6", kvKey, err.Error()})
		return
	}
	if b == nil || len(b.cards) == 0 {
		*problems = append(*problems, Problem{"P1", kvKey, "bucket has no members"})
		return
	}

	// P1: every member matches more than half the bucket.
	for _, id := range b.sortedCards() {
		if !s.shouldMatch(b.cards[id], len(b.cards)) {
			*problems = append(*problems, Problem{"P1", kvKey,
				fmt.Sprintf("member %d count %d/%d fails the membership predicate", id, b.cards[id], len(b.cards))})
		}
	}
	// cards and matching are disjoint.
	for id := range b.matching {
		if _, ok := b.cards[id]; ok {
			*problems = append(*problems, Problem{"P1", kvKey,
				fmt.Sprintf("card %d in both cards and matching", id)})
		}
	}
	// P2: key is the minimum member.
	if b.minCard() != key {
		*problems = append(*problems, Problem{"P2", kvKey,
			fmt.Sprintf("key %d != min member %d", key, b.minCard())})
	}
	// P3: the referenced BucketSet contains this bucket.
	set, err := s.getBucketSet(b.bucketSet)
	if err != nil {
		*problems = append(*problems, Problem{"P3", kvKey, err.Error()})
	} else if _, ok := set.ids[key]; !ok {
		*problems = append(*problems, Problem{"P3", kvKey,
			fmt.Sprintf("bucket set %d does not contain %d", b.bucketSet, key)})
	}
	// P4: every member's back-reference points here.
	for _, id := range b.sortedCards() {
		c, err := s.getCard(id)
		if err != nil {
			*problems = append(*problems, Problem{"P4", kvKey, err.Error()})
			continue
		}
		if c.owner != key {
			*problems = append(*problems, Problem{"P4", kvKey,
				fmt.Sprintf("member %d back-reference is %d", id, c.owner)})
		}
	}
}

func (a *Auditor) verifyBucketSet(s *Session, key uint32, problems *[]Problem) {
	kvKey := s.bucketSetKey(key)
	set, err := s.getBucketSet(key)
	if err != nil {
		*problems = append(*problems, Problem{"P5", kvKey, err.Error()})
		return
	}
	// This key was scanned from the store, so the set is persisted:
	// singletons must not be.
	if len(set.ids) < 2 {
		*problems = append(*problems, Problem{"P5", kvKey, "persisted singleton bucket set"})
		return
	}
	if set.minID() != key {
		*problems = append(*problems, Problem{"P5", kvKey,
			fmt.Sprintf("key %d != min member %d", key, set.minID())})
	}
	for _, id := range set.sortedIDs() {
		b, err := s.getSubBucket(id)
		if err != nil || b == nil {
			*problems = append(*problems, Problem{"P5", kvKey,
				fmt.Sprintf("member %d does not exist", id)})
			continue
		}
		if b.bucketSet != key {
			*problems = append(*problems, Problem{"P3", kvKey,
				fmt.Sprintf("member %d points at set %d", id, b.bucketSet)})
		}
		rest := make([]uint32, 0, len(set.ids)-1)
		for _, r := range set.sortedIDs() {
			if r != id {
				rest = append(rest, r)
			}
		}
		restSet, err := s.cardSetOfKeys(rest)
		if err != nil {
			*problems = append(*problems, Problem{"P5", kvKey, err.Error()})
			continue
		}
		memberSet, err := s.cardSetOfKeys([]uint32{id})
		if err != nil {
			*problems = append(*problems, Problem{"P5", kvKey, err.Error()})
			continue
		}
		if !s.shouldMergeSets(restSet, memberSet) {
			*problems = append(*problems, Problem{"P5", kvKey,
				fmt.Sprintf("member %d fails the merge predicate against the rest", id)})
		}
	}
}

func (a *Auditor) verifyCardOwner(s *Session, id types.CardID, problems *[]Problem) {
	c, err := s.getCard(id)
	if err != nil {
		*problems = append(*problems, Problem{"P4", s.cardKey(uint32(id)), err.Error()})
		return
	}
	if c.owner == 0 {
		return
	}
	b, err := s.getSubBucket(c.owner)
	if err != nil || b == nil {
		*problems = append(*problems, Problem{"P4", s.cardKey(uint32(id)),
			fmt.Sprintf("references missing bucket %d", c.owner)})
		return
	}
	if _, ok := b.cards[id]; !ok {
		*problems = append(*problems, Problem{"P4", s.cardKey(uint32(id)),
			fmt.Sprintf("bucket %d does not contain this card", c.owner)})
	}
}

// ClusterView is one persisted SubBucket with its membership, for dumps.
type ClusterView struct {
	BucketSet uint32
	SubBucket uint32
	Cards     map[types.CardID]int
	Matching  map[types.CardID]int
}

// Snapshot lists every SubBucket grouped by BucketSet, ordered by set key
// then bucket key.
func (a *Auditor) Snapshot() ([]ClusterView, error) {
	s := newSession(a.store.BeginRead(), a.eng, nil, a.log)
	defer s.Discard()

	var sbKeys []uint32
	prefix := a.eng.KeyPrefix
	err := a.store.Scan(prefix+subBucketPrefix, func(key string, _ []byte) error {
		raw := strings.TrimPrefix(key, prefix+subBucketPrefix)
		n, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return nil
		}
		sbKeys = append(sbKeys, uint32(n))
		return nil
	})
	if err != nil {
		return nil, err
	}

	views := make([]ClusterView, 0, len(sbKeys))
	for _, key := range sbKeys {
		b, err := s.getSubBucket(key)
		if err != nil {
			return nil, err
		}
		if b == nil {
			continue
		}
		v := ClusterView{
			BucketSet: b.bucketSet,
			SubBucket: key,
			Cards:     make(map[types.CardID]int, len(b.cards)),
			Matching:  make(map[types.CardID]int, len(b.matching)),
		}
		for id, n := range b.cards {
			v.Cards[id] = n
		}
		for id, n := range b.matching {
			v.Matching[id] = n
		}
		views = append(views, v)
	}
	sort.Slice(views, func(i, j int) bool {
		if views[i].BucketSet != views[j].BucketSet {
			return views[i].BucketSet < views[j].BucketSet
		}
		return views[i].SubBucket < views[j].SubBucket
	})
	return views, nil
}
