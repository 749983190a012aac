package dedup

import (
	"context"
	"sort"

	"github.com/nearline/nd/internal/types"
)

// subBucket is a tight near-duplicate cluster.
//
// cards maps each member to the number of other members it matches; the
// membership invariant is count/len(cards) > the match threshold for every
// member. matching maps non-member cards to the number of members they
// match. The two maps are disjoint. key is always min(cards); membership
// changes rename the entity and all back-references.
type subBucket struct {
	key       uint32
	bucketSet uint32
	cards     map[types.CardID]int
	matching  map[types.CardID]int
	updated   bool
	gone      bool
}

func (b *subBucket) minCard() uint32 {
	first := true
	var min types.CardID
	for id := range b.cards {
		if first || id < min {
			min = id
			first = false
		}
	}
	return uint32(min)
}

func (b *subBucket) sortedCards() []types.CardID {
	ids := make([]types.CardID, 0, len(b.cards))
	for id := range b.cards {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (b *subBucket) sortedMatching() []types.CardID {
	ids := make([]types.CardID, 0, len(b.matching))
	for id := range b.matching {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// addCard inserts a card with its externally derived match list. Matches
// that are members raise both internal counts; the rest become external
// match counts.
func (b *subBucket) addCard(s *Session, id types.CardID, matches []types.CardID) error {
	if _, ok := b.cards[id]; ok {
		s.log.Warn("card already in bucket", "card", id, "bucket", b.key)
		return nil
	}
	delete(b.matching, id)
	b.cards[id] = 1
	for _, m := range matches {
		if m == id {
			continue
		}
		if _, ok := b.cards[m]; ok {
			b.cards[id]++
			b.cards[m]++
		} else {
			b.matching[m]++
		}
	}
	b.updated = true

	c, err := s.getCard(id)
	if err != nil {
		return err
	}
	c.setOwner(b.key)
	return b.propagateKey(s)
}

// setMatches refreshes the external match count of a non-member against the
// bucket's current membership.
func (b *subBucket) setMatches(s *Session, id types.CardID, matches []types.CardID) {
	if _, ok := b.cards[id]; ok {
		return
	}
	n := 0
	for _, m := range matches {
		if _, ok := b.cards[m]; ok {
			n++
		}
	}
	if n == 0 {
		delete(b.matching, id)
	} else {
		b.matching[id] = n
	}
	b.updated = true
}

// removeCard evicts a member, re-derives its matches to unwind the counters
// it contributed, and re-queues it for reprocessing.
func (b *subBucket) removeCard(ctx context.Context, s *Session, id types.CardID) error {
	delete(b.cards, id)
	b.updated = true

	c, err := s.getCard(id)
	if err != nil {
		return err
	}
	c.setOwner(0)

	res, err := matchCard(ctx, s, id, nil)
	if err != nil {
		return err
	}
	for _, m := range res.Matches {
		if n, ok := b.cards[m]; ok {
			// Floor at zero; resolveRemoves evicts the member properly
			// once its count fails the membership predicate.
			if n > 0 {
				b.cards[m] = n - 1
			}
		} else if n, ok := b.matching[m]; ok {
			if n <= 1 {
				delete(b.matching, m)
			} else {
				b.matching[m] = n - 1
			}
		}
	}

	if err := s.requeue(id); err != nil {
		return err
	}
	cardEvictions.Inc()
	return b.propagateKey(s)
}

// doesBucketMatch reports whether a card with the given match list belongs
// in this bucket.
func (b *subBucket) doesBucketMatch(s *Session, matches []types.CardID) bool {
	n := 0
	for _, m := range matches {
		if _, ok := b.cards[m]; ok {
			n++
		}
	}
	return s.shouldMatch(n, len(b.cards))
}

// propagateKey recomputes key = min(cards). An emptied bucket is detached
// from its set and deleted; a changed key renames the entity and rewrites
// every member's back-reference.
func (b *subBucket) propagateKey(s *Session) error {
	if b.gone {
		return nil
	}
	if len(b.cards) == 0 {
		set, err := s.getBucketSet(b.bucketSet)
		if err != nil {
			return err
		}
		if err := set.detach(s, b.key); err != nil {
			return err
		}
		s.removeSubBucketEntity(b.key)
		b.gone = true
		return nil
	}

	newKey := b.minCard()
	if newKey == b.key {
		return nil
	}
	old := b.key
	for id := range b.cards {
		c, err := s.getCard(id)
		if err != nil {
			return err
		}
		c.setOwner(newKey)
	}
	s.renameSubBucket(old, newKey)
	b.key = newKey
	set, err := s.getBucketSet(b.bucketSet)
	if err != nil {
		return err
	}
	return set.renameMember(s, old, newKey)
}

// resolveRemoves evicts members whose internal count no longer clears the
// membership predicate, one at a time, until the bucket is stable. Each
// eviction shrinks the bucket, so this terminates.
func (b *subBucket) resolveRemoves(ctx context.Context, s *Session) (bool, error) {
	removed := false
	for !b.gone {
		victim, found := types.CardID(0), false
		for _, id := range b.sortedCards() {
			if !s.shouldMatch(b.cards[id], len(b.cards)) {
				victim, found = id, true
				break
			}
		}
		if !found {
			break
		}
		if err := b.removeCard(ctx, s, victim); err != nil {
			return removed, err
		}
		removed = true
	}
	return removed, nil
}

// resolveUpdates tries to pull the clusters of candidate cards into this
// bucket's family. Whenever a foreign BucketSet merges in, anything in
// matching may have become reachable, so the candidate set resets to all of
// matching and the scan restarts.
func (b *subBucket) resolveUpdates(ctx context.Context, s *Session, candidates []types.CardID) error {
	for !b.gone {
		foreign, err := b.foreignSets(s, candidates)
		if err != nil {
			return err
		}
		merged := false
		for _, foreignKey := range foreign {
			mine, err := s.getBucketSet(b.bucketSet)
			if err != nil {
				return err
			}
			other, err := s.getBucketSet(foreignKey)
			if err != nil {
				return err
			}
			a, err := s.cardSetOf(mine)
			if err != nil {
				return err
			}
			o, err := s.cardSetOf(other)
			if err != nil {
				return err
			}
			if !s.shouldMergeSets(a, o) {
				continue
			}
			if err := mine.merge(s, other); err != nil {
				return err
			}
			candidates = b.sortedMatching()
			merged = true
			break
		}
		if !merged {
			return nil
		}
	}
	return nil
}

// foreignSets collects the BucketSets, other than this bucket's own, that
// currently hold the candidates' clusters.
func (b *subBucket) foreignSets(s *Session, candidates []types.CardID) ([]uint32, error) {
	seen := make(map[uint32]struct{})
	var keys []uint32
	for _, id := range candidates {
		if _, ok := b.cards[id]; ok {
			continue
		}
		c, err := s.getCard(id)
		if err != nil {
			return nil, err
		}
		if c.owner == 0 {
			continue
		}
		other, err := s.getSubBucket(c.owner)
		if err != nil {
			return nil, err
		}
		if other == nil || other.bucketSet == b.bucketSet {
			continue
		}
		if _, ok := seen[other.bucketSet]; ok {
			continue
		}
		seen[other.bucketSet] = struct{}{}
		keys = append(keys, other.bucketSet)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys, nil
}

// resolve restabilizes the graph after this bucket changed: drop members
// that stopped matching, let the BucketSet split off unstable members, then
// chase merges for whatever may newly match, and finally recompute the key.
func (b *subBucket) resolve(ctx context.Context, s *Session, updates []types.CardID) error {
	removed, err := b.resolveRemoves(ctx, s)
	if err != nil {
		return err
	}
	if b.gone {
		return nil
	}

	set, err := s.getBucketSet(b.bucketSet)
	if err != nil {
		return err
	}
	setChanged, err := set.resolve(ctx, s)
	if err != nil {
		return err
	}
	if b.gone {
		return nil
	}

	var candidates []types.CardID
	if removed || setChanged {
		candidates = b.sortedMatching()
	} else {
		for _, id := range updates {
			if _, ok := b.matching[id]; ok {
				candidates = append(candidates, id)
			}
		}
	}
	if err := b.resolveUpdates(ctx, s, candidates); err != nil {
		return err
	}
	if b.gone {
		return nil
	}
	return b.propagateKey(s)
}
