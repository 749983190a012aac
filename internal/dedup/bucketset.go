package dedup

import (
	"context"
	"sort"
)

// bucketSet is a loose family of SubBuckets held together by the merge
// predicate. key is always min(ids). A set with a single member is implicit:
// it is never persisted and is reconstituted on load.
type bucketSet struct {
	key     uint32
	ids     map[uint32]struct{}
	updated bool
	gone    bool
}

func (bs *bucketSet) minID() uint32 {
	first := true
	var min uint32
	for id := range bs.ids {
		if first || id < min {
			min = id
			first = false
		}
	}
	return min
}

func (bs *bucketSet) sortedIDs() []uint32 {
	ids := make([]uint32, 0, len(bs.ids))
	for id := range bs.ids {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// merge absorbs other into this set. Other's members are repointed here,
// other's persistence is deleted, and the union may rename this set.
func (bs *bucketSet) merge(s *Session, other *bucketSet) error {
	setMerges.Inc()
	bs.updated = true
	s.removeBucketSetEntity(other.key)
	other.gone = true
	for id := range other.ids {
		bs.ids[id] = struct{}{}
	}
	other.ids = make(map[uint32]struct{})

	for id := range bs.ids {
		b, err := s.getSubBucket(id)
		if err != nil {
			return err
		}
		if b == nil {
			continue
		}
		b.bucketSet = bs.key
		b.updated = true
	}
	return bs.propagateKey(s)
}

// removeSubBucket splits a member out into a fresh singleton set, then lets
// the evicted bucket chase any merge it still qualifies for.
func (bs *bucketSet) removeSubBucket(ctx context.Context, s *Session, sbKey uint32) error {
	setSplits.Inc()
	delete(bs.ids, sbKey)
	bs.updated = true
	if err := bs.propagateKey(s); err != nil {
		return err
	}

	b, err := s.getSubBucket(sbKey)
	if err != nil {
		return err
	}
	if b == nil {
		return nil
	}
	fresh, err := s.newBucketSet(sbKey)
	if err != nil {
		return err
	}
	b.bucketSet = fresh.key
	b.updated = true
	return b.resolveUpdates(ctx, s, b.sortedMatching())
}

// detach removes an emptied SubBucket's key without creating a replacement
// set; an emptied set disappears entirely.
func (bs *bucketSet) detach(s *Session, sbKey uint32) error {
	delete(bs.ids, sbKey)
	bs.updated = true
	if len(bs.ids) == 0 {
		s.removeBucketSetEntity(bs.key)
		bs.gone = true
		return nil
	}
	return bs.propagateKey(s)
}

// resolve splits out members that no longer merge with the rest of the
// family. Each pass considers every member against the union of the others;
// an eviction restarts the pass because the union changed.
func (bs *bucketSet) resolve(ctx context.Context, s *Session) (bool, error) {
	changed := false
	for !bs.gone && len(bs.ids) > 1 {
		evicted := false
		for _, id := range bs.sortedIDs() {
			rest := make([]uint32, 0, len(bs.ids)-1)
			for _, r := range bs.sortedIDs() {
				if r != id {
					rest = append(rest, r)
				}
			}
			restSet, err := s.cardSetOfKeys(rest)
			if err != nil {
				return changed, err
			}
			memberSet, err := s.cardSetOfKeys([]uint32{id})
			if err != nil {
				return changed, err
			}
			if s.shouldMergeSets(restSet, memberSet) {
				continue
			}
			if err := bs.removeSubBucket(ctx, s, id); err != nil {
				return changed, err
			}
			changed = true
			evicted = true
			break
		}
		if !evicted {
			break
		}
	}
	return changed, nil
}

// propagateKey recomputes key = min(ids), renaming the entity and rewriting
// every member's back-reference when it changed.
func (bs *bucketSet) propagateKey(s *Session) error {
	if bs.gone || len(bs.ids) == 0 {
		return nil
	}
	newKey := bs.minID()
	if newKey == bs.key {
		return nil
	}
	s.renameBucketSet(bs.key, newKey)
	bs.key = newKey
	for id := range bs.ids {
		b, err := s.getSubBucket(id)
		if err != nil {
			return err
		}
		if b == nil {
			continue
		}
		b.bucketSet = newKey
		b.updated = true
	}
	return nil
}

// renameMember swaps a member key after a SubBucket rename.
func (bs *bucketSet) renameMember(s *Session, old, new uint32) error {
	delete(bs.ids, old)
	bs.ids[new] = struct{}{}
	bs.updated = true
	return bs.propagateKey(s)
}
