package dedup

import (
	"github.com/nearline/nd/internal/types"
)

// cardSet is the aggregate view of a collection of SubBuckets: the union of
// their members and the summed external match counts. The merge predicate
// between two families is evaluated on these aggregates.
type cardSet struct {
	members  map[types.CardID]struct{}
	matching map[types.CardID]int
}

func (cs cardSet) size() int {
	return len(cs.members)
}

func (s *Session) cardSetOf(set *bucketSet) (cardSet, error) {
	return s.cardSetOfKeys(set.sortedIDs())
}

func (s *Session) cardSetOfKeys(subBucketKeys []uint32) (cardSet, error) {
	cs := cardSet{
		members:  make(map[types.CardID]struct{}),
		matching: make(map[types.CardID]int),
	}
	for _, key := range subBucketKeys {
		b, err := s.getSubBucket(key)
		if err != nil {
			return cs, err
		}
		if b == nil {
			continue
		}
		for id := range b.cards {
			cs.members[id] = struct{}{}
		}
		for id, n := range b.matching {
			cs.matching[id] += n
		}
	}
	return cs, nil
}

// shouldMergeSets decides whether family b belongs with family a. The
// predicate is asymmetric and applied twice: first per member of b (does it
// match enough of a), then to the count of such members against b's size.
// It is intentionally loose so distant clusters unify across many weak
// bridges.
func (s *Session) shouldMergeSets(a, b cardSet) bool {
	n := 0
	for id := range b.members {
		if s.shouldMergeCount(a.matching[id], a.size()) {
			n++
		}
	}
	return s.shouldMergeCount(n, b.size())
}
