package dedup

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nearline/nd/internal/config"
	"github.com/nearline/nd/internal/evidence"
	"github.com/nearline/nd/internal/kv"
	"github.com/nearline/nd/internal/types"
)

func sessionWithEvidence(t *testing.T, store *kv.BadgerStore, ev evidence.Store) *Session {
	t.Helper()
	return newSession(store.Begin(), config.DefaultEngine(), ev, nil)
}

// A member whose internal count fell below the membership predicate is
// evicted, its ownership cleared, and it lands back on the queue.
func TestResolveRemovesEvictsWeakMember(t *testing.T) {
	store := openBareStore(t)
	ev := evidence.NewMemoryStore()
	ctx := context.Background()

	// Card 1's fulltext shares nothing, so its eviction unwinds no counters.
	require.NoError(t, ev.PutCard(ctx, 1, cardText(90, 91, 92)))

	s := sessionWithEvidence(t, store, ev)
	b, err := s.newSubBucket(1)
	require.NoError(t, err)
	require.NoError(t, b.addCard(s, 1, nil))
	require.NoError(t, b.addCard(s, 2, []types.CardID{1}))
	require.NoError(t, b.addCard(s, 3, []types.CardID{1, 2}))

	// Simulate dilution: card 1 only matches one of three members.
	b.cards[1] = 1

	removed, err := b.resolveRemoves(ctx, s)
	require.NoError(t, err)
	require.True(t, removed)
	require.NotContains(t, b.cards, types.CardID(1))
	require.Len(t, b.cards, 2)

	c, err := s.getCard(1)
	require.NoError(t, err)
	require.Equal(t, uint32(0), c.owner)

	_, err = s.Commit()
	require.NoError(t, err)

	tx := store.BeginRead()
	defer tx.Discard()
	queued, err := tx.SMembers("Q")
	require.NoError(t, err)
	require.Equal(t, []string{"1"}, queued, "evicted card must be re-queued")

	// The survivors keep the bucket, renamed to the new minimum.
	s2 := newBareSession(t, store)
	defer s2.Discard()
	loaded, err := s2.getSubBucket(2)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.NotContains(t, loaded.cards, types.CardID(1))
}

// Evicting the last member destroys the bucket and its implicit set.
func TestEvictionOfLastMemberDeletesBucket(t *testing.T) {
	store := openBareStore(t)
	ev := evidence.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, ev.PutCard(ctx, 5, cardText(80, 81, 82)))

	s := sessionWithEvidence(t, store, ev)
	b, err := s.newSubBucket(5)
	require.NoError(t, err)
	require.NoError(t, b.addCard(s, 5, nil))

	require.NoError(t, b.removeCard(ctx, s, 5))
	require.True(t, b.gone)
	_, err = s.Commit()
	require.NoError(t, err)

	s2 := newBareSession(t, store)
	defer s2.Discard()
	loaded, err := s2.getSubBucket(5)
	require.NoError(t, err)
	require.Nil(t, loaded)
}

// Two unrelated SubBuckets forced into one set are split back apart by the
// set's resolve pass.
func TestBucketSetResolveSplitsUnrelatedMembers(t *testing.T) {
	store := openBareStore(t)
	s := newBareSession(t, store)
	ctx := context.Background()

	a, err := s.newSubBucket(1)
	require.NoError(t, err)
	require.NoError(t, a.addCard(s, 1, nil))
	b, err := s.newSubBucket(9)
	require.NoError(t, err)
	require.NoError(t, b.addCard(s, 9, nil))

	// Force both into one set with no supporting matches.
	set, err := s.getBucketSet(a.bucketSet)
	require.NoError(t, err)
	other, err := s.getBucketSet(b.bucketSet)
	require.NoError(t, err)
	require.NoError(t, set.merge(s, other))
	require.Equal(t, map[uint32]struct{}{1: {}, 9: {}}, set.ids)

	changed, err := set.resolve(ctx, s)
	require.NoError(t, err)
	require.True(t, changed)
	require.Len(t, set.ids, 1)

	require.Equal(t, uint32(1), a.bucketSet)
	require.NotEqual(t, a.bucketSet, b.bucketSet, "split member gets its own set")

	_, err = s.Commit()
	require.NoError(t, err)

	// Nothing multi-member remains persisted.
	tx := store.BeginRead()
	defer tx.Discard()
	for _, key := range []string{"BS:1", "BS:9"} {
		_, ok, err := tx.Get(key)
		require.NoError(t, err)
		require.False(t, ok, "%s should not persist", key)
	}
}

// Merging two sets repoints every member and deletes the absorbed set.
func TestMergeRepointsMembers(t *testing.T) {
	store := openBareStore(t)
	s := newBareSession(t, store)

	a, err := s.newSubBucket(3)
	require.NoError(t, err)
	require.NoError(t, a.addCard(s, 3, nil))
	b, err := s.newSubBucket(8)
	require.NoError(t, err)
	require.NoError(t, b.addCard(s, 8, nil))

	set3, err := s.getBucketSet(3)
	require.NoError(t, err)
	set8, err := s.getBucketSet(8)
	require.NoError(t, err)

	require.NoError(t, set8.merge(s, set3))
	require.True(t, set3.gone)
	// min(3, 8) renames the surviving set to 3.
	require.Equal(t, uint32(3), set8.key)
	require.Equal(t, uint32(3), a.bucketSet)
	require.Equal(t, uint32(3), b.bucketSet)

	_, err = s.Commit()
	require.NoError(t, err)

	s2 := newBareSession(t, store)
	defer s2.Discard()
	loaded, err := s2.getBucketSet(3)
	require.NoError(t, err)
	require.Equal(t, map[uint32]struct{}{3: {}, 8: {}}, loaded.ids)
}
