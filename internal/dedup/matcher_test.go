package dedup

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nearline/nd/internal/config"
	"github.com/nearline/nd/internal/normalize"
	"github.com/nearline/nd/internal/types"
)

func TestCheckMatch(t *testing.T) {
	s := &Session{eng: config.DefaultEngine()}

	tests := []struct {
		name string
		x, y span
		want bool
	}{
		{
			name: "inside: all sentences shared",
			x:    span{length: 4, min: 0, max: 3, seen: true},
			y:    span{length: 10, min: 2, max: 5, seen: true},
			want: true,
		},
		{
			name: "inside: two sentences hang out, at tolerance",
			x:    span{length: 6, min: 1, max: 4, seen: true},
			y:    span{length: 9, min: 0, max: 3, seen: true},
			want: true,
		},
		{
			name: "inside: three sentences hang out, over tolerance",
			x:    span{length: 7, min: 1, max: 4, seen: true},
			y:    span{length: 9, min: 0, max: 3, seen: true},
			want: false,
		},
		{
			name: "inside needs more than three sentences",
			x:    span{length: 3, min: 0, max: 2, seen: true},
			y:    span{length: 9, min: 4, max: 6, seen: true},
			want: false,
		},
		{
			name: "edge: head of x on tail of y",
			x:    span{length: 8, min: 0, max: 2, seen: true},
			y:    span{length: 5, min: 2, max: 4, seen: true},
			want: true,
		},
		{
			name: "edge: within tolerance one off each end",
			x:    span{length: 8, min: 1, max: 2, seen: true},
			y:    span{length: 5, min: 2, max: 4, seen: true},
			want: true,
		},
		{
			name: "edge: shared run too far from y tail",
			x:    span{length: 8, min: 0, max: 2, seen: true},
			y:    span{length: 5, min: 0, max: 2, seen: true},
			want: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.checkMatch(tt.x, tt.y); got != tt.want {
				t.Errorf("checkMatch = %v, want %v", got, tt.want)
			}
		})
	}
}

// matchCard reports Existing when the card's own occurrences are already
// indexed, and never matches a card against itself.
func TestMatchCardExistingAndSelf(t *testing.T) {
	store := openBareStore(t)
	ctx := context.Background()

	s := newBareSession(t, store)
	sentences := normalize.Sentences(cardText(1, 2, 3), 20)
	c, err := s.getCard(1)
	require.NoError(t, err)
	c.setLength(len(sentences))
	for i, snt := range sentences {
		require.NoError(t, s.addOccurrence(snt, 1, uint16(i)))
	}
	_, err = s.Commit()
	require.NoError(t, err)

	s2 := newBareSession(t, store)
	defer s2.Discard()
	res, err := matchCard(ctx, s2, 1, sentences)
	require.NoError(t, err)
	require.True(t, res.Existing)
	require.Empty(t, res.Matches, "a card never matches itself")
}

// Occurrences under the same shard bucket but a different sub key are
// filtered out before the positional test.
func TestMatchCardFiltersBySubKey(t *testing.T) {
	store := openBareStore(t)
	ctx := context.Background()

	target := types.NewSentence("somenormalizedsentencebodyhere", 0)
	imposter := types.Occurrence{Sub: "00000000aa", Card: 7, Index: 0}
	require.NotEqual(t, target.Sub, imposter.Sub)

	s := newBareSession(t, store)
	sh, err := s.getShard(target.Bucket)
	require.NoError(t, err)
	packed, err := imposter.Pack(nil)
	require.NoError(t, err)
	sh.pending = packed
	c, err := s.getCard(7)
	require.NoError(t, err)
	c.setLength(1)
	_, err = s.Commit()
	require.NoError(t, err)

	s2 := newBareSession(t, store)
	defer s2.Discard()
	res, err := matchCard(ctx, s2, 3, []types.Sentence{target})
	require.NoError(t, err)
	require.False(t, res.Existing)
	require.Empty(t, res.Matches)
}
