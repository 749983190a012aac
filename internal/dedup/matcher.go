package dedup

import (
	"context"
	"fmt"
	"sort"

	"github.com/nearline/nd/internal/normalize"
	"github.com/nearline/nd/internal/types"
)

// matchResult is the outcome of candidate generation for one card.
type matchResult struct {
	// Matches holds the IDs of cards whose sentence overlap passes the
	// positional test, ascending.
	Matches []types.CardID

	// Existing reports whether the card already has occurrences in the
	// sentence index, so the processor knows not to append them again.
	Existing bool
}

// span tracks, for one side of a card pair, the card's sentence count and
// the range of positions the shared sentences cover.
type span struct {
	length   int
	min, max int
	seen     bool
}

func (sp *span) observe(index, length int) {
	sp.length = length
	if !sp.seen || index < sp.min {
		sp.min = index
	}
	if !sp.seen || index > sp.max {
		sp.max = index
	}
	sp.seen = true
}

// matchCard generates candidates for a card from the sentence index and
// filters them by positional overlap. When sentences is nil the card's
// fulltext is loaded from the evidence store and normalized first.
//
// A candidate matches when either card lies almost entirely inside the
// other, or the head of one aligns with the tail of the other. Sub-key
// collisions surviving to this point only inflate a span and are washed out
// by the same test.
func matchCard(ctx context.Context, s *Session, id types.CardID, sentences []types.Sentence) (matchResult, error) {
	var res matchResult
	if sentences == nil {
		fulltext, ok, err := s.ev.LookupFulltext(ctx, id)
		if err != nil {
			return res, err
		}
		if !ok {
			return res, fmt.Errorf("card %d: %w", id, ErrMissingCard)
		}
		sentences = normalize.Sentences(fulltext, s.eng.SentenceCutoff)
	}

	type pair struct{ a, b span }
	infos := make(map[types.CardID]*pair)

	for i, sent := range sentences {
		sh, err := s.getShard(sent.Bucket)
		if err != nil {
			return res, err
		}
		for _, occ := range sh.occs {
			if occ.Sub != sent.Sub {
				continue
			}
			if occ.Card == id {
				res.Existing = true
				continue
			}
			info := infos[occ.Card]
			if info == nil {
				info = &pair{}
				infos[occ.Card] = info
			}
			info.a.observe(i, len(sentences))
			info.b.observe(int(occ.Index), 0)
		}
	}

	for other, info := range infos {
		c, err := s.getCard(other)
		if err != nil {
			return res, err
		}
		if !c.hasLength {
			s.log.Warn("indexed card has no stored length", "card", other)
			continue
		}
		info.b.length = c.length
		if s.checkMatch(info.a, info.b) || s.checkMatch(info.b, info.a) {
			res.Matches = append(res.Matches, other)
		}
	}
	sort.Slice(res.Matches, func(i, j int) bool { return res.Matches[i] < res.Matches[j] })
	return res, nil
}

// checkMatch is the one-directional positional overlap test. Inside: x has
// more than three sentences and at most InsideTolerance of them fall
// outside the shared range. Edge: the shared range starts at x's head and
// runs to y's tail, within EdgeTolerance.
func (s *Session) checkMatch(x, y span) bool {
	if x.length > 3 && x.length-(x.max+1-x.min) <= s.eng.InsideTolerance {
		return true
	}
	return x.min <= s.eng.EdgeTolerance && y.length-y.max <= s.eng.EdgeTolerance
}
