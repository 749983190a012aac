package dedup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/nearline/nd/internal/config"
	"github.com/nearline/nd/internal/evidence"
	"github.com/nearline/nd/internal/kv"
	"github.com/nearline/nd/internal/normalize"
	"github.com/nearline/nd/internal/types"
)

// Report is the outcome of one committed card workflow: the BucketSets
// whose membership changed (with their final card lists) and the keys of
// BucketSets that disappeared. The driver forwards these downstream.
type Report struct {
	Updates []BucketSummary
	Deletes []uint32
}

// BucketSummary is one touched BucketSet and its final card membership.
type BucketSummary struct {
	BucketSet uint32
	Cards     []types.CardID
}

// Processor runs the add/reprocess workflow for single cards against the
// shared stores. It is safe for concurrent use: each card gets its own
// session, and all coordination happens through the KV store's optimistic
// transactions.
type Processor struct {
	store kv.Store
	ev    evidence.Store
	eng   config.Engine
	log   *slog.Logger
}

// NewProcessor wires a processor. A nil logger discards engine logging.
func NewProcessor(store kv.Store, ev evidence.Store, eng config.Engine, log *slog.Logger) *Processor {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Processor{store: store, ev: ev, eng: eng, log: log}
}

// ProcessCard applies one card, retrying the whole unit of work on
// optimistic conflict until it commits or fails. rawSentences, when
// non-nil, bypasses the evidence lookup (the driver may already hold the
// split text); it is normalized either way.
func (p *Processor) ProcessCard(ctx context.Context, id types.CardID, rawSentences []string) (*Report, error) {
	start := time.Now()
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		report, err := p.processOnce(ctx, id, rawSentences)
		if errors.Is(err, kv.ErrConflict) {
			commitConflicts.Inc()
			p.log.Debug("optimistic conflict, retrying", "card", id, "attempt", attempt)
			continue
		}
		if err != nil {
			return nil, err
		}
		cardsProcessed.Inc()
		processDuration.Observe(time.Since(start).Seconds())
		p.log.Info("card processed",
			"card", id,
			"attempts", attempt,
			"updated_sets", len(report.Updates),
			"deleted_sets", len(report.Deletes))
		return report, nil
	}
}

func (p *Processor) processOnce(ctx context.Context, id types.CardID, rawSentences []string) (*Report, error) {
	s := newSession(p.store.Begin(), p.eng, p.ev, p.log)
	defer s.Discard()

	c, err := s.getCard(id)
	if err != nil {
		return nil, err
	}
	if c.owner != 0 {
		// Reprocess: the card is already clustered. Walk its component and
		// report it; no structural change, nothing to commit.
		return p.reprocess(s, c.owner)
	}

	sentences, err := p.normalizedSentences(ctx, s, id, rawSentences)
	if err != nil {
		return nil, err
	}
	c.setLength(len(sentences))

	res, err := matchCard(ctx, s, id, sentences)
	if err != nil {
		return nil, err
	}

	candidates, err := p.candidateBuckets(s, res.Matches)
	if err != nil {
		return nil, err
	}
	for _, b := range candidates {
		b.setMatches(s, id, res.Matches)
	}

	var matched []*subBucket
	for _, b := range candidates {
		if b.doesBucketMatch(s, res.Matches) {
			matched = append(matched, b)
		}
	}

	var target *subBucket
	if len(matched) == 0 {
		target, err = s.newSubBucket(uint32(id))
		if err != nil {
			return nil, err
		}
		bucketsCreated.Inc()
	} else {
		target = matched[0]
		for _, b := range matched[1:] {
			if len(b.cards) > len(target.cards) {
				target = b
			}
		}
	}
	if err := target.addCard(s, id, res.Matches); err != nil {
		return nil, err
	}

	if err := target.resolve(ctx, s, res.Matches); err != nil {
		return nil, err
	}

	if !res.Existing {
		for i, sent := range sentences {
			if err := s.addOccurrence(sent, id, uint16(i)); err != nil {
				return nil, err
			}
		}
	}
	return s.Commit()
}

func (p *Processor) normalizedSentences(ctx context.Context, s *Session, id types.CardID, raw []string) ([]types.Sentence, error) {
	if raw != nil {
		// Non-nil even when every fragment is cut, so matchCard does not
		// fall back to the evidence store.
		sentences := make([]types.Sentence, 0, len(raw))
		for _, text := range raw {
			clean := normalize.Clean(text)
			if len([]rune(clean)) < p.eng.SentenceCutoff {
				continue
			}
			sentences = append(sentences, types.NewSentence(clean, len(sentences)))
		}
		return sentences, nil
	}
	fulltext, ok, err := p.ev.LookupFulltext(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("card %d: %w", id, ErrMissingCard)
	}
	return normalize.Sentences(fulltext, p.eng.SentenceCutoff), nil
}

// candidateBuckets resolves the distinct SubBuckets currently owning the
// matched cards, in first-match order.
func (p *Processor) candidateBuckets(s *Session, matches []types.CardID) ([]*subBucket, error) {
	seen := make(map[uint32]struct{})
	var buckets []*subBucket
	for _, m := range matches {
		c, err := s.getCard(m)
		if err != nil {
			return nil, err
		}
		if c.owner == 0 {
			continue
		}
		if _, ok := seen[c.owner]; ok {
			continue
		}
		seen[c.owner] = struct{}{}
		b, err := s.getSubBucket(c.owner)
		if err != nil {
			return nil, err
		}
		if b == nil {
			p.log.Warn("card references missing bucket", "card", m, "bucket", c.owner)
			continue
		}
		buckets = append(buckets, b)
	}
	return buckets, nil
}

// reprocess walks the connected component of SubBuckets reachable from the
// card's bucket through matching edges, crossing BucketSets, and reports
// the sets it spans without touching anything.
func (p *Processor) reprocess(s *Session, ownerKey uint32) (*Report, error) {
	pending := []uint32{ownerKey}
	visitedBuckets := make(map[uint32]struct{})
	visitedSets := make(map[uint32]*bucketSet)

	for len(pending) > 0 {
		key := pending[0]
		pending = pending[1:]
		if _, ok := visitedBuckets[key]; ok {
			continue
		}
		visitedBuckets[key] = struct{}{}

		b, err := s.getSubBucket(key)
		if err != nil {
			return nil, err
		}
		if b == nil {
			continue
		}
		set, err := s.getBucketSet(b.bucketSet)
		if err != nil {
			return nil, err
		}
		if _, ok := visitedSets[set.key]; !ok {
			visitedSets[set.key] = set
			for id := range set.ids {
				pending = append(pending, id)
			}
		}
		for _, id := range b.sortedMatching() {
			c, err := s.getCard(id)
			if err != nil {
				return nil, err
			}
			if c.owner != 0 {
				pending = append(pending, c.owner)
			}
		}
	}

	report := &Report{}
	for key, set := range visitedSets {
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
