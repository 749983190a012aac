// Package queue is the ingestion queue: card IDs pending processing, kept
// as a list in the shared KV store so every worker process sees it.
package queue

import (
	"errors"
	"fmt"

	"github.com/nearline/nd/internal/dedup"
	"github.com/nearline/nd/internal/kv"
	"github.com/nearline/nd/internal/types"
)

// Queue drains and fills the shared card-ID list. Pop and Push run their
// own transactions; the engine re-queues evicted cards inside its own unit
// of work instead, so eviction and re-queue commit atomically.
type Queue struct {
	store kv.Store
	key   string
}

func New(store kv.Store, keyPrefix string) *Queue {
	return &Queue{store: store, key: dedup.QueueKey(keyPrefix)}
}

// Push appends card IDs to the tail of the queue.
func (q *Queue) Push(ids ...types.CardID) error {
	vals := make([]string, len(ids))
	for i, id := range ids {
		vals[i] = id.String()
	}
	for {
		tx := q.store.Begin()
		if err := tx.RPush(q.key, vals...); err != nil {
			tx.Discard()
			return err
		}
		err := tx.Commit()
		if errors.Is(err, kv.ErrConflict) {
			continue
		}
		return err
	}
}

// Pop removes and returns the head of the queue, reporting ok=false when
// the queue is empty. Contention between workers retries internally.
func (q *Queue) Pop() (types.CardID, bool, error) {
	for {
		tx := q.store.Begin()
		val, ok, err := tx.LPop(q.key)
		if err != nil {
			tx.Discard()
			return 0, false, err
		}
		if !ok {
			tx.Discard()
			return 0, false, nil
		}
		err = tx.Commit()
		if errors.Is(err, kv.ErrConflict) {
			continue
		}
		if err != nil {
			return 0, false, err
		}
		id, err := types.ParseCardID(val)
		if err != nil {
			return 0, false, fmt.Errorf("queue: %w", err)
		}
		return id, true, nil
	}
}

// Len returns the queue depth.
func (q *Queue) Len() (int, error) {
	tx := q.store.BeginRead()
	defer tx.Discard()
	return tx.LLen(q.key)
}
