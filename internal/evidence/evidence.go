// Package evidence provides the store of card fulltexts. The dedup engine
// only reads it; the CLI also imports cards into it.
package evidence

import (
	"context"

	"github.com/nearline/nd/internal/types"
)

// Store is the evidence store interface the engine depends on.
type Store interface {
	// LookupFulltext returns the fulltext for a card, reporting ok=false
	// when the card does not exist.
	LookupFulltext(ctx context.Context, id types.CardID) (fulltext string, ok bool, err error)

	// PutCard inserts or replaces a card's fulltext.
	PutCard(ctx context.Context, id types.CardID, fulltext string) error

	// IDs returns every stored card ID in ascending order.
	IDs(ctx context.Context) ([]types.CardID, error)

	// Count returns the number of stored cards.
	Count(ctx context.Context) (int, error)

	Close() error
}
