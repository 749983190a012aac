package evidence

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nearline/nd/internal/types"
)

func TestSQLiteStore(t *testing.T) {
	ctx := context.Background()
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "evidence.db"))
	require.NoError(t, err)
	defer store.Close()

	_, ok, err := store.LookupFulltext(ctx, 1)
	require.NoError(t, err)
	require.False(t, ok, "missing card should report ok=false")

	require.NoError(t, store.PutCard(ctx, 1, "First card fulltext."))
	require.NoError(t, store.PutCard(ctx, 7, "Seventh card fulltext."))

	text, ok, err := store.LookupFulltext(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "First card fulltext.", text)

	// Replace is allowed for imports.
	require.NoError(t, store.PutCard(ctx, 1, "Replaced."))
	text, _, err = store.LookupFulltext(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, "Replaced.", text)

	ids, err := store.IDs(ctx)
	require.NoError(t, err)
	require.Equal(t, []types.CardID{1, 7}, ids)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestMemoryStoreMatchesInterface(t *testing.T) {
	ctx := context.Background()
	var store Store = NewMemoryStore()
	defer store.Close()

	require.NoError(t, store.PutCard(ctx, 3, "text"))
	text, ok, err := store.LookupFulltext(ctx, 3)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "text", text)

	_, ok, err = store.LookupFulltext(ctx, 4)
	require.NoError(t, err)
	require.False(t, ok)
}
