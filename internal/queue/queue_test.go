package queue

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nearline/nd/internal/kv"
	"github.com/nearline/nd/internal/types"
)

func TestQueueFIFO(t *testing.T) {
	store, err := kv.Open(kv.InMemoryConfig())
	require.NoError(t, err)
	defer store.Close()

	q := New(store, "")
	require.NoError(t, q.Push(3, 1, 2))

	n, err := q.Len()
	require.NoError(t, err)
	require.Equal(t, 3, n)

	for _, want := range []types.CardID{3, 1, 2} {
		id, ok, err := q.Pop()
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, want, id)
	}

	_, ok, err := q.Pop()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestQueuePrefixIsolation(t *testing.T) {
	store, err := kv.Open(kv.InMemoryConfig())
	require.NoError(t, err)
	defer store.Close()

	a := New(store, "a:")
	b := New(store, "b:")
	require.NoError(t, a.Push(1))

	n, err := b.Len()
	require.NoError(t, err)
	require.Equal(t, 0, n)
}
