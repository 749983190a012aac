package kv

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *BadgerStore {
	t.Helper()
	store, err := Open(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStringAppend(t *testing.T) {
	store := openTestStore(t)

	tx := store.Begin()
	require.NoError(t, tx.Append("S:abcde", []byte("hello")))
	require.NoError(t, tx.Append("S:abcde", []byte(" world")))
	require.NoError(t, tx.Commit())

	tx = store.Begin()
	defer tx.Discard()
	val, ok, err := tx.Get("S:abcde")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "hello world", string(val))
}

func TestHashAndSetOps(t *testing.T) {
	store := openTestStore(t)

	tx := store.Begin()
	require.NoError(t, tx.HSetAll("C:1", map[string]string{"l": "12", "sb": "1"}))
	require.NoError(t, tx.SSetAll("BS:1", []string{"1", "7"}))
	require.NoError(t, tx.Commit())

	tx = store.Begin()
	defer tx.Discard()
	fields, err := tx.HGetAll("C:1")
	require.NoError(t, err)
	require.Equal(t, map[string]string{"l": "12", "sb": "1"}, fields)

	members, err := tx.SMembers("BS:1")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"1", "7"}, members)

	// Missing keys read as empty collections.
	fields, err = tx.HGetAll("C:404")
	require.NoError(t, err)
	require.Empty(t, fields)
	members, err = tx.SMembers("BS:404")
	require.NoError(t, err)
	require.Empty(t, members)
}

func TestListOps(t *testing.T) {
	store := openTestStore(t)

	tx := store.Begin()
	require.NoError(t, tx.RPush("Q", "1", "2"))
	require.NoError(t, tx.RPush("Q", "3"))
	require.NoError(t, tx.Commit())

	tx = store.Begin()
	n, err := tx.LLen("Q")
	require.NoError(t, err)
	require.Equal(t, 3, n)

	for _, want := range []string{"1", "2", "3"} {
		got, ok, err := tx.LPop("Q")
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, want, got)
	}
	_, ok, err := tx.LPop("Q")
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, tx.Commit())
}

func TestDel(t *testing.T) {
	store := openTestStore(t)

	tx := store.Begin()
	require.NoError(t, tx.HSetAll("SB:5", map[string]string{"bs": "5"}))
	require.NoError(t, tx.Commit())

	tx = store.Begin()
	require.NoError(t, tx.Del("SB:5"))
	require.NoError(t, tx.Commit())

	tx = store.Begin()
	defer tx.Discard()
	_, ok, err := tx.Get("SB:5")
	require.NoError(t, err)
	require.False(t, ok)
}

// A concurrent write to a key this transaction read must fail the commit,
// mirroring WATCH/MULTI/EXEC: the loser retries from scratch.
func TestOptimisticConflict(t *testing.T) {
	store := openTestStore(t)

	tx := store.Begin()
	require.NoError(t, tx.Append("S:ab12c", []byte("one")))
	require.NoError(t, tx.Commit())

	txA := store.Begin()
	txB := store.Begin()
	require.NoError(t, txA.Append("S:ab12c", []byte("A")))
	require.NoError(t, txB.Append("S:ab12c", []byte("B")))

	require.NoError(t, txA.Commit())
	err := txB.Commit()
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrConflict), "want ErrConflict, got %v", err)
	txB.Discard()
}

// Reading a key that does not exist yet still registers it: a transaction
// that creates the key concurrently conflicts with us.
func TestConflictOnMissingKeyRead(t *testing.T) {
	store := openTestStore(t)

	txA := store.Begin()
	_, ok, err := txA.Get("SB:9")
	require.NoError(t, err)
	require.False(t, ok)

	txB := store.Begin()
	require.NoError(t, txB.HSetAll("SB:9", map[string]string{"bs": "9"}))
	require.NoError(t, txB.Commit())

	require.NoError(t, txA.HSetAll("SB:9", map[string]string{"bs": "1"}))
	err = txA.Commit()
	require.True(t, errors.Is(err, ErrConflict), "want ErrConflict, got %v", err)
	txA.Discard()
}

func TestScan(t *testing.T) {
	store := openTestStore(t)

	tx := store.Begin()
	require.NoError(t, tx.HSetAll("SB:1", map[string]string{"bs": "1"}))
	require.NoError(t, tx.HSetAll("SB:2", map[string]string{"bs": "1"}))
	require.NoError(t, tx.HSetAll("C:1", map[string]string{"l": "3"}))
	require.NoError(t, tx.Commit())

	var keys []string
	err := store.Scan("SB:", func(key string, _ []byte) error {
		keys = append(keys, key)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"SB:1", "SB:2"}, keys)
}

func TestReadOnlyTxRejectsWrites(t *testing.T) {
	store := openTestStore(t)

	tx := store.BeginRead()
	defer tx.Discard()
	require.Error(t, tx.HSetAll("C:1", map[string]string{"l": "1"}))
	require.Error(t, tx.Del("C:1"))
	require.NoError(t, tx.Commit())
}
