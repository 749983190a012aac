// Package kv abstracts the transactional key-value store the dedup engine
// coordinates through. The store exposes string, hash, set and list values
// under optimistic concurrency: every key read inside a transaction is
// watched, and Commit fails with ErrConflict if a concurrent transaction
// wrote any watched key first. The caller retries its whole unit of work.
package kv

import "errors"

// ErrConflict is returned by Tx.Commit when a concurrently committed write
// touched a key this transaction read. The unit of work must be re-run
// against fresh state.
var ErrConflict = errors.New("kv: optimistic conflict")

// Store is a transactional key-value store.
type Store interface {
	// Begin opens a read-write transaction. Reads register the key for
	// conflict detection before returning its value.
	Begin() Tx

	// BeginRead opens a read-only snapshot transaction. Commit is a no-op;
	// writes are rejected.
	BeginRead() Tx

	// Scan visits every key with the given prefix in an isolated snapshot,
	// in key order. Returning an error from fn stops the scan.
	Scan(prefix string, fn func(key string, value []byte) error) error

	Close() error
}

// Tx is a single transaction. Implementations are not safe for concurrent
// use; one transaction belongs to one unit of work.
//
// Missing keys read as empty values: Get reports ok=false, HGetAll returns
// an empty map, SMembers and list operations see an empty collection.
type Tx interface {
	// Get returns the raw string value at key.
	Get(key string) (value []byte, ok bool, err error)

	// Append appends p to the string value at key, creating it if absent.
	Append(key string, p []byte) error

	// HGetAll returns all fields of the hash at key.
	HGetAll(key string) (map[string]string, error)

	// HSetAll replaces the hash at key with the given fields.
	HSetAll(key string, fields map[string]string) error

	// SMembers returns the members of the set at key.
	SMembers(key string) ([]string, error)

	// SSetAll replaces the set at key with the given members.
	SSetAll(key string, members []string) error

	// RPush appends values to the tail of the list at key.
	RPush(key string, values ...string) error

	// LPop removes and returns the head of the list at key.
	LPop(key string) (value string, ok bool, err error)

	// LLen returns the length of the list at key.
	LLen(key string) (int, error)

	// Del removes keys.
	Del(keys ...string) error

	// Commit atomically applies the transaction's writes. Returns
	// ErrConflict when optimistic validation fails.
	Commit() error

	// Discard releases the transaction. Safe to call after Commit.
	Discard()
}
