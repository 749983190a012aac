package kv

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
)

// Config holds configuration for the Badger-backed store.
type Config struct {
	// Path is the directory for the database files. Ignored when InMemory
	// is true.
	Path string

	// InMemory keeps everything in RAM. Used by tests.
	InMemory bool

	// SyncWrites forces an fsync per commit.
	SyncWrites bool

	// Logger receives Badger's internal log output. Nil disables it.
	Logger *slog.Logger
}

// DefaultConfig returns the production configuration for a given directory.
func DefaultConfig(path string) Config {
	return Config{
		Path:       path,
		SyncWrites: true,
	}
}

// InMemoryConfig returns a configuration for tests: no disk I/O, no sync.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLogger adapts slog to Badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// BadgerStore implements Store on BadgerDB. Badger's SSI transactions give
// the watch semantics the engine needs: every Get inside a read-write
// transaction registers the key, and Commit fails when a concurrently
// committed transaction wrote a registered key.
type BadgerStore struct {
	db *badger.DB
}

// Open opens (creating if needed) a Badger-backed store.
func Open(cfg Config) (*BadgerStore, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("kv: config requires a path unless in-memory")
		}
		if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
			return nil, fmt.Errorf("kv: create directory: %w", err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	if cfg.Logger != nil {
		opts = opts.WithLogger(badgerLogger{cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("kv: open badger: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Begin() Tx {
	return &badgerTx{txn: s.db.NewTransaction(true)}
}

func (s *BadgerStore) BeginRead() Tx {
	return &badgerTx{txn: s.db.NewTransaction(false), readOnly: true}
}

func (s *BadgerStore) Scan(prefix string, fn func(key string, value []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			val, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("kv: read %q: %w", item.Key(), err)
			}
			if err := fn(string(item.Key()), val); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

type badgerTx struct {
	txn      *badger.Txn
	readOnly bool
}

func (t *badgerTx) Get(key string) ([]byte, bool, error) {
	item, err := t.txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("kv: get %q: %w", key, err)
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return nil, false, fmt.Errorf("kv: get %q: %w", key, err)
	}
	return val, true, nil
}

func (t *badgerTx) set(key string, value []byte) error {
	if t.readOnly {
		return fmt.Errorf("kv: write %q in read-only transaction", key)
	}
	if err := t.txn.Set([]byte(key), value); err != nil {
		return fmt.Errorf("kv: set %q: %w", key, err)
	}
	return nil
}

func (t *badgerTx) Append(key string, p []byte) error {
	old, _, err := t.Get(key)
	if err != nil {
		return err
	}
	buf := make([]byte, 0, len(old)+len(p))
	buf = append(buf, old...)
	buf = append(buf, p...)
	return t.set(key, buf)
}

func (t *badgerTx) HGetAll(key string) (map[string]string, error) {
	val, ok, err := t.Get(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return map[string]string{}, nil
	}
	fields, err := DecodeHash(val)
	if err != nil {
		return nil, fmt.Errorf("kv: hash %q: %w", key, err)
	}
	return fields, nil
}

func (t *badgerTx) HSetAll(key string, fields map[string]string) error {
	return t.set(key, EncodeHash(fields))
}

func (t *badgerTx) SMembers(key string) ([]string, error) {
	val, ok, err := t.Get(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	members, err := DecodeStrings(val)
	if err != nil {
		return nil, fmt.Errorf("kv: set %q: %w", key, err)
	}
	return members, nil
}

func (t *badgerTx) SSetAll(key string, members []string) error {
	return t.set(key, EncodeStrings(members))
}

func (t *badgerTx) RPush(key string, values ...string) error {
	list, err := t.SMembers(key) // same encoding, ordered
	if err != nil {
		return err
	}
	list = append(list, values...)
	return t.set(key, EncodeStrings(list))
}

func (t *badgerTx) LPop(key string) (string, bool, error) {
	list, err := t.SMembers(key)
	if err != nil {
		return "", false, err
	}
	if len(list) == 0 {
		return "", false, nil
	}
	head := list[0]
	if len(list) == 1 {
		if err := t.Del(key); err != nil {
			return "", false, err
		}
		return head, true, nil
	}
	if err := t.set(key, EncodeStrings(list[1:])); err != nil {
		return "", false, err
	}
	return head, true, nil
}

func (t *badgerTx) LLen(key string) (int, error) {
	list, err := t.SMembers(key)
	if err != nil {
		return 0, err
	}
	return len(list), nil
}

func (t *badgerTx) Del(keys ...string) error {
	if t.readOnly {
		return errors.New("kv: delete in read-only transaction")
	}
	for _, key := range keys {
		if err := t.txn.Delete([]byte(key)); err != nil {
			return fmt.Errorf("kv: delete %q: %w", key, err)
		}
	}
	return nil
}

func (t *badgerTx) Commit() error {
	if t.readOnly {
		t.txn.Discard()
		return nil
	}
	err := t.txn.Commit()
	if errors.Is(err, badger.ErrConflict) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("kv: commit: %w", err)
	}
	return nil
}

func (t *badgerTx) Discard() {
	t.txn.Discard()
}
