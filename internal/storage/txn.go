package storage

import (
	"errors"

	"github.com/cockroachdb/pebble"
)

// ErrTxnClosed is returned when a committed or discarded Txn is used.
var ErrTxnClosed = errors.New("transaction closed")

// Txn is an all-or-nothing unit of work over the store.
// Reads observe the Txn's own uncommitted writes layered over committed state.
// Nothing is visible to other readers until Commit; Discard drops every write.
type Txn struct {
	batch     *pebble.Batch        // batch is an indexed batch (readable before commit)
	writeOpts *pebble.WriteOptions // writeOpts carries the store's durability mode
	closed    bool                 // closed is set after Commit or Discard
}

// Begin opens a new unit of work.
func (s *Storage) Begin() *Txn {
	return &Txn{batch: s.db.NewIndexedBatch(), writeOpts: s.writeOpts}
}

// Get reads key through the Txn. Returns nil if the key does not exist.
func (t *Txn) Get(key []byte) ([]byte, error) {
	if t.closed {
		return nil, ErrTxnClosed
	}

	return get(t.batch, key)
}

// Set stages a write.
func (t *Txn) Set(key, value []byte) error {
	if t.closed {
		return ErrTxnClosed
	}

	return t.batch.Set(key, value, nil)
}

// Delete stages a deletion.
func (t *Txn) Delete(key []byte) error {
	if t.closed {
		return ErrTxnClosed
	}

	return t.batch.Delete(key, nil)
}

// IteratePrefix visits keys with the given prefix as seen by the Txn.
func (t *Txn) IteratePrefix(prefix []byte, fn func(key, value []byte) error) error {
	if t.closed {
		return ErrTxnClosed
	}

	iter, err := t.batch.NewIter(prefixOptions(prefix))
	if err != nil {
		return err
	}

	return walk(iter, fn)
}

// Commit atomically applies every staged write. The WAL is synced before
// returning unless the store runs group commit.
func (t *Txn) Commit() error {
	if t.closed {
		return ErrTxnClosed
	}

	t.closed = true
	defer t.batch.Close()

	return t.batch.Commit(t.writeOpts)
}

// Discard drops every staged write. Safe to call after Commit.
func (t *Txn) Discard() {
	if t.closed {
		return
	}

	t.closed = true
	_ = t.batch.Close()
}
