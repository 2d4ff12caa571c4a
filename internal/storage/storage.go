package storage

import (
	"bytes"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	"OrgRegistry/internal/logger"
)

const defaultCacheSize = 16 << 20

// Option tunes a Storage at open time.
type Option func(*options)

type options struct {
	cacheSize    int64         // cacheSize is the Pebble block cache size in bytes
	syncInterval time.Duration // syncInterval > 0 enables group commit
}

// WithCacheSize sets the block cache size in bytes.
func WithCacheSize(bytes int64) Option {
	return func(o *options) { o.cacheSize = bytes }
}

// WithSyncInterval switches commits to group commit: Txn.Commit returns
// once the batch is in the WAL buffer, and the WAL is synced every interval.
// A crash can lose up to one interval of commits. Zero (the default) syncs
// every commit.
func WithSyncInterval(interval time.Duration) Option {
	return func(o *options) { o.syncInterval = interval }
}

// Storage is the node's Pebble-backed key-value store.
// Every write goes through a Txn; Storage itself only reads.
type Storage struct {
	db        *pebble.DB
	writeOpts *pebble.WriteOptions // writeOpts is used by Txn.Commit

	stop      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// New opens (or creates) a Storage at path.
func New(path string, opts ...Option) (*Storage, error) {
	o := options{cacheSize: defaultCacheSize}
	for _, opt := range opts {
		opt(&o)
	}

	cache := pebble.NewCache(o.cacheSize)
	defer cache.Unref()

	db, err := pebble.Open(path, &pebble.Options{
		Cache:                       cache,
		MemTableSize:                8 << 20,
		MemTableStopWritesThreshold: 2,
	})
	if err != nil {
		return nil, fmt.Errorf("open pebble at %s:\n%w", path, err)
	}

	s := &Storage{db: db, writeOpts: pebble.Sync, stop: make(chan struct{})}

	if o.syncInterval > 0 {
		s.writeOpts = pebble.NoSync
		s.wg.Add(1)
		go s.flushLoop(o.syncInterval)
	}

	return s, nil
}

// Get returns a copy of the committed value for key, or nil if absent.
func (s *Storage) Get(key []byte) ([]byte, error) {
	return get(s.db, key)
}

// IteratePrefix calls fn for each committed key-value pair with the given prefix,
// in lexicographic key order. Iteration stops at the first error from fn.
func (s *Storage) IteratePrefix(prefix []byte, fn func(key, value []byte) error) error {
	return s.IterateFrom(prefix, prefix, fn)
}

// IterateFrom is IteratePrefix starting at the first key >= start.
func (s *Storage) IterateFrom(prefix, start []byte, fn func(key, value []byte) error) error {
	opts := prefixOptions(prefix)
	if bytes.Compare(start, opts.LowerBound) > 0 {
		opts.LowerBound = start
	}

	iter, err := s.db.NewIter(opts)
	if err != nil {
		return err
	}

	return walk(iter, fn)
}

// Close stops group commit, flushes the WAL and closes the database.
// Later calls return the first call's result.
func (s *Storage) Close() error {
	s.closeOnce.Do(func() {
		close(s.stop)
		s.wg.Wait()

		if err := s.flush(); err != nil {
			s.closeErr = fmt.Errorf("final wal sync:\n%w", err)
			_ = s.db.Close()
			return
		}

		s.closeErr = s.db.Close()
	})

	return s.closeErr
}

// flushLoop syncs the WAL every interval until Close.
func (s *Storage) flushLoop(interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.flush(); err != nil {
				logger.Warn("wal sync failed", "error", err)
			}
		case <-s.stop:
			return
		}
	}
}

// flush forces buffered WAL writes to disk.
func (s *Storage) flush() error {
	return s.db.LogData(nil, pebble.Sync)
}

// reader is the read surface shared by the database and an indexed batch.
type reader interface {
	Get(key []byte) ([]byte, io.Closer, error)
}

// get copies the value out of Pebble's buffer, which is reused after the
// closer runs.
func get(r reader, key []byte) ([]byte, error) {
	value, closer, err := r.Get(key)
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	return append([]byte(nil), value...), nil
}

// walk drains iter through fn and closes it.
func walk(iter *pebble.Iterator, fn func(key, value []byte) error) error {
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		value, err := iter.ValueAndErr()
		if err != nil {
			return err
		}

		if err := fn(iter.Key(), value); err != nil {
			return err
		}
	}

	return iter.Error()
}

// prefixOptions bounds an iterator to keys starting with prefix.
func prefixOptions(prefix []byte) *pebble.IterOptions {
	return &pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	}
}

// prefixUpperBound returns the smallest key greater than every key with the
// given prefix, or nil when no such key exists (prefix is empty or all 0xFF).
func prefixUpperBound(prefix []byte) []byte {
	for i := len(prefix) - 1; i >= 0; i-- {
		if prefix[i] != 0xFF {
			upper := append([]byte(nil), prefix[:i+1]...)
			upper[i]++
			return upper
		}
	}

	return nil
}
