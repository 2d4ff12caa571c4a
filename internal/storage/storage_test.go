package storage

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// newTestStorage creates a temporary storage for testing.
func newTestStorage(t *testing.T, opts ...Option) *Storage {
	t.Helper()

	dir, err := os.MkdirTemp("", "storage-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}

	s, err := New(filepath.Join(dir, "db"), opts...)
	if err != nil {
		os.RemoveAll(dir)
		t.Fatalf("failed to create storage: %v", err)
	}

	t.Cleanup(func() {
		s.Close()
		os.RemoveAll(dir)
	})

	return s
}

// commit applies fn inside a Txn and commits it.
func commit(t *testing.T, s *Storage, fn func(txn *Txn) error) {
	t.Helper()

	txn := s.Begin()
	if err := fn(txn); err != nil {
		txn.Discard()
		t.Fatalf("stage writes: %v", err)
	}

	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
}

func TestGet_CommittedSetAndDelete(t *testing.T) {
	s := newTestStorage(t)
	key := []byte("k")

	commit(t, s, func(txn *Txn) error { return txn.Set(key, []byte("v")) })

	got, err := s.Get(key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if !bytes.Equal(got, []byte("v")) {
		t.Errorf("Get returned %q, want %q", got, "v")
	}

	commit(t, s, func(txn *Txn) error { return txn.Delete(key) })

	got, err = s.Get(key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if got != nil {
		t.Errorf("Get after Delete returned %q, want nil", got)
	}
}

// TestGroupCommit_SurvivesReopen verifies group-commit writes reach disk by Close.
func TestGroupCommit_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")

	s, err := New(path, WithSyncInterval(10*time.Millisecond), WithCacheSize(1<<20))
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	commit(t, s, func(txn *Txn) error { return txn.Set([]byte("g"), []byte("1")) })

	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if err := s.Close(); err != nil {
		t.Errorf("second Close returned %v, want nil", err)
	}

	s, err = New(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	got, err := s.Get([]byte("g"))
	if err != nil || !bytes.Equal(got, []byte("1")) {
		t.Errorf("after reopen Get = %q, %v; want 1", got, err)
	}
}

// TestTxn_CommitMakesWritesVisible verifies staged writes appear only after Commit.
func TestTxn_CommitMakesWritesVisible(t *testing.T) {
	s := newTestStorage(t)

	txn := s.Begin()
	if err := txn.Set([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	// Visible inside the txn
	got, err := txn.Get([]byte("a"))
	if err != nil || !bytes.Equal(got, []byte("1")) {
		t.Fatalf("txn Get = %q, %v; want 1", got, err)
	}

	// Not visible outside before commit
	if got, _ := s.Get([]byte("a")); got != nil {
		t.Fatalf("uncommitted write leaked: %q", got)
	}

	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	if got, _ := s.Get([]byte("a")); !bytes.Equal(got, []byte("1")) {
		t.Errorf("after commit Get = %q, want 1", got)
	}
}

// TestTxn_DiscardRollsBack verifies Discard drops every staged write and deletion.
func TestTxn_DiscardRollsBack(t *testing.T) {
	s := newTestStorage(t)

	commit(t, s, func(txn *Txn) error { return txn.Set([]byte("keep"), []byte("old")) })

	txn := s.Begin()
	_ = txn.Set([]byte("new"), []byte("x"))
	_ = txn.Delete([]byte("keep"))

	if got, _ := txn.Get([]byte("keep")); got != nil {
		t.Fatalf("delete not visible inside txn: %q", got)
	}

	txn.Discard()

	if got, _ := s.Get([]byte("new")); got != nil {
		t.Errorf("discarded write persisted: %q", got)
	}

	if got, _ := s.Get([]byte("keep")); !bytes.Equal(got, []byte("old")) {
		t.Errorf("discarded delete persisted: got %q", got)
	}
}

func TestTxn_ClosedRejectsUse(t *testing.T) {
	s := newTestStorage(t)

	txn := s.Begin()
	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	if err := txn.Set([]byte("x"), []byte("y")); !errors.Is(err, ErrTxnClosed) {
		t.Errorf("Set after commit: got %v, want ErrTxnClosed", err)
	}

	if err := txn.Commit(); !errors.Is(err, ErrTxnClosed) {
		t.Errorf("double commit: got %v, want ErrTxnClosed", err)
	}

	// Discard after commit is a no-op
	txn.Discard()
}

// TestTxn_IteratePrefix verifies prefix iteration merges staged and committed keys.
func TestTxn_IteratePrefix(t *testing.T) {
	s := newTestStorage(t)

	commit(t, s, func(txn *Txn) error {
		_ = txn.Set([]byte("p:1"), []byte("a"))
		_ = txn.Set([]byte("p:2"), []byte("b"))
		return txn.Set([]byte("q:1"), []byte("c"))
	})

	txn := s.Begin()
	defer txn.Discard()

	_ = txn.Set([]byte("p:3"), []byte("d"))
	_ = txn.Delete([]byte("p:1"))

	var keys []string
	err := txn.IteratePrefix([]byte("p:"), func(key, value []byte) error {
		keys = append(keys, string(key))
		return nil
	})
	if err != nil {
		t.Fatalf("IteratePrefix failed: %v", err)
	}

	if len(keys) != 2 || keys[0] != "p:2" || keys[1] != "p:3" {
		t.Errorf("keys = %v, want [p:2 p:3]", keys)
	}
}

func TestIterateFrom_StartsAtKey(t *testing.T) {
	s := newTestStorage(t)

	commit(t, s, func(txn *Txn) error {
		for _, k := range []string{"e:1", "e:2", "e:3", "f:1"} {
			if err := txn.Set([]byte(k), []byte("v")); err != nil {
				return err
			}
		}
		return nil
	})

	var keys []string
	err := s.IterateFrom([]byte("e:"), []byte("e:2"), func(key, _ []byte) error {
		keys = append(keys, string(key))
		return nil
	})
	if err != nil {
		t.Fatalf("IterateFrom failed: %v", err)
	}

	if len(keys) != 2 || keys[0] != "e:2" || keys[1] != "e:3" {
		t.Errorf("keys = %v, want [e:2 e:3]", keys)
	}

	// A start below the prefix is clamped to it.
	keys = nil
	_ = s.IterateFrom([]byte("e:"), []byte("a"), func(key, _ []byte) error {
		keys = append(keys, string(key))
		return nil
	})

	if len(keys) != 3 {
		t.Errorf("keys = %v, want the three e: keys", keys)
	}
}

func TestPrefixUpperBound(t *testing.T) {
	if got := prefixUpperBound([]byte{0x01, 0xFF}); !bytes.Equal(got, []byte{0x02}) {
		t.Errorf("upper bound of 01ff = %x, want 02", got)
	}

	if got := prefixUpperBound([]byte("d:")); !bytes.Equal(got, []byte("d;")) {
		t.Errorf("upper bound of d: = %q, want d;", got)
	}

	if got := prefixUpperBound([]byte{0xFF, 0xFF}); got != nil {
		t.Errorf("upper bound of ffff = %x, want nil", got)
	}
}
