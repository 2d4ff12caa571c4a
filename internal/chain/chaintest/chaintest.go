// Package chaintest builds runtimes over temporary stores for tests.
package chaintest

import (
	"sync"
	"testing"
	"time"

	"OrgRegistry/internal/chain"
	"OrgRegistry/internal/storage"
	"OrgRegistry/internal/types"
)

// Genesis is the default clock start.
var Genesis = time.Unix(1_700_000_000, 0)

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

// Env is a runtime with its store and clock.
type Env struct {
	Runtime *chain.Runtime
	DB      *storage.Storage
	Clock   *Clock
}

// New creates a runtime over a temporary store, closed on test cleanup.
func New(t testing.TB, opts ...chain.Option) *Env {
	t.Helper()

	db, err := storage.New(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	clock := &Clock{now: Genesis}
	opts = append([]chain.Option{chain.WithClock(clock.Now)}, opts...)

	rt, err := chain.New(db, opts...)
	if err != nil {
		t.Fatalf("failed to create runtime: %v", err)
	}

	return &Env{Runtime: rt, DB: db, Clock: clock}
}

// Exec runs fn as caller and fails the test on error.
func (e *Env) Exec(t testing.TB, caller types.Address, fn func(*chain.Context) error) *chain.Receipt {
	t.Helper()

	receipt, err := e.Runtime.Execute(caller, fn)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	return receipt
}

// View runs a read-only fn and fails the test on error.
func (e *Env) View(t testing.TB, fn func(*chain.Context) error) {
	t.Helper()

	if err := e.Runtime.View(fn); err != nil {
		t.Fatalf("view: %v", err)
	}
}

// EventNames lists the names of the events in a receipt.
func EventNames(r *chain.Receipt) []string {
	names := make([]string, len(r.Events))
	for i, ev := range r.Events {
		names[i] = ev.Name
	}

	return names
}
