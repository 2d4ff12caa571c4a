package chain

import (
	"bytes"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"OrgRegistry/internal/attest"
	"OrgRegistry/internal/storage"
	"OrgRegistry/internal/types"
)

// testEvent is a minimal event for runtime tests.
type testEvent struct {
	Value uint64
	Who   types.Address
}

func (testEvent) EventName() string { return "Test" }

// newTestRuntime creates a runtime over a temporary store with a fixed clock.
func newTestRuntime(t *testing.T, opts ...Option) (*Runtime, *storage.Storage) {
	t.Helper()

	dir, err := os.MkdirTemp("", "chain_test_*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}

	t.Cleanup(func() {
		os.RemoveAll(dir)
	})

	db, err := storage.New(dir)
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	now := time.Unix(1_700_000_000, 0)
	opts = append([]Option{WithClock(func() time.Time { return now })}, opts...)

	rt, err := New(db, opts...)
	if err != nil {
		t.Fatalf("failed to create runtime: %v", err)
	}

	return rt, db
}

func TestExecute_CommitsWrites(t *testing.T) {
	rt, db := newTestRuntime(t)

	receipt, err := rt.Execute(types.Address{1}, func(ctx *Context) error {
		return ctx.Set([]byte("x:key"), []byte("value"))
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if receipt.Height != 1 {
		t.Errorf("height: got %d, want 1", receipt.Height)
	}

	got, _ := db.Get([]byte("x:key"))
	if !bytes.Equal(got, []byte("value")) {
		t.Errorf("committed value: got %q, want value", got)
	}
}

// TestExecute_RollsBackOnError verifies writes and events of a failed call vanish.
func TestExecute_RollsBackOnError(t *testing.T) {
	rt, db := newTestRuntime(t)
	boom := errors.New("boom")

	_, err := rt.Execute(types.Address{1}, func(ctx *Context) error {
		_ = ctx.Set([]byte("x:key"), []byte("value"))
		_ = ctx.Emit(testEvent{Value: 1})
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	if got, _ := db.Get([]byte("x:key")); got != nil {
		t.Errorf("rolled back write persisted: %q", got)
	}

	if rt.Height() != 0 {
		t.Errorf("height advanced on rollback: %d", rt.Height())
	}

	events, _ := rt.Events(0, 10)
	if len(events) != 0 {
		t.Errorf("rolled back event persisted: %+v", events)
	}
}

// TestExecute_EventsSequencedAcrossCalls verifies event numbering survives rollbacks.
func TestExecute_EventsSequencedAcrossCalls(t *testing.T) {
	rt, _ := newTestRuntime(t)

	emit := func(v uint64, fail bool) {
		_, _ = rt.Execute(types.Address{1}, func(ctx *Context) error {
			if err := ctx.Emit(testEvent{Value: v}); err != nil {
				return err
			}
			if fail {
				return errors.New("fail")
			}
			return nil
		})
	}

	emit(10, false)
	emit(11, true)
	emit(12, false)

	events, err := rt.Events(0, 10)
	if err != nil {
		t.Fatalf("Events failed: %v", err)
	}

	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}

	for i, want := range []uint64{10, 12} {
		if events[i].Seq != uint64(i) {
			t.Errorf("event %d: seq %d", i, events[i].Seq)
		}

		var ev testEvent
		if err := events[i].Decode(&ev); err != nil {
			t.Fatalf("decode: %v", err)
		}

		if ev.Value != want {
			t.Errorf("event %d: value %d, want %d", i, ev.Value, want)
		}
	}

	// Paging
	tail, _ := rt.Events(1, 10)
	if len(tail) != 1 || tail[0].Seq != 1 {
		t.Errorf("paging from 1: %+v", tail)
	}
}

// TestEvents_Pages verifies a page starts at from and holds at most limit events.
func TestEvents_Pages(t *testing.T) {
	rt, _ := newTestRuntime(t)

	for v := uint64(0); v < 5; v++ {
		if _, err := rt.Execute(types.Address{1}, func(ctx *Context) error {
			return ctx.Emit(testEvent{Value: v})
		}); err != nil {
			t.Fatalf("execute: %v", err)
		}
	}

	cases := []struct {
		from  uint64
		limit int
		want  []uint64
	}{
		{from: 2, limit: 2, want: []uint64{2, 3}},
		{from: 4, limit: 10, want: []uint64{4}},
		{from: 9, limit: 10, want: nil},
		{from: 0, limit: 0, want: nil},
	}

	for _, tc := range cases {
		events, err := rt.Events(tc.from, tc.limit)
		if err != nil {
			t.Fatalf("Events(%d, %d): %v", tc.from, tc.limit, err)
		}

		if len(events) != len(tc.want) {
			t.Errorf("Events(%d, %d): got %d events, want %d", tc.from, tc.limit, len(events), len(tc.want))
			continue
		}

		for i, seq := range tc.want {
			if events[i].Seq != seq {
				t.Errorf("Events(%d, %d)[%d]: seq %d, want %d", tc.from, tc.limit, i, events[i].Seq, seq)
			}
		}
	}
}

func TestContext_AsChangesCallerOnly(t *testing.T) {
	rt, _ := newTestRuntime(t)
	root := types.Address{1}
	sub := types.Address{2}

	receipt, err := rt.Execute(root, func(ctx *Context) error {
		child := ctx.As(sub)
		if child.Caller() != sub || ctx.Caller() != root {
			t.Error("As must change only the child frame caller")
		}

		if err := child.Set([]byte("x:shared"), []byte("1")); err != nil {
			return err
		}

		got, _ := ctx.Get([]byte("x:shared"))
		if !bytes.Equal(got, []byte("1")) {
			t.Error("child write not visible to parent")
		}

		return child.Emit(testEvent{Who: sub})
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if len(receipt.Events) != 1 || receipt.Events[0].Emitter != sub {
		t.Errorf("event emitter: %+v", receipt.Events)
	}
}

func TestContext_UseNonce(t *testing.T) {
	rt, _ := newTestRuntime(t)
	caller := types.Address{9}

	use := func(n uint64) error {
		_, err := rt.Execute(caller, func(ctx *Context) error { return ctx.UseNonce(n) })
		return err
	}

	if err := use(0); err != nil {
		t.Fatalf("nonce 0: %v", err)
	}

	if err := use(0); !errors.Is(err, ErrBadNonce) {
		t.Errorf("replayed nonce: got %v, want ErrBadNonce", err)
	}

	if err := use(1); err != nil {
		t.Errorf("nonce 1: %v", err)
	}
}

func TestView_ReadOnly(t *testing.T) {
	rt, _ := newTestRuntime(t)

	err := rt.View(func(ctx *Context) error {
		return ctx.Set([]byte("x:k"), []byte("v"))
	})
	if !errors.Is(err, ErrReadOnly) {
		t.Errorf("expected ErrReadOnly, got %v", err)
	}
}

func TestLoadStore_Borsh(t *testing.T) {
	rt, _ := newTestRuntime(t)
	key := []byte("x:record")
	in := testEvent{Value: 77, Who: types.Address{3}}

	if _, err := rt.Execute(types.Address{1}, func(ctx *Context) error { return ctx.Store(key, in) }); err != nil {
		t.Fatalf("store: %v", err)
	}

	err := rt.View(func(ctx *Context) error {
		var out testEvent
		found, err := ctx.Load(key, &out)
		if err != nil {
			return err
		}
		if !found || out != in {
			t.Errorf("load: found=%v out=%+v", found, out)
		}

		found, err = ctx.Load([]byte("x:missing"), &out)
		if err != nil || found {
			t.Errorf("missing key: found=%v err=%v", found, err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestReceipt_Attested(t *testing.T) {
	key, err := attest.Generate()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	rt, _ := newTestRuntime(t, WithSigner(key))

	receipt, err := rt.Execute(types.Address{1}, func(ctx *Context) error {
		return ctx.Emit(testEvent{Value: 5})
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if receipt.Hash != ReceiptHash(receipt) {
		t.Error("receipt hash mismatch")
	}

	if !attest.Verify(receipt.Attestation, receipt.Hash[:], rt.SignerPublicKey()) {
		t.Error("receipt attestation should verify")
	}
}

// TestRuntime_RestoresCounters verifies height and event sequence survive a restart.
func TestRuntime_RestoresCounters(t *testing.T) {
	rt, db := newTestRuntime(t)

	_, _ = rt.Execute(types.Address{1}, func(ctx *Context) error { return ctx.Emit(testEvent{}) })
	_, _ = rt.Execute(types.Address{1}, func(ctx *Context) error { return ctx.Emit(testEvent{}) })

	restarted, err := New(db)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if restarted.Height() != 2 {
		t.Errorf("height: got %d, want 2", restarted.Height())
	}

	receipt, _ := restarted.Execute(types.Address{1}, func(ctx *Context) error { return ctx.Emit(testEvent{}) })
	if receipt.Events[0].Seq != 2 {
		t.Errorf("next event seq: got %d, want 2", receipt.Events[0].Seq)
	}
}

// TestExecute_Serialized verifies concurrent read-modify-write calls never interleave.
func TestExecute_Serialized(t *testing.T) {
	rt, _ := newTestRuntime(t)
	key := []byte("x:counter")

	const workers = 16

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, _ = rt.Execute(types.Address{1}, func(ctx *Context) error {
				v, err := ctx.readUint64(key)
				if err != nil {
					return err
				}
				return ctx.writeUint64(key, v+1)
			})
		}()
	}

	wg.Wait()

	_ = rt.View(func(ctx *Context) error {
		v, _ := ctx.readUint64(key)
		if v != workers {
			t.Errorf("counter: got %d, want %d", v, workers)
		}
		return nil
	})
}

func TestSubscribe_ReceivesCommittedOnly(t *testing.T) {
	rt, _ := newTestRuntime(t)

	var got []string
	rt.Subscribe(func(r Record) { got = append(got, r.Name) })

	_, _ = rt.Execute(types.Address{1}, func(ctx *Context) error { return ctx.Emit(testEvent{}) })
	_, _ = rt.Execute(types.Address{1}, func(ctx *Context) error {
		_ = ctx.Emit(testEvent{})
		return errors.New("fail")
	})

	if len(got) != 1 || got[0] != "Test" {
		t.Errorf("subscriber saw %v, want [Test]", got)
	}
}
