// Package chain runs every state-changing call as one serialized,
// all-or-nothing unit of work over the node's store.
package chain

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/near/borsh-go"

	"OrgRegistry/internal/attest"
	"OrgRegistry/internal/logger"
	"OrgRegistry/internal/storage"
	"OrgRegistry/internal/telemetry"
	"OrgRegistry/internal/types"
)

// Storage keys owned by the runtime.
var (
	eventKeyPrefix = []byte("e:")
	heightKey      = []byte("m:height")
	nextEventKey   = []byte("m:events")
)

// Receipt describes a committed call.
type Receipt struct {
	Height      uint64        // Height is the number of calls committed so far, this one included
	Caller      types.Address // Caller is the root caller of the call
	Time        time.Time     // Time is the call timestamp
	Events      []Record      // Events are the events the call emitted
	Hash        types.Hash    // Hash commits to every field above
	Attestation []byte        // Attestation is the node's BLS signature over Hash (nil without a signer)
}

// Runtime serializes calls and commits or discards their writes as a whole.
type Runtime struct {
	db     *storage.Storage
	clock  func() time.Time
	signer *attest.KeyPair

	mu        sync.Mutex // mu serializes Execute
	height    uint64     // height is the number of committed calls
	nextEvent uint64     // nextEvent is the sequence number of the next event

	subsMu sync.RWMutex
	subs   []func(Record)
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithClock overrides the time source (tests).
func WithClock(clock func() time.Time) Option {
	return func(r *Runtime) { r.clock = clock }
}

// WithSigner attests every receipt with the given BLS key.
func WithSigner(signer *attest.KeyPair) Option {
	return func(r *Runtime) { r.signer = signer }
}

// New creates a runtime over db, restoring the call height and event sequence.
func New(db *storage.Storage, opts ...Option) (*Runtime, error) {
	r := &Runtime{db: db, clock: time.Now}

	for _, opt := range opts {
		opt(r)
	}

	var err error
	if r.height, err = readCounter(db, heightKey); err != nil {
		return nil, fmt.Errorf("read height:\n%w", err)
	}

	if r.nextEvent, err = readCounter(db, nextEventKey); err != nil {
		return nil, fmt.Errorf("read event sequence:\n%w", err)
	}

	return r, nil
}

// Execute runs fn as caller inside a fresh unit of work.
// If fn returns an error every write it made is discarded and the error is
// returned unchanged. Otherwise the writes and emitted events are committed
// atomically and a receipt is returned.
func (r *Runtime) Execute(caller types.Address, fn func(*Context) error) (*Receipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := time.Now()
	defer func() { telemetry.RuntimeCallDuration.Observe(time.Since(start).Seconds()) }()

	txn := r.db.Begin()
	defer txn.Discard()

	ctx := newContext(txn, caller, r.clock(), r.nextEvent, false)

	if err := fn(ctx); err != nil {
		telemetry.RuntimeCallsTotal.WithLabelValues("rolled_back").Inc()
		logger.Debug("call rolled back", "caller", caller.Short(), "error", err)

		return nil, err
	}

	height := r.height + 1
	events := ctx.Events()

	if err := r.persist(ctx, height, events); err != nil {
		telemetry.RuntimeCallsTotal.WithLabelValues("commit_failed").Inc()
		return nil, fmt.Errorf("persist call:\n%w", err)
	}

	if err := txn.Commit(); err != nil {
		telemetry.RuntimeCallsTotal.WithLabelValues("commit_failed").Inc()
		return nil, fmt.Errorf("commit call:\n%w", err)
	}

	r.height = height
	r.nextEvent += uint64(len(events))
	telemetry.RuntimeCallsTotal.WithLabelValues("committed").Inc()

	receipt := r.buildReceipt(height, caller, ctx.Now(), events)

	for _, ev := range events {
		logger.Info("event", "seq", ev.Seq, "name", ev.Name, "emitter", ev.Emitter.Short())
	}

	r.publish(events)

	return receipt, nil
}

// View runs fn against committed state. Writes fail with ErrReadOnly.
func (r *Runtime) View(fn func(*Context) error) error {
	txn := r.db.Begin()
	defer txn.Discard()

	return fn(newContext(txn, types.ZeroAddress, r.clock(), 0, true))
}

// Height returns the number of committed calls.
func (r *Runtime) Height() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.height
}

// Events returns up to limit committed events starting at sequence from.
func (r *Runtime) Events(from uint64, limit int) ([]Record, error) {
	if limit <= 0 {
		return nil, nil
	}

	records := make([]Record, 0, min(limit, 64))

	err := r.db.IterateFrom(eventKeyPrefix, eventKey(from), func(_, value []byte) error {
		var rec Record
		if err := borsh.Deserialize(&rec, value); err != nil {
			return fmt.Errorf("decode event:\n%w", err)
		}

		records = append(records, rec)

		if len(records) == limit {
			return errStopIteration
		}

		return nil
	})
	if err != nil && !errors.Is(err, errStopIteration) {
		return nil, err
	}

	return records, nil
}

// Subscribe registers fn to receive every committed event, in order.
// fn runs on the committing goroutine and must not call back into Execute.
func (r *Runtime) Subscribe(fn func(Record)) {
	r.subsMu.Lock()
	defer r.subsMu.Unlock()

	r.subs = append(r.subs, fn)
}

// SignerPublicKey returns the attestation public key, or nil.
func (r *Runtime) SignerPublicKey() []byte {
	if r.signer == nil {
		return nil
	}

	return r.signer.PublicKeyBytes()
}

// persist writes the events and counters into the call's unit of work.
func (r *Runtime) persist(ctx *Context, height uint64, events []Record) error {
	for _, ev := range events {
		data, err := borsh.Serialize(ev)
		if err != nil {
			return fmt.Errorf("encode event %d:\n%w", ev.Seq, err)
		}

		if err := ctx.txn.Set(eventKey(ev.Seq), data); err != nil {
			return err
		}
	}

	if err := writeCounter(ctx.txn, heightKey, height); err != nil {
		return err
	}

	return writeCounter(ctx.txn, nextEventKey, r.nextEvent+uint64(len(events)))
}

// buildReceipt hashes and, when a signer is set, attests a committed call.
func (r *Runtime) buildReceipt(height uint64, caller types.Address, now time.Time, events []Record) *Receipt {
	receipt := &Receipt{
		Height: height,
		Caller: caller,
		Time:   now,
		Events: events,
	}

	receipt.Hash = ReceiptHash(receipt)

	if r.signer != nil {
		receipt.Attestation = r.signer.Sign(receipt.Hash[:])
	}

	return receipt
}

// ReceiptHash computes the digest a receipt attestation signs.
// Format: height (8) || caller (32) || time (8) || per event: seq (8) || name || data.
func ReceiptHash(rc *Receipt) types.Hash {
	var buf [8]byte

	parts := make([][]byte, 0, 3+3*len(rc.Events))

	binary.BigEndian.PutUint64(buf[:], rc.Height)
	parts = append(parts, append([]byte{}, buf[:]...), rc.Caller[:])

	binary.BigEndian.PutUint64(buf[:], uint64(rc.Time.UnixNano()))
	parts = append(parts, append([]byte{}, buf[:]...))

	for _, ev := range rc.Events {
		binary.BigEndian.PutUint64(buf[:], ev.Seq)
		parts = append(parts, append([]byte{}, buf[:]...), []byte(ev.Name), ev.Data)
	}

	return types.Sum(parts...)
}

// publish hands committed events to subscribers.
func (r *Runtime) publish(events []Record) {
	r.subsMu.RLock()
	defer r.subsMu.RUnlock()

	for _, ev := range events {
		for _, fn := range r.subs {
			fn(ev)
		}
	}
}

// errStopIteration ends a prefix scan early.
var errStopIteration = errors.New("stop iteration")

// eventKey builds "e:" + big-endian sequence.
func eventKey(seq uint64) []byte {
	key := make([]byte, len(eventKeyPrefix)+8)
	copy(key, eventKeyPrefix)
	binary.BigEndian.PutUint64(key[len(eventKeyPrefix):], seq)

	return key
}

// readCounter reads a committed big-endian counter, zero if absent.
func readCounter(db *storage.Storage, key []byte) (uint64, error) {
	data, err := db.Get(key)
	if err != nil {
		return 0, err
	}

	if len(data) != 8 {
		return 0, nil
	}

	return binary.BigEndian.Uint64(data), nil
}

// writeCounter stages a big-endian counter.
func writeCounter(txn *storage.Txn, key []byte, v uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)

	return txn.Set(key, buf[:])
}
