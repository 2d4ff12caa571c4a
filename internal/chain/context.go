package chain

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/near/borsh-go"

	"OrgRegistry/internal/storage"
	"OrgRegistry/internal/types"
)

var (
	// ErrReadOnly is returned when a View call attempts a write.
	ErrReadOnly = errors.New("read-only call")

	// ErrBadNonce is returned when a caller submits an unexpected nonce.
	ErrBadNonce = errors.New("bad nonce")
)

// nonceKeyPrefix is the storage prefix for per-caller request nonces.
var nonceKeyPrefix = []byte("n:")

// Event is an observable signal emitted by a call.
// Events are Borsh-encoded, so implementations must use exported,
// fixed-size fields only.
type Event interface {
	EventName() string
}

// Record is an emitted event as persisted in the event log.
type Record struct {
	Seq     uint64        // Seq is the global event sequence number
	Name    string        // Name is the event name
	Emitter types.Address // Emitter is the caller frame that emitted the event
	Time    int64         // Time is the call timestamp in unix nanoseconds
	Data    []byte        // Data is the Borsh-encoded event
}

// Decode decodes the record payload into v (a pointer to the event type).
func (r Record) Decode(v any) error {
	return borsh.Deserialize(v, r.Data)
}

// frame is the per-call state shared by every Context derived from one call.
type frame struct {
	events   []Record
	nextSeq  uint64
	readOnly bool
}

// Context is the handle a call uses to read and write state.
// Every write goes into the call's unit of work and becomes visible only
// when the call returns without error.
type Context struct {
	txn    *storage.Txn
	caller types.Address
	now    time.Time
	frame  *frame
}

// newContext creates the root context of a call.
func newContext(txn *storage.Txn, caller types.Address, now time.Time, nextSeq uint64, readOnly bool) *Context {
	return &Context{
		txn:    txn,
		caller: caller,
		now:    now,
		frame:  &frame{nextSeq: nextSeq, readOnly: readOnly},
	}
}

// Caller returns the identity on whose behalf the current frame acts.
func (c *Context) Caller() types.Address {
	return c.caller
}

// Now returns the call timestamp. It is fixed for the whole call.
func (c *Context) Now() time.Time {
	return c.now
}

// As returns a sub-call frame acting as addr. The frame shares the unit of
// work and event buffer with its parent.
func (c *Context) As(addr types.Address) *Context {
	return &Context{
		txn:    c.txn,
		caller: addr,
		now:    c.now,
		frame:  c.frame,
	}
}

// Get reads a raw value. Returns nil if absent.
func (c *Context) Get(key []byte) ([]byte, error) {
	return c.txn.Get(key)
}

// Set writes a raw value.
func (c *Context) Set(key, value []byte) error {
	if c.frame.readOnly {
		return ErrReadOnly
	}

	return c.txn.Set(key, value)
}

// Delete removes a key.
func (c *Context) Delete(key []byte) error {
	if c.frame.readOnly {
		return ErrReadOnly
	}

	return c.txn.Delete(key)
}

// IteratePrefix visits keys with prefix in lexicographic order.
func (c *Context) IteratePrefix(prefix []byte, fn func(key, value []byte) error) error {
	return c.txn.IteratePrefix(prefix, fn)
}

// Load decodes the Borsh record at key into v. Returns false if absent.
func (c *Context) Load(key []byte, v any) (bool, error) {
	data, err := c.txn.Get(key)
	if err != nil {
		return false, err
	}

	if data == nil {
		return false, nil
	}

	if err := borsh.Deserialize(v, data); err != nil {
		return false, fmt.Errorf("decode %x:\n%w", key, err)
	}

	return true, nil
}

// Store encodes v with Borsh and writes it at key.
func (c *Context) Store(key []byte, v any) error {
	data, err := borsh.Serialize(v)
	if err != nil {
		return fmt.Errorf("encode %x:\n%w", key, err)
	}

	return c.Set(key, data)
}

// Emit buffers an event. It is persisted only if the call commits.
func (c *Context) Emit(e Event) error {
	if c.frame.readOnly {
		return ErrReadOnly
	}

	data, err := borsh.Serialize(e)
	if err != nil {
		return fmt.Errorf("encode event %s:\n%w", e.EventName(), err)
	}

	c.frame.events = append(c.frame.events, Record{
		Seq:     c.frame.nextSeq + uint64(len(c.frame.events)),
		Name:    e.EventName(),
		Emitter: c.caller,
		Time:    c.now.UnixNano(),
		Data:    data,
	})

	return nil
}

// Events returns the events buffered so far in this call.
func (c *Context) Events() []Record {
	return c.frame.events
}

// UseNonce consumes the caller's next request nonce.
// Nonces start at 0 and must be used in order.
func (c *Context) UseNonce(nonce uint64) error {
	key := nonceKey(c.caller)

	expected, err := c.readUint64(key)
	if err != nil {
		return err
	}

	if nonce != expected {
		return fmt.Errorf("%w: got %d, want %d", ErrBadNonce, nonce, expected)
	}

	return c.writeUint64(key, expected+1)
}

// Nonce returns the next nonce expected from addr.
func (c *Context) Nonce(addr types.Address) (uint64, error) {
	return c.readUint64(nonceKey(addr))
}

// readUint64 reads a big-endian counter, zero if absent.
func (c *Context) readUint64(key []byte) (uint64, error) {
	data, err := c.txn.Get(key)
	if err != nil {
		return 0, err
	}

	if len(data) != 8 {
		return 0, nil
	}

	return binary.BigEndian.Uint64(data), nil
}

// writeUint64 writes a big-endian counter.
func (c *Context) writeUint64(key []byte, v uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)

	return c.Set(key, buf[:])
}

// nonceKey builds "n:" + address.
func nonceKey(addr types.Address) []byte {
	key := make([]byte, 0, len(nonceKeyPrefix)+len(addr))
	key = append(key, nonceKeyPrefix...)

	return append(key, addr[:]...)
}
