package directory

import (
	"errors"
	"fmt"

	"github.com/near/borsh-go"

	"OrgRegistry/internal/chain"
	"OrgRegistry/internal/types"
)

var (
	// ErrBadCall is returned when a batched call cannot be decoded or has bad arguments.
	ErrBadCall = errors.New("malformed resolver call")

	// ErrUnknownOp is returned for a batched call with an unsupported op.
	ErrUnknownOp = errors.New("unknown resolver op")
)

// Resolver record tags under "d:".
const (
	tagAddr        = 'a'
	tagText        = 't'
	tagContentHash = 'c'
)

// Resolver ops accepted by BatchUpdate.
const (
	OpSetAddr        uint8 = 1
	OpSetText        uint8 = 2
	OpSetContentHash uint8 = 3
	OpAddr           uint8 = 4
	OpText           uint8 = 5
)

// Call is one Borsh-encoded resolver call in a batch.
type Call struct {
	Op    uint8
	Node  types.Hash
	Key   string
	Value []byte
}

// AddrChanged is emitted when a node's resolved address changes.
type AddrChanged struct {
	Node types.Hash
	Addr types.Address
}

func (AddrChanged) EventName() string { return "AddrChanged" }

// TextChanged is emitted when a node's text record changes.
type TextChanged struct {
	Node  types.Hash
	Key   string
	Value string
}

func (TextChanged) EventName() string { return "TextChanged" }

// ContentHashChanged is emitted when a node's content hash changes.
type ContentHashChanged struct {
	Node types.Hash
	Hash []byte
}

func (ContentHashChanged) EventName() string { return "ContentHashChanged" }

// Resolver holds address, text and content-hash records for nodes.
// Only the node owner in the directory may change a node's records.
type Resolver struct {
	addr types.Address
	dir  *Directory
}

// Address returns the resolver identity.
func (r *Resolver) Address() types.Address {
	return r.addr
}

// SetAddr sets the address node resolves to.
func (r *Resolver) SetAddr(ctx *chain.Context, node types.Hash, addr types.Address) error {
	if err := r.dir.authorize(ctx, node); err != nil {
		return err
	}

	if err := ctx.Set(r.key(tagAddr, node[:]), addr[:]); err != nil {
		return err
	}

	return ctx.As(r.addr).Emit(AddrChanged{Node: node, Addr: addr})
}

// Addr returns the address node resolves to, zero if unset.
func (r *Resolver) Addr(ctx *chain.Context, node types.Hash) (types.Address, error) {
	data, err := ctx.Get(r.key(tagAddr, node[:]))
	if err != nil || len(data) != 32 {
		return types.Address{}, err
	}

	return types.Address(data), nil
}

// SetText sets a text record of node.
func (r *Resolver) SetText(ctx *chain.Context, node types.Hash, key, value string) error {
	if err := r.dir.authorize(ctx, node); err != nil {
		return err
	}

	if key == "" {
		return fmt.Errorf("%w: empty text key", ErrBadCall)
	}

	if err := ctx.Set(r.key(tagText, node[:], []byte(key)), []byte(value)); err != nil {
		return err
	}

	return ctx.As(r.addr).Emit(TextChanged{Node: node, Key: key, Value: value})
}

// Text returns a text record of node.
func (r *Resolver) Text(ctx *chain.Context, node types.Hash, key string) (string, error) {
	data, err := ctx.Get(r.key(tagText, node[:], []byte(key)))
	return string(data), err
}

// SetContentHash sets the content hash of node.
func (r *Resolver) SetContentHash(ctx *chain.Context, node types.Hash, hash []byte) error {
	if err := r.dir.authorize(ctx, node); err != nil {
		return err
	}

	if err := ctx.Set(r.key(tagContentHash, node[:]), hash); err != nil {
		return err
	}

	return ctx.As(r.addr).Emit(ContentHashChanged{Node: node, Hash: hash})
}

// ContentHash returns the content hash of node.
func (r *Resolver) ContentHash(ctx *chain.Context, node types.Hash) ([]byte, error) {
	return ctx.Get(r.key(tagContentHash, node[:]))
}

// BatchUpdate applies Borsh-encoded calls in order and returns one result per
// call (empty for setters). The first failing call fails the whole batch.
func (r *Resolver) BatchUpdate(ctx *chain.Context, calls [][]byte) ([][]byte, error) {
	results := make([][]byte, len(calls))

	for i, raw := range calls {
		var call Call
		if err := borsh.Deserialize(&call, raw); err != nil {
			return nil, fmt.Errorf("call %d: %w: %v", i, ErrBadCall, err)
		}

		out, err := r.apply(ctx, call)
		if err != nil {
			return nil, fmt.Errorf("call %d:\n%w", i, err)
		}

		results[i] = out
	}

	return results, nil
}

// apply dispatches one decoded call.
func (r *Resolver) apply(ctx *chain.Context, call Call) ([]byte, error) {
	switch call.Op {
	case OpSetAddr:
		if len(call.Value) != 32 {
			return nil, fmt.Errorf("%w: address must be 32 bytes", ErrBadCall)
		}
		return []byte{}, r.SetAddr(ctx, call.Node, types.Address(call.Value))

	case OpSetText:
		return []byte{}, r.SetText(ctx, call.Node, call.Key, string(call.Value))

	case OpSetContentHash:
		return []byte{}, r.SetContentHash(ctx, call.Node, call.Value)

	case OpAddr:
		addr, err := r.Addr(ctx, call.Node)
		return addr[:], err

	case OpText:
		text, err := r.Text(ctx, call.Node, call.Key)
		return []byte(text), err

	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownOp, call.Op)
	}
}

// key builds "d:" + tag + resolver + parts.
func (r *Resolver) key(tag byte, parts ...[]byte) []byte {
	return makeKey(tag, append([][]byte{r.addr[:]}, parts...)...)
}

// SetAddrCall encodes a SetAddr call.
func SetAddrCall(node types.Hash, addr types.Address) []byte {
	return mustEncode(Call{Op: OpSetAddr, Node: node, Value: addr[:]})
}

// SetTextCall encodes a SetText call.
func SetTextCall(node types.Hash, key, value string) []byte {
	return mustEncode(Call{Op: OpSetText, Node: node, Key: key, Value: []byte(value)})
}

// SetContentHashCall encodes a SetContentHash call.
func SetContentHashCall(node types.Hash, hash []byte) []byte {
	return mustEncode(Call{Op: OpSetContentHash, Node: node, Value: hash})
}

// mustEncode serializes a call. Call has only fixed, encodable fields.
func mustEncode(call Call) []byte {
	data, err := borsh.Serialize(call)
	if err != nil {
		panic(fmt.Sprintf("encode resolver call: %v", err))
	}

	return data
}
