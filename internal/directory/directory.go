// Package directory implements the naming directory: a tree of namespace
// nodes, each with an owner and a resolver, plus reverse records that give
// an address its public name.
package directory

import (
	"errors"
	"fmt"

	"OrgRegistry/internal/chain"
	"OrgRegistry/internal/contracts"
	"OrgRegistry/internal/types"
)

var (
	// ErrUnauthorized is returned when the caller does not own the node it modifies.
	ErrUnauthorized = errors.New("caller does not own node")

	// ErrNoResolver is returned when a node has no resolver set.
	ErrNoResolver = errors.New("node has no resolver")

	// ErrUnknownResolver is returned when a node points at a resolver this directory does not serve.
	ErrUnknownResolver = errors.New("unknown resolver")

	// ErrAlreadyInitialized is returned when the root is claimed twice.
	ErrAlreadyInitialized = errors.New("directory already initialized")
)

// Storage layout under "d:":
//
//	'n' + node (32) -> NodeRecord (borsh)
//	'r' + addr (32) -> reverse name (raw)
var keyPrefix = []byte("d:")

const (
	tagNode    = 'n'
	tagReverse = 'r'
)

// NodeRecord is the directory entry of a namespace node.
type NodeRecord struct {
	Owner    types.Address // Owner controls the node and its records
	Resolver types.Address // Resolver serves the node's records (zero for none)
}

// NewOwner is emitted when a subnode is created or reassigned by its parent owner.
type NewOwner struct {
	Parent types.Hash
	Label  types.Hash
	Node   types.Hash
	Owner  types.Address
}

func (NewOwner) EventName() string { return "NewOwner" }

// NodeOwnerChanged is emitted when a node owner hands the node over.
type NodeOwnerChanged struct {
	Node  types.Hash
	Owner types.Address
}

func (NodeOwnerChanged) EventName() string { return "NodeOwnerChanged" }

// NewResolver is emitted when a node's resolver changes.
type NewResolver struct {
	Node     types.Hash
	Resolver types.Address
}

func (NewResolver) EventName() string { return "NewResolver" }

// ReverseNameChanged is emitted when an address sets its public name.
type ReverseNameChanged struct {
	Addr types.Address
	Name string
}

func (ReverseNameChanged) EventName() string { return "ReverseNameChanged" }

// Directory is the node registry.
type Directory struct {
	addr      types.Address
	resolvers map[types.Address]*Resolver
}

// New creates a directory at addr with no resolvers.
func New(addr types.Address) *Directory {
	return &Directory{
		addr:      addr,
		resolvers: make(map[types.Address]*Resolver),
	}
}

// Address returns the directory identity.
func (d *Directory) Address() types.Address {
	return d.addr
}

// NewResolver deploys a resolver at addr served by this directory.
func (d *Directory) NewResolver(addr types.Address) *Resolver {
	r := &Resolver{addr: addr, dir: d}
	d.resolvers[addr] = r

	return r
}

// Init gives the root node to the caller. It succeeds once.
func (d *Directory) Init(ctx *chain.Context) error {
	rec, found, err := d.Record(ctx, types.ZeroHash)
	if err != nil {
		return err
	}

	if found && !rec.Owner.IsZero() {
		return ErrAlreadyInitialized
	}

	if err := d.store(ctx, types.ZeroHash, NodeRecord{Owner: ctx.Caller()}); err != nil {
		return err
	}

	return ctx.As(d.addr).Emit(NodeOwnerChanged{Node: types.ZeroHash, Owner: ctx.Caller()})
}

// Record returns the record of node.
func (d *Directory) Record(ctx *chain.Context, node types.Hash) (NodeRecord, bool, error) {
	var rec NodeRecord

	found, err := ctx.Load(nodeKey(node), &rec)
	if err != nil {
		return NodeRecord{}, false, err
	}

	return rec, found, nil
}

// NodeOwner returns the owner of node, zero if unowned.
func (d *Directory) NodeOwner(ctx *chain.Context, node types.Hash) (types.Address, error) {
	rec, _, err := d.Record(ctx, node)
	return rec.Owner, err
}

// SetSubnodeRecord creates or reassigns the child node of parent for label.
// The caller must own parent. Returns the child node.
func (d *Directory) SetSubnodeRecord(ctx *chain.Context, parent types.Hash, label string, owner, resolver types.Address) (types.Hash, error) {
	if err := d.authorize(ctx, parent); err != nil {
		return types.Hash{}, err
	}

	node := types.ChildNode(parent, label)

	if err := d.store(ctx, node, NodeRecord{Owner: owner, Resolver: resolver}); err != nil {
		return types.Hash{}, err
	}

	if err := ctx.As(d.addr).Emit(NewOwner{Parent: parent, Label: types.LabelHash(label), Node: node, Owner: owner}); err != nil {
		return types.Hash{}, err
	}

	if err := ctx.As(d.addr).Emit(NewResolver{Node: node, Resolver: resolver}); err != nil {
		return types.Hash{}, err
	}

	return node, nil
}

// SetNodeOwner hands node over to owner. The caller must own node.
func (d *Directory) SetNodeOwner(ctx *chain.Context, node types.Hash, owner types.Address) error {
	rec, err := d.owned(ctx, node)
	if err != nil {
		return err
	}

	rec.Owner = owner

	if err := d.store(ctx, node, rec); err != nil {
		return err
	}

	return ctx.As(d.addr).Emit(NodeOwnerChanged{Node: node, Owner: owner})
}

// SetResolver points node at resolver. The caller must own node.
func (d *Directory) SetResolver(ctx *chain.Context, node types.Hash, resolver types.Address) error {
	rec, err := d.owned(ctx, node)
	if err != nil {
		return err
	}

	rec.Resolver = resolver

	if err := d.store(ctx, node, rec); err != nil {
		return err
	}

	return ctx.As(d.addr).Emit(NewResolver{Node: node, Resolver: resolver})
}

// ResolverFor returns the resolver serving node.
func (d *Directory) ResolverFor(ctx *chain.Context, node types.Hash) (contracts.Resolver, error) {
	r, err := d.resolverFor(ctx, node)
	if err != nil {
		return nil, err
	}

	return r, nil
}

// resolverFor is ResolverFor with the concrete type.
func (d *Directory) resolverFor(ctx *chain.Context, node types.Hash) (*Resolver, error) {
	rec, _, err := d.Record(ctx, node)
	if err != nil {
		return nil, err
	}

	if rec.Resolver.IsZero() {
		return nil, fmt.Errorf("%w: %s", ErrNoResolver, node.Hex())
	}

	r, ok := d.resolvers[rec.Resolver]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownResolver, rec.Resolver.Short())
	}

	return r, nil
}

// SetReverseName sets the public name of addr. The caller must be addr.
func (d *Directory) SetReverseName(ctx *chain.Context, addr types.Address, name string) error {
	if ctx.Caller() != addr {
		return fmt.Errorf("%w: reverse record of %s", ErrUnauthorized, addr.Short())
	}

	if err := ctx.Set(reverseKey(addr), []byte(name)); err != nil {
		return err
	}

	return ctx.As(d.addr).Emit(ReverseNameChanged{Addr: addr, Name: name})
}

// ReverseName returns the public name of addr.
func (d *Directory) ReverseName(ctx *chain.Context, addr types.Address) (string, bool, error) {
	data, err := ctx.Get(reverseKey(addr))
	if err != nil || data == nil {
		return "", false, err
	}

	return string(data), true, nil
}

// owned loads node and checks the caller owns it.
func (d *Directory) owned(ctx *chain.Context, node types.Hash) (NodeRecord, error) {
	rec, _, err := d.Record(ctx, node)
	if err != nil {
		return NodeRecord{}, err
	}

	if rec.Owner.IsZero() || rec.Owner != ctx.Caller() {
		return NodeRecord{}, fmt.Errorf("%w: %s", ErrUnauthorized, node.Hex())
	}

	return rec, nil
}

// authorize checks the caller owns node.
func (d *Directory) authorize(ctx *chain.Context, node types.Hash) error {
	_, err := d.owned(ctx, node)
	return err
}

func (d *Directory) store(ctx *chain.Context, node types.Hash, rec NodeRecord) error {
	return ctx.Store(nodeKey(node), rec)
}

func nodeKey(node types.Hash) []byte {
	return makeKey(tagNode, node[:])
}

func reverseKey(addr types.Address) []byte {
	return makeKey(tagReverse, addr[:])
}

// makeKey builds "d:" + tag + parts.
func makeKey(tag byte, parts ...[]byte) []byte {
	size := len(keyPrefix) + 1
	for _, p := range parts {
		size += len(p)
	}

	key := make([]byte, 0, size)
	key = append(key, keyPrefix...)
	key = append(key, tag)

	for _, p := range parts {
		key = append(key, p...)
	}

	return key
}
