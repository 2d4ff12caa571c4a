// Package orgs stores org records. A new org starts Unbound, held by the
// custodian that created it, and becomes a plain Org once bound to its
// final owner. Only an Unbound can set the org's public name or bind it.
package orgs

import (
	"encoding/binary"
	"errors"
	"fmt"

	"OrgRegistry/internal/chain"
	"OrgRegistry/internal/contracts"
	"OrgRegistry/internal/types"
)

var (
	// ErrOrgNotFound is returned for an unknown org address.
	ErrOrgNotFound = errors.New("org not found")

	// ErrAlreadyBound is returned when an org is bound a second time.
	ErrAlreadyBound = errors.New("org already bound")

	// ErrNotBound is returned when a bound-only operation meets an unbound org.
	ErrNotBound = errors.New("org not bound")

	// ErrNotCustodian is returned when someone other than the custodian acts on an unbound org.
	ErrNotCustodian = errors.New("caller is not the org custodian")

	// ErrNotOwner is returned when someone other than the owner transfers an org.
	ErrNotOwner = errors.New("caller is not the org owner")

	// ErrZeroOwner is returned when binding or transferring to the null identity.
	ErrZeroOwner = errors.New("zero owner")
)

// addressKind namespaces derived org addresses.
const addressKind = "org"

// Storage layout under "o:":
//
//	'c' + registry (32) -> created org count (8, big-endian)
//	'r' + org (32)      -> record (borsh)
var keyPrefix = []byte("o:")

const (
	tagCounter = 'c'
	tagRecord  = 'r'
)

// record is the persisted org state.
type record struct {
	Custodian types.Address
	Owner     types.Address
	Bound     bool
	Name      string
}

// Org is a bound org.
type Org struct {
	Address types.Address `json:"address"`
	Owner   types.Address `json:"owner"`
	Name    string        `json:"name"`
}

// OrgProvisioned is emitted when a custodian creates an org.
type OrgProvisioned struct {
	Org       types.Address
	Custodian types.Address
}

func (OrgProvisioned) EventName() string { return "OrgProvisioned" }

// OwnershipTransferred is emitted when an org changes owner.
type OwnershipTransferred struct {
	Org  types.Address
	From types.Address
	To   types.Address
}

func (OwnershipTransferred) EventName() string { return "OwnershipTransferred" }

// Registry creates and stores orgs.
type Registry struct {
	addr types.Address
}

// NewRegistry creates the org registry at addr.
func NewRegistry(addr types.Address) *Registry {
	return &Registry{addr: addr}
}

// Address returns the registry identity.
func (r *Registry) Address() types.Address {
	return r.addr
}

// Create provisions a new org held by the caller as custodian.
func (r *Registry) Create(ctx *chain.Context) (*Unbound, error) {
	counterKey := makeKey(tagCounter, r.addr)

	var nonce uint64
	if data, err := ctx.Get(counterKey); err != nil {
		return nil, err
	} else if len(data) == 8 {
		nonce = binary.BigEndian.Uint64(data)
	}

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], nonce+1)

	if err := ctx.Set(counterKey, buf[:]); err != nil {
		return nil, err
	}

	addr := types.DeriveAddress(r.addr, addressKind, nonce)
	custodian := ctx.Caller()

	if err := ctx.Store(makeKey(tagRecord, addr), record{Custodian: custodian, Owner: custodian}); err != nil {
		return nil, err
	}

	if err := ctx.As(r.addr).Emit(OrgProvisioned{Org: addr, Custodian: custodian}); err != nil {
		return nil, err
	}

	return &Unbound{addr: addr, custodian: custodian}, nil
}

// Get returns a bound org.
func (r *Registry) Get(ctx *chain.Context, addr types.Address) (Org, error) {
	rec, err := load(ctx, addr)
	if err != nil {
		return Org{}, err
	}

	if !rec.Bound {
		return Org{}, ErrNotBound
	}

	return Org{Address: addr, Owner: rec.Owner, Name: rec.Name}, nil
}

// Transfer moves a bound org to newOwner. The caller must own it.
func (r *Registry) Transfer(ctx *chain.Context, addr, newOwner types.Address) (Org, error) {
	if newOwner.IsZero() {
		return Org{}, ErrZeroOwner
	}

	rec, err := load(ctx, addr)
	if err != nil {
		return Org{}, err
	}

	if !rec.Bound {
		return Org{}, ErrNotBound
	}

	if rec.Owner != ctx.Caller() {
		return Org{}, ErrNotOwner
	}

	from := rec.Owner
	rec.Owner = newOwner

	if err := ctx.Store(makeKey(tagRecord, addr), rec); err != nil {
		return Org{}, err
	}

	if err := ctx.As(addr).Emit(OwnershipTransferred{Org: addr, From: from, To: newOwner}); err != nil {
		return Org{}, err
	}

	return Org{Address: addr, Owner: newOwner, Name: rec.Name}, nil
}

// Unbound is an org still held by its custodian.
type Unbound struct {
	addr      types.Address
	custodian types.Address
	bound     bool
}

// Address returns the org address.
func (u *Unbound) Address() types.Address {
	return u.addr
}

// Custodian returns the identity holding the org.
func (u *Unbound) Custodian() types.Address {
	return u.custodian
}

// SetName sets the org's public name through a reverse record in dir,
// acting as the org itself.
func (u *Unbound) SetName(ctx *chain.Context, dir contracts.Directory, domain string) error {
	rec, err := u.held(ctx)
	if err != nil {
		return err
	}

	if err := dir.SetReverseName(ctx.As(u.addr), u.addr, domain); err != nil {
		return fmt.Errorf("set reverse record:\n%w", err)
	}

	rec.Name = domain

	return ctx.Store(makeKey(tagRecord, u.addr), rec)
}

// Bind hands the org to owner. It succeeds once; afterwards the custodian
// holds no authority over the org.
func (u *Unbound) Bind(ctx *chain.Context, owner types.Address) (Org, error) {
	if owner.IsZero() {
		return Org{}, ErrZeroOwner
	}

	rec, err := u.held(ctx)
	if err != nil {
		return Org{}, err
	}

	rec.Owner = owner
	rec.Bound = true

	if err := ctx.Store(makeKey(tagRecord, u.addr), rec); err != nil {
		return Org{}, err
	}

	if err := ctx.As(u.addr).Emit(OwnershipTransferred{Org: u.addr, From: u.custodian, To: owner}); err != nil {
		return Org{}, err
	}

	u.bound = true

	return Org{Address: u.addr, Owner: owner, Name: rec.Name}, nil
}

// held loads the record and checks it is still unbound and the caller is the custodian.
func (u *Unbound) held(ctx *chain.Context) (record, error) {
	if u.bound {
		return record{}, ErrAlreadyBound
	}

	if ctx.Caller() != u.custodian {
		return record{}, ErrNotCustodian
	}

	rec, err := load(ctx, u.addr)
	if err != nil {
		return record{}, err
	}

	if rec.Bound {
		return record{}, ErrAlreadyBound
	}

	return rec, nil
}

func load(ctx *chain.Context, addr types.Address) (record, error) {
	var rec record

	found, err := ctx.Load(makeKey(tagRecord, addr), &rec)
	if err != nil {
		return record{}, err
	}

	if !found {
		return record{}, fmt.Errorf("%w: %s", ErrOrgNotFound, addr.Short())
	}

	return rec, nil
}

// makeKey builds "o:" + tag + address.
func makeKey(tag byte, addr types.Address) []byte {
	key := make([]byte, 0, len(keyPrefix)+1+len(addr))
	key = append(key, keyPrefix...)
	key = append(key, tag)

	return append(key, addr[:]...)
}
