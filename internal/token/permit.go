package token

import (
	"crypto/ed25519"
	"encoding/binary"
	"errors"
	"fmt"

	"OrgRegistry/internal/chain"
	"OrgRegistry/internal/types"
)

var (
	// ErrPermitExpired is returned when a permit is used after its deadline.
	ErrPermitExpired = errors.New("permit expired")

	// ErrInvalidSignature is returned when a permit signature does not verify.
	ErrInvalidSignature = errors.New("invalid permit signature")

	// ErrAuthorizationUsed is returned when an authorization is applied twice
	// or after the owner's nonce has moved on.
	ErrAuthorizationUsed = errors.New("authorization already used")
)

// permitDomain separates permit digests from every other signed message.
var permitDomain = []byte("orgregistry-permit")

// Permit is an off-band signed approval: owner lets spender move up to
// Value until Deadline (unix seconds).
type Permit struct {
	Owner     types.Address
	Spender   types.Address
	Value     uint64
	Deadline  int64
	Signature []byte
}

// Authorization is a verified permit. It can be applied exactly once.
type Authorization struct {
	asset   types.Address
	owner   types.Address
	spender types.Address
	value   uint64
	nonce   uint64
	used    bool
}

// Owner returns the approving owner.
func (a *Authorization) Owner() types.Address { return a.owner }

// Spender returns the approved spender.
func (a *Authorization) Spender() types.Address { return a.spender }

// Value returns the approved amount.
func (a *Authorization) Value() uint64 { return a.value }

// PermitDigest computes the message a permit signs.
// Format: domain || asset (32) || owner (32) || spender (32) || value (8) || nonce (8) || deadline (8).
func PermitDigest(asset, owner, spender types.Address, value, nonce uint64, deadline int64) types.Hash {
	var nums [24]byte
	binary.BigEndian.PutUint64(nums[0:8], value)
	binary.BigEndian.PutUint64(nums[8:16], nonce)
	binary.BigEndian.PutUint64(nums[16:24], uint64(deadline))

	return types.Sum(permitDomain, asset[:], owner[:], spender[:], nums[:])
}

// SignPermit signs a permit for the owner's current nonce.
func SignPermit(key ed25519.PrivateKey, asset, spender types.Address, value, nonce uint64, deadline int64) Permit {
	owner := types.AddressFromKey(key.Public().(ed25519.PublicKey))
	digest := PermitDigest(asset, owner, spender, value, nonce, deadline)

	return Permit{
		Owner:     owner,
		Spender:   spender,
		Value:     value,
		Deadline:  deadline,
		Signature: ed25519.Sign(key, digest[:]),
	}
}

// VerifyPermit checks the deadline, the owner's nonce and the signature and
// returns a single-use authorization. Nothing is written.
func (t *Token) VerifyPermit(ctx *chain.Context, p Permit) (*Authorization, error) {
	if ctx.Now().Unix() > p.Deadline {
		return nil, fmt.Errorf("%w: deadline %d", ErrPermitExpired, p.Deadline)
	}

	if p.Owner.IsZero() || p.Spender.IsZero() {
		return nil, ErrZeroAddress
	}

	nonce, err := t.Nonce(ctx, p.Owner)
	if err != nil {
		return nil, fmt.Errorf("read nonce:\n%w", err)
	}

	digest := PermitDigest(t.addr, p.Owner, p.Spender, p.Value, nonce, p.Deadline)

	if len(p.Signature) != ed25519.SignatureSize || !ed25519.Verify(p.Owner.PublicKey(), digest[:], p.Signature) {
		return nil, ErrInvalidSignature
	}

	return &Authorization{
		asset:   t.addr,
		owner:   p.Owner,
		spender: p.Spender,
		value:   p.Value,
		nonce:   nonce,
	}, nil
}

// Apply consumes auth: it sets the allowance and advances the owner's nonce.
func (t *Token) Apply(ctx *chain.Context, auth *Authorization) error {
	if auth == nil || auth.used {
		return ErrAuthorizationUsed
	}

	if auth.asset != t.addr {
		return fmt.Errorf("authorization for asset %s", auth.asset.Short())
	}

	nonce, err := t.Nonce(ctx, auth.owner)
	if err != nil {
		return fmt.Errorf("read nonce:\n%w", err)
	}

	if nonce != auth.nonce {
		return ErrAuthorizationUsed
	}

	if err := t.write(ctx, t.nonceKey(auth.owner), nonce+1); err != nil {
		return err
	}

	auth.used = true

	return t.approve(ctx, auth.owner, auth.spender, auth.value)
}
