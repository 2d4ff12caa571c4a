// Package token implements the fungible fee asset used to pay registration
// fees: balances, allowances and signed permits.
package token

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"

	"OrgRegistry/internal/chain"
	"OrgRegistry/internal/types"
)

var (
	// ErrInsufficientBalance is returned when a debit exceeds the balance.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInsufficientAllowance is returned when a delegated transfer exceeds the allowance.
	ErrInsufficientAllowance = errors.New("insufficient allowance")

	// ErrOverflow is returned when a credit would wrap a balance.
	ErrOverflow = errors.New("amount overflow")

	// ErrNotMinter is returned when a non-minter tries to mint.
	ErrNotMinter = errors.New("caller is not the minter")

	// ErrZeroAddress is returned when a transfer targets the null identity.
	ErrZeroAddress = errors.New("zero address")
)

// Storage layout under "t:" + asset (32):
//
//	'b' + owner           -> balance (8, big-endian)
//	'a' + owner + spender -> allowance (8, big-endian)
//	'n' + owner           -> permit nonce (8, big-endian)
var keyPrefix = []byte("t:")

const (
	tagBalance   = 'b'
	tagAllowance = 'a'
	tagNonce     = 'n'
)

// Transfer is emitted when tokens move, including mints (From is zero).
type Transfer struct {
	From   types.Address
	To     types.Address
	Amount uint64
}

func (Transfer) EventName() string { return "Transfer" }

// Approval is emitted when an allowance is set.
type Approval struct {
	Owner   types.Address
	Spender types.Address
	Amount  uint64
}

func (Approval) EventName() string { return "Approval" }

// Token is a fee asset deployed at a fixed address.
type Token struct {
	addr   types.Address // addr is the asset identity
	minter types.Address // minter may create new supply
}

// New creates the token handle for the asset at addr.
func New(addr, minter types.Address) *Token {
	return &Token{addr: addr, minter: minter}
}

// Address returns the asset identity.
func (t *Token) Address() types.Address {
	return t.addr
}

// Minter returns the identity allowed to mint.
func (t *Token) Minter() types.Address {
	return t.minter
}

// BalanceOf returns owner's balance.
func (t *Token) BalanceOf(ctx *chain.Context, owner types.Address) (uint64, error) {
	return t.read(ctx, t.balanceKey(owner))
}

// Allowance returns how much spender may still move on behalf of owner.
func (t *Token) Allowance(ctx *chain.Context, owner, spender types.Address) (uint64, error) {
	return t.read(ctx, t.allowanceKey(owner, spender))
}

// Nonce returns owner's next permit nonce.
func (t *Token) Nonce(ctx *chain.Context, owner types.Address) (uint64, error) {
	return t.read(ctx, t.nonceKey(owner))
}

// Mint credits amount to to. Only the minter may call it.
func (t *Token) Mint(ctx *chain.Context, to types.Address, amount uint64) error {
	if ctx.Caller() != t.minter {
		return ErrNotMinter
	}

	if to.IsZero() {
		return ErrZeroAddress
	}

	if err := t.credit(ctx, to, amount); err != nil {
		return fmt.Errorf("mint:\n%w", err)
	}

	return ctx.As(t.addr).Emit(Transfer{To: to, Amount: amount})
}

// Transfer moves amount from the caller to to.
func (t *Token) Transfer(ctx *chain.Context, to types.Address, amount uint64) error {
	return t.move(ctx, ctx.Caller(), to, amount)
}

// TransferFrom moves amount from from to to, spending the caller's allowance.
func (t *Token) TransferFrom(ctx *chain.Context, from, to types.Address, amount uint64) error {
	key := t.allowanceKey(from, ctx.Caller())

	allowance, err := t.read(ctx, key)
	if err != nil {
		return err
	}

	if allowance < amount {
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientAllowance, allowance, amount)
	}

	if err := t.write(ctx, key, allowance-amount); err != nil {
		return err
	}

	return t.move(ctx, from, to, amount)
}

// Approve sets the caller's allowance for spender to amount.
func (t *Token) Approve(ctx *chain.Context, spender types.Address, amount uint64) error {
	return t.approve(ctx, ctx.Caller(), spender, amount)
}

// DelegatedApproval sets owner's allowance for spender from a signed permit.
// The permit is verified and consumed in one step, so it cannot be replayed.
func (t *Token) DelegatedApproval(ctx *chain.Context, owner, spender types.Address, value uint64, deadline int64, sig []byte) error {
	auth, err := t.VerifyPermit(ctx, Permit{
		Owner:     owner,
		Spender:   spender,
		Value:     value,
		Deadline:  deadline,
		Signature: sig,
	})
	if err != nil {
		return err
	}

	return t.Apply(ctx, auth)
}

// move debits from and credits to.
func (t *Token) move(ctx *chain.Context, from, to types.Address, amount uint64) error {
	if to.IsZero() {
		return ErrZeroAddress
	}

	fromKey := t.balanceKey(from)

	balance, err := t.read(ctx, fromKey)
	if err != nil {
		return err
	}

	if balance < amount {
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientBalance, balance, amount)
	}

	if err := t.write(ctx, fromKey, balance-amount); err != nil {
		return err
	}

	if err := t.credit(ctx, to, amount); err != nil {
		return err
	}

	return ctx.As(t.addr).Emit(Transfer{From: from, To: to, Amount: amount})
}

// credit adds amount to owner's balance, failing on overflow.
func (t *Token) credit(ctx *chain.Context, owner types.Address, amount uint64) error {
	key := t.balanceKey(owner)

	balance, err := t.read(ctx, key)
	if err != nil {
		return err
	}

	sum, carry := bits.Add64(balance, amount, 0)
	if carry != 0 {
		return ErrOverflow
	}

	return t.write(ctx, key, sum)
}

// approve writes an allowance and emits Approval.
func (t *Token) approve(ctx *chain.Context, owner, spender types.Address, amount uint64) error {
	if err := t.write(ctx, t.allowanceKey(owner, spender), amount); err != nil {
		return err
	}

	return ctx.As(t.addr).Emit(Approval{Owner: owner, Spender: spender, Amount: amount})
}

func (t *Token) read(ctx *chain.Context, key []byte) (uint64, error) {
	data, err := ctx.Get(key)
	if err != nil {
		return 0, err
	}

	if len(data) != 8 {
		return 0, nil
	}

	return binary.BigEndian.Uint64(data), nil
}

func (t *Token) write(ctx *chain.Context, key []byte, v uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)

	return ctx.Set(key, buf[:])
}

// key builds "t:" + asset + tag + parts.
func (t *Token) key(tag byte, parts ...types.Address) []byte {
	key := make([]byte, 0, len(keyPrefix)+32+1+32*len(parts))
	key = append(key, keyPrefix...)
	key = append(key, t.addr[:]...)
	key = append(key, tag)

	for i := range parts {
		key = append(key, parts[i][:]...)
	}

	return key
}

func (t *Token) balanceKey(owner types.Address) []byte {
	return t.key(tagBalance, owner)
}

func (t *Token) allowanceKey(owner, spender types.Address) []byte {
	return t.key(tagAllowance, owner, spender)
}

func (t *Token) nonceKey(owner types.Address) []byte {
	return t.key(tagNonce, owner)
}
