// Package accounts implements the threshold-account factory: accounts are
// created from a template at deterministic addresses and accept exactly one
// owner-set configuration.
package accounts

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/near/borsh-go"

	"OrgRegistry/internal/chain"
	"OrgRegistry/internal/contracts"
	"OrgRegistry/internal/types"
)

var (
	// ErrUnknownTemplate is returned when the factory is asked for a template it does not serve.
	ErrUnknownTemplate = errors.New("unknown account template")

	// ErrAlreadyConfigured is returned on a second Configure.
	ErrAlreadyConfigured = errors.New("account already configured")

	// ErrNotCreator is returned when someone other than the creator configures an account.
	ErrNotCreator = errors.New("caller did not create account")

	// ErrAccountNotFound is returned for an address the factory never created.
	ErrAccountNotFound = errors.New("account not found")

	// ErrInvalidSetup is returned for an empty, duplicated or null owner set or a bad threshold.
	ErrInvalidSetup = errors.New("invalid account setup")

	// ErrPaymentUnsupported is returned when a setup asks for a deployment payment.
	ErrPaymentUnsupported = errors.New("setup payment not supported")
)

// addressKind namespaces derived account addresses.
const addressKind = "threshold-account"

// Storage layout under "a:":
//
//	'c' + factory (32) -> created account count (8, big-endian)
//	'r' + account (32) -> Record (borsh)
var keyPrefix = []byte("a:")

const (
	tagCounter = 'c'
	tagRecord  = 'r'
)

// Record is the persisted state of an account.
type Record struct {
	Template        types.Address
	Creator         types.Address
	Configured      bool
	Owners          []types.Address
	Threshold       uint64
	Module          types.Address
	FallbackHandler types.Address
}

// AccountCreated is emitted by CreateAccount.
type AccountCreated struct {
	Account  types.Address
	Template types.Address
	Creator  types.Address
}

func (AccountCreated) EventName() string { return "AccountCreated" }

// AccountConfigured is emitted by Configure.
type AccountConfigured struct {
	Account   types.Address
	Owners    []types.Address
	Threshold uint64
}

func (AccountConfigured) EventName() string { return "AccountConfigured" }

// Factory creates accounts from a single template.
type Factory struct {
	addr     types.Address
	template types.Address
}

// NewFactory creates a factory at addr serving template.
func NewFactory(addr, template types.Address) *Factory {
	return &Factory{addr: addr, template: template}
}

// Address returns the factory identity.
func (f *Factory) Address() types.Address {
	return f.addr
}

// Template returns the template the factory serves.
func (f *Factory) Template() types.Address {
	return f.template
}

// CreateAccount deploys a fresh account owned by no one. A non-empty
// initPayload is a Borsh-encoded contracts.AccountSetup applied at once.
func (f *Factory) CreateAccount(ctx *chain.Context, template types.Address, initPayload []byte) (contracts.Account, error) {
	if template != f.template {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTemplate, template.Short())
	}

	counterKey := makeKey(tagCounter, f.addr)

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

	acc := &Account{addr: types.DeriveAddress(f.addr, addressKind, nonce), factory: f}

	rec := Record{Template: template, Creator: ctx.Caller()}
	if err := ctx.Store(makeKey(tagRecord, acc.addr), rec); err != nil {
		return nil, err
	}

	if err := ctx.As(f.addr).Emit(AccountCreated{Account: acc.addr, Template: template, Creator: ctx.Caller()}); err != nil {
		return nil, err
	}

	if len(initPayload) > 0 {
		var setup contracts.AccountSetup
		if err := borsh.Deserialize(&setup, initPayload); err != nil {
			return nil, fmt.Errorf("%w: decode init payload: %v", ErrInvalidSetup, err)
		}

		if err := acc.Configure(ctx, setup); err != nil {
			return nil, fmt.Errorf("apply init payload:\n%w", err)
		}
	}

	return acc, nil
}

// Open returns the handle of an account the factory created.
func (f *Factory) Open(ctx *chain.Context, addr types.Address) (*Account, error) {
	if _, err := f.load(ctx, addr); err != nil {
		return nil, err
	}

	return &Account{addr: addr, factory: f}, nil
}

// Info returns the state of an account.
func (f *Factory) Info(ctx *chain.Context, addr types.Address) (Record, error) {
	return f.load(ctx, addr)
}

// IsOwner reports whether who is in the owner set of account.
func (f *Factory) IsOwner(ctx *chain.Context, account, who types.Address) (bool, error) {
	rec, err := f.load(ctx, account)
	if err != nil {
		return false, err
	}

	for _, owner := range rec.Owners {
		if owner == who {
			return true, nil
		}
	}

	return false, nil
}

func (f *Factory) load(ctx *chain.Context, addr types.Address) (Record, error) {
	var rec Record

	found, err := ctx.Load(makeKey(tagRecord, addr), &rec)
	if err != nil {
		return Record{}, err
	}

	if !found {
		return Record{}, fmt.Errorf("%w: %s", ErrAccountNotFound, addr.Short())
	}

	return rec, nil
}

// Account is a handle on a created account.
type Account struct {
	addr    types.Address
	factory *Factory
}

// Address returns the account identity.
func (a *Account) Address() types.Address {
	return a.addr
}

// Configure applies the owner set and threshold. Only the creator may
// configure, and only once.
func (a *Account) Configure(ctx *chain.Context, setup contracts.AccountSetup) error {
	rec, err := a.factory.load(ctx, a.addr)
	if err != nil {
		return err
	}

	if rec.Configured {
		return ErrAlreadyConfigured
	}

	if ctx.Caller() != rec.Creator {
		return ErrNotCreator
	}

	if err := ValidateSetup(setup); err != nil {
		return err
	}

	rec.Configured = true
	rec.Owners = append([]types.Address(nil), setup.Owners...)
	rec.Threshold = setup.Threshold
	rec.Module = setup.Module
	rec.FallbackHandler = setup.FallbackHandler

	if err := ctx.Store(makeKey(tagRecord, a.addr), rec); err != nil {
		return err
	}

	return ctx.As(a.addr).Emit(AccountConfigured{Account: a.addr, Owners: rec.Owners, Threshold: rec.Threshold})
}

// ValidateSetup checks the owner set is non-empty without nulls or
// duplicates, 1 <= threshold <= len(owners), and no payment is requested.
func ValidateSetup(setup contracts.AccountSetup) error {
	if len(setup.Owners) == 0 {
		return fmt.Errorf("%w: no owners", ErrInvalidSetup)
	}

	seen := make(map[types.Address]struct{}, len(setup.Owners))

	for _, owner := range setup.Owners {
		if owner.IsZero() {
			return fmt.Errorf("%w: zero owner", ErrInvalidSetup)
		}

		if _, dup := seen[owner]; dup {
			return fmt.Errorf("%w: duplicate owner %s", ErrInvalidSetup, owner.Short())
		}

		seen[owner] = struct{}{}
	}

	if setup.Threshold == 0 || setup.Threshold > uint64(len(setup.Owners)) {
		return fmt.Errorf("%w: threshold %d of %d", ErrInvalidSetup, setup.Threshold, len(setup.Owners))
	}

	if setup.Payment > 0 {
		return ErrPaymentUnsupported
	}

	return nil
}

// makeKey builds "a:" + tag + address.
func makeKey(tag byte, addr types.Address) []byte {
	key := make([]byte, 0, len(keyPrefix)+1+len(addr))
	key = append(key, keyPrefix...)
	key = append(key, tag)

	return append(key, addr[:]...)
}
