// Package ledger implements the commitment ledger: a table from commitment
// fingerprint to the digest of the intended owner(s), filled by deposits and
// drained by single-use redemptions.
package ledger

import (
	"errors"
	"fmt"

	"OrgRegistry/internal/chain"
	"OrgRegistry/internal/contracts"
	"OrgRegistry/internal/telemetry"
	"OrgRegistry/internal/types"
)

var (
	// ErrCommitmentNotFound is returned when redeeming a fingerprint that was
	// never deposited or was already redeemed.
	ErrCommitmentNotFound = errors.New("commitment not found")

	// ErrFeeTransferFailed is returned when the fee asset rejects the fee transfer.
	ErrFeeTransferFailed = errors.New("fee transfer failed")

	// ErrFeeApprovalFailed is returned when the fee asset rejects an approval.
	ErrFeeApprovalFailed = errors.New("fee approval failed")

	// ErrZeroAddressRegistrar is returned when no registrar is given.
	ErrZeroAddressRegistrar = errors.New("zero address registrar")

	// ErrUnauthorized is returned when someone other than the ledger identity redeems.
	ErrUnauthorized = errors.New("caller may not redeem")
)

// commitmentKeyPrefix is "l:" + ledger (32) + fingerprint (32) -> owner digest (32).
var commitmentKeyPrefix = []byte("l:")

// Permit authorises the fee transfer off-band: the depositor signed an
// approval of Value to the ledger, valid until Deadline (unix seconds).
type Permit struct {
	Value     uint64 `json:"value"`
	Deadline  int64  `json:"deadline"`
	Signature []byte `json:"signature"`
}

// CommitmentDeposited is emitted by both deposit variants.
type CommitmentDeposited struct {
	Fingerprint types.Hash
	Depositor   types.Address
	Registrar   types.Address
	Fee         uint64
	Delegated   bool
}

func (CommitmentDeposited) EventName() string { return "CommitmentDeposited" }

// CommitmentRedeemed is emitted when a commitment is consumed.
type CommitmentRedeemed struct {
	Fingerprint types.Hash
}

func (CommitmentRedeemed) EventName() string { return "CommitmentRedeemed" }

// Ledger is the commitment table of one ledger identity.
// The identity is the orchestrator acting as custodian, so the fingerprint
// committed here is the one the registrar later recomputes.
type Ledger struct {
	addr types.Address
}

// New creates the ledger for identity addr.
func New(addr types.Address) *Ledger {
	return &Ledger{addr: addr}
}

// Address returns the ledger identity.
func (l *Ledger) Address() types.Address {
	return l.addr
}

// Fingerprint computes the fingerprint of name and salt under this ledger.
func (l *Ledger) Fingerprint(name string, salt types.Hash) types.Hash {
	return types.Fingerprint(name, l.addr, salt)
}

// Deposit stores fingerprint -> ownerDigest, overwriting any pending value,
// and forwards the commitment to registrar. When the registrar charges a fee
// it is pulled from the caller through its allowance to the ledger first.
func (l *Ledger) Deposit(ctx *chain.Context, fingerprint, ownerDigest types.Hash, registrar contracts.Registrar) error {
	if registrar == nil || registrar.Address().IsZero() {
		return ErrZeroAddressRegistrar
	}

	fee, err := registrar.RegistrationFee(ctx)
	if err != nil {
		return fmt.Errorf("read registration fee:\n%w", err)
	}

	if fee > 0 {
		asset := registrar.FeeAsset()

		if err := asset.TransferFrom(ctx.As(l.addr), ctx.Caller(), l.addr, fee); err != nil {
			return fmt.Errorf("%w:\n%w", ErrFeeTransferFailed, err)
		}

		if err := l.approveRegistrar(ctx, registrar, fee); err != nil {
			return err
		}
	}

	return l.store(ctx, fingerprint, ownerDigest, registrar, fee, false)
}

// DepositWithDelegatedApproval is Deposit with the caller's approval to the
// ledger carried by a signed permit instead of a prior allowance.
func (l *Ledger) DepositWithDelegatedApproval(ctx *chain.Context, fingerprint, ownerDigest types.Hash, registrar contracts.Registrar, permit Permit) error {
	if registrar == nil || registrar.Address().IsZero() {
		return ErrZeroAddressRegistrar
	}

	fee, err := registrar.RegistrationFee(ctx)
	if err != nil {
		return fmt.Errorf("read registration fee:\n%w", err)
	}

	if fee > 0 {
		asset := registrar.FeeAsset()

		if err := asset.DelegatedApproval(ctx, ctx.Caller(), l.addr, permit.Value, permit.Deadline, permit.Signature); err != nil {
			return fmt.Errorf("%w:\n%w", ErrFeeApprovalFailed, err)
		}

		if err := asset.TransferFrom(ctx.As(l.addr), ctx.Caller(), l.addr, fee); err != nil {
			return fmt.Errorf("%w:\n%w", ErrFeeTransferFailed, err)
		}

		if err := l.approveRegistrar(ctx, registrar, fee); err != nil {
			return err
		}
	}

	return l.store(ctx, fingerprint, ownerDigest, registrar, fee, true)
}

// Redeem recomputes the fingerprint of name and salt, deletes the entry and
// returns its owner digest. Only the ledger identity may redeem.
func (l *Ledger) Redeem(ctx *chain.Context, name string, salt types.Hash) (types.Hash, error) {
	if ctx.Caller() != l.addr {
		return types.Hash{}, ErrUnauthorized
	}

	fingerprint := l.Fingerprint(name, salt)

	digest, err := l.read(ctx, fingerprint)
	if err != nil {
		return types.Hash{}, err
	}

	if digest.IsZero() {
		return types.Hash{}, ErrCommitmentNotFound
	}

	if err := ctx.Delete(l.key(fingerprint)); err != nil {
		return types.Hash{}, err
	}

	if err := ctx.As(l.addr).Emit(CommitmentRedeemed{Fingerprint: fingerprint}); err != nil {
		return types.Hash{}, err
	}

	return digest, nil
}

// Pending returns the owner digest stored at fingerprint.
func (l *Ledger) Pending(ctx *chain.Context, fingerprint types.Hash) (types.Hash, bool, error) {
	digest, err := l.read(ctx, fingerprint)
	if err != nil {
		return types.Hash{}, false, err
	}

	return digest, !digest.IsZero(), nil
}

// Observe updates the commitment metrics from a committed event.
func Observe(rec chain.Record) {
	switch rec.Name {
	case CommitmentDeposited{}.EventName():
		var ev CommitmentDeposited
		if rec.Decode(&ev) != nil {
			return
		}

		mode := "allowance"
		if ev.Delegated {
			mode = "delegated"
		}

		telemetry.CommitmentsDepositedTotal.WithLabelValues(mode).Inc()

	case CommitmentRedeemed{}.EventName():
		telemetry.CommitmentsRedeemedTotal.Inc()
	}
}

// approveRegistrar lets the registrar pull fee from the ledger.
func (l *Ledger) approveRegistrar(ctx *chain.Context, registrar contracts.Registrar, fee uint64) error {
	if err := registrar.FeeAsset().Approve(ctx.As(l.addr), registrar.Address(), fee); err != nil {
		return fmt.Errorf("%w:\n%w", ErrFeeApprovalFailed, err)
	}

	return nil
}

// store writes the commitment and forwards it to the registrar as the ledger.
func (l *Ledger) store(ctx *chain.Context, fingerprint, ownerDigest types.Hash, registrar contracts.Registrar, fee uint64, delegated bool) error {
	if err := ctx.Set(l.key(fingerprint), ownerDigest[:]); err != nil {
		return err
	}

	if err := registrar.Commit(ctx.As(l.addr), fingerprint); err != nil {
		return fmt.Errorf("forward commitment:\n%w", err)
	}

	return ctx.As(l.addr).Emit(CommitmentDeposited{
		Fingerprint: fingerprint,
		Depositor:   ctx.Caller(),
		Registrar:   registrar.Address(),
		Fee:         fee,
		Delegated:   delegated,
	})
}

func (l *Ledger) read(ctx *chain.Context, fingerprint types.Hash) (types.Hash, error) {
	data, err := ctx.Get(l.key(fingerprint))
	if err != nil || len(data) != 32 {
		return types.Hash{}, err
	}

	return types.Hash(data), nil
}

// key builds "l:" + ledger + fingerprint.
func (l *Ledger) key(fingerprint types.Hash) []byte {
	key := make([]byte, 0, len(commitmentKeyPrefix)+64)
	key = append(key, commitmentKeyPrefix...)
	key = append(key, l.addr[:]...)

	return append(key, fingerprint[:]...)
}

// prefix returns the key prefix of this ledger's commitments.
func (l *Ledger) prefix() []byte {
	return append(append([]byte{}, commitmentKeyPrefix...), l.addr[:]...)
}
