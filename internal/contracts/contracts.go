// Package contracts declares the collaborator interfaces the commitment
// ledger and the org orchestrator consume: the name registrar, the naming
// directory and its resolvers, the threshold-account factory, and the fee
// asset. Every method takes the call context first so an implementation
// writes into the same unit of work as its caller.
package contracts

import (
	"time"

	"OrgRegistry/internal/chain"
	"OrgRegistry/internal/types"
)

// FeeAsset is a fungible token used to pay registration fees.
type FeeAsset interface {
	Address() types.Address
	BalanceOf(ctx *chain.Context, owner types.Address) (uint64, error)
	Allowance(ctx *chain.Context, owner, spender types.Address) (uint64, error)

	// TransferFrom moves amount from from to to, spending the caller's allowance.
	TransferFrom(ctx *chain.Context, from, to types.Address, amount uint64) error

	// Approve sets the caller's allowance for spender.
	Approve(ctx *chain.Context, spender types.Address, amount uint64) error

	// DelegatedApproval sets owner's allowance for spender from a signed permit.
	DelegatedApproval(ctx *chain.Context, owner, spender types.Address, value uint64, deadline int64, sig []byte) error
}

// Registrar allocates names under one namespace after a commit-reveal delay.
type Registrar interface {
	// Address returns the registrar identity. A nil implementation must
	// return the zero address so callers can reject it.
	Address() types.Address

	// Commit records fingerprint, collecting the registration fee from the caller.
	Commit(ctx *chain.Context, fingerprint types.Hash) error

	// CommitWithDelegatedApproval is Commit with the fee authorised by a permit.
	CommitWithDelegatedApproval(ctx *chain.Context, fingerprint types.Hash, owner types.Address, value uint64, deadline int64, sig []byte) error

	// Register reveals a commitment made as H(name || custodian || salt) and
	// makes custodian the owner of the name's node.
	Register(ctx *chain.Context, name string, custodian types.Address, salt types.Hash) error

	NamespaceRoot() types.Hash
	NamespaceName() string
	FeeAsset() FeeAsset
	RegistrationFee(ctx *chain.Context) (uint64, error)
	MinCommitmentAge() time.Duration
	NamingDirectory() Directory
}

// Directory maps namespace nodes to owners and resolvers.
type Directory interface {
	ResolverFor(ctx *chain.Context, node types.Hash) (Resolver, error)
	SetNodeOwner(ctx *chain.Context, node types.Hash, owner types.Address) error
	NodeOwner(ctx *chain.Context, node types.Hash) (types.Address, error)

	// SetReverseName sets the public name of addr. The caller must be addr.
	SetReverseName(ctx *chain.Context, addr types.Address, name string) error
}

// Resolver holds the records of the nodes it serves.
type Resolver interface {
	Address() types.Address
	SetAddr(ctx *chain.Context, node types.Hash, addr types.Address) error
	Addr(ctx *chain.Context, node types.Hash) (types.Address, error)

	// BatchUpdate applies opaque encoded calls in order; the first failure
	// fails the whole batch.
	BatchUpdate(ctx *chain.Context, calls [][]byte) ([][]byte, error)
}

// AccountFactory creates multi-owner accounts from a template.
type AccountFactory interface {
	CreateAccount(ctx *chain.Context, template types.Address, initPayload []byte) (Account, error)
}

// Account is a multi-owner account that accepts a single configuration.
type Account interface {
	Address() types.Address
	Configure(ctx *chain.Context, setup AccountSetup) error
}

// AccountSetup is the configuration applied to a fresh account.
type AccountSetup struct {
	Owners          []types.Address // Owners is the ordered owner set
	Threshold       uint64          // Threshold is the number of owners required to act
	Module          types.Address   // Module is an optional setup delegate (zero for none)
	InitData        []byte          // InitData is passed to Module
	FallbackHandler types.Address   // FallbackHandler is an optional fallback (zero for none)
	PaymentToken    types.Address   // PaymentToken pays the deployer (zero for none)
	Payment         uint64          // Payment is the amount paid to PaymentReceiver
	PaymentReceiver types.Address   // PaymentReceiver receives Payment
}
