// Package orchestrator finalizes org registrations: it redeems a commitment,
// registers the name as a transient custodian, provisions and binds the org,
// and hands both the org and the name to their real owner in the same call.
package orchestrator

import (
	"errors"
	"fmt"
	"time"

	"OrgRegistry/internal/chain"
	"OrgRegistry/internal/contracts"
	"OrgRegistry/internal/ledger"
	"OrgRegistry/internal/logger"
	"OrgRegistry/internal/orgs"
	"OrgRegistry/internal/telemetry"
	"OrgRegistry/internal/types"
)

var (
	// ErrOwnerMismatch is returned when the revealed owner(s) and salt do not
	// hash to the committed digest.
	ErrOwnerMismatch = errors.New("owner mismatch")

	// ErrEmptyOwnerSet is returned for a multi-owner finalize without owners.
	ErrEmptyOwnerSet = errors.New("empty owner set")

	// ErrInvalidThreshold is returned for a threshold of 0 or above the owner count.
	ErrInvalidThreshold = errors.New("invalid threshold")

	// ErrZeroAddressOwner is returned when an owner is the null identity.
	ErrZeroAddressOwner = errors.New("zero address owner")

	// ErrZeroAddressRegistrar is returned when no registrar is given.
	ErrZeroAddressRegistrar = ledger.ErrZeroAddressRegistrar
)

// Operation labels for metrics and logs.
const (
	opSingle  = "single"
	opMulti   = "multi"
	opReclaim = "reclaim"
)

// OrgCreated is emitted once per successful finalize.
type OrgCreated struct {
	Org    types.Address
	Owner  types.Address
	Domain string
}

func (OrgCreated) EventName() string { return "OrgCreated" }

// NameReclaimed is emitted when a name is released without creating an org.
type NameReclaimed struct {
	Node  types.Hash
	Owner types.Address
	Name  string
}

func (NameReclaimed) EventName() string { return "NameReclaimed" }

// Config holds the collaborators fixed at construction.
type Config struct {
	Ledger          *ledger.Ledger           // Ledger authenticates owners; its identity is the custodian
	Orgs            *orgs.Registry           // Orgs provisions org records
	Accounts        contracts.AccountFactory // Accounts creates threshold accounts
	AccountTemplate types.Address            // AccountTemplate is passed to the factory
}

// Orchestrator drives registrations as the custodian identity.
type Orchestrator struct {
	cfg  Config
	self types.Address
}

// New creates an orchestrator. The custodian identity is the ledger's.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Ledger == nil || cfg.Orgs == nil || cfg.Accounts == nil {
		return nil, fmt.Errorf("orchestrator: ledger, orgs and accounts are required")
	}

	if cfg.Ledger.Address().IsZero() {
		return nil, fmt.Errorf("orchestrator: ledger identity is zero")
	}

	return &Orchestrator{cfg: cfg, self: cfg.Ledger.Address()}, nil
}

// Address returns the custodian identity.
func (o *Orchestrator) Address() types.Address {
	return o.self
}

// Ledger returns the commitment ledger the orchestrator redeems from.
func (o *Orchestrator) Ledger() *ledger.Ledger {
	return o.cfg.Ledger
}

// FinalizeSingleOwner registers name for owner and binds a new org to it.
func (o *Orchestrator) FinalizeSingleOwner(ctx *chain.Context, owner types.Address, name string, salt types.Hash, auxRecords [][]byte, registrar contracts.Registrar) (org orgs.Org, node types.Hash, err error) {
	defer o.observe(opSingle, name, time.Now(), &err)

	if registrar == nil || registrar.Address().IsZero() {
		return orgs.Org{}, types.Hash{}, ErrZeroAddressRegistrar
	}

	if owner.IsZero() {
		return orgs.Org{}, types.Hash{}, ErrZeroAddressOwner
	}

	self := ctx.As(o.self)

	if err := o.authenticate(self, name, salt, types.OwnerDigest(owner, salt)); err != nil {
		return orgs.Org{}, types.Hash{}, err
	}

	node, err = o.register(self, registrar, name, salt)
	if err != nil {
		return orgs.Org{}, types.Hash{}, err
	}

	return o.bindAndTransfer(self, owner, auxRecords, domainOf(name, registrar), node, registrar.NamingDirectory())
}

// FinalizeMultiOwner registers name for a threshold account over owners and
// binds a new org to that account. The owner set is validated before any
// state is touched.
func (o *Orchestrator) FinalizeMultiOwner(ctx *chain.Context, owners []types.Address, threshold uint64, name string, salt types.Hash, auxRecords [][]byte, registrar contracts.Registrar) (org orgs.Org, node types.Hash, err error) {
	defer o.observe(opMulti, name, time.Now(), &err)

	if registrar == nil || registrar.Address().IsZero() {
		return orgs.Org{}, types.Hash{}, ErrZeroAddressRegistrar
	}

	if err := ValidateOwners(owners, threshold); err != nil {
		return orgs.Org{}, types.Hash{}, err
	}

	self := ctx.As(o.self)

	if err := o.authenticate(self, name, salt, types.OwnersDigest(owners, salt)); err != nil {
		return orgs.Org{}, types.Hash{}, err
	}

	node, err = o.register(self, registrar, name, salt)
	if err != nil {
		return orgs.Org{}, types.Hash{}, err
	}

	account, err := o.cfg.Accounts.CreateAccount(self, o.cfg.AccountTemplate, nil)
	if err != nil {
		return orgs.Org{}, types.Hash{}, fmt.Errorf("create account:\n%w", err)
	}

	setup := contracts.AccountSetup{
		Owners:    owners,
		Threshold: threshold,
	}

	if err := account.Configure(self, setup); err != nil {
		return orgs.Org{}, types.Hash{}, fmt.Errorf("configure account:\n%w", err)
	}

	return o.bindAndTransfer(self, account.Address(), auxRecords, domainOf(name, registrar), node, registrar.NamingDirectory())
}

// Reclaim redeems and registers name, then gives the node under parentNode
// straight to owner. No org is created.
func (o *Orchestrator) Reclaim(ctx *chain.Context, registrar contracts.Registrar, parentNode types.Hash, name string, salt types.Hash, owner types.Address) (node types.Hash, err error) {
	defer o.observe(opReclaim, name, time.Now(), &err)

	if registrar == nil || registrar.Address().IsZero() {
		return types.Hash{}, ErrZeroAddressRegistrar
	}

	if owner.IsZero() {
		return types.Hash{}, ErrZeroAddressOwner
	}

	self := ctx.As(o.self)

	if err := o.authenticate(self, name, salt, types.OwnerDigest(owner, salt)); err != nil {
		return types.Hash{}, err
	}

	if err := registrar.Register(self, name, o.self, salt); err != nil {
		return types.Hash{}, fmt.Errorf("register name:\n%w", err)
	}

	node = types.ChildNode(parentNode, name)

	if err := registrar.NamingDirectory().SetNodeOwner(self, node, owner); err != nil {
		return types.Hash{}, fmt.Errorf("transfer node:\n%w", err)
	}

	if err := self.Emit(NameReclaimed{Node: node, Owner: owner, Name: name}); err != nil {
		return types.Hash{}, err
	}

	return node, nil
}

// ValidateOwners checks a multi-owner configuration.
func ValidateOwners(owners []types.Address, threshold uint64) error {
	if len(owners) == 0 {
		return ErrEmptyOwnerSet
	}

	for i, owner := range owners {
		if owner.IsZero() {
			return fmt.Errorf("%w: owner %d", ErrZeroAddressOwner, i)
		}
	}

	if threshold == 0 || threshold > uint64(len(owners)) {
		return fmt.Errorf("%w: %d of %d", ErrInvalidThreshold, threshold, len(owners))
	}

	return nil
}

// authenticate redeems the commitment of name and salt and compares its
// digest with the revealed one.
func (o *Orchestrator) authenticate(self *chain.Context, name string, salt, revealed types.Hash) error {
	digest, err := o.cfg.Ledger.Redeem(self, name, salt)
	if err != nil {
		return fmt.Errorf("redeem commitment:\n%w", err)
	}

	if digest != revealed {
		return ErrOwnerMismatch
	}

	return nil
}

// register reveals the name to the registrar with the orchestrator as
// custodian and returns the name's node.
func (o *Orchestrator) register(self *chain.Context, registrar contracts.Registrar, name string, salt types.Hash) (types.Hash, error) {
	if err := registrar.Register(self, name, o.self, salt); err != nil {
		return types.Hash{}, fmt.Errorf("register name:\n%w", err)
	}

	return types.ChildNode(registrar.NamespaceRoot(), name), nil
}

// bindAndTransfer provisions the org, points the name at it, applies the
// auxiliary records, names the org, then hands org and node to owner.
func (o *Orchestrator) bindAndTransfer(self *chain.Context, owner types.Address, auxRecords [][]byte, domain string, node types.Hash, dir contracts.Directory) (orgs.Org, types.Hash, error) {
	unbound, err := o.cfg.Orgs.Create(self)
	if err != nil {
		return orgs.Org{}, types.Hash{}, fmt.Errorf("create org:\n%w", err)
	}

	resolver, err := dir.ResolverFor(self, node)
	if err != nil {
		return orgs.Org{}, types.Hash{}, fmt.Errorf("resolver lookup:\n%w", err)
	}

	if err := resolver.SetAddr(self, node, unbound.Address()); err != nil {
		return orgs.Org{}, types.Hash{}, fmt.Errorf("set address:\n%w", err)
	}

	if len(auxRecords) > 0 {
		if _, err := resolver.BatchUpdate(self, auxRecords); err != nil {
			return orgs.Org{}, types.Hash{}, fmt.Errorf("apply records:\n%w", err)
		}
	}

	if err := unbound.SetName(self, dir, domain); err != nil {
		return orgs.Org{}, types.Hash{}, fmt.Errorf("set org name:\n%w", err)
	}

	org, err := unbound.Bind(self, owner)
	if err != nil {
		return orgs.Org{}, types.Hash{}, fmt.Errorf("bind org:\n%w", err)
	}

	if err := dir.SetNodeOwner(self, node, owner); err != nil {
		return orgs.Org{}, types.Hash{}, fmt.Errorf("transfer node:\n%w", err)
	}

	if err := self.Emit(OrgCreated{Org: org.Address, Owner: owner, Domain: domain}); err != nil {
		return orgs.Org{}, types.Hash{}, err
	}

	return org, node, nil
}

// observe records metrics and a debug line for one orchestration.
func (o *Orchestrator) observe(op, name string, start time.Time, errp *error) {
	result := resultLabel(*errp)
	telemetry.ObserveOrchestration(op, result, start)

	if *errp != nil {
		logger.Debug("orchestration failed", "op", op, "name", name, "result", result)
	}
}

// resultLabel maps an orchestration error to a metric label.
func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrOwnerMismatch):
		return "owner_mismatch"
	case errors.Is(err, ledger.ErrCommitmentNotFound):
		return "not_found"
	case errors.Is(err, ErrEmptyOwnerSet), errors.Is(err, ErrInvalidThreshold), errors.Is(err, ErrZeroAddressOwner):
		return "invalid_owners"
	case errors.Is(err, ErrZeroAddressRegistrar):
		return "no_registrar"
	default:
		return "collaborator"
	}
}

// domainOf joins name and the registrar's namespace.
func domainOf(name string, registrar contracts.Registrar) string {
	if ns := registrar.NamespaceName(); ns != "" {
		return name + "." + ns
	}

	return name
}
