// Package registrar allocates names under one namespace with a commit-reveal
// delay: a party first commits H(name || owner || salt), waits at least the
// minimum commitment age, then reveals to register.
package registrar

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"OrgRegistry/internal/chain"
	"OrgRegistry/internal/contracts"
	"OrgRegistry/internal/directory"
	"OrgRegistry/internal/types"
)

var (
	// ErrCommitmentNotFound is returned when Register finds no matching commitment.
	ErrCommitmentNotFound = errors.New("registrar: commitment not found")

	// ErrCommitmentTooNew is returned when Register runs before the minimum age.
	ErrCommitmentTooNew = errors.New("registrar: commitment too new")

	// ErrCommitmentTooOld is returned when Register runs after the maximum age.
	ErrCommitmentTooOld = errors.New("registrar: commitment expired")

	// ErrNameUnavailable is returned when the name's node already has an owner.
	ErrNameUnavailable = errors.New("registrar: name unavailable")

	// ErrInvalidName is returned for labels outside the allowed alphabet or length.
	ErrInvalidName = errors.New("registrar: invalid name")

	// ErrFeeCollection wraps a fee asset failure during Commit.
	ErrFeeCollection = errors.New("registrar: fee collection failed")
)

// Label constraints.
const (
	MinLabelLength = 3
	MaxLabelLength = 63
)

// commitKeyPrefix is "r:" + registrar address + fingerprint -> commit time (unix nanos).
var commitKeyPrefix = []byte("r:")

// Config holds the immutable deployment parameters.
type Config struct {
	Address          types.Address        // Address is the registrar identity
	Namespace        string               // Namespace is the label of the root this registrar owns (e.g. "org")
	Directory        *directory.Directory // Directory is the naming directory
	Resolver         types.Address        // Resolver is set on every registered node
	FeeAsset         contracts.FeeAsset   // FeeAsset pays registration fees (nil for free registration)
	Fee              uint64               // Fee is the flat registration fee
	Treasury         types.Address        // Treasury receives fees
	MinCommitmentAge time.Duration        // MinCommitmentAge is the reveal delay
	MaxCommitmentAge time.Duration        // MaxCommitmentAge bounds how long a commitment stays usable
}

// Committed is emitted when a fingerprint is committed.
type Committed struct {
	Fingerprint types.Hash
	By          types.Address
}

func (Committed) EventName() string { return "Committed" }

// NameRegistered is emitted when a name is allocated.
type NameRegistered struct {
	Name  string
	Node  types.Hash
	Owner types.Address
	Fee   uint64
}

func (NameRegistered) EventName() string { return "NameRegistered" }

// Registrar owns the namespace node and creates subnodes for revealed names.
type Registrar struct {
	cfg  Config
	root types.Hash
}

// New creates a registrar for the namespace directly under the directory root.
func New(cfg Config) *Registrar {
	return &Registrar{
		cfg:  cfg,
		root: types.Namehash(cfg.Namespace),
	}
}

// Address returns the registrar identity, or the zero address for a nil
// registrar.
func (r *Registrar) Address() types.Address {
	if r == nil {
		return types.ZeroAddress
	}

	return r.cfg.Address
}

// NamespaceRoot returns the node under which names are registered.
func (r *Registrar) NamespaceRoot() types.Hash {
	return r.root
}

// NamespaceName returns the namespace label.
func (r *Registrar) NamespaceName() string {
	return r.cfg.Namespace
}

// FeeAsset returns the asset fees are paid in.
func (r *Registrar) FeeAsset() contracts.FeeAsset {
	return r.cfg.FeeAsset
}

// RegistrationFee returns the flat fee charged on commit.
func (r *Registrar) RegistrationFee(_ *chain.Context) (uint64, error) {
	if r.cfg.FeeAsset == nil {
		return 0, nil
	}

	return r.cfg.Fee, nil
}

// MinCommitmentAge returns the minimum delay between commit and register.
func (r *Registrar) MinCommitmentAge() time.Duration {
	return r.cfg.MinCommitmentAge
}

// NamingDirectory returns the directory names are registered in.
func (r *Registrar) NamingDirectory() contracts.Directory {
	return r.cfg.Directory
}

// Commit records fingerprint at the current time, collecting the fee from
// the caller through its allowance. Re-committing refreshes the timestamp.
func (r *Registrar) Commit(ctx *chain.Context, fingerprint types.Hash) error {
	if err := r.collectFee(ctx); err != nil {
		return err
	}

	return r.record(ctx, fingerprint)
}

// CommitWithDelegatedApproval is Commit with the fee allowance granted by a
// signed permit from owner to this registrar.
func (r *Registrar) CommitWithDelegatedApproval(ctx *chain.Context, fingerprint types.Hash, owner types.Address, value uint64, deadline int64, sig []byte) error {
	fee, err := r.RegistrationFee(ctx)
	if err != nil {
		return err
	}

	if fee > 0 {
		if err := r.cfg.FeeAsset.DelegatedApproval(ctx, owner, r.cfg.Address, value, deadline, sig); err != nil {
			return fmt.Errorf("%w: permit:\n%w", ErrFeeCollection, err)
		}

		if err := r.cfg.FeeAsset.TransferFrom(ctx.As(r.cfg.Address), owner, r.cfg.Treasury, fee); err != nil {
			return fmt.Errorf("%w:\n%w", ErrFeeCollection, err)
		}
	}

	return r.record(ctx, fingerprint)
}

// Register reveals a commitment made as H(name || custodian || salt) and
// gives the name's node to custodian.
func (r *Registrar) Register(ctx *chain.Context, name string, custodian types.Address, salt types.Hash) error {
	if err := ValidateLabel(name); err != nil {
		return err
	}

	fingerprint := types.Fingerprint(name, custodian, salt)
	key := r.commitKey(fingerprint)

	committedAt, found, err := r.commitTime(ctx, key)
	if err != nil {
		return err
	}

	if !found {
		return ErrCommitmentNotFound
	}

	age := ctx.Now().Sub(committedAt)

	if age < r.cfg.MinCommitmentAge {
		return fmt.Errorf("%w: age %s, need %s", ErrCommitmentTooNew, age, r.cfg.MinCommitmentAge)
	}

	if r.cfg.MaxCommitmentAge > 0 && age > r.cfg.MaxCommitmentAge {
		return fmt.Errorf("%w: age %s", ErrCommitmentTooOld, age)
	}

	node := types.ChildNode(r.root, name)

	owner, err := r.cfg.Directory.NodeOwner(ctx, node)
	if err != nil {
		return err
	}

	if !owner.IsZero() {
		return fmt.Errorf("%w: %s", ErrNameUnavailable, name)
	}

	if err := ctx.Delete(key); err != nil {
		return err
	}

	if _, err := r.cfg.Directory.SetSubnodeRecord(ctx.As(r.cfg.Address), r.root, name, custodian, r.cfg.Resolver); err != nil {
		return fmt.Errorf("create node:\n%w", err)
	}

	fee, err := r.RegistrationFee(ctx)
	if err != nil {
		return fmt.Errorf("read fee:\n%w", err)
	}

	return ctx.As(r.cfg.Address).Emit(NameRegistered{Name: name, Node: node, Owner: custodian, Fee: fee})
}

// Available reports whether name is valid and unowned.
func (r *Registrar) Available(ctx *chain.Context, name string) (bool, error) {
	if ValidateLabel(name) != nil {
		return false, nil
	}

	owner, err := r.cfg.Directory.NodeOwner(ctx, types.ChildNode(r.root, name))
	if err != nil {
		return false, err
	}

	return owner.IsZero(), nil
}

// CommittedAt returns when fingerprint was committed.
func (r *Registrar) CommittedAt(ctx *chain.Context, fingerprint types.Hash) (time.Time, bool, error) {
	return r.commitTime(ctx, r.commitKey(fingerprint))
}

// ValidateLabel checks a label is 3-63 chars of [a-z0-9-] without a leading
// or trailing hyphen.
func ValidateLabel(label string) error {
	if len(label) < MinLabelLength || len(label) > MaxLabelLength {
		return fmt.Errorf("%w: length %d", ErrInvalidName, len(label))
	}

	if label[0] == '-' || label[len(label)-1] == '-' {
		return fmt.Errorf("%w: leading or trailing hyphen", ErrInvalidName)
	}

	for i := 0; i < len(label); i++ {
		c := label[i]
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') && c != '-' {
			return fmt.Errorf("%w: character %q", ErrInvalidName, c)
		}
	}

	return nil
}

// collectFee pulls the fee from the caller into the treasury.
func (r *Registrar) collectFee(ctx *chain.Context) error {
	fee, err := r.RegistrationFee(ctx)
	if err != nil || fee == 0 {
		return err
	}

	if err := r.cfg.FeeAsset.TransferFrom(ctx.As(r.cfg.Address), ctx.Caller(), r.cfg.Treasury, fee); err != nil {
		return fmt.Errorf("%w:\n%w", ErrFeeCollection, err)
	}

	return nil
}

// record stores the commit time and emits Committed.
func (r *Registrar) record(ctx *chain.Context, fingerprint types.Hash) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(ctx.Now().UnixNano()))

	if err := ctx.Set(r.commitKey(fingerprint), buf[:]); err != nil {
		return err
	}

	return ctx.As(r.cfg.Address).Emit(Committed{Fingerprint: fingerprint, By: ctx.Caller()})
}

func (r *Registrar) commitTime(ctx *chain.Context, key []byte) (time.Time, bool, error) {
	data, err := ctx.Get(key)
	if err != nil {
		return time.Time{}, false, err
	}

	if len(data) != 8 {
		return time.Time{}, false, nil
	}

	return time.Unix(0, int64(binary.BigEndian.Uint64(data))), true, nil
}

// commitKey builds "r:" + registrar + fingerprint.
func (r *Registrar) commitKey(fingerprint types.Hash) []byte {
	key := make([]byte, 0, len(commitKeyPrefix)+64)
	key = append(key, commitKeyPrefix...)
	key = append(key, r.cfg.Address[:]...)

	return append(key, fingerprint[:]...)
}
