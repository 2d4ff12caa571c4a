package orchestrator

import (
	"errors"
	"sync"
	"testing"
	"time"

	"OrgRegistry/internal/accounts"
	"OrgRegistry/internal/chain"
	"OrgRegistry/internal/chain/chaintest"
	"OrgRegistry/internal/directory"
	"OrgRegistry/internal/ledger"
	"OrgRegistry/internal/orgs"
	"OrgRegistry/internal/registrar"
	"OrgRegistry/internal/token"
	"OrgRegistry/internal/types"
)

var (
	deployer     = types.Address{0x01}
	custodian    = types.Address{0xC0}
	registrarID  = types.Address{0x0E}
	resolverAddr = types.Address{0xD2}
	assetAddr    = types.Address{0xA5}
	treasury     = types.Address{0x7E}
	templateAddr = types.Address{0x7A}
	depositor    = types.Address{0xDE}
	relayer      = types.Address{0x4E}
	owner        = types.Address{0xB0}
	salt         = types.Hash{0x5A}
)

// spyRegistrar counts Register calls made through it.
type spyRegistrar struct {
	*registrar.Registrar

	mu        sync.Mutex
	registers int
}

func (s *spyRegistrar) Register(ctx *chain.Context, name string, custodian types.Address, salt types.Hash) error {
	s.mu.Lock()
	s.registers++
	s.mu.Unlock()

	return s.Registrar.Register(ctx, name, custodian, salt)
}

type fixture struct {
	env      *chaintest.Env
	dir      *directory.Directory
	resolver *directory.Resolver
	tok      *token.Token
	reg      *spyRegistrar
	orgs     *orgs.Registry
	accounts *accounts.Factory
	orch     *Orchestrator
}

// newFixture deploys every collaborator with the registrar owning "org".
func newFixture(t *testing.T, fee uint64) *fixture {
	t.Helper()

	env := chaintest.New(t)
	dir := directory.New(types.Address{0xD1})
	res := dir.NewResolver(resolverAddr)
	tok := token.New(assetAddr, deployer)

	reg := &spyRegistrar{Registrar: registrar.New(registrar.Config{
		Address:          registrarID,
		Namespace:        "org",
		Directory:        dir,
		Resolver:         resolverAddr,
		FeeAsset:         tok,
		Fee:              fee,
		Treasury:         treasury,
		MinCommitmentAge: time.Minute,
		MaxCommitmentAge: 24 * time.Hour,
	})}

	orgRegistry := orgs.NewRegistry(types.Address{0x06})
	factory := accounts.NewFactory(types.Address{0xFA}, templateAddr)

	orch, err := New(Config{
		Ledger:          ledger.New(custodian),
		Orgs:            orgRegistry,
		Accounts:        factory,
		AccountTemplate: templateAddr,
	})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}

	env.Exec(t, deployer, func(ctx *chain.Context) error {
		if err := dir.Init(ctx); err != nil {
			return err
		}

		_, err := dir.SetSubnodeRecord(ctx, types.ZeroHash, "org", registrarID, resolverAddr)
		return err
	})

	return &fixture{
		env:      env,
		dir:      dir,
		resolver: res,
		tok:      tok,
		reg:      reg,
		orgs:     orgRegistry,
		accounts: factory,
		orch:     orch,
	}
}

// deposit commits name with digest and lets the commitment age.
func (f *fixture) deposit(t *testing.T, name string, digest types.Hash) {
	t.Helper()

	f.env.Exec(t, depositor, func(ctx *chain.Context) error {
		return f.orch.Ledger().Deposit(ctx, f.orch.Ledger().Fingerprint(name, salt), digest, f.reg)
	})

	f.env.Clock.Advance(2 * time.Minute)
}

func (f *fixture) finalize(who types.Address, name string, aux [][]byte) (orgs.Org, types.Hash, *chain.Receipt, error) {
	var (
		org  orgs.Org
		node types.Hash
	)

	receipt, err := f.env.Runtime.Execute(relayer, func(ctx *chain.Context) error {
		var err error
		org, node, err = f.orch.FinalizeSingleOwner(ctx, who, name, salt, aux, f.reg)
		return err
	})

	return org, node, receipt, err
}

func (f *fixture) nodeOwner(t *testing.T, node types.Hash) types.Address {
	t.Helper()

	var got types.Address
	f.env.View(t, func(ctx *chain.Context) error {
		var err error
		got, err = f.dir.NodeOwner(ctx, node)
		return err
	})

	return got
}

func countEvents(r *chain.Receipt, name string) int {
	n := 0
	for _, ev := range r.Events {
		if ev.Name == name {
			n++
		}
	}

	return n
}

// TestScenarioA_SingleOwner covers the happy path with zero fee.
func TestScenarioA_SingleOwner(t *testing.T) {
	f := newFixture(t, 0)
	f.deposit(t, "alice", types.OwnerDigest(owner, salt))

	aux := [][]byte{directory.SetTextCall(types.Namehash("alice.org"), "url", "https://alice.example")}

	org, node, receipt, err := f.finalize(owner, "alice", aux)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}

	if countEvents(receipt, "OrgCreated") != 1 {
		t.Errorf("OrgCreated events: %d, want 1", countEvents(receipt, "OrgCreated"))
	}

	last := receipt.Events[len(receipt.Events)-1]
	var ev OrgCreated
	if err := last.Decode(&ev); err != nil || ev != (OrgCreated{Org: org.Address, Owner: owner, Domain: "alice.org"}) {
		t.Errorf("OrgCreated: %+v err=%v", ev, err)
	}

	if got := f.nodeOwner(t, node); got != owner || org.Owner != owner {
		t.Errorf("owners: node=%s org=%s", got.Short(), org.Owner.Short())
	}

	f.env.View(t, func(ctx *chain.Context) error {
		stored, err := f.orgs.Get(ctx, org.Address)
		if err != nil {
			return err
		}
		if stored.Owner != owner || stored.Name != "alice.org" {
			t.Errorf("stored org: %+v", stored)
		}

		addr, _ := f.resolver.Addr(ctx, node)
		if addr != org.Address {
			t.Errorf("resolved address: %s, want org", addr.Short())
		}

		text, _ := f.resolver.Text(ctx, node, "url")
		if text != "https://alice.example" {
			t.Errorf("aux record: %q", text)
		}

		name, _, _ := f.dir.ReverseName(ctx, org.Address)
		if name != "alice.org" {
			t.Errorf("reverse name: %q", name)
		}
		return nil
	})
}

// TestFinalize_NodeRoundTrip verifies the returned node matches the one
// derived independently from the registrar's namespace root.
func TestFinalize_NodeRoundTrip(t *testing.T) {
	f := newFixture(t, 0)
	f.deposit(t, "acme", types.OwnerDigest(owner, salt))

	_, node, _, err := f.finalize(owner, "acme", nil)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}

	if node != types.ChildNode(f.reg.NamespaceRoot(), "acme") || node != types.Namehash("acme.org") {
		t.Error("node must equal H(namespaceRoot || H(name))")
	}
}

// TestScenarioB_OwnerMismatch covers a reveal with the wrong owner.
func TestScenarioB_OwnerMismatch(t *testing.T) {
	f := newFixture(t, 0)
	f.deposit(t, "alice", types.OwnerDigest(owner, salt))

	height := f.env.Runtime.Height()

	_, _, _, err := f.finalize(types.Address{0x99}, "alice", nil)
	if !errors.Is(err, ErrOwnerMismatch) {
		t.Fatalf("expected ErrOwnerMismatch, got %v", err)
	}

	if f.env.Runtime.Height() != height {
		t.Error("failed call must not commit")
	}

	if f.reg.registers != 0 {
		t.Errorf("registrar contacted %d times", f.reg.registers)
	}

	// The commitment survives, so the real owner can still finalize.
	if _, _, _, err := f.finalize(owner, "alice", nil); err != nil {
		t.Errorf("finalize with the real owner: %v", err)
	}
}

// TestScenarioC_NoDeposit covers a finalize without a prior deposit.
func TestScenarioC_NoDeposit(t *testing.T) {
	f := newFixture(t, 0)

	_, _, _, err := f.finalize(owner, "alice", nil)
	if !errors.Is(err, ledger.ErrCommitmentNotFound) {
		t.Errorf("expected ErrCommitmentNotFound, got %v", err)
	}
}

// TestScenarioD_FeeUnpaid covers a fee the depositor cannot cover.
func TestScenarioD_FeeUnpaid(t *testing.T) {
	f := newFixture(t, 100)

	f.env.Exec(t, deployer, func(ctx *chain.Context) error {
		return f.tok.Mint(ctx, depositor, 99)
	})

	f.env.Exec(t, depositor, func(ctx *chain.Context) error {
		return f.tok.Approve(ctx, custodian, 100)
	})

	fp := f.orch.Ledger().Fingerprint("alice", salt)

	_, err := f.env.Runtime.Execute(depositor, func(ctx *chain.Context) error {
		return f.orch.Ledger().Deposit(ctx, fp, types.OwnerDigest(owner, salt), f.reg)
	})
	if !errors.Is(err, ledger.ErrFeeTransferFailed) {
		t.Fatalf("expected ErrFeeTransferFailed, got %v", err)
	}

	f.env.View(t, func(ctx *chain.Context) error {
		if _, found, _ := f.orch.Ledger().Pending(ctx, fp); found {
			t.Error("commitment stored")
		}

		if _, found, _ := f.reg.CommittedAt(ctx, fp); found {
			t.Error("registrar recorded the commitment")
		}
		return nil
	})
}

// TestScenarioE_Reclaim covers releasing a name without creating an org.
func TestScenarioE_Reclaim(t *testing.T) {
	f := newFixture(t, 0)
	f.deposit(t, "alice", types.OwnerDigest(owner, salt))

	var node types.Hash
	receipt := f.env.Exec(t, relayer, func(ctx *chain.Context) error {
		var err error
		node, err = f.orch.Reclaim(ctx, f.reg, f.reg.NamespaceRoot(), "alice", salt, owner)
		return err
	})

	if countEvents(receipt, "OrgCreated") != 0 || countEvents(receipt, "OrgProvisioned") != 0 {
		t.Error("reclaim must not create an org")
	}

	if countEvents(receipt, "NameReclaimed") != 1 {
		t.Error("missing NameReclaimed")
	}

	if got := f.nodeOwner(t, node); got != owner {
		t.Errorf("node owner: %s, want owner", got.Short())
	}
}

func TestReclaim_OwnerMismatch(t *testing.T) {
	f := newFixture(t, 0)
	f.deposit(t, "alice", types.OwnerDigest(owner, salt))

	_, err := f.env.Runtime.Execute(relayer, func(ctx *chain.Context) error {
		_, err := f.orch.Reclaim(ctx, f.reg, f.reg.NamespaceRoot(), "alice", salt, types.Address{0x99})
		return err
	})
	if !errors.Is(err, ErrOwnerMismatch) {
		t.Errorf("expected ErrOwnerMismatch, got %v", err)
	}
}

// TestFinalize_RegisterFailureRollsBack verifies a registrar rejection leaves
// no org, no directory change and no OrgCreated, and the commitment intact.
func TestFinalize_RegisterFailureRollsBack(t *testing.T) {
	f := newFixture(t, 0)

	f.env.Exec(t, depositor, func(ctx *chain.Context) error {
		return f.orch.Ledger().Deposit(ctx, f.orch.Ledger().Fingerprint("alice", salt), types.OwnerDigest(owner, salt), f.reg)
	})

	// The commitment is too young for the registrar.
	height := f.env.Runtime.Height()

	_, _, _, err := f.finalize(owner, "alice", nil)
	if !errors.Is(err, registrar.ErrCommitmentTooNew) {
		t.Fatalf("expected ErrCommitmentTooNew, got %v", err)
	}

	if f.env.Runtime.Height() != height {
		t.Error("failed call committed")
	}

	events, _ := f.env.Runtime.Events(0, 1000)
	for _, ev := range events {
		if ev.Name == "OrgCreated" || ev.Name == "OrgProvisioned" {
			t.Errorf("unexpected %s event", ev.Name)
		}
	}

	if got := f.nodeOwner(t, types.Namehash("alice.org")); !got.IsZero() {
		t.Errorf("directory node mutated: owner %s", got.Short())
	}

	f.env.View(t, func(ctx *chain.Context) error {
		_, found, err := f.orch.Ledger().Pending(ctx, f.orch.Ledger().Fingerprint("alice", salt))
		if !found {
			t.Error("rolled back redemption must leave the commitment pending")
		}
		return err
	})
}

// TestFinalize_BadAuxRecordRollsBack verifies a rejected batch update undoes
// the whole finalize, including the registration.
func TestFinalize_BadAuxRecordRollsBack(t *testing.T) {
	f := newFixture(t, 0)
	f.deposit(t, "alice", types.OwnerDigest(owner, salt))

	_, _, _, err := f.finalize(owner, "alice", [][]byte{{0xFF}})
	if !errors.Is(err, directory.ErrBadCall) {
		t.Fatalf("expected ErrBadCall, got %v", err)
	}

	if got := f.nodeOwner(t, types.Namehash("alice.org")); !got.IsZero() {
		t.Errorf("name registered despite rollback: %s", got.Short())
	}
}

func TestFinalize_Preconditions(t *testing.T) {
	f := newFixture(t, 0)

	_, err := f.env.Runtime.Execute(relayer, func(ctx *chain.Context) error {
		_, _, err := f.orch.FinalizeSingleOwner(ctx, owner, "alice", salt, nil, nil)
		return err
	})
	if !errors.Is(err, ErrZeroAddressRegistrar) {
		t.Errorf("nil registrar: got %v", err)
	}

	var typedNil *registrar.Registrar

	_, err = f.env.Runtime.Execute(relayer, func(ctx *chain.Context) error {
		_, _, err := f.orch.FinalizeMultiOwner(ctx, []types.Address{owner}, 1, "alice", salt, nil, typedNil)
		return err
	})
	if !errors.Is(err, ErrZeroAddressRegistrar) {
		t.Errorf("typed nil registrar: got %v", err)
	}

	_, _, _, err = f.finalize(types.ZeroAddress, "alice", nil)
	if !errors.Is(err, ErrZeroAddressOwner) {
		t.Errorf("zero owner: got %v", err)
	}
}

func TestFinalizeMultiOwner_AllThresholds(t *testing.T) {
	owners := []types.Address{{0x11}, {0x22}, {0x33}}

	for threshold := uint64(1); threshold <= uint64(len(owners)); threshold++ {
		f := newFixture(t, 0)
		f.deposit(t, "team", types.OwnersDigest(owners, salt))

		var org orgs.Org
		var node types.Hash
		f.env.Exec(t, relayer, func(ctx *chain.Context) error {
			var err error
			org, node, err = f.orch.FinalizeMultiOwner(ctx, owners, threshold, "team", salt, nil, f.reg)
			return err
		})

		if got := f.nodeOwner(t, node); got != org.Owner {
			t.Errorf("threshold %d: node owner %s != org owner %s", threshold, got.Short(), org.Owner.Short())
		}

		f.env.View(t, func(ctx *chain.Context) error {
			rec, err := f.accounts.Info(ctx, org.Owner)
			if err != nil {
				return err
			}

			if !rec.Configured || rec.Threshold != threshold || len(rec.Owners) != len(owners) {
				t.Errorf("threshold %d: account %+v", threshold, rec)
			}

			for i := range owners {
				if rec.Owners[i] != owners[i] {
					t.Errorf("threshold %d: owner %d reordered", threshold, i)
				}
			}
			return nil
		})
	}
}

// TestFinalizeMultiOwner_InvalidFailsEarly verifies malformed owner sets fail
// before the commitment is redeemed or the registrar is contacted.
func TestFinalizeMultiOwner_InvalidFailsEarly(t *testing.T) {
	owners := []types.Address{{0x11}, {0x22}}

	cases := []struct {
		name      string
		owners    []types.Address
		threshold uint64
		want      error
	}{
		{"empty", nil, 1, ErrEmptyOwnerSet},
		{"zero threshold", owners, 0, ErrInvalidThreshold},
		{"threshold above owners", owners, 3, ErrInvalidThreshold},
		{"null owner", []types.Address{{0x11}, {}}, 1, ErrZeroAddressOwner},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, 0)
			f.deposit(t, "team", types.OwnersDigest(owners, salt))

			_, err := f.env.Runtime.Execute(relayer, func(ctx *chain.Context) error {
				_, _, err := f.orch.FinalizeMultiOwner(ctx, tc.owners, tc.threshold, "team", salt, nil, f.reg)

				// Nothing may have been staged before validation failed.
				if len(ctx.Events()) != 0 {
					t.Errorf("events staged before validation: %d", len(ctx.Events()))
				}
				return err
			})
			if !errors.Is(err, tc.want) {
				t.Fatalf("got %v, want %v", err, tc.want)
			}

			if f.reg.registers != 0 {
				t.Error("registrar contacted")
			}
		})
	}
}

// TestFinalizeMultiOwner_OrderSensitive verifies the owner digest is not
// canonicalised.
func TestFinalizeMultiOwner_OrderSensitive(t *testing.T) {
	f := newFixture(t, 0)
	owners := []types.Address{{0x11}, {0x22}}
	f.deposit(t, "team", types.OwnersDigest(owners, salt))

	_, err := f.env.Runtime.Execute(relayer, func(ctx *chain.Context) error {
		_, _, err := f.orch.FinalizeMultiOwner(ctx, []types.Address{{0x22}, {0x11}}, 1, "team", salt, nil, f.reg)
		return err
	})
	if !errors.Is(err, ErrOwnerMismatch) {
		t.Errorf("expected ErrOwnerMismatch, got %v", err)
	}
}

// TestFinalize_ConcurrentSingleWinner verifies concurrent finalizes of one
// commitment produce exactly one org.
func TestFinalize_ConcurrentSingleWinner(t *testing.T) {
	f := newFixture(t, 0)
	f.deposit(t, "alice", types.OwnerDigest(owner, salt))

	const workers = 8

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, _, _, err := f.finalize(owner, "alice", nil)

			mu.Lock()
			defer mu.Unlock()

			if err == nil {
				wins++
			} else if !errors.Is(err, ledger.ErrCommitmentNotFound) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}

	wg.Wait()

	if wins != 1 {
		t.Errorf("wins: %d, want 1", wins)
	}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("expected error for empty config")
	}
}

func TestResultLabel(t *testing.T) {
	cases := map[string]error{
		"ok":             nil,
		"owner_mismatch": ErrOwnerMismatch,
		"not_found":      ledger.ErrCommitmentNotFound,
		"invalid_owners": ErrInvalidThreshold,
		"no_registrar":   ErrZeroAddressRegistrar,
		"collaborator":   registrar.ErrNameUnavailable,
	}

	for want, err := range cases {
		if got := resultLabel(err); got != want {
			t.Errorf("resultLabel(%v) = %s, want %s", err, got, want)
		}
	}
}
