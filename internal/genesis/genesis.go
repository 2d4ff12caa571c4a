// Package genesis deploys the node's components at addresses derived from
// the operator identity and initialises their state on first start.
package genesis

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"OrgRegistry/internal/accounts"
	"OrgRegistry/internal/chain"
	"OrgRegistry/internal/directory"
	"OrgRegistry/internal/ledger"
	"OrgRegistry/internal/logger"
	"OrgRegistry/internal/orchestrator"
	"OrgRegistry/internal/orgs"
	"OrgRegistry/internal/registrar"
	"OrgRegistry/internal/token"
	"OrgRegistry/internal/types"
)

// Component kinds used to derive deployment addresses.
const (
	kindDirectory    = "directory"
	kindResolver     = "resolver"
	kindToken        = "token"
	kindRegistrar    = "registrar"
	kindTreasury     = "treasury"
	kindOrgs         = "orgs"
	kindAccounts     = "accounts"
	kindTemplate     = "account-template"
	kindOrchestrator = "orchestrator"
)

// ErrGenesisMismatch is returned when a store was deployed with parameters
// other than the ones supplied.
var ErrGenesisMismatch = errors.New("genesis parameters differ from the deployed ones")

// paramsKey holds the parameters genesis was applied with.
var paramsKey = []byte("g:params")

// params is the persisted form of the immutable deployment parameters.
type params struct {
	Operator         types.Address
	Namespace        string
	Fee              uint64
	MinCommitmentAge int64
	MaxCommitmentAge int64
}

func (c Config) params() params {
	return params{
		Operator:         c.Operator,
		Namespace:        c.Namespace,
		Fee:              c.Fee,
		MinCommitmentAge: int64(c.MinCommitmentAge),
		MaxCommitmentAge: int64(c.MaxCommitmentAge),
	}
}

// diff lists the fields of p that differ from want.
func (p params) diff(want params) []string {
	var fields []string

	if p.Operator != want.Operator {
		fields = append(fields, "operator")
	}
	if p.Namespace != want.Namespace {
		fields = append(fields, fmt.Sprintf("namespace %q != %q", want.Namespace, p.Namespace))
	}
	if p.Fee != want.Fee {
		fields = append(fields, fmt.Sprintf("fee %d != %d", want.Fee, p.Fee))
	}
	if p.MinCommitmentAge != want.MinCommitmentAge {
		fields = append(fields, fmt.Sprintf("min commitment age %s != %s", time.Duration(want.MinCommitmentAge), time.Duration(p.MinCommitmentAge)))
	}
	if p.MaxCommitmentAge != want.MaxCommitmentAge {
		fields = append(fields, fmt.Sprintf("max commitment age %s != %s", time.Duration(want.MaxCommitmentAge), time.Duration(p.MaxCommitmentAge)))
	}

	return fields
}

// Config holds the genesis parameters.
type Config struct {
	// Operator deploys every component and owns the directory root.
	Operator types.Address

	// Namespace is the label names are registered under (e.g. "org").
	Namespace string

	// Fee is the flat registration fee in fee tokens (0 for free registration).
	Fee uint64

	// MinCommitmentAge is the minimum delay between commit and register.
	MinCommitmentAge time.Duration

	// MaxCommitmentAge bounds how long a commitment stays usable (0 for no bound).
	MaxCommitmentAge time.Duration

	// InitialMint is credited to the operator on first start.
	InitialMint uint64
}

// Deployment is the set of deployed components.
type Deployment struct {
	Operator     types.Address
	Directory    *directory.Directory
	Resolver     *directory.Resolver
	Token        *token.Token
	Registrar    *registrar.Registrar
	Treasury     types.Address
	Orgs         *orgs.Registry
	Accounts     *accounts.Factory
	Orchestrator *orchestrator.Orchestrator
}

// Ledger returns the commitment ledger.
func (d *Deployment) Ledger() *ledger.Ledger {
	return d.Orchestrator.Ledger()
}

// Build derives the component addresses from cfg and wires the components.
// It does not touch state.
func Build(cfg Config) (*Deployment, error) {
	if cfg.Operator.IsZero() {
		return nil, fmt.Errorf("operator is required")
	}

	if err := registrar.ValidateLabel(cfg.Namespace); err != nil {
		return nil, fmt.Errorf("namespace:\n%w", err)
	}

	addr := func(kind string) types.Address {
		return types.DeriveAddress(cfg.Operator, kind, 0)
	}

	dir := directory.New(addr(kindDirectory))
	res := dir.NewResolver(addr(kindResolver))
	tok := token.New(addr(kindToken), cfg.Operator)
	treasury := addr(kindTreasury)

	reg := registrar.New(registrar.Config{
		Address:          addr(kindRegistrar),
		Namespace:        cfg.Namespace,
		Directory:        dir,
		Resolver:         res.Address(),
		FeeAsset:         tok,
		Fee:              cfg.Fee,
		Treasury:         treasury,
		MinCommitmentAge: cfg.MinCommitmentAge,
		MaxCommitmentAge: cfg.MaxCommitmentAge,
	})

	orgRegistry := orgs.NewRegistry(addr(kindOrgs))
	factory := accounts.NewFactory(addr(kindAccounts), addr(kindTemplate))

	orch, err := orchestrator.New(orchestrator.Config{
		Ledger:          ledger.New(addr(kindOrchestrator)),
		Orgs:            orgRegistry,
		Accounts:        factory,
		AccountTemplate: factory.Template(),
	})
	if err != nil {
		return nil, fmt.Errorf("build orchestrator:\n%w", err)
	}

	return &Deployment{
		Operator:     cfg.Operator,
		Directory:    dir,
		Resolver:     res,
		Token:        tok,
		Registrar:    reg,
		Treasury:     treasury,
		Orgs:         orgRegistry,
		Accounts:     factory,
		Orchestrator: orch,
	}, nil
}

// Deploy builds the deployment and, on a fresh store, claims the directory
// root for the operator, gives the namespace node to the registrar, mints the
// initial supply and records the parameters. Deploying over an initialised
// store only rebuilds the handles, and fails with ErrGenesisMismatch unless
// cfg matches the recorded parameters. InitialMint is not compared.
func Deploy(rt *chain.Runtime, cfg Config) (*Deployment, error) {
	d, err := Build(cfg)
	if err != nil {
		return nil, err
	}

	var (
		stored      params
		initialised bool
	)
	err = rt.View(func(ctx *chain.Context) error {
		var err error
		initialised, err = ctx.Load(paramsKey, &stored)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("read genesis parameters:\n%w", err)
	}

	if initialised {
		if fields := stored.diff(cfg.params()); len(fields) > 0 {
			return nil, fmt.Errorf("%w: %s", ErrGenesisMismatch, strings.Join(fields, ", "))
		}

		logger.Debug("genesis already applied", "registrar", d.Registrar.Address().Short())
		return d, nil
	}

	_, err = rt.Execute(cfg.Operator, func(ctx *chain.Context) error {
		if err := d.Directory.Init(ctx); err != nil {
			return fmt.Errorf("init directory:\n%w", err)
		}

		if _, err := d.Directory.SetSubnodeRecord(ctx, types.ZeroHash, cfg.Namespace, d.Registrar.Address(), d.Resolver.Address()); err != nil {
			return fmt.Errorf("assign namespace:\n%w", err)
		}

		if err := ctx.Store(paramsKey, cfg.params()); err != nil {
			return fmt.Errorf("record parameters:\n%w", err)
		}

		if cfg.InitialMint > 0 {
			if err := d.Token.Mint(ctx, cfg.Operator, cfg.InitialMint); err != nil {
				return fmt.Errorf("initial mint:\n%w", err)
			}
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("apply genesis:\n%w", err)
	}

	logger.Info("genesis applied",
		"namespace", cfg.Namespace,
		"registrar", d.Registrar.Address().Short(),
		"ledger", d.Ledger().Address().Short(),
		"fee", cfg.Fee,
	)

	return d, nil
}
