package directory

import (
	"bytes"
	"errors"
	"testing"

	"OrgRegistry/internal/chain"
	"OrgRegistry/internal/chain/chaintest"
	"OrgRegistry/internal/types"
)

var (
	dirAddr      = types.Address{0xD1}
	resolverAddr = types.Address{0xD2}
	deployer     = types.Address{0x01}
	alice        = types.Address{0xA1}
	mallory      = types.Address{0x66}
)

// setup deploys a directory whose root is owned by deployer and creates
// "org" owned by alice with the public resolver.
func setup(t *testing.T) (*chaintest.Env, *Directory, *Resolver, types.Hash) {
	t.Helper()

	env := chaintest.New(t)
	dir := New(dirAddr)
	res := dir.NewResolver(resolverAddr)

	var node types.Hash
	env.Exec(t, deployer, func(ctx *chain.Context) error {
		if err := dir.Init(ctx); err != nil {
			return err
		}

		var err error
		node, err = dir.SetSubnodeRecord(ctx, types.ZeroHash, "org", alice, resolverAddr)
		return err
	})

	return env, dir, res, node
}

func TestInit_Once(t *testing.T) {
	env, dir, _, _ := setup(t)

	_, err := env.Runtime.Execute(mallory, func(ctx *chain.Context) error {
		return dir.Init(ctx)
	})
	if !errors.Is(err, ErrAlreadyInitialized) {
		t.Errorf("expected ErrAlreadyInitialized, got %v", err)
	}
}

func TestSetSubnodeRecord_DerivesNode(t *testing.T) {
	env, dir, _, node := setup(t)

	if node != types.Namehash("org") {
		t.Errorf("node: got %s, want namehash(org)", node)
	}

	env.View(t, func(ctx *chain.Context) error {
		rec, found, err := dir.Record(ctx, node)
		if !found || rec.Owner != alice || rec.Resolver != resolverAddr {
			t.Errorf("record: found=%v %+v", found, rec)
		}
		return err
	})
}

func TestSetSubnodeRecord_RequiresParentOwner(t *testing.T) {
	env, dir, _, node := setup(t)

	_, err := env.Runtime.Execute(mallory, func(ctx *chain.Context) error {
		_, err := dir.SetSubnodeRecord(ctx, node, "acme", mallory, resolverAddr)
		return err
	})
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
}

func TestSetNodeOwner(t *testing.T) {
	env, dir, _, node := setup(t)

	_, err := env.Runtime.Execute(mallory, func(ctx *chain.Context) error {
		return dir.SetNodeOwner(ctx, node, mallory)
	})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("non-owner transfer: got %v", err)
	}

	env.Exec(t, alice, func(ctx *chain.Context) error {
		return dir.SetNodeOwner(ctx, node, mallory)
	})

	env.View(t, func(ctx *chain.Context) error {
		owner, err := dir.NodeOwner(ctx, node)
		if owner != mallory {
			t.Errorf("owner: got %s, want mallory", owner.Short())
		}
		return err
	})
}

func TestReverseName_CallerMustBeAddress(t *testing.T) {
	env, dir, _, _ := setup(t)

	_, err := env.Runtime.Execute(mallory, func(ctx *chain.Context) error {
		return dir.SetReverseName(ctx, alice, "evil.org")
	})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	env.Exec(t, alice, func(ctx *chain.Context) error {
		return dir.SetReverseName(ctx, alice, "alice.org")
	})

	env.View(t, func(ctx *chain.Context) error {
		name, found, err := dir.ReverseName(ctx, alice)
		if !found || name != "alice.org" {
			t.Errorf("reverse name: %q found=%v", name, found)
		}
		return err
	})
}

func TestResolverFor(t *testing.T) {
	env, dir, res, node := setup(t)

	env.View(t, func(ctx *chain.Context) error {
		got, err := dir.ResolverFor(ctx, node)
		if err != nil {
			return err
		}
		if got.Address() != res.Address() {
			t.Errorf("resolver: got %s", got.Address().Short())
		}

		if _, err := dir.ResolverFor(ctx, types.Hash{0x99}); !errors.Is(err, ErrNoResolver) {
			t.Errorf("unset node: got %v, want ErrNoResolver", err)
		}
		return nil
	})

	env.Exec(t, alice, func(ctx *chain.Context) error {
		return dir.SetResolver(ctx, node, types.Address{0x77})
	})

	env.View(t, func(ctx *chain.Context) error {
		if _, err := dir.ResolverFor(ctx, node); !errors.Is(err, ErrUnknownResolver) {
			t.Errorf("foreign resolver: got %v, want ErrUnknownResolver", err)
		}
		return nil
	})
}

func TestBatchUpdate_AppliesInOrder(t *testing.T) {
	env, _, res, node := setup(t)
	target := types.Address{0x42}

	var results [][]byte
	env.Exec(t, alice, func(ctx *chain.Context) error {
		var err error
		results, err = res.BatchUpdate(ctx, [][]byte{
			SetAddrCall(node, target),
			SetTextCall(node, "url", "https://alice.example"),
			SetContentHashCall(node, []byte{0xE3, 0x01}),
			mustEncode(Call{Op: OpAddr, Node: node}),
		})
		return err
	})

	if len(results) != 4 || !bytes.Equal(results[3], target[:]) {
		t.Errorf("results: %x", results)
	}

	env.View(t, func(ctx *chain.Context) error {
		text, _ := res.Text(ctx, node, "url")
		if text != "https://alice.example" {
			t.Errorf("text: %q", text)
		}

		hash, err := res.ContentHash(ctx, node)
		if !bytes.Equal(hash, []byte{0xE3, 0x01}) {
			t.Errorf("content hash: %x", hash)
		}
		return err
	})
}

// TestBatchUpdate_FailsWhole verifies one bad call discards the earlier ones.
func TestBatchUpdate_FailsWhole(t *testing.T) {
	cases := []struct {
		name string
		bad  []byte
		want error
	}{
		{"garbage", []byte{0xFF}, ErrBadCall},
		{"unknown op", mustEncode(Call{Op: 99}), ErrUnknownOp},
		{"foreign node", SetTextCall(types.Hash{0x01}, "k", "v"), ErrUnauthorized},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env, _, res, node := setup(t)

			_, err := env.Runtime.Execute(alice, func(ctx *chain.Context) error {
				_, err := res.BatchUpdate(ctx, [][]byte{SetTextCall(node, "k", "v"), tc.bad})
				return err
			})
			if !errors.Is(err, tc.want) {
				t.Fatalf("got %v, want %v", err, tc.want)
			}

			env.View(t, func(ctx *chain.Context) error {
				if text, _ := res.Text(ctx, node, "k"); text != "" {
					t.Errorf("partial batch persisted: %q", text)
				}
				return nil
			})
		})
	}
}

func TestSetAddr_RequiresNodeOwner(t *testing.T) {
	env, _, res, node := setup(t)

	_, err := env.Runtime.Execute(mallory, func(ctx *chain.Context) error {
		return res.SetAddr(ctx, node, mallory)
	})
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
}
