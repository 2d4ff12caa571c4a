package types

import (
	"encoding/json"
	"testing"
)

func TestNamehash_MatchesChildNode(t *testing.T) {
	root := Namehash("org")
	want := ChildNode(root, "alice")

	if got := Namehash("alice.org"); got != want {
		t.Errorf("namehash mismatch: got %x, want %x", got, want)
	}

	if !Namehash("").IsZero() {
		t.Error("empty domain should be the zero root")
	}
}

func TestOwnersDigest_OrderSensitive(t *testing.T) {
	a := Address{0x01}
	b := Address{0x02}
	salt := Hash{0x99}

	ab := OwnersDigest([]Address{a, b}, salt)
	ba := OwnersDigest([]Address{b, a}, salt)

	if ab == ba {
		t.Error("owner list digest must depend on order")
	}
}

func TestOwnerDigest_SingleEqualsListOfOne(t *testing.T) {
	owner := Address{0x05}
	salt := Hash{0x07}

	if OwnerDigest(owner, salt) != OwnersDigest([]Address{owner}, salt) {
		t.Error("single-owner digest should equal the one-element list digest")
	}
}

func TestFingerprint_DependsOnAllInputs(t *testing.T) {
	ledger := Address{0x10}
	salt := Hash{0x20}
	base := Fingerprint("alice", ledger, salt)

	if Fingerprint("alicf", ledger, salt) == base {
		t.Error("fingerprint ignores name")
	}

	if Fingerprint("alice", Address{0x11}, salt) == base {
		t.Error("fingerprint ignores ledger")
	}

	if Fingerprint("alice", ledger, Hash{0x21}) == base {
		t.Error("fingerprint ignores salt")
	}
}

func TestDeriveAddress_Deterministic(t *testing.T) {
	deployer := Address{0xAA}

	a1 := DeriveAddress(deployer, "orgs", 0)
	a2 := DeriveAddress(deployer, "orgs", 0)
	a3 := DeriveAddress(deployer, "orgs", 1)
	a4 := DeriveAddress(deployer, "accounts", 0)

	if a1 != a2 {
		t.Error("same inputs should give same address")
	}

	if a1 == a3 || a1 == a4 {
		t.Error("nonce and kind must change the address")
	}
}

func TestHexJSON_RoundTrip(t *testing.T) {
	in := struct {
		Owner Address `json:"owner"`
		Salt  Hash    `json:"salt"`
	}{Owner: Address{0x01, 0x02}, Salt: Hash{0xFF}}

	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var out struct {
		Owner Address `json:"owner"`
		Salt  Hash    `json:"salt"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if out != in {
		t.Errorf("round trip mismatch: %+v != %+v", out, in)
	}
}

func TestParseAddress_Errors(t *testing.T) {
	if _, err := ParseAddress("zz"); err == nil {
		t.Error("expected error for non-hex input")
	}

	if _, err := ParseAddress("0x0102"); err == nil {
		t.Error("expected error for short input")
	}
}
