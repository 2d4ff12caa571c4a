package client

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"OrgRegistry/internal/api"
	"OrgRegistry/internal/attest"
	"OrgRegistry/internal/chain"
	"OrgRegistry/internal/ledger"
	"OrgRegistry/internal/token"
	"OrgRegistry/internal/types"
)

var (
	// ErrReceiptHash is returned when a receipt's hash does not match its content.
	ErrReceiptHash = errors.New("receipt hash mismatch")

	// ErrReceiptAttestation is returned when a receipt attestation does not verify.
	ErrReceiptAttestation = errors.New("receipt attestation invalid")
)

// Commitment is the secret and public halves of one name commitment.
// Keep it until Finalize: the salt cannot be recovered from the node.
type Commitment struct {
	Name        string          // Name is the label to register
	Owners      []types.Address // Owners is the intended owner set (one for single-owner)
	Salt        types.Hash      // Salt blinds the fingerprint and digest
	Fingerprint types.Hash      // Fingerprint is H(name || ledger || salt)
	OwnerDigest types.Hash      // OwnerDigest is H(owners... || salt)
}

// NewCommitment builds a commitment of name for owners against the ledger
// identity, with a random salt.
func NewCommitment(ledgerAddr types.Address, name string, owners ...types.Address) (Commitment, error) {
	if len(owners) == 0 {
		return Commitment{}, fmt.Errorf("at least one owner is required")
	}

	var salt types.Hash
	if _, err := rand.Read(salt[:]); err != nil {
		return Commitment{}, fmt.Errorf("generate salt:\n%w", err)
	}

	return Commitment{
		Name:        name,
		Owners:      owners,
		Salt:        salt,
		Fingerprint: types.Fingerprint(name, ledgerAddr, salt),
		OwnerDigest: types.OwnersDigest(owners, salt),
	}, nil
}

// Approve sets the wallet's fee-token allowance for spender.
func (w *Wallet) Approve(c *Client, spender types.Address, amount uint64) (api.ReceiptView, error) {
	var receipt api.ReceiptView
	if err := w.send(c, api.RouteApprove, api.ApproveRequest{Spender: spender, Amount: amount}, &receipt); err != nil {
		return api.ReceiptView{}, fmt.Errorf("approve:\n%w", err)
	}

	return receipt, nil
}

// Transfer sends amount fee tokens to to.
func (w *Wallet) Transfer(c *Client, to types.Address, amount uint64) (api.ReceiptView, error) {
	var receipt api.ReceiptView
	if err := w.send(c, api.RouteTransfer, api.TransferRequest{To: to, Amount: amount}, &receipt); err != nil {
		return api.ReceiptView{}, fmt.Errorf("transfer:\n%w", err)
	}

	return receipt, nil
}

// Commit deposits cm, approving the ledger for the current fee first.
func (w *Wallet) Commit(c *Client, cm Commitment) (api.ReceiptView, error) {
	if fee := c.status.Fee; fee > 0 {
		if _, err := w.Approve(c, c.status.Ledger, fee); err != nil {
			return api.ReceiptView{}, err
		}
	}

	req := api.CommitRequest{Fingerprint: cm.Fingerprint, OwnerDigest: cm.OwnerDigest}

	var receipt api.ReceiptView
	if err := w.send(c, api.RouteCommit, req, &receipt); err != nil {
		return api.ReceiptView{}, fmt.Errorf("commit:\n%w", err)
	}

	return receipt, nil
}

// CommitWithPermit deposits cm with the fee authorised by a permit valid for ttl.
// It costs one request instead of two.
func (w *Wallet) CommitWithPermit(c *Client, cm Commitment, ttl time.Duration) (api.ReceiptView, error) {
	permit, err := w.SignPermit(c, c.status.Ledger, c.status.Fee, time.Now().Add(ttl))
	if err != nil {
		return api.ReceiptView{}, err
	}

	req := api.CommitRequest{
		Fingerprint: cm.Fingerprint,
		OwnerDigest: cm.OwnerDigest,
		Permit:      &permit,
	}

	var receipt api.ReceiptView
	if err := w.send(c, api.RouteCommit, req, &receipt); err != nil {
		return api.ReceiptView{}, fmt.Errorf("commit with permit:\n%w", err)
	}

	return receipt, nil
}

// SignPermit signs a fee-token approval of value to spender, valid until deadline.
func (w *Wallet) SignPermit(c *Client, spender types.Address, value uint64, deadline time.Time) (ledger.Permit, error) {
	nonce, err := c.PermitNonce(w.addr)
	if err != nil {
		return ledger.Permit{}, fmt.Errorf("read permit nonce:\n%w", err)
	}

	p := token.SignPermit(w.privKey, c.status.Token, spender, value, nonce, deadline.Unix())

	return ledger.Permit{Value: p.Value, Deadline: p.Deadline, Signature: p.Signature}, nil
}

// Finalize reveals cm and creates its org. Commitments with several owners
// create a threshold account requiring threshold of them; threshold is
// ignored for a single owner.
func (w *Wallet) Finalize(c *Client, cm Commitment, threshold uint64, texts ...api.TextRecord) (api.FinalizeResponse, error) {
	req := api.FinalizeRequest{
		Name:  cm.Name,
		Salt:  cm.Salt,
		Texts: texts,
	}

	if len(cm.Owners) == 1 {
		req.Owner = cm.Owners[0]
	} else {
		req.Owners = cm.Owners
		req.Threshold = threshold
	}

	var resp api.FinalizeResponse
	if err := w.send(c, api.RouteFinalize, req, &resp); err != nil {
		return api.FinalizeResponse{}, fmt.Errorf("finalize:\n%w", err)
	}

	return resp, nil
}

// TransferOrg hands an org the wallet owns to newOwner.
func (w *Wallet) TransferOrg(c *Client, org, newOwner types.Address) (api.TransferOrgResponse, error) {
	var resp api.TransferOrgResponse
	if err := w.send(c, api.RouteTransferOrg, api.TransferOrgRequest{Org: org, NewOwner: newOwner}, &resp); err != nil {
		return api.TransferOrgResponse{}, fmt.Errorf("transfer org:\n%w", err)
	}

	return resp, nil
}

// Reclaim reveals a single-owner cm and hands the bare name to its owner.
func (w *Wallet) Reclaim(c *Client, cm Commitment) (api.ReclaimResponse, error) {
	if len(cm.Owners) != 1 {
		return api.ReclaimResponse{}, fmt.Errorf("reclaim needs a single-owner commitment")
	}

	req := api.ReclaimRequest{Name: cm.Name, Salt: cm.Salt, Owner: cm.Owners[0]}

	var resp api.ReclaimResponse
	if err := w.send(c, api.RouteReclaim, req, &resp); err != nil {
		return api.ReclaimResponse{}, fmt.Errorf("reclaim:\n%w", err)
	}

	return resp, nil
}

// ImportSnapshot loads a ledger snapshot. The wallet must be the node operator.
func (w *Wallet) ImportSnapshot(c *Client, data []byte) (int, error) {
	var resp struct {
		Imported int `json:"imported"`
	}

	if err := w.send(c, api.RouteSnapshot, api.ImportRequest{Data: data}, &resp); err != nil {
		return 0, fmt.Errorf("import snapshot:\n%w", err)
	}

	return resp.Imported, nil
}

// send seals payload with the wallet's next request nonce and posts it to route.
func (w *Wallet) send(c *Client, route string, payload, result any) error {
	nonce, err := c.RequestNonce(w.addr)
	if err != nil {
		return fmt.Errorf("read request nonce:\n%w", err)
	}

	env, err := api.Seal(w.privKey, route, nonce, payload)
	if err != nil {
		return err
	}

	return c.postJSON(route, env, result)
}

// VerifyReceipt checks that rc's hash commits to its content and, when the
// node attests receipts, that the attestation verifies under the node key.
func (c *Client) VerifyReceipt(rc api.ReceiptView) error {
	if chain.ReceiptHash(rc.Receipt()) != rc.Hash {
		return ErrReceiptHash
	}

	key := c.status.AttestingKey
	if len(key) == 0 {
		return nil
	}

	if !attest.Verify(rc.Attestation, rc.Hash[:], key) {
		return ErrReceiptAttestation
	}

	return nil
}
