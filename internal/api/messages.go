package api

import (
	"time"

	"OrgRegistry/internal/chain"
	"OrgRegistry/internal/ledger"
	"OrgRegistry/internal/orgs"
	"OrgRegistry/internal/types"
)

// Routes of the signed mutations. A request digest commits to its route.
const (
	RouteCommit      = "/commitments"
	RouteFinalize    = "/orgs"
	RouteTransferOrg = "/orgs/transfer"
	RouteReclaim     = "/names/reclaim"
	RouteApprove     = "/token/approve"
	RouteTransfer    = "/token/transfer"
	RouteSnapshot    = "/ledger/snapshot"
)

// CommitRequest deposits a commitment. Without Permit the sender must have
// approved the ledger for the registration fee beforehand.
type CommitRequest struct {
	Fingerprint types.Hash     `json:"fingerprint"`
	OwnerDigest types.Hash     `json:"ownerDigest"`
	Permit      *ledger.Permit `json:"permit,omitempty"`
}

// TextRecord is an auxiliary text record set on the registered name.
type TextRecord struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// FinalizeRequest reveals a commitment and creates the org. A non-empty
// Owners list selects the multi-owner flow, otherwise Owner is used.
type FinalizeRequest struct {
	Name        string          `json:"name"`
	Salt        types.Hash      `json:"salt"`
	Owner       types.Address   `json:"owner"`
	Owners      []types.Address `json:"owners,omitempty"`
	Threshold   uint64          `json:"threshold,omitempty"`
	Texts       []TextRecord    `json:"texts,omitempty"`
	ContentHash []byte          `json:"contentHash,omitempty"`
}

// ReclaimRequest reveals a commitment and hands the bare name to Owner.
type ReclaimRequest struct {
	Name  string        `json:"name"`
	Salt  types.Hash    `json:"salt"`
	Owner types.Address `json:"owner"`
}

// TransferOrgRequest moves a bound org owned by the sender to NewOwner.
type TransferOrgRequest struct {
	Org      types.Address `json:"org"`
	NewOwner types.Address `json:"newOwner"`
}

// ApproveRequest sets the sender's fee-token allowance for Spender.
type ApproveRequest struct {
	Spender types.Address `json:"spender"`
	Amount  uint64        `json:"amount"`
}

// TransferRequest moves Amount fee tokens from the sender to To.
type TransferRequest struct {
	To     types.Address `json:"to"`
	Amount uint64        `json:"amount"`
}

// FaucetRequest mints development fee tokens.
type FaucetRequest struct {
	To     types.Address `json:"to"`
	Amount uint64        `json:"amount"`
}

// ImportRequest loads a ledger snapshot. Only the operator may send it.
type ImportRequest struct {
	Data []byte `json:"data"`
}

// EventView is a committed event.
type EventView struct {
	Seq     uint64        `json:"seq"`
	Name    string        `json:"name"`
	Emitter types.Address `json:"emitter"`
	Time    int64         `json:"time"`
	Data    []byte        `json:"data"`
}

// ReceiptView is a committed call as returned by mutations.
type ReceiptView struct {
	Height      uint64        `json:"height"`
	Caller      types.Address `json:"caller"`
	Time        time.Time     `json:"time"`
	Hash        types.Hash    `json:"hash"`
	Attestation []byte        `json:"attestation,omitempty"`
	Events      []EventView   `json:"events"`
}

// FinalizeResponse is returned by POST /orgs.
type FinalizeResponse struct {
	Org     types.Address `json:"org"`
	Owner   types.Address `json:"owner"`
	Node    types.Hash    `json:"node"`
	Domain  string        `json:"domain"`
	Receipt ReceiptView   `json:"receipt"`
}

// ReclaimResponse is returned by POST /names/reclaim.
type ReclaimResponse struct {
	Node    types.Hash  `json:"node"`
	Receipt ReceiptView `json:"receipt"`
}

// TransferOrgResponse is returned by POST /orgs/transfer.
type TransferOrgResponse struct {
	Org     orgs.Org    `json:"org"`
	Receipt ReceiptView `json:"receipt"`
}

// CommitmentView is returned by GET /commitments/{fingerprint}.
type CommitmentView struct {
	Fingerprint types.Hash `json:"fingerprint"`
	OwnerDigest types.Hash `json:"ownerDigest"`
}

// NameView is returned by GET /names/{name}.
type NameView struct {
	Domain    string        `json:"domain"`
	Node      types.Hash    `json:"node"`
	Owner     types.Address `json:"owner"`
	Addr      types.Address `json:"addr"`
	Available bool          `json:"available"`
}

// AccountView is returned by GET /accounts/{address}.
type AccountView struct {
	Address    types.Address   `json:"address"`
	Creator    types.Address   `json:"creator"`
	Configured bool            `json:"configured"`
	Owners     []types.Address `json:"owners"`
	Threshold  uint64          `json:"threshold"`
}

// StatusView is returned by GET /status.
type StatusView struct {
	Height       uint64        `json:"height"`
	Namespace    string        `json:"namespace"`
	Fee          uint64        `json:"fee"`
	MinAge       string        `json:"minCommitmentAge"`
	Ledger       types.Address `json:"ledger"`
	Registrar    types.Address `json:"registrar"`
	Token        types.Address `json:"token"`
	Directory    types.Address `json:"directory"`
	Resolver     types.Address `json:"resolver"`
	Orgs         types.Address `json:"orgs"`
	Accounts     types.Address `json:"accounts"`
	Operator     types.Address `json:"operator"`
	AttestingKey []byte        `json:"attestingKey,omitempty"`
}

// NewReceiptView converts a receipt for transport.
func NewReceiptView(rc *chain.Receipt) ReceiptView {
	return ReceiptView{
		Height:      rc.Height,
		Caller:      rc.Caller,
		Time:        rc.Time,
		Hash:        rc.Hash,
		Attestation: rc.Attestation,
		Events:      eventViews(rc.Events),
	}
}

// Receipt converts the view back into a receipt, e.g. to recompute its hash.
func (v ReceiptView) Receipt() *chain.Receipt {
	events := make([]chain.Record, len(v.Events))
	for i, ev := range v.Events {
		events[i] = chain.Record{Seq: ev.Seq, Name: ev.Name, Emitter: ev.Emitter, Time: ev.Time, Data: ev.Data}
	}

	return &chain.Receipt{
		Height:      v.Height,
		Caller:      v.Caller,
		Time:        v.Time,
		Events:      events,
		Hash:        v.Hash,
		Attestation: v.Attestation,
	}
}

func eventViews(records []chain.Record) []EventView {
	views := make([]EventView, len(records))
	for i, rec := range records {
		views[i] = EventView{Seq: rec.Seq, Name: rec.Name, Emitter: rec.Emitter, Time: rec.Time, Data: rec.Data}
	}

	return views
}
