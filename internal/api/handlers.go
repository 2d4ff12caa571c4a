package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"OrgRegistry/internal/chain"
	"OrgRegistry/internal/directory"
	"OrgRegistry/internal/orgs"
	"OrgRegistry/internal/types"
)

// handleHealth handles GET /health requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStatus handles GET /status requests.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var fee uint64

	err := s.rt.View(func(ctx *chain.Context) error {
		var err error
		fee, err = s.d.Registrar.RegistrationFee(ctx)
		return err
	})
	if err != nil {
		writeFailure(w, err)
		return
	}

	writeJSON(w, http.StatusOK, StatusView{
		Height:       s.rt.Height(),
		Namespace:    s.d.Registrar.NamespaceName(),
		Fee:          fee,
		MinAge:       s.d.Registrar.MinCommitmentAge().String(),
		Ledger:       s.d.Ledger().Address(),
		Registrar:    s.d.Registrar.Address(),
		Token:        s.d.Token.Address(),
		Directory:    s.d.Directory.Address(),
		Resolver:     s.d.Resolver.Address(),
		Orgs:         s.d.Orgs.Address(),
		Accounts:     s.d.Accounts.Address(),
		Operator:     s.d.Operator,
		AttestingKey: s.rt.SignerPublicKey(),
	})
}

// handleGetCommitment handles GET /commitments/{fingerprint} requests.
func (s *Server) handleGetCommitment(w http.ResponseWriter, r *http.Request) {
	fp, err := types.ParseHash(r.PathValue("fingerprint"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid fingerprint: %v", err))
		return
	}

	var (
		digest types.Hash
		found  bool
	)

	err = s.rt.View(func(ctx *chain.Context) error {
		var err error
		digest, found, err = s.d.Ledger().Pending(ctx, fp)
		return err
	})
	if err != nil {
		writeFailure(w, err)
		return
	}

	if !found {
		writeError(w, http.StatusNotFound, "commitment not found")
		return
	}

	writeJSON(w, http.StatusOK, CommitmentView{Fingerprint: fp, OwnerDigest: digest})
}

// handleCommit handles POST /commitments requests.
func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	var req CommitRequest

	env, ok := s.readEnvelope(w, r, RouteCommit, &req)
	if !ok {
		return
	}

	ledger := s.d.Ledger()

	receipt, err := s.rt.Execute(env.Sender, func(ctx *chain.Context) error {
		if err := ctx.UseNonce(env.Nonce); err != nil {
			return err
		}

		if req.Permit != nil {
			return ledger.DepositWithDelegatedApproval(ctx, req.Fingerprint, req.OwnerDigest, s.d.Registrar, *req.Permit)
		}

		return ledger.Deposit(ctx, req.Fingerprint, req.OwnerDigest, s.d.Registrar)
	})
	if err != nil {
		writeFailure(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, NewReceiptView(receipt))
}

// handleFinalize handles POST /orgs requests.
func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	var req FinalizeRequest

	env, ok := s.readEnvelope(w, r, RouteFinalize, &req)
	if !ok {
		return
	}

	orch := s.d.Orchestrator
	aux := s.auxRecords(req)

	var (
		org  orgs.Org
		node types.Hash
	)

	receipt, err := s.rt.Execute(env.Sender, func(ctx *chain.Context) error {
		if err := ctx.UseNonce(env.Nonce); err != nil {
			return err
		}

		var err error
		if len(req.Owners) > 0 {
			org, node, err = orch.FinalizeMultiOwner(ctx, req.Owners, req.Threshold, req.Name, req.Salt, aux, s.d.Registrar)
		} else {
			org, node, err = orch.FinalizeSingleOwner(ctx, req.Owner, req.Name, req.Salt, aux, s.d.Registrar)
		}

		return err
	})
	if err != nil {
		writeFailure(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, FinalizeResponse{
		Org:     org.Address,
		Owner:   org.Owner,
		Node:    node,
		Domain:  org.Name,
		Receipt: NewReceiptView(receipt),
	})
}

// handleReclaim handles POST /names/reclaim requests.
func (s *Server) handleReclaim(w http.ResponseWriter, r *http.Request) {
	var req ReclaimRequest

	env, ok := s.readEnvelope(w, r, RouteReclaim, &req)
	if !ok {
		return
	}

	var node types.Hash

	receipt, err := s.rt.Execute(env.Sender, func(ctx *chain.Context) error {
		if err := ctx.UseNonce(env.Nonce); err != nil {
			return err
		}

		var err error
		node, err = s.d.Orchestrator.Reclaim(ctx, s.d.Registrar, s.d.Registrar.NamespaceRoot(), req.Name, req.Salt, req.Owner)
		return err
	})
	if err != nil {
		writeFailure(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, ReclaimResponse{Node: node, Receipt: NewReceiptView(receipt)})
}

// handleGetOrg handles GET /orgs/{address} requests.
func (s *Server) handleGetOrg(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(w, r)
	if !ok {
		return
	}

	var org orgs.Org

	err := s.rt.View(func(ctx *chain.Context) error {
		var err error
		org, err = s.d.Orgs.Get(ctx, addr)
		return err
	})
	if err != nil {
		writeFailure(w, err)
		return
	}

	writeJSON(w, http.StatusOK, org)
}

// handleTransferOrg handles POST /orgs/transfer requests.
func (s *Server) handleTransferOrg(w http.ResponseWriter, r *http.Request) {
	var req TransferOrgRequest

	env, ok := s.readEnvelope(w, r, RouteTransferOrg, &req)
	if !ok {
		return
	}

	var org orgs.Org

	receipt, err := s.rt.Execute(env.Sender, func(ctx *chain.Context) error {
		if err := ctx.UseNonce(env.Nonce); err != nil {
			return err
		}

		var err error
		org, err = s.d.Orgs.Transfer(ctx, req.Org, req.NewOwner)
		return err
	})
	if err != nil {
		writeFailure(w, err)
		return
	}

	writeJSON(w, http.StatusOK, TransferOrgResponse{Org: org, Receipt: NewReceiptView(receipt)})
}

// handleGetName handles GET /names/{name} requests. name is a label of the
// registrar's namespace.
func (s *Server) handleGetName(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	reg := s.d.Registrar

	view := NameView{
		Domain: name + "." + reg.NamespaceName(),
		Node:   types.ChildNode(reg.NamespaceRoot(), name),
	}

	err := s.rt.View(func(ctx *chain.Context) error {
		var err error
		if view.Available, err = reg.Available(ctx, name); err != nil {
			return err
		}

		if view.Owner, err = s.d.Directory.NodeOwner(ctx, view.Node); err != nil {
			return err
		}

		resolver, err := s.d.Directory.ResolverFor(ctx, view.Node)
		if errors.Is(err, directory.ErrNoResolver) {
			return nil
		}
		if err != nil {
			return err
		}

		view.Addr, err = resolver.Addr(ctx, view.Node)
		return err
	})
	if err != nil {
		writeFailure(w, err)
		return
	}

	writeJSON(w, http.StatusOK, view)
}

// handleGetAccount handles GET /accounts/{address} requests.
func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(w, r)
	if !ok {
		return
	}

	var view AccountView

	err := s.rt.View(func(ctx *chain.Context) error {
		rec, err := s.d.Accounts.Info(ctx, addr)
		if err != nil {
			return err
		}

		view = AccountView{
			Address:    addr,
			Creator:    rec.Creator,
			Configured: rec.Configured,
			Owners:     rec.Owners,
			Threshold:  rec.Threshold,
		}

		return nil
	})
	if err != nil {
		writeFailure(w, err)
		return
	}

	writeJSON(w, http.StatusOK, view)
}

// handleGetNonce handles GET /nonces/{address}: the next request nonce.
func (s *Server) handleGetNonce(w http.ResponseWriter, r *http.Request) {
	s.readCounter(w, r, func(ctx *chain.Context, addr types.Address) (uint64, error) {
		return ctx.Nonce(addr)
	})
}

// handlePermitNonce handles GET /token/nonce/{address}: the next permit nonce.
func (s *Server) handlePermitNonce(w http.ResponseWriter, r *http.Request) {
	s.readCounter(w, r, s.d.Token.Nonce)
}

// handleBalance handles GET /token/balance/{address} requests.
func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	s.readCounter(w, r, s.d.Token.BalanceOf)
}

// handleEvents handles GET /events?from=&limit= requests.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	from, err := queryUint(r, "from", 0)
	if err != nil {
		writeFailure(w, err)
		return
	}

	limit, err := queryUint(r, "limit", defaultEventLimit)
	if err != nil {
		writeFailure(w, err)
		return
	}

	limit = min(limit, maxEventLimit)

	records, err := s.rt.Events(from, int(limit))
	if err != nil {
		writeFailure(w, err)
		return
	}

	writeJSON(w, http.StatusOK, eventViews(records))
}

// handleApprove handles POST /token/approve requests.
func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req ApproveRequest

	env, ok := s.readEnvelope(w, r, RouteApprove, &req)
	if !ok {
		return
	}

	receipt, err := s.rt.Execute(env.Sender, func(ctx *chain.Context) error {
		if err := ctx.UseNonce(env.Nonce); err != nil {
			return err
		}

		return s.d.Token.Approve(ctx, req.Spender, req.Amount)
	})
	if err != nil {
		writeFailure(w, err)
		return
	}

	writeJSON(w, http.StatusOK, NewReceiptView(receipt))
}

// handleTransfer handles POST /token/transfer requests.
func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest

	env, ok := s.readEnvelope(w, r, RouteTransfer, &req)
	if !ok {
		return
	}

	receipt, err := s.rt.Execute(env.Sender, func(ctx *chain.Context) error {
		if err := ctx.UseNonce(env.Nonce); err != nil {
			return err
		}

		return s.d.Token.Transfer(ctx, req.To, req.Amount)
	})
	if err != nil {
		writeFailure(w, err)
		return
	}

	writeJSON(w, http.StatusOK, NewReceiptView(receipt))
}

// handleFaucet handles POST /faucet requests. Grants are minted by the operator.
func (s *Server) handleFaucet(w http.ResponseWriter, r *http.Request) {
	var req FaucetRequest

	if err := readJSON(r, &req); err != nil {
		writeFailure(w, err)
		return
	}

	if s.cfg.Faucet == 0 || req.Amount > s.cfg.Faucet {
		writeFailure(w, errFaucetDisabled)
		return
	}

	receipt, err := s.rt.Execute(s.d.Operator, func(ctx *chain.Context) error {
		return s.d.Token.Mint(ctx, req.To, req.Amount)
	})
	if err != nil {
		writeFailure(w, err)
		return
	}

	writeJSON(w, http.StatusOK, NewReceiptView(receipt))
}

// handleExportSnapshot handles GET /ledger/snapshot requests.
func (s *Server) handleExportSnapshot(w http.ResponseWriter, r *http.Request) {
	var data []byte

	err := s.rt.View(func(ctx *chain.Context) error {
		var err error
		data, err = s.d.Ledger().Export(ctx)
		return err
	})
	if err != nil {
		writeFailure(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// handleImportSnapshot handles POST /ledger/snapshot requests from the operator.
func (s *Server) handleImportSnapshot(w http.ResponseWriter, r *http.Request) {
	var req ImportRequest

	env, ok := s.readEnvelope(w, r, RouteSnapshot, &req)
	if !ok {
		return
	}

	if env.Sender != s.d.Operator {
		writeFailure(w, errNotOperator)
		return
	}

	var imported int

	_, err := s.rt.Execute(env.Sender, func(ctx *chain.Context) error {
		if err := ctx.UseNonce(env.Nonce); err != nil {
			return err
		}

		var err error
		imported, err = s.d.Ledger().Import(ctx, req.Data)
		return err
	})
	if err != nil {
		writeFailure(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"imported": imported})
}

// auxRecords encodes the request's text and content-hash records as resolver
// calls against the name's node.
func (s *Server) auxRecords(req FinalizeRequest) [][]byte {
	node := types.ChildNode(s.d.Registrar.NamespaceRoot(), req.Name)

	calls := make([][]byte, 0, len(req.Texts)+1)
	for _, t := range req.Texts {
		calls = append(calls, directory.SetTextCall(node, t.Key, t.Value))
	}

	if len(req.ContentHash) > 0 {
		calls = append(calls, directory.SetContentHashCall(node, req.ContentHash))
	}

	return calls
}

// readEnvelope decodes and verifies a signed request, writing the error
// response itself on failure.
func (s *Server) readEnvelope(w http.ResponseWriter, r *http.Request, route string, payload any) (*Envelope, bool) {
	var env Envelope

	if err := readJSON(r, &env); err != nil {
		writeFailure(w, err)
		return nil, false
	}

	if err := env.verify(route, payload); err != nil {
		writeFailure(w, err)
		return nil, false
	}

	return &env, true
}

// readCounter serves a uint64 read keyed by the {address} path value.
func (s *Server) readCounter(w http.ResponseWriter, r *http.Request, read func(*chain.Context, types.Address) (uint64, error)) {
	addr, ok := pathAddress(w, r)
	if !ok {
		return
	}

	var value uint64

	err := s.rt.View(func(ctx *chain.Context) error {
		var err error
		value, err = read(ctx, addr)
		return err
	})
	if err != nil {
		writeFailure(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]uint64{"value": value})
}

// readJSON decodes a size-limited JSON body into v.
func readJSON(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", errBadRequest, err)
	}

	if len(body) == 0 {
		return fmt.Errorf("%w: empty body", errBadRequest)
	}

	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}

	return nil
}

// pathAddress parses the {address} path value, writing a 400 on failure.
func pathAddress(w http.ResponseWriter, r *http.Request) (types.Address, bool) {
	addr, err := types.ParseAddress(r.PathValue("address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid address: %v", err))
		return types.Address{}, false
	}

	return addr, true
}

// queryUint parses an optional unsigned query parameter.
func queryUint(r *http.Request, name string, fallback uint64) (uint64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}

	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", errBadRequest, name, err)
	}

	return v, nil
}
