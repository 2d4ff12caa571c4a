package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"OrgRegistry/internal/accounts"
	"OrgRegistry/internal/chain"
	"OrgRegistry/internal/directory"
	"OrgRegistry/internal/ledger"
	"OrgRegistry/internal/orchestrator"
	"OrgRegistry/internal/orgs"
	"OrgRegistry/internal/registrar"
	"OrgRegistry/internal/token"
)

var (
	// errNotOperator is returned when an operator-only request has another sender.
	errNotOperator = errors.New("sender is not the operator")

	// errFaucetDisabled is returned when the faucet is off or the grant too large.
	errFaucetDisabled = errors.New("faucet unavailable")

	// errBadRequest is returned for unparsable path or query parameters.
	errBadRequest = errors.New("bad request")
)

// statusClasses maps sentinel errors to HTTP status codes. The first class
// with a matching sentinel wins, so a fee failure wrapping a signature error
// is reported as a payment problem.
var statusClasses = []struct {
	status int
	errs   []error
}{
	{http.StatusNotFound, []error{
		ledger.ErrCommitmentNotFound,
		registrar.ErrCommitmentNotFound,
		orgs.ErrOrgNotFound,
		accounts.ErrAccountNotFound,
	}},
	{http.StatusForbidden, []error{
		orchestrator.ErrOwnerMismatch,
		orgs.ErrNotOwner,
		orgs.ErrNotCustodian,
		ledger.ErrUnauthorized,
		directory.ErrUnauthorized,
		token.ErrNotMinter,
		ErrBadSignature,
		errNotOperator,
		errFaucetDisabled,
	}},
	{http.StatusPaymentRequired, []error{
		ledger.ErrFeeTransferFailed,
		ledger.ErrFeeApprovalFailed,
		registrar.ErrFeeCollection,
		token.ErrInsufficientBalance,
		token.ErrInsufficientAllowance,
	}},
	{http.StatusConflict, []error{
		chain.ErrBadNonce,
		registrar.ErrNameUnavailable,
		registrar.ErrCommitmentTooNew,
		registrar.ErrCommitmentTooOld,
		token.ErrAuthorizationUsed,
		orgs.ErrAlreadyBound,
		orgs.ErrNotBound,
		accounts.ErrAlreadyConfigured,
	}},
	{http.StatusBadRequest, []error{
		ErrMalformedEnvelope,
		errBadRequest,
		orchestrator.ErrEmptyOwnerSet,
		orchestrator.ErrInvalidThreshold,
		orchestrator.ErrZeroAddressOwner,
		orchestrator.ErrZeroAddressRegistrar,
		orgs.ErrZeroOwner,
		registrar.ErrInvalidName,
		accounts.ErrInvalidSetup,
		directory.ErrBadCall,
		directory.ErrUnknownOp,
		token.ErrPermitExpired,
		token.ErrInvalidSignature,
		token.ErrOverflow,
		token.ErrZeroAddress,
		ledger.ErrSnapshotChecksum,
		ledger.ErrSnapshotVersion,
		ledger.ErrSnapshotLedger,
		ledger.ErrSnapshotMalformed,
	}},
}

// statusFor maps an error to an HTTP status code.
func statusFor(err error) int {
	for _, class := range statusClasses {
		for _, target := range class.errs {
			if errors.Is(err, target) {
				return class.status
			}
		}
	}

	return http.StatusInternalServerError
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeFailure writes err with the status it maps to.
func writeFailure(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err.Error())
}
