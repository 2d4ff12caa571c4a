package api

import (
	"crypto/ed25519"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"OrgRegistry/internal/types"
)

// requestTag separates request digests from every other signed message.
const requestTag = "orgregistry-request"

var (
	// ErrBadSignature is returned when an envelope signature does not verify.
	ErrBadSignature = errors.New("invalid request signature")

	// ErrMalformedEnvelope is returned when an envelope is structurally invalid.
	ErrMalformedEnvelope = errors.New("malformed request envelope")
)

// Envelope is a signed mutation. Sender becomes the caller of the call and
// Nonce must equal the sender's next request nonce.
type Envelope struct {
	Sender    types.Address   `json:"sender"`
	Nonce     uint64          `json:"nonce"`
	Payload   json.RawMessage `json:"payload"`
	Signature []byte          `json:"signature"`
}

// RequestDigest is the message an envelope signature covers.
// Format: H(tag || route || sender || nonce (8, big-endian) || payload).
func RequestDigest(route string, sender types.Address, nonce uint64, payload []byte) types.Hash {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], nonce)

	return types.Sum([]byte(requestTag), []byte(route), sender[:], n[:], payload)
}

// Seal builds a signed envelope for route carrying payload.
func Seal(key ed25519.PrivateKey, route string, nonce uint64, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode payload:\n%w", err)
	}

	sender := types.AddressFromKey(key.Public().(ed25519.PublicKey))
	digest := RequestDigest(route, sender, nonce, data)

	return Envelope{
		Sender:    sender,
		Nonce:     nonce,
		Payload:   data,
		Signature: ed25519.Sign(key, digest[:]),
	}, nil
}

// verify checks the envelope signature for route and decodes the payload into v.
func (e *Envelope) verify(route string, v any) error {
	if e.Sender.IsZero() || len(e.Payload) == 0 {
		return ErrMalformedEnvelope
	}

	if len(e.Signature) != ed25519.SignatureSize {
		return fmt.Errorf("%w: signature size %d", ErrBadSignature, len(e.Signature))
	}

	digest := RequestDigest(route, e.Sender, e.Nonce, e.Payload)
	if !ed25519.Verify(e.Sender.PublicKey(), digest[:], e.Signature) {
		return ErrBadSignature
	}

	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}

	return nil
}
