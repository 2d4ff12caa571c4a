// Package client talks to an orgd node over HTTP: it reads registry state,
// builds commitments and sends signed requests on behalf of a wallet.
package client

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/quic-go/quic-go/http3"

	"OrgRegistry/internal/api"
	"OrgRegistry/internal/orgs"
	"OrgRegistry/internal/types"
)

// Client connects to an orgd node.
type Client struct {
	baseURL string         // baseURL is the node URL without trailing slash (e.g. "http://127.0.0.1:8080")
	http    *http.Client   // http performs the requests
	status  api.StatusView // status is the node status fetched at connect time
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithHTTP3 sends requests over HTTP/3. The node certificate is self-signed,
// so verification is skipped unless tlsConf says otherwise.
func WithHTTP3(tlsConf *tls.Config) Option {
	return func(c *Client) {
		if tlsConf == nil {
			tlsConf = &tls.Config{InsecureSkipVerify: true}
		}

		c.http = &http.Client{
			Transport: &http3.Transport{TLSClientConfig: tlsConf},
			Timeout:   10 * time.Second,
		}
	}
}

// NewClient creates a client for the node at baseURL.
// It fetches the node's component addresses from /status.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}

	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}

	for _, opt := range opts {
		opt(c)
	}

	if err := c.getJSON("/status", &c.status); err != nil {
		return nil, fmt.Errorf("get status:\n%w", err)
	}

	return c, nil
}

// Status returns the node status fetched at connect time.
func (c *Client) Status() api.StatusView {
	return c.status
}

// Refresh re-reads the node status.
func (c *Client) Refresh() (api.StatusView, error) {
	if err := c.getJSON("/status", &c.status); err != nil {
		return api.StatusView{}, fmt.Errorf("get status:\n%w", err)
	}

	return c.status, nil
}

// Commitment returns the owner digest pending under fingerprint.
func (c *Client) Commitment(fingerprint types.Hash) (api.CommitmentView, error) {
	var view api.CommitmentView
	if err := c.getJSON("/commitments/"+fingerprint.Hex(), &view); err != nil {
		return api.CommitmentView{}, fmt.Errorf("get commitment:\n%w", err)
	}

	return view, nil
}

// Org returns the org at addr.
func (c *Client) Org(addr types.Address) (orgs.Org, error) {
	var org orgs.Org
	if err := c.getJSON("/orgs/"+addr.Hex(), &org); err != nil {
		return orgs.Org{}, fmt.Errorf("get org:\n%w", err)
	}

	return org, nil
}

// Name returns the state of a label under the node's namespace.
func (c *Client) Name(label string) (api.NameView, error) {
	var view api.NameView
	if err := c.getJSON("/names/"+label, &view); err != nil {
		return api.NameView{}, fmt.Errorf("get name:\n%w", err)
	}

	return view, nil
}

// Account returns the threshold account at addr.
func (c *Client) Account(addr types.Address) (api.AccountView, error) {
	var view api.AccountView
	if err := c.getJSON("/accounts/"+addr.Hex(), &view); err != nil {
		return api.AccountView{}, fmt.Errorf("get account:\n%w", err)
	}

	return view, nil
}

// Balance returns the fee-token balance of addr.
func (c *Client) Balance(addr types.Address) (uint64, error) {
	return c.counter("/token/balance/" + addr.Hex())
}

// PermitNonce returns the next fee-token permit nonce of addr.
func (c *Client) PermitNonce(addr types.Address) (uint64, error) {
	return c.counter("/token/nonce/" + addr.Hex())
}

// RequestNonce returns the next request nonce of addr.
func (c *Client) RequestNonce(addr types.Address) (uint64, error) {
	return c.counter("/nonces/" + addr.Hex())
}

// Events returns up to limit committed events from sequence from.
func (c *Client) Events(from uint64, limit int) ([]api.EventView, error) {
	var events []api.EventView
	if err := c.getJSON(fmt.Sprintf("/events?from=%d&limit=%d", from, limit), &events); err != nil {
		return nil, fmt.Errorf("get events:\n%w", err)
	}

	return events, nil
}

// Faucet requests development fee tokens for to.
func (c *Client) Faucet(to types.Address, amount uint64) (api.ReceiptView, error) {
	var receipt api.ReceiptView
	if err := c.postJSON("/faucet", api.FaucetRequest{To: to, Amount: amount}, &receipt); err != nil {
		return api.ReceiptView{}, fmt.Errorf("faucet:\n%w", err)
	}

	return receipt, nil
}

// Snapshot downloads the compressed ledger snapshot.
func (c *Client) Snapshot() ([]byte, error) {
	data, err := c.getRaw(api.RouteSnapshot)
	if err != nil {
		return nil, fmt.Errorf("get snapshot:\n%w", err)
	}

	return data, nil
}

// counter reads a {"value": n} endpoint.
func (c *Client) counter(path string) (uint64, error) {
	var resp struct {
		Value uint64 `json:"value"`
	}

	if err := c.getJSON(path, &resp); err != nil {
		return 0, err
	}

	return resp.Value, nil
}

// Wallet holds a keypair and signs requests and permits.
type Wallet struct {
	privKey ed25519.PrivateKey // privKey is the Ed25519 private key
	addr    types.Address      // addr is the wallet identity
}

// NewWallet creates a new wallet with a random Ed25519 keypair.
func NewWallet() *Wallet {
	_, priv, _ := ed25519.GenerateKey(rand.Reader)

	return WalletFromKey(priv)
}

// WalletFromKey wraps an existing private key.
func WalletFromKey(priv ed25519.PrivateKey) *Wallet {
	return &Wallet{
		privKey: priv,
		addr:    types.AddressFromKey(priv.Public().(ed25519.PublicKey)),
	}
}

// Address returns the wallet identity.
func (w *Wallet) Address() types.Address {
	return w.addr
}
