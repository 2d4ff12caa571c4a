// Package api exposes the registry over HTTP: read endpoints for commitments,
// names, orgs, accounts and events, and signed mutations that run as one
// call each on the node's runtime.
package api

import (
	"context"
	"crypto/ed25519"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/quic-go/quic-go/http3"

	"OrgRegistry/internal/chain"
	"OrgRegistry/internal/genesis"
	"OrgRegistry/internal/logger"
)

const (
	// maxBodySize is the maximum request body size in bytes.
	maxBodySize = 1 << 20 // 1 MB

	// defaultEventLimit is the page size of GET /events without a limit.
	defaultEventLimit = 100

	// maxEventLimit caps the page size of GET /events.
	maxEventLimit = 1000
)

// Config holds the server settings.
type Config struct {
	Addr      string // Addr is the HTTP listen address
	HTTP3Addr string // HTTP3Addr is the UDP listen address of the HTTP/3 listener (empty to disable)
	Faucet    uint64 // Faucet is the largest faucet grant (0 disables POST /faucet)
}

// Server is the HTTP API server.
type Server struct {
	cfg     Config              // cfg holds the listen addresses and faucet limit
	rt      *chain.Runtime      // rt executes calls
	d       *genesis.Deployment // d is the deployed component set
	nodeKey ed25519.PrivateKey  // nodeKey signs the HTTP/3 certificate
	server  *http.Server        // server is the underlying HTTP server
	h3      *http3.Server       // h3 is the optional HTTP/3 server
}

// New creates a new HTTP API server.
func New(cfg Config, rt *chain.Runtime, d *genesis.Deployment, nodeKey ed25519.PrivateKey) *Server {
	return &Server{
		cfg:     cfg,
		rt:      rt,
		d:       d,
		nodeKey: nodeKey,
	}
}

// Handler returns the request router.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /commitments/{fingerprint}", s.handleGetCommitment)
	mux.HandleFunc("POST "+RouteCommit, s.handleCommit)

	mux.HandleFunc("POST "+RouteFinalize, s.handleFinalize)
	mux.HandleFunc("GET /orgs/{address}", s.handleGetOrg)
	mux.HandleFunc("POST "+RouteTransferOrg, s.handleTransferOrg)

	mux.HandleFunc("POST "+RouteReclaim, s.handleReclaim)
	mux.HandleFunc("GET /names/{name}", s.handleGetName)

	mux.HandleFunc("GET /accounts/{address}", s.handleGetAccount)
	mux.HandleFunc("GET /nonces/{address}", s.handleGetNonce)
	mux.HandleFunc("GET /events", s.handleEvents)

	mux.HandleFunc("GET /token/balance/{address}", s.handleBalance)
	mux.HandleFunc("GET /token/nonce/{address}", s.handlePermitNonce)
	mux.HandleFunc("POST "+RouteApprove, s.handleApprove)
	mux.HandleFunc("POST "+RouteTransfer, s.handleTransfer)
	mux.HandleFunc("POST /faucet", s.handleFaucet)

	mux.HandleFunc("GET "+RouteSnapshot, s.handleExportSnapshot)
	mux.HandleFunc("POST "+RouteSnapshot, s.handleImportSnapshot)

	return s.logRequests(mux)
}

// Start starts the HTTP server, and the HTTP/3 server if configured, in goroutines.
func (s *Server) Start() error {
	handler := s.Handler()

	if s.cfg.HTTP3Addr != "" {
		h3, err := newHTTP3Server(s.cfg.HTTP3Addr, handler, s.nodeKey)
		if err != nil {
			return err
		}

		s.h3 = h3
		handler = advertiseHTTP3(h3, handler)

		go func() {
			logger.Info("http3 api started", "addr", s.cfg.HTTP3Addr)

			if err := h3.ListenAndServe(); !isServerClosed(err) {
				logger.Error("http3 server error", "error", err)
			}
		}()
	}

	s.server = &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("http api started", "addr", s.cfg.Addr)

		if err := s.server.ListenAndServe(); !isServerClosed(err) {
			logger.Error("http server error", "error", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the servers.
func (s *Server) Stop() error {
	var errs []error

	if s.h3 != nil {
		errs = append(errs, s.h3.Close())
	}

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		errs = append(errs, s.server.Shutdown(ctx))
	}

	return errors.Join(errs...)
}

// statusRecorder captures the response status for logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// logRequests logs every request at debug level.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			logger.Timed(start),
		)
	})
}
