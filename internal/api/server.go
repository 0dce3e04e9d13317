package api

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"Provenance/internal/address"
	"Provenance/internal/chain"
	"Provenance/internal/ledger"
	"Provenance/internal/logger"
	"Provenance/internal/txn"
)

const (
	// maxTxSize is the maximum transaction size in bytes.
	maxTxSize = 1 << 20 // 1 MB

	// maxArgsSize bounds view argument bodies.
	maxArgsSize = 64 << 10

	// defaultWait is used when /wait carries no timeout.
	defaultWait = 10 * time.Second

	// maxWait caps the long-poll duration.
	maxWait = 30 * time.Second
)

// Node is the ledger node the API serves.
type Node interface {
	Submit(data []byte) (txn.Hash, error)
	Receipt(hash txn.Hash) (*txn.Receipt, error)
	Wait(ctx context.Context, hash txn.Hash) (*txn.Receipt, error)
	View(fn string, args []byte) ([]byte, error)
	AccountSequence(addr address.Address) uint64
}

// StatusProvider exposes node state for monitoring.
type StatusProvider interface {
	Program() address.Address
	Version() uint64
	PendingCount() int
}

// EventSource serves the audit stream and state exports.
type EventSource interface {
	Events(from uint64) []ledger.Event
	Snapshot() ([]byte, error)
	Count() uint64
}

// Server is the HTTP API server.
type Server struct {
	addr   string         // addr is the HTTP listen address
	node   Node           // node validates, sequences and commits transactions
	status StatusProvider // status provides node state for monitoring
	events EventSource    // events serves the ledger event log
	server *http.Server   // server is the underlying HTTP server
}

// New creates a new HTTP API server.
func New(addr string, node Node, status StatusProvider, events EventSource) *Server {
	return &Server{
		addr:   addr,
		node:   node,
		status: status,
		events: events,
	}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /tx", s.handleSubmitTx)
	mux.HandleFunc("GET /tx/{hash}", s.handleReceipt)
	mux.HandleFunc("GET /tx/{hash}/wait", s.handleWait)
	mux.HandleFunc("POST /view/{function}", s.handleView)
	mux.HandleFunc("GET /accounts/{address}", s.handleAccount)
	mux.HandleFunc("GET /events", s.handleEvents)
	mux.HandleFunc("GET /snapshot", s.handleSnapshot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)

	return mux
}

// Start binds the listen address and serves in a goroutine.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s:\n%w", s.addr, err)
	}

	s.server = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: maxWait + 5*time.Second,
	}

	go func() {
		logger.Info("http api started", "addr", ln.Addr().String())

		if err := s.server.Serve(ln); err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// handleSubmitTx handles POST /tx requests.
func (s *Server) handleSubmitTx(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxTxSize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	if len(body) == 0 {
		writeError(w, http.StatusBadRequest, "empty transaction")
		return
	}

	hash, err := s.node.Submit(body)
	if err != nil {
		writeError(w, submitStatus(err), fmt.Sprintf("invalid transaction: %v", err))
		return
	}

	logger.Debug("tx submitted", "hash", hash.String()[:18])

	writeJSON(w, http.StatusAccepted, map[string]string{
		"hash": hash.String(),
	})
}

// submitStatus maps a rejection to an HTTP status.
func submitStatus(err error) int {
	switch {
	case errors.Is(err, chain.ErrSequence), errors.Is(err, chain.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, chain.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}

// handleReceipt handles GET /tx/{hash}.
func (s *Server) handleReceipt(w http.ResponseWriter, r *http.Request) {
	hash, ok := parseHash(w, r)
	if !ok {
		return
	}

	receipt, err := s.node.Receipt(hash)
	if err != nil {
		writeReceiptError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, receipt)
}

// handleWait handles GET /tx/{hash}/wait?timeout=<duration>.
func (s *Server) handleWait(w http.ResponseWriter, r *http.Request) {
	hash, ok := parseHash(w, r)
	if !ok {
		return
	}

	timeout := defaultWait
	if raw := r.URL.Query().Get("timeout"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "invalid timeout")
			return
		}
		timeout = min(d, maxWait)
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	receipt, err := s.node.Wait(ctx, hash)
	if err != nil {
		writeReceiptError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, receipt)
}

// writeReceiptError maps lookup and wait failures.
func writeReceiptError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chain.ErrTimeout):
		writeError(w, http.StatusGatewayTimeout, err.Error())
	case errors.Is(err, chain.ErrPending), errors.Is(err, chain.ErrUnknownTx):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// handleView handles POST /view/{function}. The body is the Borsh args.
func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	args, err := io.ReadAll(io.LimitReader(r.Body, maxArgsSize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	result, err := s.node.View(r.PathValue("function"), args)
	if err != nil {
		writeJSON(w, viewStatus(err), map[string]string{
			"error":    err.Error(),
			"vmStatus": ledger.StatusFor(err),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"result": hex.EncodeToString(result),
	})
}

// viewStatus maps a ledger error to an HTTP status.
func viewStatus(err error) int {
	switch {
	case errors.Is(err, ledger.ErrNotFound), errors.Is(err, ledger.ErrUnknownFunction):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrNotAuthorized):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// handleAccount handles GET /accounts/{address}.
func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	addr, err := address.Parse(r.PathValue("address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"address":  addr.String(),
		"sequence": s.node.AccountSequence(addr),
	})
}

// handleEvents handles GET /events?from=N.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeError(w, http.StatusServiceUnavailable, "events not available")
		return
	}

	var from uint64
	if raw := r.URL.Query().Get("from"); raw != "" {
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid from")
			return
		}
		from = n
	}

	writeJSON(w, http.StatusOK, s.events.Events(from))
}

// handleSnapshot handles GET /snapshot.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeError(w, http.StatusServiceUnavailable, "snapshot not available")
		return
	}

	data, err := s.events.Snapshot()
	if err != nil {
		logger.Error("snapshot failed", "error", err)
		writeError(w, http.StatusInternalServerError, "snapshot failed")
		return
	}

	w.Header().Set("Content-Type", "application/zstd")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// handleHealth handles GET /health requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// handleStatus handles GET /status requests.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		writeError(w, http.StatusServiceUnavailable, "status not available")
		return
	}

	resp := map[string]any{
		"program": s.status.Program().String(),
		"version": s.status.Version(),
		"pending": s.status.PendingCount(),
	}

	if s.events != nil {
		resp["records"] = s.events.Count()
	}

	writeJSON(w, http.StatusOK, resp)
}

// parseHash reads the {hash} path value, writing a 400 on failure.
func parseHash(w http.ResponseWriter, r *http.Request) (txn.Hash, bool) {
	hash, err := txn.ParseHash(r.PathValue("hash"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return txn.Hash{}, false
	}

	return hash, true
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}
