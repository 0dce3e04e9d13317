// Package gateway serves the user-facing HTTP surface: wallet login
// and content registration.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"Provenance/internal/address"
	"Provenance/internal/anchor"
	"Provenance/internal/content"
	"Provenance/internal/ledger"
	"Provenance/internal/logger"
	"Provenance/internal/session"
	"Provenance/internal/trust"
	"Provenance/internal/txn"
)

// maxJSONSize bounds auth request bodies.
const maxJSONSize = 16 << 10

// Anchorer anchors content hashes and answers ownership queries.
type Anchorer interface {
	Store(ctx context.Context, contentHash string, owner *address.Address) (*txn.Receipt, error)
	Get(ctx context.Context, id uint64) (ledger.Record, error)
	Verify(ctx context.Context, id uint64, addr address.Address) (bool, error)
	Mock() bool
}

// Services are the collaborators a Gateway routes to.
type Services struct {
	Challenges *session.Challenges
	Issuer     *session.Issuer
	Policy     *trust.Policy
	Content    *content.Store
	Anchor     Anchorer
}

// Gateway is the HTTP server for auth and content flows.
type Gateway struct {
	addr   string
	svc    Services
	server *http.Server
}

// New creates a gateway listening on addr.
func New(addr string, svc Services) *Gateway {
	return &Gateway{addr: addr, svc: svc}
}

// Handler returns the route table.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/challenge", g.handleChallenge)
	mux.HandleFunc("POST /auth/login", g.handleLogin)
	mux.HandleFunc("POST /content", g.handlePutContent)
	mux.HandleFunc("GET /content/{cid}", g.handleGetContent)
	mux.HandleFunc("GET /records/{id}", g.handleRecord)
	mux.HandleFunc("GET /records/{id}/owner/{address}", g.handleVerifyOwner)
	mux.HandleFunc("GET /health", g.handleHealth)

	return mux
}

// Start binds the listen address and serves in a goroutine.
func (g *Gateway) Start() error {
	ln, err := net.Listen("tcp", g.addr)
	if err != nil {
		return fmt.Errorf("listen %s:\n%w", g.addr, err)
	}

	g.server = &http.Server{
		Handler:     g.Handler(),
		ReadTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("gateway started", "addr", ln.Addr().String(), "mock", g.svc.Anchor.Mock())

		if err := g.server.Serve(ln); err != http.ErrServerClosed {
			logger.Error("gateway server error", "error", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the server.
func (g *Gateway) Stop() error {
	if g.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return g.server.Shutdown(ctx)
}

// handleHealth handles GET /health requests.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"mock":   g.svc.Anchor.Mock(),
	})
}

// bearer returns the session token subject, or nil when no token was sent.
func (g *Gateway) bearer(r *http.Request) (*session.Token, error) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return nil, nil
	}

	raw, ok := strings.CutPrefix(h, "Bearer ")
	if !ok {
		return nil, errors.New("authorization must be a bearer token")
	}

	return g.svc.Issuer.Verify(strings.TrimSpace(raw))
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONSize))
	dec.DisallowUnknownFields()

	return dec.Decode(v)
}

// parseID reads the {id} path value.
func parseID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil || id == 0 {
		writeError(w, http.StatusBadRequest, "invalid record id")
		return 0, false
	}

	return id, true
}

// ledgerStatus maps ledger read errors to HTTP statuses.
func ledgerStatus(err error) int {
	switch {
	case errors.Is(err, anchor.ErrNoProgram):
		return http.StatusServiceUnavailable
	case errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrInvalidInput):
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
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
