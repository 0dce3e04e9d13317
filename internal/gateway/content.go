package gateway

import (
	"errors"
	"io"
	"net/http"

	"github.com/ipfs/go-cid"

	"Provenance/internal/address"
	"Provenance/internal/anchor"
	"Provenance/internal/content"
	"Provenance/internal/ledger"
	"Provenance/internal/logger"
	"Provenance/internal/txn"
)

type storeResponse struct {
	CID      string       `json:"cid"`
	Locator  string       `json:"locator"`
	Meta     content.Meta `json:"meta"`
	Receipt  *txn.Receipt `json:"receipt,omitempty"`
	Degraded bool         `json:"degraded"`
	Error    string       `json:"error,omitempty"`
	TxHash   string       `json:"txHash,omitempty"`
}

// handlePutContent handles POST /content requests. The body is stored
// whole under its CID and the CID is anchored. An authenticated caller
// becomes the record owner; otherwise the service account owns it.
// Reduced-assurance sessions never bind ownership: the caller's key
// was not proven, so the service account owns the record.
func (g *Gateway) handlePutContent(w http.ResponseWriter, r *http.Request) {
	tok, err := g.bearer(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	var owner *address.Address
	if tok != nil {
		addr, err := address.Parse(tok.Subject)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token subject")
			return
		}

		if tok.ReducedAssurance {
			logger.Warn("reduced-assurance session, anchoring under service account", "subject", addr.Short())
		} else {
			owner = &addr
		}
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, content.DefaultMaxSize+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	ref, err := g.svc.Content.Put(body, r.Header.Get("X-Filename"))
	if err != nil {
		writeError(w, putStatus(err), err.Error())
		return
	}

	resp := storeResponse{
		CID:     ref.CID.String(),
		Locator: ref.Locator,
		Meta:    ref.Meta,
	}

	receipt, err := g.svc.Anchor.Store(r.Context(), resp.CID, owner)
	if err != nil {
		resp.Error = err.Error()

		var aerr *anchor.Error
		if errors.As(err, &aerr) {
			resp.TxHash = aerr.TxHash
		}

		status := http.StatusBadGateway
		if errors.Is(err, ledger.ErrInvalidInput) && !errors.Is(err, anchor.ErrAnchorFailed) {
			status = http.StatusBadRequest
		}

		logger.Warn("content stored but not anchored", "cid", resp.CID, "error", err)
		writeJSON(w, status, resp)
		return
	}

	resp.Receipt = receipt
	resp.Degraded = receipt.Degraded()

	writeJSON(w, http.StatusCreated, resp)
}

// putStatus maps content store errors to HTTP statuses.
func putStatus(err error) int {
	switch {
	case errors.Is(err, content.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, content.ErrEmpty):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// handleGetContent handles GET /content/{cid} requests.
func (g *Gateway) handleGetContent(w http.ResponseWriter, r *http.Request) {
	id, err := cid.Decode(r.PathValue("cid"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid cid")
		return
	}

	data, err := g.svc.Content.Get(id)
	if errors.Is(err, content.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if meta, err := g.svc.Content.Meta(id); err == nil && meta.Filename != "" {
		w.Header().Set("X-Filename", meta.Filename)
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// handleRecord handles GET /records/{id} requests.
func (g *Gateway) handleRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	rec, err := g.svc.Anchor.Get(r.Context(), id)
	if err != nil {
		writeError(w, ledgerStatus(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":          rec.ID,
		"contentHash": rec.ContentHash,
		"owner":       rec.Owner.String(),
		"createdAt":   rec.CreatedAt,
		"exists":      rec.Exists,
	})
}

// handleVerifyOwner handles GET /records/{id}/owner/{address} requests.
func (g *Gateway) handleVerifyOwner(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	addr, err := address.Parse(r.PathValue("address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	owned, err := g.svc.Anchor.Verify(r.Context(), id, addr)
	if err != nil {
		writeError(w, ledgerStatus(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":      id,
		"address": addr.String(),
		"owner":   owned,
	})
}
