package gateway

import (
	"net/http"
	"time"

	"Provenance/internal/address"
	"Provenance/internal/logger"
	"Provenance/internal/trust"
)

type challengeRequest struct {
	Address string `json:"address"`
}

type loginRequest struct {
	Address   string `json:"address"`
	PublicKey string `json:"publicKey"`
	Signature string `json:"signature"`
	Nonce     string `json:"nonce"`
}

type loginResponse struct {
	Token            string    `json:"token"`
	Address          string    `json:"address"`
	Format           string    `json:"format,omitempty"`
	ReducedAssurance bool      `json:"reducedAssurance"`
	AddressMismatch  bool      `json:"addressMismatch,omitempty"`
	ExpiresAt        time.Time `json:"expiresAt"`
}

// handleChallenge handles POST /auth/challenge requests.
func (g *Gateway) handleChallenge(w http.ResponseWriter, r *http.Request) {
	var req challengeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	addr, err := address.Parse(req.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ch, err := g.svc.Challenges.Issue(addr)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to issue challenge")
		return
	}

	writeJSON(w, http.StatusOK, ch)
}

// handleLogin handles POST /auth/login requests. The nonce is consumed
// before the signature is checked, so every attempt needs a fresh
// challenge whatever its outcome.
func (g *Gateway) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	addr, err := address.Parse(req.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ch, err := g.svc.Challenges.Consume(req.Nonce, addr)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	out, err := g.svc.Policy.Authenticate(trust.Request{
		Address:   req.Address,
		PublicKey: req.PublicKey,
		Signature: req.Signature,
		Challenge: ch.Signable(),
	})
	if err != nil {
		logger.Info("login rejected", "address", addr.Short(), "state", out.State, "error", err)
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	token, tok, err := g.svc.Issuer.Issue(out.Address, out.ReducedAssurance)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to issue session")
		return
	}

	logger.Info("login accepted", "address", out.Address.Short(), "format", out.Format, "reduced", out.ReducedAssurance)

	writeJSON(w, http.StatusOK, loginResponse{
		Token:            token,
		Address:          out.Address.String(),
		Format:           out.Format,
		ReducedAssurance: out.ReducedAssurance,
		AddressMismatch:  out.AddressMismatch,
		ExpiresAt:        time.Unix(tok.ExpiresAt, 0).UTC(),
	})
}
