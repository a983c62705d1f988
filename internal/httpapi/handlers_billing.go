package httpapi

import (
	"io"
	"net/http"

	"github.com/guildhall-dev/guildhall/internal/apperr"
)

// Webhook bodies are bounded; the gateway never sends more.
const maxWebhookBody = 1 << 20

func (s *Server) handleCurrentSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := s.billing.Current(r.Context(), principal(r).Sub)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (s *Server) handleCreateCheckout(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Tier string `json:"tier"`
	}
	if err := readJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	session, err := s.billing.CreateCheckout(r.Context(), principal(r).Sub, in.Tier)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *Server) handleCancelSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := s.billing.Cancel(r.Context(), principal(r).Sub)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (s *Server) handlePortal(w http.ResponseWriter, r *http.Request) {
	u, err := s.billing.Portal(r.Context(), principal(r).Sub)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": u})
}

func (s *Server) handleCreditBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := s.billing.Balance(r.Context(), principal(r).Sub)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"balance": balance})
}

func (s *Server) handleCreditLedger(w http.ResponseWriter, r *http.Request) {
	entries, next, err := s.billing.Ledger(r.Context(), principal(r).Sub, queryInt(r, "limit", 0), r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "nextCursor": next})
}

func (s *Server) handleTopup(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Amount int64  `json:"amount"`
		Reason string `json:"reason"`
	}
	if err := readJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	if in.Reason == "" {
		in.Reason = "topup"
	}
	if err := s.billing.Topup(r.Context(), principal(r).Sub, in.Amount, in.Reason); err != nil {
		writeError(w, r, err)
		return
	}
	balance, err := s.billing.Balance(r.Context(), principal(r).Sub)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"balance": balance})
}

func (s *Server) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, r, apperr.Validation("body", "unreadable body"))
		return
	}
	if err := s.webhook.Handle(r.Context(), payload, r.Header.Get("Stripe-Signature")); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"received": "true"})
}
