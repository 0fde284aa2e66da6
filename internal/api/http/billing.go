package http

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/certprep/internal/access"
	auth "github.com/mind-engage/certprep/internal/auth/middleware"
	"github.com/mind-engage/certprep/internal/billing"
	"github.com/mind-engage/certprep/internal/logger"
)

const maxWebhookBody = 1 << 20

// GET /billing/plans
func PlansHandler(svc *billing.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Plans())
	}
}

// GET /billing/subscription
func MySubscriptionHandler(svc *billing.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sub, err := svc.Store().GetSubscription(r.Context(), auth.SubjectFromContext(r.Context()))
		if err != nil {
			writeDomainErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"subscription":   sub,
			"effective_tier": sub.Effective(time.Now()),
		})
	}
}

// POST /billing/checkout  { "plan": "standard|all_access", "certification_id": "..." }
func CheckoutHandler(svc *billing.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Plan            billing.PlanID `json:"plan"`
			CertificationID string         `json:"certification_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErr(w, http.StatusBadRequest, "bad json")
			return
		}
		me, _ := auth.CurrentUser(r.Context())
		co, err := svc.Initialize(r.Context(), me.UserID, me.Email, req.Plan, req.CertificationID)
		if err != nil {
			writeDomainErr(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, co)
	}
}

// GET /billing/verify/{reference}
func VerifyPaymentHandler(svc *billing.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ref := chi.URLParam(r, "reference")
		p, err := svc.Store().GetPayment(r.Context(), ref)
		if err != nil {
			writeDomainErr(w, err)
			return
		}
		if p.UserID != auth.SubjectFromContext(r.Context()) {
			writeErr(w, http.StatusNotFound, billing.ErrPaymentNotFound.Error())
			return
		}
		p, err = svc.Verify(r.Context(), ref)
		if err != nil {
			writeDomainErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

// POST /billing/webhook  (unauthenticated; signed by the gateway)
func WebhookHandler(svc *billing.Service, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			writeErr(w, http.StatusBadRequest, "read body")
			return
		}
		if err := svc.HandleWebhook(r.Context(), body, r.Header.Get(billing.SignatureHeader)); err != nil {
			log.Warn("webhook rejected", "error", err)
			writeDomainErr(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// PUT /admin/subscriptions/{userID}  { "tier": "Standard", "certification_id": "...", "expires_at": "RFC3339" }
func GrantSubscriptionHandler(svc *billing.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Tier            string     `json:"tier"`
			CertificationID string     `json:"certification_id"`
			ExpiresAt       *time.Time `json:"expires_at"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErr(w, http.StatusBadRequest, "bad json")
			return
		}
		sub := access.Subscription{
			UserID:          chi.URLParam(r, "userID"),
			Tier:            access.ParseTier(req.Tier),
			CertificationID: strings.TrimSpace(req.CertificationID),
			ExpiresAt:       req.ExpiresAt,
		}
		if sub.Tier == access.TierStandard && sub.CertificationID == "" {
			writeErr(w, http.StatusBadRequest, "standard tier needs certification_id")
			return
		}
		if sub.Tier != access.TierStandard {
			sub.CertificationID = ""
		}
		if err := svc.Store().PutSubscription(r.Context(), sub); err != nil {
			writeDomainErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sub)
	}
}
