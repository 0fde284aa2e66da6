package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/mind-engage/certprep/internal/billing"
	"github.com/mind-engage/certprep/internal/quiz"
	"github.com/mind-engage/certprep/internal/storage"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, quiz.ErrNotAuthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, quiz.ErrNotAuthorized):
		return http.StatusPaymentRequired
	case errors.Is(err, quiz.ErrCertificationNotFound),
		errors.Is(err, quiz.ErrSessionNotFound),
		errors.Is(err, quiz.ErrQuestionNotFound),
		errors.Is(err, billing.ErrPaymentNotFound),
		errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, quiz.ErrAlreadyFinalized),
		errors.Is(err, quiz.ErrFinalizeInProgress):
		return http.StatusConflict
	case errors.Is(err, quiz.ErrInsufficientQuestions):
		return http.StatusUnprocessableEntity
	case errors.Is(err, quiz.ErrInvalidInput),
		errors.Is(err, billing.ErrUnknownPlan),
		errors.Is(err, billing.ErrInvalidRequest),
		errors.Is(err, storage.ErrInvalidKey):
		return http.StatusBadRequest
	case errors.Is(err, billing.ErrInvalidSignature):
		return http.StatusUnauthorized
	case errors.Is(err, billing.ErrGateway):
		return http.StatusBadGateway
	case errors.Is(err, quiz.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeDomainErr renders err with its mapped status. Internal errors are not
// echoed to the client.
func writeDomainErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeErr(w, status, msg)
}

// writeUpgrade is the 402 body pointing the client at the plan picker.
func writeUpgrade(w http.ResponseWriter, upgradeURL, certificationID string) {
	u := upgradeURL
	if certificationID != "" {
		sep := "?"
		if strings.Contains(u, "?") {
			sep = "&"
		}
		u += sep + "certification_id=" + url.QueryEscape(certificationID)
	}
	writeJSON(w, http.StatusPaymentRequired, map[string]string{"error": "upgrade_required", "upgrade_url": u})
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
