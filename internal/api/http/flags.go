package http

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	auth "github.com/mind-engage/certprep/internal/auth/middleware"
	"github.com/mind-engage/certprep/internal/quiz"
)

// POST /questions/{questionID}/flag  { "session_id": "..." }
func ToggleFlagHandler(svc *quiz.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			SessionID string `json:"session_id"`
		}
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeErr(w, http.StatusBadRequest, "bad json")
				return
			}
		}
		flagged, err := svc.ToggleFlag(r.Context(), auth.SubjectFromContext(r.Context()), chi.URLParam(r, "questionID"), req.SessionID)
		if err != nil {
			writeDomainErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"flagged": flagged})
	}
}

// GET /flags?certification_id=...
func ListFlagsHandler(store quiz.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flags, err := store.ListFlags(r.Context(), auth.SubjectFromContext(r.Context()),
			strings.TrimSpace(r.URL.Query().Get("certification_id")))
		if err != nil {
			writeDomainErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, flags)
	}
}
