package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/certprep/internal/access"
	auth "github.com/mind-engage/certprep/internal/auth/middleware"
	"github.com/mind-engage/certprep/internal/quiz"
)

// GET /certifications
func ListCertificationsHandler(store quiz.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := store.ListCertifications(r.Context())
		if err != nil {
			writeDomainErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

// GET /certifications/{certID}
func GetCertificationHandler(store quiz.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := store.GetCertification(r.Context(), chi.URLParam(r, "certID"))
		if err != nil {
			writeDomainErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}

// GET /certifications/{certID}/access
// The client renders locked/unlocked UI from the capability list.
func AccessHandler(store quiz.Store, gate *access.Gate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		certID := chi.URLParam(r, "certID")
		if _, err := store.GetCertification(r.Context(), certID); err != nil {
			writeDomainErr(w, err)
			return
		}
		grant := gate.Resolve(r.Context(), auth.SubjectFromContext(r.Context()), certID)
		writeJSON(w, http.StatusOK, map[string]any{
			"certification_id": certID,
			"decision":         grant.Decision,
			"tier":             grant.Tier,
			"capabilities":     grant.Capabilities,
		})
	}
}
