package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	auth "github.com/mind-engage/certprep/internal/auth/middleware"
	"github.com/mind-engage/certprep/internal/stats"
)

// statsUser is {userID} when routed under /users/{userID} (owner or admin,
// enforced by the router), else the caller.
func statsUser(r *http.Request) string {
	if id := chi.URLParam(r, "userID"); id != "" {
		return id
	}
	return auth.SubjectFromContext(r.Context())
}

// GET /stats  and  GET /users/{userID}/stats
func StatsOverviewHandler(s *stats.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ov, err := s.Overview(r.Context(), statsUser(r))
		if err != nil {
			writeDomainErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ov)
	}
}

// GET /stats/{certID}/sub-topics  and  GET /users/{userID}/stats/{certID}/sub-topics
func StatsSubTopicsHandler(s *stats.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := s.SubTopics(r.Context(), statsUser(r), chi.URLParam(r, "certID"))
		if err != nil {
			writeDomainErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

// IsSelf is the RequireOwnerOr predicate for /users/{userID} routes.
func IsSelf(r *http.Request) bool {
	sub := auth.SubjectFromContext(r.Context())
	return sub != "" && sub == chi.URLParam(r, "userID")
}
