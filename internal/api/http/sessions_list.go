package http

import (
	"net/http"
	"strings"

	auth "github.com/mind-engage/certprep/internal/auth/middleware"
	"github.com/mind-engage/certprep/internal/quiz"
	"github.com/mind-engage/certprep/internal/rbac"
)

// GET /sessions?certification_id=...&user_id=...&status=in_progress|completed&limit=50&offset=0
// Callers without session:view-all only ever see their own sessions.
func ListSessionsHandler(svc *quiz.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		userID := strings.TrimSpace(q.Get("user_id"))
		if userID == "" || !rbac.Can(r.Context(), "session:view-all") {
			userID = auth.SubjectFromContext(r.Context())
		}
		status := strings.TrimSpace(q.Get("status"))
		if status != "" && status != "in_progress" && status != "completed" {
			writeErr(w, http.StatusBadRequest, "status must be in_progress or completed")
			return
		}

		list, err := svc.ListSessions(r.Context(), quiz.SessionListOpts{
			UserID:          userID,
			CertificationID: strings.TrimSpace(q.Get("certification_id")),
			Status:          status,
			Limit:           parseIntDefault(q.Get("limit"), 50),
			Offset:          parseIntDefault(q.Get("offset"), 0),
		})
		if err != nil {
			writeDomainErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}
