package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	auth "github.com/mind-engage/certprep/internal/auth/middleware"
	"github.com/mind-engage/certprep/internal/quiz"
	"github.com/mind-engage/certprep/internal/rbac"
)

// loadOwnedSession fetches the {sessionID} session and checks the caller
// owns it. Read-only handlers pass viewAll so session:view-all holders may
// look at any session; writes always require ownership. It writes the error
// response itself.
func loadOwnedSession(w http.ResponseWriter, r *http.Request, svc *quiz.Service, viewAll bool) (quiz.Session, bool) {
	id := chi.URLParam(r, "sessionID")
	sess, err := svc.Session(r.Context(), id)
	if err != nil {
		writeDomainErr(w, err)
		return quiz.Session{}, false
	}
	if sess.UserID != auth.SubjectFromContext(r.Context()) && !(viewAll && rbac.Can(r.Context(), "session:view-all")) {
		// do not reveal other users' sessions
		writeErr(w, http.StatusNotFound, quiz.ErrSessionNotFound.Error())
		return quiz.Session{}, false
	}
	return sess, true
}

// POST /sessions  { "certification_id": "...", "variant": "standard|trial|custom",
// "requested_count": 20, "include_flagged": false }
func CreateSessionHandler(svc *quiz.Service, upgradeURL string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			CertificationID string       `json:"certification_id"`
			Variant         quiz.Variant `json:"variant"`
			quiz.StartParams
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErr(w, http.StatusBadRequest, "bad json")
			return
		}
		if req.CertificationID == "" {
			writeErr(w, http.StatusBadRequest, "certification_id required")
			return
		}
		if req.Variant == "" {
			req.Variant = quiz.VariantStandard
		}
		sess, err := svc.Start(r.Context(), auth.SubjectFromContext(r.Context()), req.CertificationID, req.Variant, req.StartParams)
		if errors.Is(err, quiz.ErrNotAuthorized) {
			writeUpgrade(w, upgradeURL, req.CertificationID)
			return
		}
		if err != nil {
			writeDomainErr(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, sess)
	}
}

// GET /sessions/{sessionID}
func GetSessionHandler(svc *quiz.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := loadOwnedSession(w, r, svc, true)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, sess)
	}
}

// GET /sessions/{sessionID}/current
func CurrentQuestionHandler(svc *quiz.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := loadOwnedSession(w, r, svc, true)
		if !ok {
			return
		}
		pos, err := svc.Current(r.Context(), sess.ID)
		if err != nil {
			writeDomainErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, pos)
	}
}

// POST /sessions/{sessionID}/answers  { "question_id": "...", "selected": "B" | null }
func RecordAnswerHandler(svc *quiz.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := loadOwnedSession(w, r, svc, false)
		if !ok {
			return
		}
		var req struct {
			QuestionID string  `json:"question_id"`
			Selected   *string `json:"selected"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErr(w, http.StatusBadRequest, "bad json")
			return
		}
		if req.QuestionID == "" {
			writeErr(w, http.StatusBadRequest, "question_id required")
			return
		}
		a, err := svc.RecordAnswer(r.Context(), sess.ID, req.QuestionID, req.Selected)
		if err != nil {
			writeDomainErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, a)
	}
}

// POST /sessions/{sessionID}/advance
func AdvanceHandler(svc *quiz.Service) http.HandlerFunc {
	return moveHandler(svc, svc.Advance)
}

// POST /sessions/{sessionID}/previous
func PreviousHandler(svc *quiz.Service) http.HandlerFunc {
	return moveHandler(svc, svc.Previous)
}

func moveHandler(svc *quiz.Service, move func(ctx context.Context, id string) (bool, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := loadOwnedSession(w, r, svc, false)
		if !ok {
			return
		}
		hasNext, err := move(r.Context(), sess.ID)
		if err != nil {
			writeDomainErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"has_next": hasNext})
	}
}

// POST /sessions/{sessionID}/finalize
// A repeated finalize answers 409 with the stored session so clients can
// render the result either way.
func FinalizeHandler(svc *quiz.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := loadOwnedSession(w, r, svc, false)
		if !ok {
			return
		}
		done, err := svc.Finalize(r.Context(), sess.ID)
		if errors.Is(err, quiz.ErrAlreadyFinalized) {
			writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error(), "session": done})
			return
		}
		if err != nil {
			writeDomainErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, done)
	}
}

// GET /sessions/{sessionID}/results
func ResultsHandler(svc *quiz.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := loadOwnedSession(w, r, svc, true)
		if !ok {
			return
		}
		res, err := svc.Results(r.Context(), sess.ID)
		if err != nil {
			writeDomainErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}
