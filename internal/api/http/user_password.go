package http

import (
	"encoding/json"
	"errors"
	"net/http"

	auth "github.com/mind-engage/certprep/internal/auth/middleware"
)

type changePasswordReq struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

// POST /users/change-password
func ChangePasswordHandler(users *auth.Users) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := auth.SubjectFromContext(r.Context())
		if userID == "" {
			writeErr(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		var req changePasswordReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErr(w, http.StatusBadRequest, "bad request")
			return
		}
		err := users.ChangePassword(r.Context(), userID, req.OldPassword, req.NewPassword)
		switch {
		case errors.Is(err, auth.ErrWeakPassword):
			writeErr(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, auth.ErrUserNotFound):
			writeErr(w, http.StatusNotFound, err.Error())
		case errors.Is(err, auth.ErrInvalidCredentials):
			writeErr(w, http.StatusForbidden, "incorrect old password")
		case err != nil:
			writeDomainErr(w, err)
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	}
}

// GET /me
func MeHandler(users *auth.Users) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, err := users.Get(r.Context(), auth.SubjectFromContext(r.Context()))
		if errors.Is(err, auth.ErrUserNotFound) {
			writeErr(w, http.StatusNotFound, err.Error())
			return
		}
		if err != nil {
			writeDomainErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, u)
	}
}
