package http

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/certprep/internal/rbac"
)

type updateUserRoleReq struct {
	Role string `json:"role"`
}

// PUT /admin/users/{userID}/role  { "role": "user|admin" }
func AdminUpdateUserRoleHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		target := chi.URLParam(r, "userID")
		if target == "" {
			writeErr(w, http.StatusBadRequest, "missing userID")
			return
		}

		var req updateUserRoleReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErr(w, http.StatusBadRequest, "bad json")
			return
		}
		role := strings.ToLower(strings.TrimSpace(req.Role))
		if _, ok := rbac.RolePermissions[role]; !ok {
			writeErr(w, http.StatusBadRequest, "invalid role")
			return
		}

		tx, err := db.BeginTx(r.Context(), nil)
		if err != nil {
			writeDomainErr(w, err)
			return
		}
		defer func() { _ = tx.Rollback() }()

		var curRole string
		err = tx.QueryRowContext(r.Context(), `SELECT role FROM users WHERE id=$1`, target).Scan(&curRole)
		if errors.Is(err, sql.ErrNoRows) {
			writeErr(w, http.StatusNotFound, "user not found")
			return
		}
		if err != nil {
			writeDomainErr(w, err)
			return
		}
		// the last admin cannot be demoted
		if curRole == rbac.RoleAdmin && role != rbac.RoleAdmin {
			var adminCount int
			if err := tx.QueryRowContext(r.Context(),
				`SELECT COUNT(1) FROM users WHERE role=$1`, rbac.RoleAdmin).Scan(&adminCount); err != nil {
				writeDomainErr(w, err)
				return
			}
			if adminCount <= 1 {
				writeErr(w, http.StatusBadRequest, "cannot demote the last admin")
				return
			}
		}
		if _, err := tx.ExecContext(r.Context(), `UPDATE users SET role=$1 WHERE id=$2`, role, target); err != nil {
			writeDomainErr(w, err)
			return
		}
		if err := tx.Commit(); err != nil {
			writeDomainErr(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
