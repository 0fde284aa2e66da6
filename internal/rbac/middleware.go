package rbac

import (
	"context"
	"net/http"
)

var defaultChecker = NewChecker(nil)

// guard lets the request through when allow approves the caller's role.
func guard(allow func(r *http.Request, role string) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !allow(r, RoleFromContext(r.Context())) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte(`{"error":"forbidden"}` + "\n"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Require enforces a single permission.
func Require(perm string) func(http.Handler) http.Handler {
	return guard(func(_ *http.Request, role string) bool {
		return role != "" && defaultChecker.Has(role, perm)
	})
}

// RequireAny passes roles holding at least one of perms.
func RequireAny(perms ...string) func(http.Handler) http.Handler {
	return guard(func(_ *http.Request, role string) bool {
		return role != "" && defaultChecker.Any(role, perms...)
	})
}

// RequireAll passes roles holding every one of perms.
func RequireAll(perms ...string) func(http.Handler) http.Handler {
	return guard(func(_ *http.Request, role string) bool {
		return role != "" && defaultChecker.All(role, perms...)
	})
}

// RequireOwnerOr passes the resource owner, or anyone holding perm.
func RequireOwnerOr(perm string, isOwner func(r *http.Request) bool) func(http.Handler) http.Handler {
	return guard(func(r *http.Request, role string) bool {
		return isOwner(r) || (role != "" && defaultChecker.Has(role, perm))
	})
}

// Can reports whether the role in ctx holds perm. Handlers use it when the
// check needs a loaded resource.
func Can(ctx context.Context, perm string) bool {
	role := RoleFromContext(ctx)
	return role != "" && defaultChecker.Has(role, perm)
}
