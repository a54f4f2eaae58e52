package auth

import (
	"net/http"
	"strings"

	"github.com/example/dojo-academy/internal/platform/api"
)

type Role string

const (
	RoleStudent    Role = "student"
	RoleInstructor Role = "instructor"
	RoleAdmin      Role = "admin"
)

// ParseRole normalises a token role. "user" is the token scope name for
// students.
func ParseRole(s string) (Role, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "student", "user":
		return RoleStudent, true
	case "instructor":
		return RoleInstructor, true
	case "admin":
		return RoleAdmin, true
	}
	return "", false
}

// RequireRole allows the request only if RequireUser already injected one of
// the given roles into context.
func RequireRole(roles ...Role) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role, ok := RoleFromContext(r.Context())
			if ok {
				for _, want := range roles {
					if role == want {
						next.ServeHTTP(w, r)
						return
					}
				}
			}
			api.Forbidden(w, "FORBIDDEN", "role not allowed for this action", "")
		})
	}
}
