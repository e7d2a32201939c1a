package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"paperchat/internal/telemetry"
)

type Role int

const (
	RoleNone Role = iota
	RolePublic
	RoleAdmin
)

func (r Role) String() string {
	switch r {
	case RoleAdmin:
		return "admin"
	case RolePublic:
		return "public"
	}
	return "none"
}

// Tokens holds the two configured bearer credentials.
type Tokens struct {
	Admin  string
	Public string
}

// Classify maps a presented credential to a role. The admin token also
// satisfies public routes.
func (t Tokens) Classify(token string) Role {
	if token == "" {
		return RoleNone
	}
	if t.Admin != "" && subtle.ConstantTimeCompare([]byte(token), []byte(t.Admin)) == 1 {
		return RoleAdmin
	}
	if t.Public != "" && subtle.ConstantTimeCompare([]byte(token), []byte(t.Public)) == 1 {
		return RolePublic
	}
	return RoleNone
}

// Require rejects requests whose credential ranks below least. The token
// comes from the Authorization header or, for links such as PDF downloads,
// the token query parameter.
func (t Tokens) Require(least Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized", "PC-AUTH-4010", "Missing bearer token.")
				return
			}
			role := t.Classify(token)
			if role < least {
				status, code := http.StatusUnauthorized, "PC-AUTH-4011"
				msg := "Invalid token."
				if role != RoleNone {
					status, code, msg = http.StatusForbidden, "PC-AUTH-4030", "This operation requires the admin token."
				}
				telemetry.AddSpanEvent(r.Context(), "auth.denied")
				writeError(w, status, "unauthorized", code, msg)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func BearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if rest, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(rest)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

func writeError(w http.ResponseWriter, status int, kind, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"kind": kind, "code": code, "message": msg},
	})
}
