package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/carmarket/api/internal/auth"
)

var (
	errMissingAuthHeader = errors.New("missing authorization header")
	errBadAuthFormat     = errors.New("invalid authorization format")
)

// TokenValidator validates admin bearer tokens.
type TokenValidator interface {
	Validate(token string) (*auth.AdminClaims, error)
}

// RequireAdmin rejects requests without a valid admin bearer token with
// a 401 JSON response. On success the admin principal is stored in the
// request context.
func RequireAdmin(tokens TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := authenticate(tokens, r)
			if err != nil {
				msg := "invalid or expired token"
				if errors.Is(err, errMissingAuthHeader) || errors.Is(err, errBadAuthFormat) {
					msg = err.Error()
				}
				writeJSONError(w, http.StatusUnauthorized, msg)
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
		})
	}
}

// OptionalAdmin stores the principal when a valid bearer token is
// present and passes every request through.
func OptionalAdmin(tokens TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if p, err := authenticate(tokens, r); err == nil {
				r = r.WithContext(auth.WithPrincipal(r.Context(), p))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func authenticate(tokens TokenValidator, r *http.Request) (auth.Principal, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return auth.Principal{}, errMissingAuthHeader
	}

	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
		return auth.Principal{}, errBadAuthFormat
	}

	claims, err := tokens.Validate(strings.TrimSpace(token))
	if err != nil {
		return auth.Principal{}, err
	}
	return claims.Principal(), nil
}

// writeJSONError writes {"error": msg}. The handlers package has its own
// helpers; this one keeps middleware free of that import.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
