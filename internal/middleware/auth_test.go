package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/carmarket/api/internal/auth"
)

const testSecret = "middleware-test-secret-0123456789"

func signedToken(t *testing.T, mgr *auth.JWTManager, role string) (string, uuid.UUID) {
	t.Helper()
	id := uuid.New()
	token, err := mgr.Generate(&auth.Admin{ID: id, Email: "dealer@example.com", Role: role})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	return token, id
}

func TestRequireAdmin_Rejects(t *testing.T) {
	mgr := auth.NewJWTManager(testSecret, time.Hour)
	other := auth.NewJWTManager("another-secret-0123456789abcdef", time.Hour)
	foreign, _ := signedToken(t, other, auth.RoleAdmin)

	tests := []struct {
		name    string
		header  string
		wantMsg string
	}{
		{"missing header", "", "missing authorization header"},
		{"basic scheme", "Basic dXNlcjpwYXNz", "invalid authorization format"},
		{"bearer only", "Bearer", "invalid authorization format"},
		{"bearer blank", "Bearer   ", "invalid authorization format"},
		{"garbage token", "Bearer not-a-jwt", "invalid or expired token"},
		{"foreign secret", "Bearer " + foreign, "invalid or expired token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := RequireAdmin(mgr)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Error("handler should not be called")
			}))

			req := httptest.NewRequest(http.MethodPost, "/api/cars", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != http.StatusUnauthorized {
				t.Errorf("status: got %d, want 401", rr.Code)
			}
			var body map[string]string
			json.NewDecoder(rr.Body).Decode(&body)
			if body["error"] != tt.wantMsg {
				t.Errorf("error: got %q, want %q", body["error"], tt.wantMsg)
			}
		})
	}
}

func TestRequireAdmin_SetsPrincipal(t *testing.T) {
	mgr := auth.NewJWTManager(testSecret, time.Hour)
	token, id := signedToken(t, mgr, auth.RoleSuperadmin)

	for _, scheme := range []string{"Bearer", "bearer", "BEARER"} {
		t.Run(scheme, func(t *testing.T) {
			var got auth.Principal
			var ok bool
			handler := RequireAdmin(mgr)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got, ok = auth.PrincipalFromContext(r.Context())
				w.WriteHeader(http.StatusNoContent)
			}))

			req := httptest.NewRequest(http.MethodDelete, "/api/cars/x", nil)
			req.Header.Set("Authorization", scheme+" "+token)
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != http.StatusNoContent {
				t.Fatalf("status: got %d", rr.Code)
			}
			if !ok || got.AdminID != id || !got.IsSuperadmin() {
				t.Errorf("principal: got %+v ok=%v", got, ok)
			}
		})
	}
}

func TestOptionalAdmin(t *testing.T) {
	mgr := auth.NewJWTManager(testSecret, time.Hour)
	token, id := signedToken(t, mgr, auth.RoleAdmin)

	tests := []struct {
		name   string
		header string
		wantOK bool
	}{
		{"anonymous", "", false},
		{"invalid token passes anonymously", "Bearer junk", false},
		{"valid token", "Bearer " + token, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			handler := OptionalAdmin(mgr)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				p, ok := auth.PrincipalFromContext(r.Context())
				if ok != tt.wantOK {
					t.Errorf("principal present: got %v, want %v", ok, tt.wantOK)
				}
				if ok && p.AdminID != id {
					t.Errorf("admin id: got %v", p.AdminID)
				}
			}))

			req := httptest.NewRequest(http.MethodPost, "/api/auth/register", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			handler.ServeHTTP(httptest.NewRecorder(), req)
			if !called {
				t.Error("next handler should always be called")
			}
		})
	}
}
