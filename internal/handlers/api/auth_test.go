package api_test

import (
	"bytes"
	"encoding/base64"
	"image/png"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"

	"github.com/carmarket/api/internal/auth"
	"github.com/carmarket/api/internal/testutil"
)

type adminJSON struct {
	ID               uuid.UUID `json:"id"`
	Email            string    `json:"email"`
	Role             string    `json:"role"`
	TwoFactorEnabled bool      `json:"twoFactorEnabled"`
	PasswordHash     string    `json:"passwordHash"`
}

func TestRegister_FirstAdminBootstrap(t *testing.T) {
	e := newEnv(t)
	testDB.Truncate(t)

	first := map[string]any{"email": " Owner@Example.com ", "password": "s3cret-pass", "name": "Owner"}
	rr := e.do(t, http.MethodPost, "/api/auth/register", "", first)
	if rr.Code != http.StatusCreated {
		t.Fatalf("first register: got %d (%s)", rr.Code, rr.Body)
	}
	resp := decode[struct {
		Admin adminJSON `json:"admin"`
	}](t, rr)
	if resp.Admin.Role != auth.RoleSuperadmin || resp.Admin.Email != "owner@example.com" {
		t.Errorf("first admin: %+v", resp.Admin)
	}
	if resp.Admin.PasswordHash != "" {
		t.Error("password hash must not be serialised")
	}

	second := map[string]any{"email": "second@example.com", "password": "pw", "name": "Second"}
	if rr := e.do(t, http.MethodPost, "/api/auth/register", "", second); rr.Code != http.StatusForbidden {
		t.Errorf("anonymous register after bootstrap: got %d", rr.Code)
	}

	root := testutil.Admin{ID: resp.Admin.ID, Email: resp.Admin.Email, Role: resp.Admin.Role}
	rr = e.do(t, http.MethodPost, "/api/auth/register", tokenFor(t, root), second)
	if rr.Code != http.StatusCreated {
		t.Fatalf("register by superadmin: got %d (%s)", rr.Code, rr.Body)
	}
	if a := decode[struct {
		Admin adminJSON `json:"admin"`
	}](t, rr).Admin; a.Role != auth.RoleAdmin {
		t.Errorf("second admin role: %q", a.Role)
	}

	if rr := e.do(t, http.MethodPost, "/api/auth/register", tokenFor(t, root), second); rr.Code != http.StatusConflict {
		t.Errorf("duplicate email: got %d", rr.Code)
	}
}

func TestRegister_Rejections(t *testing.T) {
	e := newEnv(t)
	testDB.Truncate(t)
	plain := tokenFor(t, testDB.FixtureAdmin(t, "plain@example.com", auth.RoleAdmin))

	tests := []struct {
		name  string
		body  any
		token string
		want  int
	}{
		{"missing name", map[string]any{"email": "a@example.com", "password": "pw"}, "", http.StatusBadRequest},
		{"missing password", map[string]any{"email": "a@example.com", "name": "A"}, "", http.StatusBadRequest},
		{"empty body", nil, "", http.StatusBadRequest},
		{"plain admin caller", map[string]any{"email": "a@example.com", "password": "pw", "name": "A"}, plain, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rr := e.do(t, http.MethodPost, "/api/auth/register", tt.token, tt.body); rr.Code != tt.want {
				t.Errorf("got %d, want %d (%s)", rr.Code, tt.want, rr.Body)
			}
		})
	}
}

func TestLogin(t *testing.T) {
	e := newEnv(t)
	testDB.Truncate(t)
	testDB.FixtureAdmin(t, "dealer@example.com", auth.RoleAdmin)

	rr := e.do(t, http.MethodPost, "/api/auth/login", "", map[string]any{
		"email":    "DEALER@example.com",
		"password": testutil.FixturePassword,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("login: got %d (%s)", rr.Code, rr.Body)
	}
	resp := decode[struct {
		Admin adminJSON `json:"admin"`
		Token string    `json:"token"`
	}](t, rr)
	if resp.Token == "" || resp.Admin.Email != "dealer@example.com" {
		t.Fatalf("login response: %+v", resp)
	}

	rr = e.do(t, http.MethodGet, "/api/auth/me", resp.Token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("me: got %d", rr.Code)
	}
	if me := decode[adminJSON](t, rr); me.ID != resp.Admin.ID {
		t.Errorf("me: %+v", me)
	}

	tests := []struct {
		name string
		body any
		want int
	}{
		{"wrong password", map[string]any{"email": "dealer@example.com", "password": "nope"}, http.StatusUnauthorized},
		{"unknown email", map[string]any{"email": "ghost@example.com", "password": "nope"}, http.StatusUnauthorized},
		{"missing password", map[string]any{"email": "dealer@example.com"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rr := e.do(t, http.MethodPost, "/api/auth/login", "", tt.body); rr.Code != tt.want {
				t.Errorf("got %d, want %d", rr.Code, tt.want)
			}
		})
	}
}

func TestMe_Unauthenticated(t *testing.T) {
	e := newEnv(t)
	for _, token := range []string{"", "not-a-jwt"} {
		if rr := e.do(t, http.MethodGet, "/api/auth/me", token, nil); rr.Code != http.StatusUnauthorized {
			t.Errorf("token %q: got %d", token, rr.Code)
		}
	}
}

func TestTwoFactorFlow(t *testing.T) {
	e := newEnv(t)
	testDB.Truncate(t)
	admin := testDB.FixtureAdmin(t, "secure@example.com", auth.RoleAdmin)
	token := tokenFor(t, admin)

	rr := e.do(t, http.MethodPost, "/api/auth/2fa/setup", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("setup: got %d (%s)", rr.Code, rr.Body)
	}
	setup := decode[struct {
		Secret string `json:"secret"`
		URL    string `json:"url"`
		QRCode string `json:"qrCode"`
	}](t, rr)
	qr, err := base64.StdEncoding.DecodeString(setup.QRCode)
	if err != nil {
		t.Fatalf("qrCode is not base64: %v", err)
	}
	if _, err := png.Decode(bytes.NewReader(qr)); err != nil {
		t.Errorf("qrCode is not a PNG: %v", err)
	}

	if rr := e.do(t, http.MethodPost, "/api/auth/2fa/confirm", token, map[string]any{"code": "000000"}); rr.Code != http.StatusBadRequest {
		t.Errorf("wrong confirm code: got %d", rr.Code)
	}

	code, _ := totp.GenerateCode(setup.Secret, time.Now())
	rr = e.do(t, http.MethodPost, "/api/auth/2fa/confirm", token, map[string]any{"code": code})
	if rr.Code != http.StatusOK {
		t.Fatalf("confirm: got %d (%s)", rr.Code, rr.Body)
	}
	confirmed := decode[struct {
		RecoveryCodes []string `json:"recoveryCodes"`
	}](t, rr)
	if len(confirmed.RecoveryCodes) == 0 {
		t.Fatal("expected recovery codes")
	}

	if rr := e.do(t, http.MethodPost, "/api/auth/2fa/setup", token, nil); rr.Code != http.StatusConflict {
		t.Errorf("setup after enable: got %d", rr.Code)
	}

	creds := map[string]any{"email": admin.Email, "password": testutil.FixturePassword}
	rr = e.do(t, http.MethodPost, "/api/auth/login", "", creds)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("login without code: got %d", rr.Code)
	}
	if !decode[struct {
		TwoFactorRequired bool `json:"twoFactorRequired"`
	}](t, rr).TwoFactorRequired {
		t.Error("expected twoFactorRequired")
	}

	creds["totpCode"] = confirmed.RecoveryCodes[0]
	if rr := e.do(t, http.MethodPost, "/api/auth/login", "", creds); rr.Code != http.StatusOK {
		t.Errorf("login with recovery code: got %d", rr.Code)
	}
	if rr := e.do(t, http.MethodPost, "/api/auth/login", "", creds); rr.Code != http.StatusUnauthorized {
		t.Errorf("recovery code reuse: got %d", rr.Code)
	}
}

func TestListAdmins(t *testing.T) {
	e := newEnv(t)
	testDB.Truncate(t)
	owner := testDB.FixtureAdmin(t, "owner@example.com", auth.RoleSuperadmin)
	testDB.FixtureAdmin(t, "dealer@example.com", auth.RoleAdmin)
	testDB.FixtureCar(t, owner.ID, "BMW", "VIN0000000000001", nil)
	testDB.FixturePart(t, owner.ID, "Brake pad", "brakes", nil)

	if rr := e.do(t, http.MethodGet, "/api/admins", "", nil); rr.Code != http.StatusUnauthorized {
		t.Errorf("anonymous: got %d", rr.Code)
	}

	rr := e.do(t, http.MethodGet, "/api/admins?limit=5", tokenFor(t, owner), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("list: got %d", rr.Code)
	}
	resp := decode[struct {
		Admins []struct {
			Email     string `json:"email"`
			CarCount  int    `json:"carCount"`
			PartCount int    `json:"partCount"`
		} `json:"admins"`
		Pagination struct {
			Limit, Total int
		} `json:"pagination"`
	}](t, rr)
	if len(resp.Admins) != 2 || resp.Pagination.Total != 2 || resp.Pagination.Limit != 5 {
		t.Fatalf("list: %+v", resp)
	}
	for _, a := range resp.Admins {
		if a.Email == owner.Email && (a.CarCount != 1 || a.PartCount != 1) {
			t.Errorf("owner counts: %+v", a)
		}
	}
}
