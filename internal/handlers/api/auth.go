package api

import (
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"

	"github.com/carmarket/api/internal/auth"
)

// Guards are the middlewares the auth routes are wrapped with.
type Guards struct {
	// Admin rejects requests without a valid admin token.
	Admin func(http.Handler) http.Handler
	// Optional attaches the admin when a valid token is present.
	Optional func(http.Handler) http.Handler
	// Throttle is the stricter limiter for credential endpoints.
	Throttle func(http.Handler) http.Handler
}

// AuthHandler serves admin registration, login and 2FA enrolment.
type AuthHandler struct {
	auth   *auth.Service
	logger *slog.Logger
}

// NewAuthHandler creates an auth handler.
func NewAuthHandler(authSvc *auth.Service, logger *slog.Logger) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{auth: authSvc, logger: logger}
}

// RegisterRoutes registers the auth routes.
func (h *AuthHandler) RegisterRoutes(mux *http.ServeMux, g Guards) {
	mux.Handle("POST /api/auth/register", g.Throttle(g.Optional(http.HandlerFunc(h.Register))))
	mux.Handle("POST /api/auth/login", g.Throttle(http.HandlerFunc(h.Login)))
	mux.Handle("GET /api/auth/me", g.Admin(http.HandlerFunc(h.Me)))
	mux.Handle("POST /api/auth/2fa/setup", g.Admin(http.HandlerFunc(h.Setup2FA)))
	mux.Handle("POST /api/auth/2fa/confirm", g.Admin(g.Throttle(http.HandlerFunc(h.Confirm2FA))))
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	TOTPCode string `json:"totpCode"`
}

type adminResponse struct {
	Message string      `json:"message"`
	Admin   *auth.Admin `json:"admin"`
}

type loginResponse struct {
	Message string      `json:"message"`
	Admin   *auth.Admin `json:"admin"`
	Token   string      `json:"token"`
}

type twoFactorErrorJSON struct {
	Error             string `json:"error"`
	TwoFactorRequired bool   `json:"twoFactorRequired"`
}

type setupResponse struct {
	Secret string `json:"secret"`
	URL    string `json:"url"`
	QRCode string `json:"qrCode"`
}

type confirmRequest struct {
	Code string `json:"code"`
}

type confirmResponse struct {
	Message       string   `json:"message"`
	RecoveryCodes []string `json:"recoveryCodes"`
}

// Register handles POST /api/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var caller *auth.Principal
	if p, ok := auth.PrincipalFromContext(r.Context()); ok {
		caller = &p
	}

	admin, err := h.auth.Register(r.Context(), caller, req.Email, req.Password, req.Name)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrMissingFields), errors.Is(err, auth.ErrEmptyPassword):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, auth.ErrEmailTaken):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, auth.ErrRegistrationClosed):
			writeError(w, http.StatusForbidden, err.Error())
		default:
			h.logger.Error("failed to register admin", slog.String("error", err.Error()))
			writeInternalError(w)
		}
		return
	}
	writeJSON(w, http.StatusCreated, adminResponse{Message: "admin created", Admin: admin})
}

// Login handles POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	res, err := h.auth.Login(r.Context(), req.Email, req.Password, req.TOTPCode)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials):
			writeError(w, http.StatusUnauthorized, err.Error())
		case errors.Is(err, auth.ErrTwoFactorRequired), errors.Is(err, auth.ErrInvalidTOTPCode):
			writeJSON(w, http.StatusUnauthorized, twoFactorErrorJSON{Error: err.Error(), TwoFactorRequired: true})
		default:
			h.logger.Error("failed to log in admin", slog.String("error", err.Error()))
			writeInternalError(w)
		}
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Message: "login successful", Admin: res.Admin, Token: res.Token})
}

// Me handles GET /api/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	admin, err := h.auth.GetByID(r.Context(), p.AdminID)
	if err != nil {
		if errors.Is(err, auth.ErrAdminNotFound) {
			writeError(w, http.StatusUnauthorized, "admin no longer exists")
			return
		}
		h.logger.Error("failed to load admin", slog.String("error", err.Error()))
		writeInternalError(w)
		return
	}
	writeJSON(w, http.StatusOK, admin)
}

// Setup2FA handles POST /api/auth/2fa/setup
func (h *AuthHandler) Setup2FA(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	setup, err := h.auth.Setup2FA(r.Context(), p.AdminID)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrTOTPAlreadySetup):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, auth.ErrAdminNotFound):
			writeError(w, http.StatusUnauthorized, "admin no longer exists")
		default:
			h.logger.Error("failed to set up 2fa", slog.String("error", err.Error()))
			writeInternalError(w)
		}
		return
	}

	writeJSON(w, http.StatusOK, setupResponse{
		Secret: setup.Secret,
		URL:    setup.URL,
		QRCode: base64.StdEncoding.EncodeToString(setup.QRCode),
	})
}

// Confirm2FA handles POST /api/auth/2fa/confirm
func (h *AuthHandler) Confirm2FA(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	var req confirmRequest
	if err := decodeJSON(w, r, &req); err != nil || req.Code == "" {
		writeError(w, http.StatusBadRequest, "code is required")
		return
	}

	codes, err := h.auth.Confirm2FA(r.Context(), p.AdminID, req.Code)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidTOTPCode), errors.Is(err, auth.ErrTOTPNotSetup):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, auth.ErrTOTPAlreadySetup):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, auth.ErrAdminNotFound):
			writeError(w, http.StatusUnauthorized, "admin no longer exists")
		default:
			h.logger.Error("failed to confirm 2fa", slog.String("error", err.Error()))
			writeInternalError(w)
		}
		return
	}
	writeJSON(w, http.StatusOK, confirmResponse{Message: "two-factor authentication enabled", RecoveryCodes: codes})
}
