package api

import (
	"log/slog"
	"net/http"

	"github.com/carmarket/api/internal/auth"
)

const adminsDefaultLimit = 20

// AdminHandler lists admin accounts.
type AdminHandler struct {
	auth   *auth.Service
	logger *slog.Logger
}

// NewAdminHandler creates an admin handler.
func NewAdminHandler(authSvc *auth.Service, logger *slog.Logger) *AdminHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminHandler{auth: authSvc, logger: logger}
}

// RegisterRoutes registers the admin routes behind protect.
func (h *AdminHandler) RegisterRoutes(mux *http.ServeMux, protect func(http.Handler) http.Handler) {
	mux.Handle("GET /api/admins", protect(http.HandlerFunc(h.List)))
}

type adminListResponse struct {
	Admins     []auth.AdminSummary `json:"admins"`
	Pagination pagination          `json:"pagination"`
}

// List handles GET /api/admins
func (h *AdminHandler) List(w http.ResponseWriter, r *http.Request) {
	page, limit := parsePagination(r, adminsDefaultLimit)

	admins, total, err := h.auth.List(r.Context(), page, limit)
	if err != nil {
		h.logger.Error("failed to list admins", slog.String("error", err.Error()))
		writeInternalError(w)
		return
	}
	writeJSON(w, http.StatusOK, adminListResponse{Admins: admins, Pagination: newPagination(page, limit, total)})
}
