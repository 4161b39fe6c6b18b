package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/carmarket/api/internal/services/part"
)

// PartHandler serves the spare-part catalog and its admin CRUD.
type PartHandler struct {
	parts  *part.Service
	logger *slog.Logger
}

// NewPartHandler creates a part handler.
func NewPartHandler(parts *part.Service, logger *slog.Logger) *PartHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PartHandler{parts: parts, logger: logger}
}

// RegisterRoutes registers the part routes.
func (h *PartHandler) RegisterRoutes(mux *http.ServeMux, protect func(http.Handler) http.Handler) {
	mux.HandleFunc("GET /api/parts", h.List)
	mux.HandleFunc("GET /api/parts/{id}", h.Get)
	mux.Handle("POST /api/parts", protect(http.HandlerFunc(h.Create)))
	mux.Handle("PUT /api/parts/{id}", protect(http.HandlerFunc(h.Update)))
	mux.Handle("PATCH /api/parts/{id}", protect(http.HandlerFunc(h.Update)))
	mux.Handle("DELETE /api/parts/{id}", protect(http.HandlerFunc(h.Delete)))
}

type partListResponse struct {
	Parts      []part.Part `json:"parts"`
	Pagination pagination  `json:"pagination"`
}

type partResponse struct {
	Message string     `json:"message"`
	Part    *part.Part `json:"part"`
}

// badPartInput are the part service errors caused by the request.
var badPartInput = []error{part.ErrInvalidCondition, part.ErrInvalidYearRange, part.ErrInvalidPrice}

// List handles GET /api/parts
func (h *PartHandler) List(w http.ResponseWriter, r *http.Request) {
	page, limit := parsePagination(r, part.DefaultLimit)
	q := r.URL.Query()

	parts, total, err := h.parts.List(r.Context(), part.Filter{
		Status:    strings.TrimSpace(q.Get("status")),
		Category:  strings.TrimSpace(q.Get("category")),
		Brand:     strings.TrimSpace(q.Get("brand")),
		Model:     strings.TrimSpace(q.Get("model")),
		Condition: strings.TrimSpace(q.Get("condition")),
		Page:      page,
		Limit:     limit,
	})
	if err != nil {
		writeListingError(w, h.logger, err, part.ErrNotFound)
		return
	}
	if parts == nil {
		parts = []part.Part{}
	}

	writeJSON(w, http.StatusOK, partListResponse{Parts: parts, Pagination: newPagination(page, limit, total)})
}

// Get handles GET /api/parts/{id} and counts the view.
func (h *PartHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusNotFound, part.ErrNotFound.Error())
		return
	}

	p, err := h.parts.View(r.Context(), id)
	if err != nil {
		writeListingError(w, h.logger, err, part.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Create handles POST /api/parts
func (h *PartHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := principal(w, r)
	if !ok {
		return
	}

	var in part.Input
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	p, err := h.parts.Create(r.Context(), actor, in)
	if err != nil {
		writeListingError(w, h.logger, err, part.ErrNotFound, badPartInput...)
		return
	}
	writeJSON(w, http.StatusCreated, partResponse{Message: "part created", Part: p})
}

// Update handles PUT and PATCH /api/parts/{id}
func (h *PartHandler) Update(w http.ResponseWriter, r *http.Request) {
	actor, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusNotFound, part.ErrNotFound.Error())
		return
	}

	var in part.Input
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	p, err := h.parts.Update(r.Context(), actor, id, in)
	if err != nil {
		writeListingError(w, h.logger, err, part.ErrNotFound, badPartInput...)
		return
	}
	writeJSON(w, http.StatusOK, partResponse{Message: "part updated", Part: p})
}

// Delete handles DELETE /api/parts/{id}
func (h *PartHandler) Delete(w http.ResponseWriter, r *http.Request) {
	actor, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusNotFound, part.ErrNotFound.Error())
		return
	}

	if err := h.parts.Delete(r.Context(), actor, id); err != nil {
		writeListingError(w, h.logger, err, part.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, messageJSON{Message: "part deleted"})
}
