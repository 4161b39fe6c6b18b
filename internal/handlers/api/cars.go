package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/carmarket/api/internal/services/car"
)

// CarHandler serves the car catalog and its admin CRUD.
type CarHandler struct {
	cars   *car.Service
	logger *slog.Logger
}

// NewCarHandler creates a car handler.
func NewCarHandler(cars *car.Service, logger *slog.Logger) *CarHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CarHandler{cars: cars, logger: logger}
}

// RegisterRoutes registers the car routes. protect wraps the routes that
// need an authenticated admin.
func (h *CarHandler) RegisterRoutes(mux *http.ServeMux, protect func(http.Handler) http.Handler) {
	mux.HandleFunc("GET /api/cars", h.List)
	mux.HandleFunc("GET /api/cars/{id}", h.Get)
	mux.Handle("POST /api/cars", protect(http.HandlerFunc(h.Create)))
	mux.Handle("PUT /api/cars/{id}", protect(http.HandlerFunc(h.Update)))
	mux.Handle("PATCH /api/cars/{id}", protect(http.HandlerFunc(h.Update)))
	mux.Handle("DELETE /api/cars/{id}", protect(http.HandlerFunc(h.Delete)))
}

type carListResponse struct {
	Cars       []car.Car  `json:"cars"`
	Pagination pagination `json:"pagination"`
}

type carResponse struct {
	Message string   `json:"message"`
	Car     *car.Car `json:"car"`
}

// List handles GET /api/cars
func (h *CarHandler) List(w http.ResponseWriter, r *http.Request) {
	page, limit := parsePagination(r, car.DefaultLimit)
	q := r.URL.Query()

	cars, total, err := h.cars.List(r.Context(), car.Filter{
		Status: strings.TrimSpace(q.Get("status")),
		Brand:  strings.TrimSpace(q.Get("brand")),
		Page:   page,
		Limit:  limit,
	})
	if err != nil {
		writeListingError(w, h.logger, err, car.ErrNotFound)
		return
	}
	if cars == nil {
		cars = []car.Car{}
	}

	writeJSON(w, http.StatusOK, carListResponse{Cars: cars, Pagination: newPagination(page, limit, total)})
}

// Get handles GET /api/cars/{id} and counts the view.
func (h *CarHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusNotFound, car.ErrNotFound.Error())
		return
	}

	c, err := h.cars.View(r.Context(), id)
	if err != nil {
		writeListingError(w, h.logger, err, car.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// Create handles POST /api/cars
func (h *CarHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := principal(w, r)
	if !ok {
		return
	}

	var in car.Input
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	c, err := h.cars.Create(r.Context(), actor, in)
	if err != nil {
		if errors.Is(err, car.ErrDuplicateVIN) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeListingError(w, h.logger, err, car.ErrNotFound, car.ErrInvalidPrice)
		return
	}
	writeJSON(w, http.StatusCreated, carResponse{Message: "car created", Car: c})
}

// Update handles PUT and PATCH /api/cars/{id}. Absent fields keep their
// stored value; photos, when present, replace the stored list.
func (h *CarHandler) Update(w http.ResponseWriter, r *http.Request) {
	actor, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusNotFound, car.ErrNotFound.Error())
		return
	}

	var in car.Input
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	c, err := h.cars.Update(r.Context(), actor, id, in)
	if err != nil {
		if errors.Is(err, car.ErrDuplicateVIN) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeListingError(w, h.logger, err, car.ErrNotFound, car.ErrInvalidPrice)
		return
	}
	writeJSON(w, http.StatusOK, carResponse{Message: "car updated", Car: c})
}

// Delete handles DELETE /api/cars/{id}
func (h *CarHandler) Delete(w http.ResponseWriter, r *http.Request) {
	actor, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusNotFound, car.ErrNotFound.Error())
		return
	}

	if err := h.cars.Delete(r.Context(), actor, id); err != nil {
		writeListingError(w, h.logger, err, car.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, messageJSON{Message: "car deleted"})
}
