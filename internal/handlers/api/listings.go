package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/carmarket/api/internal/auth"
	"github.com/carmarket/api/internal/services/listing"
)

// validationJSON is the 400 body for missing required fields.
type validationJSON struct {
	Error  string   `json:"error"`
	Fields []string `json:"fields"`
}

// writeListingError maps a car or part service error to a response.
// badRequest lists the service's own input errors.
func writeListingError(w http.ResponseWriter, logger *slog.Logger, err error, notFound error, badRequest ...error) {
	var verr *listing.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, validationJSON{Error: verr.Error(), Fields: verr.Missing})
		return
	case errors.Is(err, notFound):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, listing.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
		return
	case errors.Is(err, listing.ErrInvalidStatus):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	for _, target := range badRequest {
		if errors.Is(err, target) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	logger.Error("listing operation failed", slog.String("error", err.Error()))
	writeInternalError(w)
}

// principal returns the authenticated admin. Routes using it sit behind
// RequireAdmin, so a missing principal answers 401.
func principal(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
	}
	return p, ok
}
