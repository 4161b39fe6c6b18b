package api

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/carmarket/api/internal/services/images"
)

const (
	// uploadField is the multipart field carrying the files.
	uploadField = "images"

	// multipartMemory is the part of a multipart body kept in memory;
	// the rest is spooled to temporary files.
	multipartMemory = 32 << 20

	// maxUploadFiles bounds the number of files, and with it the body
	// size, of one upload request.
	maxUploadFiles = 20
)

// ImageHandler serves listing photo upload, retrieval and removal.
type ImageHandler struct {
	images  *images.Service
	maxBody int64
	logger  *slog.Logger
}

// NewImageHandler creates an image handler. maxFileBytes is the per-file
// size limit the service enforces; it also bounds the request body.
func NewImageHandler(svc *images.Service, maxFileBytes int64, logger *slog.Logger) *ImageHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if maxFileBytes <= 0 {
		maxFileBytes = 15 << 20
	}
	return &ImageHandler{
		images:  svc,
		maxBody: maxFileBytes*maxUploadFiles + 1<<20,
		logger:  logger,
	}
}

// RegisterRoutes registers the image routes. Fetching and signing are
// public; every mutation goes through protect.
func (h *ImageHandler) RegisterRoutes(mux *http.ServeMux, protect func(http.Handler) http.Handler) {
	mux.HandleFunc("GET /api/images/get", h.Get)
	mux.HandleFunc("POST /api/images/signed-url", h.SignedURL)
	mux.Handle("POST /api/images/upload", protect(http.HandlerFunc(h.Upload)))
	mux.Handle("DELETE /api/images/delete", protect(http.HandlerFunc(h.Delete)))
	mux.Handle("POST /api/images/delete", protect(http.HandlerFunc(h.BulkDelete)))
	mux.Handle("POST /api/images/commit", protect(http.HandlerFunc(h.Commit)))
	mux.Handle("POST /api/images/cleanup", protect(http.HandlerFunc(h.Cleanup)))
}

// imageErrorJSON is the error body of the image routes.
type imageErrorJSON struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

type uploadResponse struct {
	Success bool `json:"success"`
	*images.UploadResult
}

type signedURLRequest struct {
	ImageURL string `json:"imageUrl"`
	ImageKey string `json:"imageKey"`
}

type signedURLResponse struct {
	Success bool `json:"success"`
	images.SignedURL
}

type deleteRequest struct {
	ImageURL string `json:"imageUrl"`
	ImageKey string `json:"imageKey"`
}

type deleteResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Key     string `json:"key"`
}

type bulkDeleteRequest struct {
	ImageURLs []string `json:"imageUrls"`
	ImageKeys []string `json:"imageKeys"`
}

type bulkDeleteResponse struct {
	Success bool     `json:"success"`
	Deleted int      `json:"deleted"`
	Failed  int      `json:"failed"`
	Total   int      `json:"total"`
	Errors  []string `json:"errors"`
}

type commitRequest struct {
	CarID  string   `json:"carId"`
	Images []string `json:"images"`
}

type commitResponse struct {
	Success bool     `json:"success"`
	Images  []string `json:"images"`
}

type cleanupRequest struct {
	BatchID string `json:"batchId"`
}

type cleanupResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Deleted int    `json:"deleted"`
}

func writeImageError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, imageErrorJSON{Success: false, Error: msg})
}

// imageErrorStatus maps an images service error to a status code and a
// client-facing message. Storage failures get a generic message.
func imageErrorStatus(err error, generic string) (int, string) {
	switch {
	case errors.Is(err, images.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge, err.Error()
	case errors.Is(err, images.ErrUnsupportedType), errors.Is(err, images.ErrInvalidMagicBytes):
		return http.StatusUnsupportedMediaType, err.Error()
	case errors.Is(err, images.ErrNoFiles), errors.Is(err, images.ErrInvalidID), errors.Is(err, images.ErrMissingKey):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, images.ErrNotFound):
		return http.StatusNotFound, images.ErrNotFound.Error()
	default:
		return http.StatusInternalServerError, generic
	}
}

func (h *ImageHandler) fail(w http.ResponseWriter, err error, generic string) {
	status, msg := imageErrorStatus(err, generic)
	if status == http.StatusInternalServerError {
		h.logger.Error(generic, slog.String("error", err.Error()))
	}
	writeImageError(w, status, msg)
}

// Upload handles POST /api/images/upload
func (h *ImageHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeImageError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeImageError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File[uploadField]
	if len(headers) > maxUploadFiles {
		writeImageError(w, http.StatusBadRequest, fmt.Sprintf("at most %d files per upload", maxUploadFiles))
		return
	}

	res, err := h.images.Upload(r.Context(),
		strings.TrimSpace(r.FormValue("carId")),
		strings.TrimSpace(r.FormValue("batchId")),
		images.FromMultipart(headers),
	)
	if err != nil {
		h.fail(w, err, "failed to upload images")
		return
	}
	writeJSON(w, http.StatusOK, uploadResponse{Success: true, UploadResult: res})
}

// Get handles GET /api/images/get?key=
func (h *ImageHandler) Get(w http.ResponseWriter, r *http.Request) {
	rc, obj, err := h.images.Open(r.Context(), r.URL.Query().Get("key"))
	if err != nil {
		h.fail(w, err, "failed to fetch image")
		return
	}
	defer rc.Close()

	contentType := obj.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	if obj.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	}
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Warn("image stream interrupted",
			slog.String("key", obj.Key),
			slog.String("error", err.Error()),
		)
	}
}

// SignedURL handles POST /api/images/signed-url
func (h *ImageHandler) SignedURL(w http.ResponseWriter, r *http.Request) {
	var req signedURLRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeImageError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ref := req.ImageURL
	if ref == "" {
		ref = req.ImageKey
	}
	signed, err := h.images.SignedURL(r.Context(), ref)
	if err != nil {
		h.fail(w, err, "failed to generate signed url")
		return
	}
	writeJSON(w, http.StatusOK, signedURLResponse{Success: true, SignedURL: signed})
}

// Delete handles DELETE /api/images/delete
func (h *ImageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	var req deleteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeImageError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ref := req.ImageKey
	if ref == "" {
		ref = req.ImageURL
	}
	key, err := h.images.Delete(r.Context(), ref)
	if err != nil {
		h.fail(w, err, "failed to delete image")
		return
	}
	writeJSON(w, http.StatusOK, deleteResponse{Success: true, Message: "image deleted", Key: key})
}

// BulkDelete handles POST /api/images/delete
func (h *ImageHandler) BulkDelete(w http.ResponseWriter, r *http.Request) {
	var req bulkDeleteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeImageError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	refs := make([]string, 0, len(req.ImageKeys)+len(req.ImageURLs))
	for _, ref := range slices.Concat(req.ImageKeys, req.ImageURLs) {
		if ref = strings.TrimSpace(ref); ref != "" {
			refs = append(refs, ref)
		}
	}
	if len(refs) == 0 {
		writeImageError(w, http.StatusBadRequest, "imageUrls or imageKeys is required")
		return
	}

	res := h.images.BulkDelete(r.Context(), refs)
	errs := res.Errors
	if errs == nil {
		errs = []string{}
	}
	writeJSON(w, http.StatusOK, bulkDeleteResponse{
		Success: true,
		Deleted: res.Deleted,
		Failed:  res.Failed,
		Total:   res.Total,
		Errors:  errs,
	})
}

// Commit handles POST /api/images/commit
func (h *ImageHandler) Commit(w http.ResponseWriter, r *http.Request) {
	var req commitRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeImageError(w, http.StatusBadRequest, "invalid request data")
		return
	}

	committed, err := h.images.Commit(r.Context(), strings.TrimSpace(req.CarID), req.Images)
	if err != nil {
		h.fail(w, err, "failed to commit images")
		return
	}
	writeJSON(w, http.StatusOK, commitResponse{Success: true, Images: committed})
}

// Cleanup handles POST /api/images/cleanup
func (h *ImageHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	var req cleanupRequest
	if err := decodeJSON(w, r, &req); err != nil || strings.TrimSpace(req.BatchID) == "" {
		writeImageError(w, http.StatusBadRequest, "batchId is required")
		return
	}

	deleted, err := h.images.Cleanup(r.Context(), strings.TrimSpace(req.BatchID))
	if err != nil {
		h.fail(w, err, "failed to clean up batch")
		return
	}
	writeJSON(w, http.StatusOK, cleanupResponse{
		Success: true,
		Message: fmt.Sprintf("cleaned up %d temporary files", deleted),
		Deleted: deleted,
	})
}
