// Package images implements listing photo storage: batch upload, signed
// read URLs, deletion, promotion of staged uploads and cleanup of
// abandoned batches.
package images

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"path"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/carmarket/api/internal/services/photos"
	"github.com/carmarket/api/internal/storage"
)

var (
	// ErrNoFiles is returned when an upload carries no files.
	ErrNoFiles = errors.New("no files uploaded")

	// ErrFileTooLarge is returned when a file exceeds the size limit.
	ErrFileTooLarge = errors.New("file too large")

	// ErrUnsupportedType is returned for content types other than JPEG, PNG and WebP.
	ErrUnsupportedType = errors.New("unsupported file type: only JPEG, PNG and WebP images are allowed")

	// ErrInvalidMagicBytes is returned when the file content is not a supported image.
	ErrInvalidMagicBytes = errors.New("invalid file: content does not match a supported image format")

	// ErrInvalidID is returned for car or batch ids that cannot form a key prefix.
	ErrInvalidID = errors.New("invalid car or batch id")

	// ErrMissingKey is returned when no image key or URL was given.
	ErrMissingKey = errors.New("image key or url is required")

	// ErrNotFound is returned when the requested object does not exist.
	ErrNotFound = errors.New("image not found")

	// ErrStorage wraps storage backend failures that are not the caller's fault.
	ErrStorage = errors.New("storage operation failed")
)

// FileError ties a validation failure to the file that caused it.
type FileError struct {
	Name string
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s: %v", e.Name, e.Err)
}

func (e *FileError) Unwrap() error { return e.Err }

// File is one file of an upload batch.
type File struct {
	Name        string
	ContentType string
	Size        int64
	Open        func() (io.ReadCloser, error)
}

// FromMultipart converts multipart file headers to Files.
func FromMultipart(headers []*multipart.FileHeader) []File {
	files := make([]File, 0, len(headers))
	for _, h := range headers {
		files = append(files, File{
			Name:        h.Filename,
			ContentType: h.Header.Get("Content-Type"),
			Size:        h.Size,
			Open: func() (io.ReadCloser, error) {
				return h.Open()
			},
		})
	}
	return files
}

// Uploaded describes one stored image.
type Uploaded struct {
	Key         string `json:"key"`
	URL         string `json:"url"`
	Size        int64  `json:"size"`
	ContentType string `json:"contentType"`
}

// UploadResult is the outcome of a successful batch upload. Images has
// one entry per input file, in input order.
type UploadResult struct {
	BatchID string     `json:"batchId"`
	Images  []Uploaded `json:"images"`
}

// SignedURL is a fresh read URL for a stored image.
type SignedURL struct {
	SignedURL   string `json:"signedUrl"`
	OriginalURL string `json:"originalUrl"`
	Key         string `json:"key"`
}

// Config holds the limits applied by the service.
type Config struct {
	MaxBytes     int64
	SignedURLTTL time.Duration
}

// Service provides image storage operations for listings.
type Service struct {
	store             storage.Storage
	reaper            *photos.Reaper
	maxBytes          int64
	ttl               time.Duration
	uploadConcurrency int
	now               func() time.Time
	logger            *slog.Logger
}

// NewService creates an image service on top of store.
func NewService(store storage.Storage, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 15 << 20
	}
	if cfg.SignedURLTTL <= 0 {
		cfg.SignedURLTTL = 24 * time.Hour
	}
	return &Service{
		store:             store,
		reaper:            photos.NewReaper(store, logger),
		maxBytes:          cfg.MaxBytes,
		ttl:               cfg.SignedURLTTL,
		uploadConcurrency: 4,
		now:               time.Now,
		logger:            logger,
	}
}

// Upload stores a batch of images for carID. Every file is validated
// before anything is written, so a single bad file rejects the batch.
// If a storage write fails, the files of the batch that were already
// written are removed and no partial result is returned.
func (s *Service) Upload(ctx context.Context, carID, batchID string, files []File) (*UploadResult, error) {
	if len(files) == 0 {
		return nil, ErrNoFiles
	}

	now := s.now()
	if carID == "" {
		carID = NewCarID
	}
	if batchID == "" {
		batchID = DefaultBatchID(now)
	}
	if !isSafeSegment(carID) || !isSafeSegment(batchID) {
		return nil, ErrInvalidID
	}

	for _, f := range files {
		if err := s.validate(f); err != nil {
			return nil, err
		}
	}

	prefix := Prefix(carID, batchID)
	result := &UploadResult{BatchID: batchID, Images: make([]Uploaded, len(files))}

	var (
		mu      sync.Mutex
		written []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.uploadConcurrency)

	for i, f := range files {
		key := BuildKey(prefix, f.Name, now)
		g.Go(func() error {
			rc, err := f.Open()
			if err != nil {
				return fmt.Errorf("opening %s: %w", f.Name, err)
			}
			defer rc.Close()

			if _, err := s.store.Put(gctx, key, rc, f.ContentType); err != nil {
				return fmt.Errorf("storing %s: %w", key, err)
			}
			mu.Lock()
			written = append(written, key)
			mu.Unlock()

			signed, err := s.store.PresignGet(gctx, key, s.ttl)
			if err != nil {
				return fmt.Errorf("signing %s: %w", key, err)
			}

			result.Images[i] = Uploaded{
				Key:         key,
				URL:         signed,
				Size:        f.Size,
				ContentType: f.ContentType,
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		s.logger.Error("image upload failed",
			slog.String("batch_id", batchID),
			slog.String("error", err.Error()),
		)
		// The request context may be gone; cleanup still has to run.
		s.reaper.Reap(context.WithoutCancel(ctx), written)
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	s.logger.Info("images uploaded",
		slog.String("car_id", carID),
		slog.String("batch_id", batchID),
		slog.Int("count", len(files)),
	)
	return result, nil
}

func (s *Service) validate(f File) error {
	if f.Size > s.maxBytes {
		return &FileError{Name: f.Name, Err: ErrFileTooLarge}
	}
	if !allowedContentTypes[strings.ToLower(f.ContentType)] {
		return &FileError{Name: f.Name, Err: ErrUnsupportedType}
	}

	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("opening %s: %w", f.Name, err)
	}
	defer rc.Close()

	magic := make([]byte, 512)
	n, err := io.ReadFull(rc, magic)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return fmt.Errorf("reading %s: %w", f.Name, err)
	}
	if !isValidImageMagicBytes(magic[:n]) {
		return &FileError{Name: f.Name, Err: ErrInvalidMagicBytes}
	}
	return nil
}

// SignedURL returns a fresh signed read URL for ref, a storage URL
// (signed or not) or a bare key.
func (s *Service) SignedURL(ctx context.Context, ref string) (SignedURL, error) {
	key := s.store.KeyFromURL(strings.TrimSpace(ref))
	if key == "" {
		return SignedURL{}, ErrMissingKey
	}

	signed, err := s.store.PresignGet(ctx, key, s.ttl)
	if err != nil {
		return SignedURL{}, fmt.Errorf("%w: signing %s: %w", ErrStorage, key, err)
	}
	return SignedURL{SignedURL: signed, OriginalURL: ref, Key: key}, nil
}

// Delete removes the object ref points to and returns its key.
func (s *Service) Delete(ctx context.Context, ref string) (string, error) {
	key := s.store.KeyFromURL(strings.TrimSpace(ref))
	if key == "" {
		return "", ErrMissingKey
	}

	if err := s.store.Delete(ctx, key); err != nil {
		return key, fmt.Errorf("%w: deleting %s: %w", ErrStorage, key, err)
	}

	s.logger.Info("image deleted", slog.String("key", key))
	return key, nil
}

// BulkDelete removes every referenced object concurrently. Individual
// failures are reported in the result and never abort the others.
func (s *Service) BulkDelete(ctx context.Context, refs []string) photos.Result {
	return s.reaper.Reap(ctx, refs)
}

// Commit moves staged uploads of a new car to its permanent prefix
// cars/{carID}/. References outside a temp_ batch are returned as is, as
// are references whose move failed. The result keeps the input order.
func (s *Service) Commit(ctx context.Context, carID string, refs []string) ([]string, error) {
	if !isSafeSegment(carID) || carID == NewCarID {
		return nil, ErrInvalidID
	}
	if len(refs) == 0 {
		return nil, ErrMissingKey
	}

	out := make([]string, len(refs))
	var g errgroup.Group
	g.SetLimit(s.uploadConcurrency)

	for i, ref := range refs {
		out[i] = ref
		key := s.store.KeyFromURL(ref)
		if !strings.Contains(key, "/temp_") {
			continue
		}

		g.Go(func() error {
			dst := Prefix(carID, "") + path.Base(key)
			moved, err := s.store.Copy(ctx, key, dst)
			if err != nil {
				s.logger.Warn("failed to commit staged image",
					slog.String("key", key),
					slog.String("error", err.Error()),
				)
				return nil
			}
			if err := s.store.Delete(ctx, key); err != nil {
				s.logger.Warn("failed to remove staged image after commit",
					slog.String("key", key),
					slog.String("error", err.Error()),
				)
			}
			out[i] = moved
			return nil
		})
	}
	g.Wait()

	s.logger.Info("staged images committed",
		slog.String("car_id", carID),
		slog.Int("count", len(refs)),
	)
	return out, nil
}

// Cleanup deletes every object staged under batchID and returns how many
// were removed.
func (s *Service) Cleanup(ctx context.Context, batchID string) (int, error) {
	if !isSafeSegment(batchID) {
		return 0, ErrInvalidID
	}

	objects, err := s.store.List(ctx, TempPrefix(batchID))
	if err != nil {
		return 0, fmt.Errorf("%w: listing batch %s: %w", ErrStorage, batchID, err)
	}

	keys := make([]string, len(objects))
	for i, obj := range objects {
		keys[i] = obj.Key
	}
	res := s.reaper.Reap(ctx, keys)

	s.logger.Info("upload batch cleaned up",
		slog.String("batch_id", batchID),
		slog.Int("deleted", res.Deleted),
	)
	return res.Deleted, nil
}

// SweepResult summarises a Sweep run.
type SweepResult struct {
	Scanned int
	Stale   []string
	Deleted int
	Failed  int
}

// Sweep finds staged uploads older than age, across all batches, and
// deletes them unless dryRun is set.
func (s *Service) Sweep(ctx context.Context, age time.Duration, dryRun bool) (SweepResult, error) {
	objects, err := s.store.List(ctx, "cars/temp_")
	if err != nil {
		return SweepResult{}, fmt.Errorf("%w: listing staged uploads: %w", ErrStorage, err)
	}

	cutoff := s.now().Add(-age)
	res := SweepResult{Scanned: len(objects)}
	for _, obj := range objects {
		if obj.LastModified.Before(cutoff) {
			res.Stale = append(res.Stale, obj.Key)
		}
	}
	if dryRun || len(res.Stale) == 0 {
		return res, nil
	}

	reaped := s.reaper.Reap(ctx, res.Stale)
	res.Deleted = reaped.Deleted
	res.Failed = reaped.Failed
	return res, nil
}

// Open streams the object stored under key. A leading "/" is ignored.
func (s *Service) Open(ctx context.Context, key string) (io.ReadCloser, storage.Object, error) {
	key = strings.TrimLeft(key, "/")
	if key == "" {
		return nil, storage.Object{}, ErrMissingKey
	}

	rc, obj, err := s.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn("failed to fetch image",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
		return nil, storage.Object{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return rc, obj, nil
}
