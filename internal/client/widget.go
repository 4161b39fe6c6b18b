package client

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"
)

// Widget defaults.
const (
	DefaultMaxFiles     = 10
	DefaultMaxFileBytes = 5 << 20
)

var (
	// ErrTooManyFiles is returned when a selection exceeds the free slots.
	ErrTooManyFiles = errors.New("too many files")

	// ErrInvalidFileType is returned for files that are not JPEG, PNG or WebP.
	ErrInvalidFileType = errors.New("file is not a supported image")

	// ErrFileTooLarge is returned for files over the widget's size limit.
	ErrFileTooLarge = errors.New("file is too large")

	// ErrNotCommitted is returned by Remove for a URL the widget does not hold.
	ErrNotCommitted = errors.New("image is not in the list")
)

var allowedTypes = []string{"image/jpeg", "image/jpg", "image/png", "image/webp"}

// State is the interaction state of a Widget.
type State int

const (
	StateIdle State = iota
	StateSelecting
	StateUploading
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSelecting:
		return "selecting"
	case StateUploading:
		return "uploading"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Uploader is the part of the API a Widget needs. *Client implements it.
type Uploader interface {
	Upload(ctx context.Context, carID, batchID string, files []File) (*UploadResult, error)
	DeleteImageURL(ctx context.Context, imageURL string) error
}

// WidgetConfig configures a Widget.
type WidgetConfig struct {
	// CarID is the listing the images belong to; "new" for unsaved ones.
	CarID string
	// BatchID groups the uploads of this widget. Defaults to b_<unix-ms>_<rand>.
	BatchID      string
	MaxFiles     int
	MaxFileBytes int64
	// Existing seeds the committed list.
	Existing []string
	// Deferred holds OnChange back until Flush is called.
	Deferred bool
	OnChange func(images []string)
	OnError  func(err error)
}

// Preview is a local placeholder for a file being uploaded.
type Preview struct {
	ID   string
	Name string
	// Ref is the local preview reference shown until the upload resolves.
	Ref string
}

// Widget tracks the committed images of one listing editor together with
// the previews of uploads in flight. It is safe for concurrent use;
// callbacks run without the lock held.
type Widget struct {
	up  Uploader
	cfg WidgetConfig

	mu        sync.Mutex
	state     State
	committed []string
	previews  []Preview
	inFlight  int
	seq       int
}

// NewWidget creates a widget uploading through up.
func NewWidget(up Uploader, cfg WidgetConfig) *Widget {
	if cfg.CarID == "" {
		cfg.CarID = "new"
	}
	if cfg.MaxFiles <= 0 {
		cfg.MaxFiles = DefaultMaxFiles
	}
	if cfg.MaxFileBytes <= 0 {
		cfg.MaxFileBytes = DefaultMaxFileBytes
	}
	if cfg.BatchID == "" {
		cfg.BatchID = fmt.Sprintf("b_%d_%s", time.Now().UnixMilli(), randomSuffix(6))
	}

	committed := appendUnique([]string{}, cfg.Existing...)
	if len(committed) > cfg.MaxFiles {
		committed = committed[:cfg.MaxFiles]
	}
	return &Widget{up: up, cfg: cfg, committed: committed}
}

// State returns the current interaction state.
func (w *Widget) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// BatchID returns the batch the widget uploads into.
func (w *Widget) BatchID() string { return w.cfg.BatchID }

// Images returns a copy of the committed list. Element 0 is the primary image.
func (w *Widget) Images() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return slices.Clone(w.committed)
}

// Previews returns the previews of uploads in flight.
func (w *Widget) Previews() []Preview {
	w.mu.Lock()
	defer w.mu.Unlock()
	return slices.Clone(w.previews)
}

// BeginSelect marks a drag-over or an open file dialog.
func (w *Widget) BeginSelect() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == StateIdle {
		w.state = StateSelecting
	}
}

// CancelSelect ends a selection without files.
func (w *Widget) CancelSelect() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == StateSelecting {
		w.state = StateIdle
	}
}

// Select validates files and uploads the acceptable ones as one batch.
// A selection larger than the free slots is rejected whole. Files with a
// bad type or size are dropped and reported; the rest are uploaded. The
// returned list is the committed list after the call.
func (w *Widget) Select(ctx context.Context, files []File) ([]string, error) {
	w.mu.Lock()
	if len(files) == 0 {
		w.settle()
		committed := slices.Clone(w.committed)
		w.mu.Unlock()
		return committed, nil
	}

	if budget := w.cfg.MaxFiles - len(w.committed) - w.inFlight; len(files) > budget {
		w.settle()
		committed := slices.Clone(w.committed)
		w.mu.Unlock()
		return committed, w.report(fmt.Errorf("%w: at most %d images, %d slots left", ErrTooManyFiles, w.cfg.MaxFiles, max(budget, 0)))
	}

	var (
		accepted []File
		rejected []error
	)
	for _, f := range files {
		if err := w.check(f); err != nil {
			rejected = append(rejected, err)
			continue
		}
		accepted = append(accepted, f)
	}
	if len(accepted) == 0 {
		w.settle()
		committed := slices.Clone(w.committed)
		w.mu.Unlock()
		return committed, w.report(errors.Join(rejected...))
	}

	batch := make([]string, len(accepted))
	for i, f := range accepted {
		w.seq++
		id := fmt.Sprintf("preview-%d", w.seq)
		batch[i] = id
		w.previews = append(w.previews, Preview{ID: id, Name: f.Name, Ref: "preview://" + id + "/" + url.PathEscape(f.Name)})
	}
	w.inFlight += len(accepted)
	w.state = StateUploading
	w.mu.Unlock()

	res, uploadErr := w.up.Upload(ctx, w.cfg.CarID, w.cfg.BatchID, accepted)

	w.mu.Lock()
	w.previews = slices.DeleteFunc(w.previews, func(p Preview) bool { return slices.Contains(batch, p.ID) })
	w.inFlight -= len(accepted)
	w.settle()

	if uploadErr == nil {
		urls := make([]string, 0, len(res.Images))
		for _, img := range res.Images {
			if u := strings.TrimSpace(img.URL); u != "" {
				urls = append(urls, u)
			}
		}
		w.committed = appendUnique(w.committed, urls...)
		if len(w.committed) > w.cfg.MaxFiles {
			w.committed = w.committed[:w.cfg.MaxFiles]
		}
	}
	committed := slices.Clone(w.committed)
	w.mu.Unlock()

	if uploadErr != nil {
		rejected = append(rejected, fmt.Errorf("upload failed: %w", uploadErr))
		return committed, w.report(errors.Join(rejected...))
	}

	if !w.cfg.Deferred {
		w.notify(committed)
	}
	if len(rejected) > 0 {
		return committed, w.report(errors.Join(rejected...))
	}
	return committed, nil
}

// Flush returns the committed list and hands it to OnChange. Deferred
// widgets only notify through Flush.
func (w *Widget) Flush() []string {
	committed := w.Images()
	w.notify(committed)
	return committed
}

// Remove deletes a committed image from storage and, on success, from the
// list. The server resolves the URL to the object's full key. On failure
// the list is left unchanged.
func (w *Widget) Remove(ctx context.Context, imageURL string) error {
	w.mu.Lock()
	held := slices.Contains(w.committed, imageURL)
	w.mu.Unlock()
	if !held {
		return w.report(fmt.Errorf("%w: %s", ErrNotCommitted, imageURL))
	}

	if err := w.up.DeleteImageURL(ctx, imageURL); err != nil {
		return w.report(fmt.Errorf("delete %s: %w", imageURL, err))
	}

	w.mu.Lock()
	w.committed = slices.DeleteFunc(w.committed, func(u string) bool { return u == imageURL })
	committed := slices.Clone(w.committed)
	w.mu.Unlock()

	if !w.cfg.Deferred {
		w.notify(committed)
	}
	return nil
}

func (w *Widget) check(f File) error {
	if !slices.Contains(allowedTypes, strings.ToLower(f.ContentType)) {
		return fmt.Errorf("%s: %w", f.Name, ErrInvalidFileType)
	}
	if f.Size() > w.cfg.MaxFileBytes {
		return fmt.Errorf("%s: %w (limit %d MB)", f.Name, ErrFileTooLarge, w.cfg.MaxFileBytes>>20)
	}
	return nil
}

// settle returns to idle once no upload is in flight. Callers hold mu.
func (w *Widget) settle() {
	if w.inFlight == 0 {
		w.state = StateIdle
	}
}

func (w *Widget) notify(images []string) {
	if w.cfg.OnChange != nil {
		w.cfg.OnChange(images)
	}
}

func (w *Widget) report(err error) error {
	if w.cfg.OnError != nil {
		w.cfg.OnError(err)
	}
	return err
}

// appendUnique appends the values of add not already in list, keeping
// first occurrences in order. Blank values are skipped.
func appendUnique(list []string, add ...string) []string {
	for _, v := range add {
		if v != "" && !slices.Contains(list, v) {
			list = append(list, v)
		}
	}
	return list
}

const suffixChars = "abcdefghijklmnopqrstuvwxyz0123456789"

func randomSuffix(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = suffixChars[rand.IntN(len(suffixChars))]
	}
	return string(b)
}
