package client

import (
	"context"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/carmarket/api/internal/services/photos"
)

// Refresh timing for signed URLs, which the server signs for 24 hours.
const (
	RefreshMargin   = 2 * time.Hour
	RefreshInterval = 23 * time.Hour
)

// ProxyPath serves objects by key when only a key is known.
const ProxyPath = "/api/images/get"

const amzDateLayout = "20060102T150405Z"

// Signer issues fresh signed URLs. *Client implements it.
type Signer interface {
	SignedURL(ctx context.Context, imageURL string) (string, error)
}

// RefresherOption configures a Refresher.
type RefresherOption func(*Refresher)

// WithPlaceholder sets the image shown once every source has failed.
func WithPlaceholder(ref string) RefresherOption {
	return func(r *Refresher) { r.placeholder = ref }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) RefresherOption {
	return func(r *Refresher) { r.now = now }
}

// WithLogger sets the logger for background refresh failures.
func WithLogger(logger *slog.Logger) RefresherOption {
	return func(r *Refresher) { r.logger = logger }
}

// Refresher keeps displayed image URLs loadable: bare keys go through the
// proxy and signed storage URLs are re-signed before they expire.
type Refresher struct {
	signer        Signer
	storageDomain string
	placeholder   string
	margin        time.Duration
	interval      time.Duration
	now           func() time.Time
	logger        *slog.Logger
}

// NewRefresher creates a refresher. URLs whose host contains
// storageDomain (for example "amazonaws.com") are re-signed through
// signer.
func NewRefresher(signer Signer, storageDomain string, opts ...RefresherOption) *Refresher {
	r := &Refresher{
		signer:        signer,
		storageDomain: strings.ToLower(storageDomain),
		placeholder:   photos.Placeholder,
		margin:        RefreshMargin,
		interval:      RefreshInterval,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// ProxyURL returns the proxy path serving key.
func ProxyURL(key string) string {
	return ProxyPath + "?key=" + url.QueryEscape(key)
}

// IsKey reports whether src is a bare storage key rather than a URL.
func IsKey(src string) bool {
	return !strings.HasPrefix(src, "http")
}

// SignedExpiry returns when a signed URL stops being valid. ok is false
// when src carries no X-Amz-Date and X-Amz-Expires pair.
func SignedExpiry(src string) (expires time.Time, ok bool) {
	u, err := url.Parse(src)
	if err != nil {
		return time.Time{}, false
	}
	q := u.Query()
	signed, err := time.Parse(amzDateLayout, q.Get("X-Amz-Date"))
	if err != nil {
		return time.Time{}, false
	}
	secs, err := strconv.Atoi(q.Get("X-Amz-Expires"))
	if err != nil || secs < 0 {
		return time.Time{}, false
	}
	return signed.Add(time.Duration(secs) * time.Second), true
}

// isStorageURL reports whether src points at the storage domain.
func (r *Refresher) isStorageURL(src string) bool {
	if r.storageDomain == "" {
		return false
	}
	u, err := url.Parse(src)
	if err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(u.Host), r.storageDomain)
}

// Image is one displayed image. Its URL changes as it is proxied,
// re-signed or replaced by the placeholder.
type Image struct {
	r   *Refresher
	src string

	mu         sync.Mutex
	current    string
	errored    bool
	triedProxy bool
	triedSign  bool
	refreshing bool
	wg         sync.WaitGroup
}

// Mount starts tracking src. Blank sources show the placeholder at once
// and bare keys are rewritten to the proxy path.
func (r *Refresher) Mount(src string) *Image {
	src = strings.TrimSpace(src)
	img := &Image{r: r, src: src}
	switch {
	case src == "" || src == "undefined" || src == "null":
		img.current = r.placeholder
		img.errored = true
	case IsKey(src):
		img.current = ProxyURL(src)
	default:
		img.current = src
	}
	return img
}

// URL returns the URL to display.
func (img *Image) URL() string {
	img.mu.Lock()
	defer img.mu.Unlock()
	return img.current
}

// Errored reports whether the image fell back to the placeholder for good.
func (img *Image) Errored() bool {
	img.mu.Lock()
	defer img.mu.Unlock()
	return img.errored
}

// Wait blocks until background refreshes started so far have finished.
func (img *Image) Wait() { img.wg.Wait() }

// CheckExpiry starts a background refresh when the current signed URL
// expires within the refresh margin, or has already expired. It reports
// whether a refresh was started.
func (img *Image) CheckExpiry(ctx context.Context) bool {
	img.mu.Lock()
	defer img.mu.Unlock()

	if img.errored || img.refreshing || !img.r.isStorageURL(img.src) {
		return false
	}
	expires, ok := SignedExpiry(img.current)
	if !ok || expires.Sub(img.r.now()) >= img.r.margin {
		return false
	}

	img.refreshing = true
	img.wg.Add(1)
	go func() {
		defer img.wg.Done()
		if err := img.refresh(ctx); err != nil {
			img.r.logger.Warn("signed url refresh failed",
				slog.String("src", img.src),
				slog.String("error", err.Error()),
			)
		}
	}()
	return true
}

// Refresh re-signs the image now. It is a no-op for images that are not
// on the storage domain or already errored.
func (img *Image) Refresh(ctx context.Context) error {
	img.mu.Lock()
	if img.errored || img.refreshing || !img.r.isStorageURL(img.src) {
		img.mu.Unlock()
		return nil
	}
	img.refreshing = true
	img.mu.Unlock()

	return img.refresh(ctx)
}

// refresh asks for a new signed URL. The caller has set refreshing.
func (img *Image) refresh(ctx context.Context) error {
	signed, err := img.r.signer.SignedURL(ctx, img.src)

	img.mu.Lock()
	defer img.mu.Unlock()
	img.refreshing = false
	if err != nil {
		return err
	}
	if !img.errored {
		img.current = signed
	}
	return nil
}

// Run keeps the image fresh while it is displayed: it checks expiry at
// once and re-signs every refresh interval until ctx is done.
func (img *Image) Run(ctx context.Context) {
	img.CheckExpiry(ctx)

	ticker := time.NewTicker(img.r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			img.Wait()
			return
		case <-ticker.C:
			if err := img.Refresh(ctx); err != nil {
				img.r.logger.Warn("periodic signed url refresh failed",
					slog.String("src", img.src),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// LoadFailed handles a failed load of the current URL and returns the URL
// to try next. Keys fall back to the proxy path and storage URLs get one
// re-sign; after that the image shows the placeholder and stops retrying.
func (img *Image) LoadFailed(ctx context.Context) string {
	img.mu.Lock()
	if img.errored {
		defer img.mu.Unlock()
		return img.current
	}

	if IsKey(img.src) && !img.triedProxy {
		img.triedProxy = true
		img.current = ProxyURL(img.src)
		defer img.mu.Unlock()
		return img.current
	}

	if img.r.isStorageURL(img.src) && !img.triedSign {
		img.triedSign = true
		img.mu.Unlock()

		signed, err := img.r.signer.SignedURL(ctx, img.src)

		img.mu.Lock()
		if err == nil && !img.errored {
			img.current = signed
			defer img.mu.Unlock()
			return img.current
		}
		if err != nil {
			img.r.logger.Warn("signed url request failed",
				slog.String("src", img.src),
				slog.String("error", err.Error()),
			)
		}
	}

	img.errored = true
	img.current = img.r.placeholder
	defer img.mu.Unlock()
	return img.current
}
