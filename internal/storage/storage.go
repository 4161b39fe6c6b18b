package storage

import (
	"context"
	"errors"
	"io"
	"net/url"
	"strings"
	"time"
)

// ErrNotFound is returned by Get when the object does not exist.
var ErrNotFound = errors.New("object not found")

// Object describes a stored object.
type Object struct {
	Key          string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// Storage abstracts object storage for listing images. Implementations
// cover AWS S3, MinIO and the local filesystem.
type Storage interface {
	// Put uploads content and returns the URL the object is reachable at.
	// key is the object path (e.g. "cars/temp_b1/front_1700000000000_a1b2c3.jpg").
	Put(ctx context.Context, key string, body io.Reader, contentType string) (url string, err error)

	// Get opens the object at key. The caller must close the reader.
	Get(ctx context.Context, key string) (io.ReadCloser, Object, error)

	// Delete removes the object at key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Copy duplicates src to dst and returns the URL of dst.
	Copy(ctx context.Context, src, dst string) (url string, err error)

	// List returns every object whose key starts with prefix.
	List(ctx context.Context, prefix string) ([]Object, error)

	// PresignGet returns a time-limited read URL for key.
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)

	// KeyFromURL resolves a stored URL (or a bare key) back to its object key.
	KeyFromURL(rawURL string) string
}

// keyFromPath extracts an object key from an absolute URL by taking its
// path. URLs whose host owns rejects resolve to "" so that foreign images
// never map onto keys of our bucket. When bucket is set and the URL is
// path-style ("/bucket/key"), the bucket segment is dropped. Values that
// are not absolute URLs are treated as keys and only lose their leading
// slashes.
func keyFromPath(rawURL, bucket string, owns func(host string) bool) string {
	if !isAbsoluteURL(rawURL) {
		return strings.TrimLeft(rawURL, "/")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Host)
	if owns == nil || !owns(host) {
		return ""
	}

	key := strings.TrimLeft(u.Path, "/")
	if bucket != "" && !strings.HasPrefix(host, bucket+".") {
		key = strings.TrimPrefix(key, bucket+"/")
	}
	return key
}

func isAbsoluteURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// hostOf returns the lowercased host[:port] of rawURL, or "" when rawURL
// is empty or unparsable.
func hostOf(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}
