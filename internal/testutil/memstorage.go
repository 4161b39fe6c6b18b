package testutil

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/carmarket/api/internal/storage"
)

// MemStorage is an in-memory storage.Storage for service and handler tests.
// Objects are served under BaseURL; presigned URLs carry X-Amz-Date and
// X-Amz-Expires like an S3 URL does.
type MemStorage struct {
	BaseURL string

	mu      sync.Mutex
	objects map[string]memObject
	puts    int

	// Error injection, keyed by object key. An entry under "*" applies to
	// every key.
	PutErr    map[string]error
	DeleteErr map[string]error
	CopyErr   map[string]error
}

type memObject struct {
	data        []byte
	contentType string
	modified    time.Time
}

// NewMemStorage returns an empty MemStorage serving from
// https://cars-bucket.s3.eu-central-1.amazonaws.com.
func NewMemStorage() *MemStorage {
	return &MemStorage{
		BaseURL:   "https://cars-bucket.s3.eu-central-1.amazonaws.com",
		objects:   make(map[string]memObject),
		PutErr:    make(map[string]error),
		DeleteErr: make(map[string]error),
		CopyErr:   make(map[string]error),
	}
}

var _ storage.Storage = (*MemStorage)(nil)

func injected(m map[string]error, key string) error {
	if err, ok := m[key]; ok {
		return err
	}
	return m["*"]
}

func (m *MemStorage) Put(_ context.Context, key string, body io.Reader, contentType string) (string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := injected(m.PutErr, key); err != nil {
		return "", err
	}
	m.objects[key] = memObject{data: data, contentType: contentType, modified: time.Now()}
	m.puts++
	return m.BaseURL + "/" + key, nil
}

func (m *MemStorage) Get(_ context.Context, key string) (io.ReadCloser, storage.Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, storage.Object{}, storage.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(obj.data)), storage.Object{
		Key:          key,
		Size:         int64(len(obj.data)),
		ContentType:  obj.contentType,
		LastModified: obj.modified,
	}, nil
}

func (m *MemStorage) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := injected(m.DeleteErr, key); err != nil {
		return err
	}
	delete(m.objects, key)
	return nil
}

func (m *MemStorage) Copy(_ context.Context, src, dst string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := injected(m.CopyErr, src); err != nil {
		return "", err
	}
	obj, ok := m.objects[src]
	if !ok {
		return "", fmt.Errorf("copying %s: %w", src, storage.ErrNotFound)
	}
	m.objects[dst] = obj
	return m.BaseURL + "/" + dst, nil
}

func (m *MemStorage) List(_ context.Context, prefix string) ([]storage.Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.Object
	for key, obj := range m.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, storage.Object{Key: key, Size: int64(len(obj.data)), LastModified: obj.modified})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *MemStorage) PresignGet(_ context.Context, key string, expiry time.Duration) (string, error) {
	q := url.Values{}
	q.Set("X-Amz-Date", time.Now().UTC().Format("20060102T150405Z"))
	q.Set("X-Amz-Expires", strconv.Itoa(int(expiry.Seconds())))
	q.Set("X-Amz-Signature", "deadbeef")
	return m.BaseURL + "/" + key + "?" + q.Encode(), nil
}

func (m *MemStorage) KeyFromURL(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		return strings.TrimLeft(rawURL, "/")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	base, err := url.Parse(m.BaseURL)
	if err != nil || !strings.EqualFold(u.Host, base.Host) {
		return ""
	}
	return strings.TrimLeft(u.Path, "/")
}

// Has reports whether key is stored.
func (m *MemStorage) Has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok
}

// Seed stores data under key.
func (m *MemStorage) Seed(key string, data []byte, contentType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = memObject{data: data, contentType: contentType, modified: time.Now()}
}

// SeedAged stores data under key with the given modification time.
func (m *MemStorage) SeedAged(key string, modified time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = memObject{data: []byte(key), contentType: "image/jpeg", modified: modified}
}

// Keys returns all stored keys, sorted.
func (m *MemStorage) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Puts returns the number of successful Put calls.
func (m *MemStorage) Puts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.puts
}

// ErrInjected is a convenience error for failure injection.
var ErrInjected = errors.New("injected storage failure")
