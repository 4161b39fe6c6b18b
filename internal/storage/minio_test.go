package storage

import (
	"context"
	"errors"
	"io"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
)

// fakeMinio is an in-memory minioAPI.
type fakeMinio struct {
	mu      sync.Mutex
	objects map[string]string
	types   map[string]string
	failPut error
}

func newFakeMinio() *fakeMinio {
	return &fakeMinio{objects: map[string]string{}, types: map[string]string{}}
}

func (f *fakeMinio) PutObject(_ context.Context, _, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if f.failPut != nil {
		return minio.UploadInfo{}, f.failPut
	}
	if size != -1 {
		return minio.UploadInfo{}, errors.New("expected unknown size")
	}
	data, _ := io.ReadAll(r)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = string(data)
	f.types[key] = opts.ContentType
	return minio.UploadInfo{Key: key, Size: int64(len(data))}, nil
}

func (f *fakeMinio) GetObject(context.Context, string, string, minio.GetObjectOptions) (*minio.Object, error) {
	return nil, errors.New("not supported by fake")
}

func (f *fakeMinio) RemoveObject(_ context.Context, _, key string, _ minio.RemoveObjectOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	return nil
}

func (f *fakeMinio) CopyObject(_ context.Context, dst minio.CopyDestOptions, src minio.CopySrcOptions) (minio.UploadInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[src.Object]
	if !ok {
		return minio.UploadInfo{}, errors.New("NoSuchKey")
	}
	f.objects[dst.Object] = data
	return minio.UploadInfo{Key: dst.Object}, nil
}

func (f *fakeMinio) ListObjects(_ context.Context, _ string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan minio.ObjectInfo, len(f.objects))
	for key, data := range f.objects {
		if strings.HasPrefix(key, opts.Prefix) {
			ch <- minio.ObjectInfo{Key: key, Size: int64(len(data)), LastModified: time.Now()}
		}
	}
	close(ch)
	return ch
}

func (f *fakeMinio) PresignedGetObject(_ context.Context, bucket, key string, expires time.Duration, _ url.Values) (*url.URL, error) {
	return url.Parse("http://minio.local:9000/" + bucket + "/" + key +
		"?X-Amz-Date=20240102T030405Z&X-Amz-Expires=" + strconv.Itoa(int(expires.Seconds())))
}

func newTestMinIO() (*MinIO, *fakeMinio) {
	fake := newFakeMinio()
	return &MinIO{client: fake, bucket: "cars", endpoint: "minio.local:9000", baseURL: "http://minio.local:9000/cars"}, fake
}

func TestMinIO_PutCopyDelete(t *testing.T) {
	store, fake := newTestMinIO()
	ctx := context.Background()

	u, err := store.Put(ctx, "cars/temp_b1/a.jpg", strings.NewReader("jpeg"), "image/jpeg")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if u != "http://minio.local:9000/cars/cars/temp_b1/a.jpg" {
		t.Errorf("url: got %q", u)
	}
	if fake.types["cars/temp_b1/a.jpg"] != "image/jpeg" {
		t.Errorf("content type not forwarded: %q", fake.types["cars/temp_b1/a.jpg"])
	}

	if _, err := store.Copy(ctx, "cars/temp_b1/a.jpg", "cars/9/a.jpg"); err != nil {
		t.Fatalf("Copy: %v", err)
	}
	if fake.objects["cars/9/a.jpg"] != "jpeg" {
		t.Errorf("copy missing in backend")
	}

	if err := store.Delete(ctx, "cars/temp_b1/a.jpg"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := fake.objects["cars/temp_b1/a.jpg"]; ok {
		t.Error("object still present after Delete")
	}
}

func TestMinIO_Put_Error(t *testing.T) {
	store, fake := newTestMinIO()
	fake.failPut = errors.New("connection refused")

	_, err := store.Put(context.Background(), "cars/1/a.jpg", strings.NewReader("x"), "image/jpeg")
	if err == nil || !strings.Contains(err.Error(), "putting object") {
		t.Fatalf("Put error: got %v", err)
	}
}

func TestMinIO_List(t *testing.T) {
	store, fake := newTestMinIO()
	fake.objects["cars/temp_b1/a.jpg"] = "a"
	fake.objects["cars/temp_b1/b.jpg"] = "bb"
	fake.objects["cars/5/c.jpg"] = "c"

	objects, err := store.List(context.Background(), "cars/temp_b1/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(objects) != 2 {
		t.Errorf("objects: got %d, want 2", len(objects))
	}
}

func TestMinIO_PresignGetAndKeyFromURL(t *testing.T) {
	store, _ := newTestMinIO()

	signed, err := store.PresignGet(context.Background(), "cars/1/a.jpg", time.Hour)
	if err != nil {
		t.Fatalf("PresignGet: %v", err)
	}
	if got := store.KeyFromURL(signed); got != "cars/1/a.jpg" {
		t.Errorf("KeyFromURL(signed) = %q", got)
	}
	if got := store.KeyFromURL("/cars/1/a.jpg"); got != "cars/1/a.jpg" {
		t.Errorf("KeyFromURL(bare) = %q", got)
	}
	if got := store.KeyFromURL("https://example.com/cars/cars/7/a.jpg"); got != "" {
		t.Errorf("KeyFromURL(foreign) = %q, want empty", got)
	}
}

func TestNewMinIO(t *testing.T) {
	m, err := NewMinIO(MinIOConfig{
		Endpoint:  "https://minio.example.com:9000/ignored",
		AccessKey: "key",
		SecretKey: "secret",
		UseSSL:    true,
		Region:    "us-east-1",
		Bucket:    "cars",
	})
	if err != nil {
		t.Fatalf("NewMinIO: %v", err)
	}
	if m.baseURL != "https://minio.example.com:9000/cars" {
		t.Errorf("baseURL: got %q", m.baseURL)
	}
	if m.endpoint != "minio.example.com:9000" {
		t.Errorf("endpoint: got %q", m.endpoint)
	}

	if _, err := NewMinIO(MinIOConfig{Bucket: "cars"}); err == nil {
		t.Error("expected error without endpoint")
	}
}
