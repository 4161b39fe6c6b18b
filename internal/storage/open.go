package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// Storage drivers.
const (
	DriverS3    = "s3"
	DriverMinIO = "minio"
	DriverLocal = "local"
)

// ErrUnavailable is returned by every call to an Unavailable storage.
var ErrUnavailable = errors.New("storage is not configured")

// Options selects and configures a storage driver.
type Options struct {
	Driver string

	LocalPath      string
	LocalURLPrefix string

	S3    S3Config
	MinIO MinIOConfig

	// RedisURL enables the presigned URL cache when set.
	RedisURL   string
	PresignTTL time.Duration
}

// Open builds the configured driver. Missing bucket credentials do not
// fail startup: they are logged and the returned Storage fails every
// call. A Redis cache that cannot be reached is skipped with a warning.
// The returned close function releases the cache connection.
func Open(ctx context.Context, opts Options, logger *slog.Logger) (Storage, func() error, error) {
	if logger == nil {
		logger = slog.Default()
	}
	noop := func() error { return nil }

	var (
		store Storage
		err   error
	)
	switch opts.Driver {
	case DriverLocal, "":
		store = NewLocal(opts.LocalPath, opts.LocalURLPrefix)
		logger.Info("using local media storage", slog.String("path", opts.LocalPath))
		return store, noop, nil
	case DriverS3:
		if opts.S3.Bucket == "" || opts.S3.AccessKey == "" || opts.S3.SecretKey == "" {
			logger.Error("s3 storage is missing bucket or credentials, image operations will fail")
			return Unavailable{Err: ErrUnavailable}, noop, nil
		}
		store, err = NewS3(ctx, opts.S3)
	case DriverMinIO:
		if opts.MinIO.Bucket == "" || opts.MinIO.AccessKey == "" || opts.MinIO.SecretKey == "" {
			logger.Error("minio storage is missing bucket or credentials, image operations will fail")
			return Unavailable{Err: ErrUnavailable}, noop, nil
		}
		store, err = NewMinIO(opts.MinIO)
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", opts.Driver)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("creating %s storage: %w", opts.Driver, err)
	}
	logger.Info("using object storage", slog.String("driver", opts.Driver))

	if opts.RedisURL == "" {
		return store, noop, nil
	}
	cache, err := NewRedisURLCache(ctx, opts.RedisURL)
	if err != nil {
		logger.Warn("presigned url cache disabled", slog.String("error", err.Error()))
		return store, noop, nil
	}
	logger.Info("presigned url cache enabled")
	return NewCachedPresigner(store, cache, opts.PresignTTL, logger), cache.Close, nil
}

// Unavailable is the Storage used when no driver could be configured.
type Unavailable struct {
	Err error
}

func (u Unavailable) Put(context.Context, string, io.Reader, string) (string, error) {
	return "", u.Err
}

func (u Unavailable) Get(context.Context, string) (io.ReadCloser, Object, error) {
	return nil, Object{}, u.Err
}

func (u Unavailable) Delete(context.Context, string) error { return u.Err }

func (u Unavailable) Copy(context.Context, string, string) (string, error) { return "", u.Err }

func (u Unavailable) List(context.Context, string) ([]Object, error) { return nil, u.Err }

func (u Unavailable) PresignGet(context.Context, string, time.Duration) (string, error) {
	return "", u.Err
}

// KeyFromURL accepts any host: with no backend there is nothing to compare
// against, and every call on the key fails anyway.
func (u Unavailable) KeyFromURL(rawURL string) string {
	return keyFromPath(rawURL, "", func(string) bool { return true })
}
