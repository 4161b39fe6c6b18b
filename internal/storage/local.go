package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// Local stores images on the local filesystem and serves them under a URL
// prefix. Meant for development; production deployments use S3 or MinIO.
type Local struct {
	basePath  string // filesystem root, e.g. "./media"
	urlPrefix string // URL prefix for served files, e.g. "/media"
}

// NewLocal creates a local filesystem storage.
func NewLocal(basePath, urlPrefix string) *Local {
	return &Local{
		basePath:  basePath,
		urlPrefix: strings.TrimRight(urlPrefix, "/"),
	}
}

func (l *Local) Put(_ context.Context, key string, body io.Reader, _ string) (string, error) {
	dest, err := l.path(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("creating directory for %s: %w", key, err)
	}

	f, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("creating file %s: %w", key, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, body); err != nil {
		os.Remove(dest)
		return "", fmt.Errorf("writing file %s: %w", key, err)
	}

	return l.urlPrefix + "/" + key, nil
}

func (l *Local) Get(_ context.Context, key string) (io.ReadCloser, Object, error) {
	src, err := l.path(key)
	if err != nil {
		return nil, Object{}, err
	}

	f, err := os.Open(src)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, Object{}, ErrNotFound
		}
		return nil, Object{}, fmt.Errorf("opening file %s: %w", key, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, Object{}, fmt.Errorf("stat file %s: %w", key, err)
	}

	return f, Object{
		Key:          key,
		Size:         info.Size(),
		ContentType:  mime.TypeByExtension(path.Ext(key)),
		LastModified: info.ModTime(),
	}, nil
}

func (l *Local) Delete(_ context.Context, key string) error {
	p, err := l.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing file %s: %w", key, err)
	}
	return nil
}

func (l *Local) Copy(ctx context.Context, src, dst string) (string, error) {
	r, _, err := l.Get(ctx, src)
	if err != nil {
		return "", fmt.Errorf("copying %s: %w", src, err)
	}
	defer r.Close()

	return l.Put(ctx, dst, r, "")
}

func (l *Local) List(_ context.Context, prefix string) ([]Object, error) {
	var objects []Object

	err := filepath.WalkDir(l.basePath, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(l.basePath, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		objects = append(objects, Object{
			Key:          key,
			Size:         info.Size(),
			ContentType:  mime.TypeByExtension(path.Ext(key)),
			LastModified: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing files under %s: %w", prefix, err)
	}

	return objects, nil
}

func (l *Local) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	// No access control on local files.
	return l.urlPrefix + "/" + key, nil
}

// KeyFromURL maps a served URL back to its key. Absolute URLs are only
// ours when their path lies under the URL prefix, whatever host served them.
func (l *Local) KeyFromURL(rawURL string) string {
	if strings.HasPrefix(rawURL, l.urlPrefix+"/") {
		return strings.TrimPrefix(rawURL, l.urlPrefix+"/")
	}
	if !isAbsoluteURL(rawURL) {
		return keyFromPath(rawURL, "", nil)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	prefix := l.urlPrefix
	if isAbsoluteURL(prefix) {
		if p, err := url.Parse(prefix); err == nil {
			prefix = p.Path
		}
	}
	if key, ok := strings.CutPrefix(u.Path, prefix+"/"); ok {
		return key
	}
	return ""
}

// path maps a key to a filesystem path, refusing keys that escape basePath.
func (l *Local) path(key string) (string, error) {
	clean := path.Clean("/" + key)
	if clean == "/" {
		return "", fmt.Errorf("invalid key %q", key)
	}
	return filepath.Join(l.basePath, filepath.FromSlash(clean)), nil
}
