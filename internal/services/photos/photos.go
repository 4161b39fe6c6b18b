// Package photos handles listing photo lists: their persisted JSON form,
// the orphan diff between two versions and concurrent removal of orphaned
// objects from storage.
package photos

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/carmarket/api/internal/storage"
)

// Placeholder is the image shown for cars created without photos. It is a
// static asset and never deleted from storage.
const Placeholder = "/placeholder.jpg"

// List is an ordered set of photo references (URLs or storage keys).
// Element 0 is the primary image.
type List []string

// Decode parses a persisted photo column. Empty or malformed values decode
// to an empty list.
func Decode(raw string) List {
	var l List
	if strings.TrimSpace(raw) == "" {
		return List{}
	}
	if err := json.Unmarshal([]byte(raw), &l); err != nil || l == nil {
		return List{}
	}
	return l
}

// Encode returns the persisted form of l. A nil list encodes as "[]".
func (l List) Encode() string {
	if l == nil {
		return "[]"
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return "[]"
	}
	return string(b)
}

// Primary returns the first photo, or "" for an empty list.
func (l List) Primary() string {
	if len(l) == 0 {
		return ""
	}
	return l[0]
}

// Removed returns the references present in old but not in updated, in
// the order they appear in old and without duplicates.
func Removed(old, updated List) []string {
	keep := make(map[string]struct{}, len(updated))
	for _, p := range updated {
		keep[p] = struct{}{}
	}

	var removed []string
	seen := make(map[string]struct{})
	for _, p := range old {
		if _, ok := keep[p]; ok {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		removed = append(removed, p)
	}
	return removed
}

// Result summarises a Reap call.
type Result struct {
	Deleted int      `json:"deleted"`
	Failed  int      `json:"failed"`
	Total   int      `json:"total"`
	Errors  []string `json:"errors"`
}

// Reaper deletes orphaned photo objects.
type Reaper struct {
	store       storage.Storage
	logger      *slog.Logger
	concurrency int
}

// NewReaper creates a Reaper deleting from store.
func NewReaper(store storage.Storage, logger *slog.Logger) *Reaper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reaper{store: store, logger: logger, concurrency: 8}
}

// Reap resolves every reference to a storage key and deletes them
// concurrently. A failed delete is logged and counted; it never cancels
// the others. The placeholder and references that resolve to no key are
// skipped.
func (r *Reaper) Reap(ctx context.Context, refs []string) Result {
	keys := make([]string, 0, len(refs))
	for _, ref := range refs {
		if ref == "" || ref == Placeholder {
			continue
		}
		if key := r.store.KeyFromURL(ref); key != "" {
			keys = append(keys, key)
		}
	}

	res := Result{Total: len(keys), Errors: []string{}}
	if len(keys) == 0 {
		return res
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(r.concurrency)

	for _, key := range keys {
		g.Go(func() error {
			err := r.store.Delete(ctx, key)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failed++
				res.Errors = append(res.Errors, err.Error())
				r.logger.Warn("failed to delete orphaned image",
					slog.String("key", key),
					slog.String("error", err.Error()),
				)
				return nil
			}
			res.Deleted++
			return nil
		})
	}
	g.Wait()

	if res.Deleted > 0 {
		r.logger.Info("orphaned images deleted",
			slog.Int("deleted", res.Deleted),
			slog.Int("failed", res.Failed),
		)
	}
	return res
}
