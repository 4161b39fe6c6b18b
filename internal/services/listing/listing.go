// Package listing holds what car and part listings share: statuses,
// owner summaries, required-field validation and paging.
package listing

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

// Listing statuses.
const (
	StatusDraft     = "draft"
	StatusPublished = "published"
	StatusSold      = "sold"
)

// MaxLimit caps the page size of list queries.
const MaxLimit = 100

var (
	// ErrForbidden is returned when the caller does not own the listing.
	ErrForbidden = errors.New("only the owning admin can modify this listing")

	// ErrInvalidStatus is returned for a status outside draft, published and sold.
	ErrInvalidStatus = errors.New("status must be one of draft, published, sold")
)

// Owner is the admin summary embedded in listing responses.
type Owner struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Email string    `json:"email"`
}

// ValidationError lists required fields that are absent or blank.
type ValidationError struct {
	Missing []string
}

func (e *ValidationError) Error() string {
	return "missing required fields: " + strings.Join(e.Missing, ", ")
}

// Fields collects missing required fields by JSON name, in the order they
// are checked.
type Fields struct {
	missing []string
}

// String records name as missing when v is nil or blank.
func (f *Fields) String(name string, v *string) {
	if v == nil || strings.TrimSpace(*v) == "" {
		f.missing = append(f.missing, name)
	}
}

// BlankString records name as missing when v is present but blank. Update
// payloads use it: absent fields are left unchanged, blank ones are refused.
func (f *Fields) BlankString(name string, v *string) {
	if v != nil && strings.TrimSpace(*v) == "" {
		f.missing = append(f.missing, name)
	}
}

// Present records name as missing when present is false.
func (f *Fields) Present(name string, present bool) {
	if !present {
		f.missing = append(f.missing, name)
	}
}

// Err returns a *ValidationError when anything was recorded.
func (f *Fields) Err() error {
	if len(f.missing) == 0 {
		return nil
	}
	return &ValidationError{Missing: f.missing}
}

// ValidStatus reports whether s is a known listing status.
func ValidStatus(s string) bool {
	switch s {
	case StatusDraft, StatusPublished, StatusSold:
		return true
	}
	return false
}

// Page normalises page and limit and returns the row offset.
func Page(page, limit, defaultLimit int) (int, int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	return page, limit, (page - 1) * limit
}

// LikePattern escapes s for use as a substring pattern with ILIKE.
func LikePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(s) + "%"
}
