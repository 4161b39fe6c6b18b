package images

import (
	"fmt"
	"math/rand/v2"
	"path"
	"strings"
	"time"
)

// NewCarID is the car id used by the upload form before the car exists.
// Uploads for it are staged under a temp_ batch prefix.
const NewCarID = "new"

const keyAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// allowedContentTypes lists the MIME types accepted for listing photos.
var allowedContentTypes = map[string]bool{
	"image/jpeg": true,
	"image/jpg":  true,
	"image/png":  true,
	"image/webp": true,
}

// Prefix returns the storage prefix for an upload batch.
func Prefix(carID, batchID string) string {
	if carID == NewCarID {
		return "cars/temp_" + batchID + "/"
	}
	return "cars/" + carID + "/"
}

// TempPrefix returns the prefix holding the staged uploads of a batch.
func TempPrefix(batchID string) string {
	return Prefix(NewCarID, batchID)
}

// BuildKey returns a collision-resistant key for filename under prefix:
// {prefix}{base}_{unixMs}_{rand6}.{ext}.
func BuildKey(prefix, filename string, now time.Time) string {
	base, ext := splitFilename(filename)
	return fmt.Sprintf("%s%s_%d_%s.%s", prefix, base, now.UnixMilli(), randSuffix(6), ext)
}

// DefaultBatchID returns the batch id used when the client sends none.
func DefaultBatchID(now time.Time) string {
	return fmt.Sprintf("b_%d", now.UnixMilli())
}

// splitFilename returns the sanitized base name and lowercased extension.
func splitFilename(filename string) (string, string) {
	// Browsers on Windows may send the full client path.
	if i := strings.LastIndexAny(filename, `/\`); i >= 0 {
		filename = filename[i+1:]
	}

	ext := strings.ToLower(strings.TrimPrefix(path.Ext(filename), "."))
	base := strings.TrimSuffix(filename, path.Ext(filename))
	if !isSafeSegment(ext) {
		ext = "jpg"
	}
	return sanitizeBase(base), ext
}

// sanitizeBase lowercases name, replaces anything outside [a-z0-9_-] with
// '-', collapses runs of '-' and trims leading and trailing '-' and '.'.
func sanitizeBase(name string) string {
	var sb strings.Builder
	lastDash := false
	for _, r := range strings.ToLower(name) {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_':
			sb.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				sb.WriteByte('-')
				lastDash = true
			}
		}
	}

	result := strings.Trim(sb.String(), "-.")
	if result == "" {
		return "img"
	}
	return result
}

func randSuffix(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = keyAlphabet[rand.IntN(len(keyAlphabet))]
	}
	return string(b)
}

// isSafeSegment reports whether s can be used as a single key segment:
// non-empty and limited to [A-Za-z0-9_-].
func isSafeSegment(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_') {
			return false
		}
	}
	return true
}

// isValidImageMagicBytes checks the first bytes of a file against the
// JPEG, PNG and WebP signatures.
func isValidImageMagicBytes(buf []byte) bool {
	if len(buf) < 4 {
		return false
	}

	// JPEG: FF D8 FF
	if buf[0] == 0xFF && buf[1] == 0xD8 && buf[2] == 0xFF {
		return true
	}

	// PNG: 89 50 4E 47
	if buf[0] == 0x89 && buf[1] == 0x50 && buf[2] == 0x4E && buf[3] == 0x47 {
		return true
	}

	// WebP: "RIFF" ???? "WEBP"
	if len(buf) >= 12 && string(buf[0:4]) == "RIFF" && string(buf[8:12]) == "WEBP" {
		return true
	}

	return false
}
