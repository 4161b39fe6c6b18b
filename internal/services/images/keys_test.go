package images

import (
	"regexp"
	"testing"
	"time"
)

func TestSanitizeBase(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"photo", "photo"},
		{"My Car (1)", "my-car-1"},
		{"front__view", "front__view"},
		{"---weird...name---", "weird-name"},
		{"Ämäzing", "m-zing"},
		{"", "img"},
		{"...", "img"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := sanitizeBase(tt.in); got != tt.want {
				t.Errorf("sanitizeBase(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSplitFilename(t *testing.T) {
	tests := []struct {
		in       string
		wantBase string
		wantExt  string
	}{
		{"photo.JPG", "photo", "jpg"},
		{"C:\\Users\\me\\car.webp", "car", "webp"},
		{"../../etc/passwd", "passwd", "jpg"},
		{"noext", "noext", "jpg"},
		{"archive.tar.gz", "archive-tar", "gz"},
		{"bad.ex t", "bad", "jpg"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			base, ext := splitFilename(tt.in)
			if base != tt.wantBase || ext != tt.wantExt {
				t.Errorf("splitFilename(%q) = %q, %q; want %q, %q", tt.in, base, ext, tt.wantBase, tt.wantExt)
			}
		})
	}
}

func TestBuildKey(t *testing.T) {
	now := time.UnixMilli(1700000000123)
	key := BuildKey(Prefix("new", "b1"), "Front View.PNG", now)

	re := regexp.MustCompile(`^cars/temp_b1/front-view_1700000000123_[a-z0-9]{6}\.png$`)
	if !re.MatchString(key) {
		t.Errorf("key %q does not match %s", key, re)
	}

	if other := BuildKey(Prefix("new", "b1"), "Front View.PNG", now); other == key {
		t.Error("keys for the same file and instant should differ")
	}
}

func TestPrefix(t *testing.T) {
	if got := Prefix("new", "b1"); got != "cars/temp_b1/" {
		t.Errorf("new car: got %q", got)
	}
	if got := Prefix("42", "b1"); got != "cars/42/" {
		t.Errorf("existing car: got %q", got)
	}
	if got := DefaultBatchID(time.UnixMilli(5)); got != "b_5" {
		t.Errorf("default batch: got %q", got)
	}
}

func TestIsValidImageMagicBytes(t *testing.T) {
	tests := []struct {
		name string
		buf  []byte
		want bool
	}{
		{"jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0}, true},
		{"png", []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A}, true},
		{"webp", []byte("RIFF\x00\x00\x00\x00WEBPVP8 "), true},
		{"gif", []byte("GIF89a"), false},
		{"short", []byte{0xFF, 0xD8}, false},
		{"text", []byte("hello world"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isValidImageMagicBytes(tt.buf); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}
