package capture

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/JakeFAU/pagecapture/internal/hash/sha256"
)

var schemePrefix = regexp.MustCompile(`^https?://`)

const digestLen = 8

// Slug turns a URL into the screenshot file name for a device class:
// the http(s) scheme is dropped, every "/" becomes "_", and the device name
// plus ".png" is appended.
func Slug(rawURL, device string) string {
	base := schemePrefix.ReplaceAllString(rawURL, "")
	base = strings.ReplaceAll(base, "/", "_")
	return base + "_" + device + ".png"
}

// PathFor maps (root, locale, device, url) to root/locale/device/slug.
func PathFor(root, locale, device, rawURL string) string {
	return filepath.Join(root, locale, device, Slug(rawURL, device))
}

// Layout decides file names for a job. The zero value reproduces PathFor.
type Layout struct {
	// HashSuffix adds a URL digest to every file name, not only to colliding ones.
	HashSuffix bool
	// Hasher defaults to SHA-256.
	Hasher Hasher
}

// PathFor applies the layout policy to one capture.
func (l Layout) PathFor(root, locale, device, rawURL string) string {
	if !l.HashSuffix {
		return PathFor(root, locale, device, rawURL)
	}
	return l.digestPath(root, locale, device, rawURL, 0)
}

// digestPath inserts a short URL digest (and an ordinal when n > 1) before
// the device suffix.
func (l Layout) digestPath(root, locale, device, rawURL string, n int) string {
	slug := strings.TrimSuffix(Slug(rawURL, device), "_"+device+".png")
	tag := l.digest(rawURL)
	if n > 1 {
		tag += "-" + strconv.Itoa(n)
	}
	name := slug + "_" + tag + "_" + device + ".png"
	return filepath.Join(root, locale, device, name)
}

func (l Layout) digest(rawURL string) string {
	hasher := l.Hasher
	if hasher == nil {
		hasher = sha256.New()
	}
	sum, err := hasher.Hash([]byte(rawURL))
	if err != nil || sum == "" {
		return "x"
	}
	if len(sum) > digestLen {
		sum = sum[:digestLen]
	}
	return sum
}
