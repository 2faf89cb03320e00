package capture

import (
	"context"
	"errors"
	"time"
)

// ErrNavigationTimeout marks a navigation that did not settle in time.
var ErrNavigationTimeout = errors.New("navigation timeout")

// Renderer opens isolated browser sessions. Every call must return a fresh
// session that shares no state with previous ones.
type Renderer interface {
	Open(ctx context.Context, viewport Viewport) (Session, error)
}

// Session is one browser instance with one page. Close must be safe to call
// on every exit path and more than once.
type Session interface {
	Navigate(ctx context.Context, url string) error
	RemoveElements(ctx context.Context, selectors []string) error
	Screenshot(ctx context.Context) ([]byte, error)
	Close() error
}

// Packager compresses a finished output tree and returns the archive path.
type Packager interface {
	Package(ctx context.Context, dir string) (string, error)
}

// Clock abstracts time so waits can be fast-forwarded in tests.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// Hasher computes digests used to disambiguate file names.
type Hasher interface {
	Hash(data []byte) (string, error)
}
