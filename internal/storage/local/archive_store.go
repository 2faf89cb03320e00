// Package local serves finished archives from the capture output directory.
package local

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/pagecapture/internal/store"
)

// ErrPathOutsideRoot is returned for paths that escape the base directory.
var ErrPathOutsideRoot = errors.New("path outside output directory")

// Config captures the parameters for the archive store.
type Config struct {
	// BaseDir is the capture output directory.
	BaseDir string `mapstructure:"base_dir"`
}

// ArchiveStore resolves and opens archives confined to BaseDir.
type ArchiveStore struct {
	baseDir string
}

// New creates an ArchiveStore, creating BaseDir when it does not exist.
func New(cfg Config) (*ArchiveStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	abs, err := filepath.Abs(cfg.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve base directory: %w", err)
	}
	info, err := os.Stat(abs)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if mkErr := os.MkdirAll(abs, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create base directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("stat base directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("base directory path is not a directory")
	}
	return &ArchiveStore{baseDir: abs}, nil
}

// BaseDir returns the absolute output directory.
func (s *ArchiveStore) BaseDir() string { return s.baseDir }

// Resolve maps a client-supplied path (absolute, or relative to BaseDir) to
// an absolute path inside BaseDir.
func (s *ArchiveStore) Resolve(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", fmt.Errorf("archive path is required: %w", store.ErrNotFound)
	}
	full := p
	if !filepath.IsAbs(full) {
		full = filepath.Join(s.baseDir, full)
	}
	full = filepath.Clean(full)
	rel, err := filepath.Rel(s.baseDir, full)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrPathOutsideRoot
	}
	return full, nil
}

// Open resolves p and opens it as a regular file. Missing files and
// directories report store.ErrNotFound.
func (s *ArchiveStore) Open(p string) (*os.File, fs.FileInfo, error) {
	full, err := s.Resolve(p)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(full) // #nosec G304 -- confined to baseDir by Resolve
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, fmt.Errorf("open %s: %w", full, store.ErrNotFound)
		}
		return nil, nil, fmt.Errorf("open %s: %w", full, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, nil, fmt.Errorf("stat %s: %w", full, err)
	}
	if !info.Mode().IsRegular() {
		_ = f.Close()
		return nil, nil, fmt.Errorf("%s is not a file: %w", full, store.ErrNotFound)
	}
	return f, info, nil
}
