// Package packager archives a finished capture tree as a zip file next to it.
package packager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zip"
	"go.uber.org/zap"
)

// Config controls archive behavior.
type Config struct {
	// RemoveSource deletes the unpacked tree after a successful archive.
	RemoveSource bool `mapstructure:"remove_source"`
}

// Zip implements capture.Packager.
type Zip struct {
	cfg    Config
	logger *zap.Logger
}

// New constructs a Zip packager.
func New(cfg Config, logger *zap.Logger) *Zip {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Zip{cfg: cfg, logger: logger}
}

// Package writes dir + ".zip" containing every file and directory under dir
// with paths relative to dir. A partial archive is removed on failure.
func (z *Zip) Package(ctx context.Context, dir string) (archive string, err error) {
	dir = filepath.Clean(dir)
	info, err := os.Stat(dir)
	if err != nil {
		return "", fmt.Errorf("stat source: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("source %s is not a directory", dir)
	}

	archive = dir + ".zip"
	f, err := os.OpenFile(archive, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600) // #nosec G304 -- derived from job root
	if err != nil {
		return "", fmt.Errorf("create archive: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(archive)
			archive = ""
		}
	}()

	zw := zip.NewWriter(f)
	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if path == dir {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return fmt.Errorf("relative path: %w", err)
		}
		return addEntry(zw, path, filepath.ToSlash(rel), d)
	})
	closeErr := zw.Close()
	fileErr := f.Close()
	if err = errors.Join(walkErr, closeErr, fileErr); err != nil {
		return "", fmt.Errorf("write archive: %w", err)
	}

	if z.cfg.RemoveSource {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			z.logger.Warn("remove source tree failed", zap.String("dir", dir), zap.Error(rmErr))
		}
	}
	return archive, nil
}

func addEntry(zw *zip.Writer, path, name string, d fs.DirEntry) error {
	info, err := d.Info()
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("header %s: %w", path, err)
	}
	hdr.Name = name
	if d.IsDir() {
		hdr.Name += "/"
		hdr.Method = zip.Store
		_, err = zw.CreateHeader(hdr)
		return err
	}
	if !info.Mode().IsRegular() {
		return nil
	}
	hdr.Method = zip.Deflate
	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("entry %s: %w", name, err)
	}
	src, err := os.Open(path) // #nosec G304 -- walking our own tree
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer src.Close()
	if _, err := io.Copy(w, src); err != nil {
		return fmt.Errorf("copy %s: %w", path, err)
	}
	return nil
}
