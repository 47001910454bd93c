package serialization

import (
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Result describes a published file.
type Result struct {
	Path     string
	Size     int64
	Checksum [32]byte
}

// countingWriter counts bytes written through it.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// Publish atomically replaces path with the bytes produced by write.
// The destination directory must exist. On any failure the temporary file is
// removed and an existing file at path is left untouched.
func Publish(path string, write func(w io.Writer) error) (*Result, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpName := tmp.Name()
	ok := false
	defer func() {
		if !ok {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	h := sha256.New()
	cw := &countingWriter{w: io.MultiWriter(tmp, h)}
	if err := write(cw); err != nil {
		return nil, err
	}
	if err := tmp.Sync(); err != nil {
		return nil, fmt.Errorf("failed to sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("failed to close %s: %w", tmpName, err)
	}
	//nolint:gosec // G302: artifacts are meant to be readable by other tools.
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return nil, fmt.Errorf("failed to set permissions on %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return nil, fmt.Errorf("failed to publish %s: %w", path, err)
	}
	ok = true

	res := &Result{Path: path, Size: cw.n}
	copy(res.Checksum[:], h.Sum(nil))
	return res, nil
}
