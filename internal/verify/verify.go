// Package verify checks that an export left a usable artifact on disk.
package verify

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/born-ml/segport/internal/serialization"
)

// Report is the outcome of inspecting an artifact path.
type Report struct {
	Exists bool
	Size   int64
}

// OK reports whether the artifact exists and is non-empty.
func (r Report) OK() bool {
	return r.Exists && r.Size > 0
}

// Verify stats path. A missing file is reported with Exists == false and no
// error; other stat failures and non-regular files are errors.
func Verify(path string) (Report, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Report{}, nil
	}
	if err != nil {
		return Report{}, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return Report{}, fmt.Errorf("%s is not a regular file", path)
	}
	return Report{Exists: true, Size: info.Size()}, nil
}

// Checksum recomputes the SHA-256 of path and compares it with want.
func Checksum(path string, want [32]byte) error {
	got, err := serialization.ComputeChecksumFile(path)
	if err != nil {
		return fmt.Errorf("failed to hash %s: %w", path, err)
	}
	if err := serialization.ValidateChecksum(got, want); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}
