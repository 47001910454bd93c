package serialization

import "errors"

// Common errors.
var (
	ErrChecksumMismatch = errors.New("checksum mismatch: file may be corrupted")
	ErrEmptyPath        = errors.New("destination path is empty")
)
