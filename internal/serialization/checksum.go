package serialization

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
)

// ComputeChecksumReader computes SHA-256 checksum from an io.Reader.
// This is useful for computing checksums of large files without loading them entirely into memory.
func ComputeChecksumReader(r io.Reader) ([32]byte, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return [32]byte{}, err
	}
	var sum [32]byte
	copy(sum[:], h.Sum(nil))
	return sum, nil
}

// ComputeChecksumFile computes the SHA-256 checksum of the file at path.
func ComputeChecksumFile(path string) ([32]byte, error) {
	//nolint:gosec // G304: path is an artifact this process wrote.
	f, err := os.Open(path)
	if err != nil {
		return [32]byte{}, err
	}
	defer func() { _ = f.Close() }()
	return ComputeChecksumReader(f)
}

// ValidateChecksum compares computed checksum against stored checksum.
// Returns ErrChecksumMismatch if they don't match.
func ValidateChecksum(computed, stored [32]byte) error {
	if computed != stored {
		return ErrChecksumMismatch
	}
	return nil
}

// FormatChecksum returns the lowercase hex form of sum.
func FormatChecksum(sum [32]byte) string {
	return hex.EncodeToString(sum[:])
}
