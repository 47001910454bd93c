package serialization

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// TestComputeChecksumReader verifies checksum computation from reader.
func TestComputeChecksumReader(t *testing.T) {
	data := []byte("test data for reader")
	reader := bytes.NewReader(data)

	checksum, err := ComputeChecksumReader(reader)
	if err != nil {
		t.Fatalf("ComputeChecksumReader failed: %v", err)
	}

	// Should match direct computation
	expected := sha256.Sum256(data)
	if checksum != expected {
		t.Error("Reader checksum should match direct checksum")
	}
}

// TestValidateChecksum verifies checksum validation.
func TestValidateChecksum(t *testing.T) {
	data := []byte("test data")
	checksum := sha256.Sum256(data)

	// Valid checksum should pass
	if err := ValidateChecksum(checksum, checksum); err != nil {
		t.Errorf("Expected no error for matching checksums, got: %v", err)
	}

	// Invalid checksum should fail
	wrongChecksum := [32]byte{1, 2, 3, 4, 5, 6, 7, 8}
	err := ValidateChecksum(checksum, wrongChecksum)
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Errorf("Expected ErrChecksumMismatch, got: %v", err)
	}
}

// TestKnownVectorSHA256 verifies SHA-256 produces correct known vectors.
func TestKnownVectorSHA256(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string // hex representation
	}{
		{
			name:     "empty string",
			input:    "",
			expected: "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		},
		{
			name:     "hello world",
			input:    "hello world",
			expected: "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checksum, err := ComputeChecksumReader(strings.NewReader(tt.input))
			if err != nil {
				t.Fatal(err)
			}
			got := FormatChecksum(checksum)
			if got != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, got)
			}
		})
	}
}

// TestComputeChecksumFile verifies hashing a file on disk.
func TestComputeChecksumFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.bin")
	if err := os.WriteFile(path, []byte("hello world"), 0o600); err != nil {
		t.Fatal(err)
	}
	sum, err := ComputeChecksumFile(path)
	if err != nil {
		t.Fatalf("ComputeChecksumFile failed: %v", err)
	}
	if sum != sha256.Sum256([]byte("hello world")) {
		t.Error("File checksum should match direct checksum")
	}

	if _, err := ComputeChecksumFile(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("Expected error for missing file")
	}
}
