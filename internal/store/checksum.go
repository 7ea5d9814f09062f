package store

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// fileChecksum returns the hex-encoded SHA-256 digest of the file at path,
// per spec §3's "cryptographic digest" requirement.
func fileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Checksum is the exported form of fileChecksum, used by internal/audiocap
// to recompute a segment's checksum from the file already written to disk.
func Checksum(path string) (string, error) {
	return fileChecksum(path)
}

// ChecksumBytes returns the hex-encoded SHA-256 digest of data, used by
// internal/audiocap to compute a segment's checksum before it is written
// to disk.
func ChecksumBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
