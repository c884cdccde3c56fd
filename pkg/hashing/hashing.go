// Package hashing computes and verifies artifact digests.
//
// Digests are SHA-256, rendered as lowercase hex. Input is streamed in
// fixed-size blocks so archives of any size are hashed without being
// buffered in memory. Verification is exact equality only; a mismatch is
// reported as false and callers turn it into an INTEGRITY error.
package hashing

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
)

// BlockSize is the read size used when streaming content into the digest.
const BlockSize = 64 * 1024

// HashSuffix is appended to an archive path to name its detached digest file.
const HashSuffix = ".hash"

// Digest streams r and returns the hex-encoded SHA-256 digest.
func Digest(r io.Reader) (string, error) {
	h := sha256.New()
	buf := make([]byte, BlockSize)
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// DigestBytes returns the hex-encoded SHA-256 digest of data.
func DigestBytes(data []byte) string {
	sum, _ := Digest(bytes.NewReader(data))
	return sum
}

// DigestFile returns the digest of the file at path.
func DigestFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return Digest(bufio.NewReaderSize(f, BlockSize))
}

// Verify recomputes the digest of r and compares it with expected.
// Hex case is ignored; any other difference is a mismatch.
func Verify(r io.Reader, expected string) (bool, error) {
	actual, err := Digest(r)
	if err != nil {
		return false, err
	}
	return Equal(actual, expected), nil
}

// VerifyFile is [Verify] for a file on disk.
func VerifyFile(path, expected string) (bool, error) {
	actual, err := DigestFile(path)
	if err != nil {
		return false, err
	}
	return Equal(actual, expected), nil
}

// Equal compares two hex digests.
func Equal(a, b string) bool {
	a, b = Normalize(a), Normalize(b)
	return a != "" && a == b
}

// Normalize trims whitespace and lowercases a hex digest as found in
// .hash files and index documents.
func Normalize(digest string) string {
	return strings.ToLower(strings.TrimSpace(digest))
}

// WriteHashFile computes the digest of the archive at path and writes it
// to path+".hash". It returns the digest.
func WriteHashFile(path string) (string, error) {
	sum, err := DigestFile(path)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path+HashSuffix, []byte(sum), 0o644); err != nil {
		return "", err
	}
	return sum, nil
}

// ReadHashFile reads the detached digest of the archive at path.
func ReadHashFile(path string) (string, error) {
	data, err := os.ReadFile(path + HashSuffix)
	if err != nil {
		return "", err
	}
	sum := Normalize(string(data))
	if !IsDigest(sum) {
		return "", fmt.Errorf("malformed digest in %s", path+HashSuffix)
	}
	return sum, nil
}

// IsDigest reports whether s looks like a hex SHA-256 digest.
func IsDigest(s string) bool {
	if len(s) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
