// Package verify computes and checks file digests after assembly.
//
// The digest is a streamed SHA-256 so multi-gigabyte installers never get
// loaded into memory. Callers that supply no expected digest get the
// computed value back but must treat the file as unverified, not verified.
package verify

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
)

// MismatchError is returned when the assembled file's digest does not match
// the expected value. The file is retained on disk for inspection; it must
// never be reported as a success.
type MismatchError struct {
	Path string
	Want string
	Got  string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("verify: digest mismatch for %s: got %s, want %s", e.Path, e.Got, e.Want)
}

// Digest streams path through SHA-256 and returns the hex digest.
func Digest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("verify: open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("verify: read %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// File computes the digest of path and compares it to expected when one is
// given. It returns the computed digest either way; a non-empty expected
// value that differs yields a *MismatchError. Comparison is case-insensitive
// since upstream pages publish digests in either case.
func File(path, expected string) (string, error) {
	digest, err := Digest(path)
	if err != nil {
		return "", err
	}
	if expected != "" && !strings.EqualFold(digest, expected) {
		return digest, &MismatchError{Path: path, Want: strings.ToLower(expected), Got: digest}
	}
	return digest, nil
}
