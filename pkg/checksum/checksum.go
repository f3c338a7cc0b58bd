// Package checksum provides SHA-256 helpers for the catalog: strong HTTP
// entity tags for serialised catalog bodies and integrity checks for
// persisted cache snapshots.
package checksum

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
)

// CalculateSHA256 calculates the SHA256 checksum of data from a reader
func CalculateSHA256(reader io.Reader) (string, error) {
	hasher := sha256.New()

	if _, err := io.Copy(hasher, reader); err != nil {
		return "", fmt.Errorf("failed to calculate checksum: %w", err)
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// VerifySHA256 verifies that the checksum of data matches the expected checksum
func VerifySHA256(reader io.Reader, expectedChecksum string) (bool, error) {
	actualChecksum, err := CalculateSHA256(reader)
	if err != nil {
		return false, err
	}

	return actualChecksum == strings.ToLower(expectedChecksum), nil
}

// Sum returns the lowercase hex SHA256 of data.
func Sum(data []byte) string {
	sum, _ := CalculateSHA256(bytes.NewReader(data))
	return sum
}

// ETag returns a strong, quoted entity tag for body.
func ETag(body []byte) string {
	return `"` + Sum(body) + `"`
}

// MatchETag reports whether an If-None-Match header value matches etag.
// The header may list several tags, use weak tags or be "*".
func MatchETag(ifNoneMatch, etag string) bool {
	if ifNoneMatch == "" || etag == "" {
		return false
	}
	for _, candidate := range strings.Split(ifNoneMatch, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" {
			return true
		}
		if strings.TrimPrefix(candidate, "W/") == strings.TrimPrefix(etag, "W/") {
			return true
		}
	}
	return false
}
