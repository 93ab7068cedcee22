// Package integrity computes content fingerprints used to detect that a
// document's bytes were altered after upload.
package integrity

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint returns the SHA-256 digest of content as a lowercase hex string.
// It is deterministic: identical bytes always yield the identical fingerprint.
// The fingerprint must be computed over the originally submitted bytes, before
// any store-side transformation.
func Fingerprint(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
