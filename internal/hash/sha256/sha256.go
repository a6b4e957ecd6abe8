// Package sha256 names raw payloads by their SHA-256 digest.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// shortLen is long enough to tell apart every payload stored for one filing.
const shortLen = 12

// Hex returns the full hex digest of data.
func Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Short returns the first 12 hex characters of the digest, for object keys.
func Short(data []byte) string {
	return Hex(data)[:shortLen]
}
