package util

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// Fingerprint returns the hex blake2b-256 digest of parts, each followed by a NUL separator.
func Fingerprint(parts ...[]byte) string {
	h, _ := blake2b.New256(nil)
	for _, p := range parts {
		h.Write(p)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
