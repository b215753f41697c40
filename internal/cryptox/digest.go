// Package cryptox holds digest helpers for one-time secrets (OTP codes and
// opaque tokens) that must be stored without their plaintext.
package cryptox

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// Digest returns the lowercase hex SHA-256 of s.
func Digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// EqualDigest reports whether Digest(plain) equals stored, in constant time.
// An empty stored digest never matches.
func EqualDigest(plain, stored string) bool {
	if stored == "" {
		return false
	}
	got := Digest(plain)
	return subtle.ConstantTimeCompare([]byte(got), []byte(stored)) == 1
}
