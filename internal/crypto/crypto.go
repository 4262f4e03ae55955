// Package crypto derives stream credentials for assigned views and
// verifies control passwords.
package crypto

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// StreamID derives the stable pseudo-random stream identifier for a named
// view slot. Deterministic for a given (rig, view, secret) triple so
// reconnecting displays keep their stream.
func StreamID(secret, rig, view string) string {
	return deriveToken(fmt.Sprintf("%s-%s-%s", rig, view, secret))
}

// StreamKey derives the stream credential for a named view slot. Unlike
// the id it also mixes in the rig's control password, so it cannot be
// reconstructed without controller access.
func StreamKey(secret, rig, view, controlPassword string) string {
	return deriveToken(fmt.Sprintf("%s-%s-%s-%s", rig, view, controlPassword, secret))
}

// deriveToken hashes the material and strips the encoding down to an
// alphanumeric token accepted by streaming backends.
func deriveToken(material string) string {
	sum := sha256.Sum256([]byte(material))
	token := base64.RawURLEncoding.EncodeToString(sum[:])
	token = strings.ReplaceAll(token, "-", "")
	return strings.ReplaceAll(token, "_", "")
}

// VerifyControlPassword compares a supplied secret against the configured
// control password. Plaintext values are compared in constant time;
// bcrypt hashes (recognized by their "$2" prefix) are verified as hashes.
func VerifyControlPassword(supplied, configured string) bool {
	if configured == "" {
		return false
	}
	if strings.HasPrefix(configured, "$2") {
		return bcrypt.CompareHashAndPassword([]byte(configured), []byte(supplied)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(supplied), []byte(configured)) == 1
}
