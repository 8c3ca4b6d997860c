package schulmanager

import (
	"crypto/sha512"
	"encoding/hex"
	"unicode/utf8"

	"golang.org/x/crypto/pbkdf2"
)

// Key-derivation parameters fixed by the platform's web client. The salt and
// the password both go into PBKDF2 as UTF-8 text, never hex-decoded.
const (
	hashIterations = 99999
	hashKeyBytes   = 512
)

// DeriveLoginHash derives the login hash from the account secret and a
// server-issued salt using PBKDF2-HMAC-SHA512. The result is a 1024
// character hex string. The function is pure; identical inputs always yield
// identical output, and the output length does not depend on the input
// length.
//
// A salt is consumed exactly once: the hash must be recomputed from a fresh
// salt for every login attempt.
func DeriveLoginHash(secret, salt string) (string, error) {
	if !utf8.ValidString(secret) {
		return "", &HashingError{Reason: "secret is not valid UTF-8"}
	}
	if !utf8.ValidString(salt) {
		return "", &HashingError{Reason: "salt is not valid UTF-8"}
	}
	if salt == "" {
		return "", &HashingError{Reason: "salt is empty"}
	}

	key := pbkdf2.Key([]byte(secret), []byte(salt), hashIterations, hashKeyBytes, sha512.New)
	return hex.EncodeToString(key), nil
}
