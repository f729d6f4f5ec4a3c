// Package crypto provides password hashing for the auth flow.
//
// Clients never send a plaintext password: HashPassword produces the hex
// SHA-256 digest that travels in AUTH frames. The server then stores that
// digest only as an Argon2id credential (HashCredential) and checks logins
// with VerifyCredential.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
)

var ErrInvalidCredential = errors.New("crypto: invalid credential encoding")

const (
	credentialScheme = "argon2id"
	saltLen          = 16
	keyLen           = 32
)

// HashPassword returns the lowercase hex SHA-256 digest of password.
func HashPassword(password string) string {
	h := sha256.Sum256([]byte(password))
	return hex.EncodeToString(h[:])
}

// HashCredential derives a storable credential from a client password hash
// using Argon2id with a fresh random salt. Format: argon2id$<salt>$<key>.
func HashCredential(passwordHash string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("crypto: generate salt: %w", err)
	}
	key := deriveKey(passwordHash, salt)
	return credentialScheme + "$" + hex.EncodeToString(salt) + "$" + hex.EncodeToString(key), nil
}

// VerifyCredential reports whether passwordHash matches a credential from HashCredential.
func VerifyCredential(credential, passwordHash string) (bool, error) {
	parts := strings.Split(credential, "$")
	if len(parts) != 3 || parts[0] != credentialScheme {
		return false, ErrInvalidCredential
	}
	salt, err := hex.DecodeString(parts[1])
	if err != nil {
		return false, fmt.Errorf("%w: salt: %v", ErrInvalidCredential, err)
	}
	want, err := hex.DecodeString(parts[2])
	if err != nil {
		return false, fmt.Errorf("%w: key: %v", ErrInvalidCredential, err)
	}
	got := deriveKey(passwordHash, salt)
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

func deriveKey(passwordHash string, salt []byte) []byte {
	return argon2.IDKey([]byte(passwordHash), salt, 1, 64*1024, 4, keyLen)
}
