// Package secrets produces random credentials for new principals.
package secrets

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	"golang.org/x/crypto/bcrypt"
)

// Letters, digits, and a few symbols the cluster accepts in basic-auth
// passwords without escaping headaches.
const passwordAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789-_"

// DefaultPasswordLength matches the length used for bootstrap principals.
const DefaultPasswordLength = 24

// NewPassword returns a random password of n characters drawn from a
// CSPRNG. n below 12 is rejected.
func NewPassword(n int) (string, error) {
	if n < 12 {
		return "", errors.New("secrets: password length below 12")
	}
	max := big.NewInt(int64(len(passwordAlphabet)))
	buf := make([]byte, n)
	for i := range buf {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("secrets: read entropy: %w", err)
		}
		buf[i] = passwordAlphabet[idx.Int64()]
	}
	return string(buf), nil
}

// Hash hashes a plaintext password with bcrypt for storage in cluster
// users files.
func Hash(password string) (string, error) {
	if len(password) == 0 {
		return "", errors.New("secrets: password is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Verify compares a plaintext password with a stored bcrypt hash.
func Verify(hash, password string) error {
	if hash == "" {
		return errors.New("secrets: password hash is empty")
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}
