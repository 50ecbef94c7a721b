package storage

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	// bcryptCost 10 is roughly 60ms per hash.
	bcryptCost  = 10
	bcryptLimit = 72

	maskVisible = 4
)

// ErrEmptyAPIKey is returned when hashing an empty API key.
var ErrEmptyAPIKey = errors.New("API key cannot be empty")

// HashAPIKey returns a bcrypt hash of the collector API key, suitable for the
// COLLECTOR_API_KEY_HASH setting. Keys longer than bcrypt's 72-byte input limit
// are pre-hashed with SHA-256.
func HashAPIKey(apiKey string) (string, error) {
	if apiKey == "" {
		return "", ErrEmptyAPIKey
	}

	hash, err := bcrypt.GenerateFromPassword(keyInput(apiKey), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash API key: %w", err)
	}

	return string(hash), nil
}

// CompareAPIKeyHash reports whether apiKey matches hash. Empty inputs and
// malformed hashes never match.
func CompareAPIKeyHash(hash, apiKey string) bool {
	if hash == "" || apiKey == "" {
		return false
	}

	return bcrypt.CompareHashAndPassword([]byte(hash), keyInput(apiKey)) == nil
}

// MaskKey hides all but the last four characters of a key for logging.
func MaskKey(key string) string {
	if len(key) <= maskVisible {
		return strings.Repeat("*", len(key))
	}

	return strings.Repeat("*", len(key)-maskVisible) + key[len(key)-maskVisible:]
}

func keyInput(apiKey string) []byte {
	if len(apiKey) <= bcryptLimit {
		return []byte(apiKey)
	}

	sum := sha256.Sum256([]byte(apiKey))

	return sum[:]
}
