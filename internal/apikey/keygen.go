package apikey

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/alexedwards/argon2id"
)

// keyEntropyBytes is the amount of random material in every token (256 bits)
const keyEntropyBytes = 32

// KeyFormat describes the shape of issued tokens
type KeyFormat struct {
	// TokenPrefix is the fixed marker at the start of every token
	TokenPrefix string
	// PrefixLength is how many leading characters form the lookup prefix
	PrefixLength int
}

// DefaultKeyFormat returns the production token shape: "blk_" + 64 hex chars, 12 char prefix
func DefaultKeyFormat() KeyFormat {
	return KeyFormat{TokenPrefix: "blk_", PrefixLength: 12}
}

// Generate returns a fresh token and its lookup prefix
func (f KeyFormat) Generate() (token, prefix string, err error) {
	randomBytes := make([]byte, keyEntropyBytes)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	token = f.TokenPrefix + hex.EncodeToString(randomBytes)
	return token, token[:f.PrefixLength], nil
}

// Prefix extracts the lookup prefix from a presented token.
// Tokens shorter than the prefix cannot be valid.
func (f KeyFormat) Prefix(token string) (string, bool) {
	if len(token) < f.PrefixLength {
		return "", false
	}
	return token[:f.PrefixLength], true
}

// Hasher turns plaintext tokens into salted one-way hashes
type Hasher interface {
	Hash(token string) (string, error)
	Compare(token, hash string) (bool, error)
}

// Argon2Hasher hashes tokens with argon2id
type Argon2Hasher struct {
	params *argon2id.Params
}

// NewArgon2Hasher creates a hasher with the given cost parameters
func NewArgon2Hasher(memoryKiB, iterations uint32, parallelism uint8) *Argon2Hasher {
	return &Argon2Hasher{
		params: &argon2id.Params{
			Memory:      memoryKiB,
			Iterations:  iterations,
			Parallelism: parallelism,
			SaltLength:  16,
			KeyLength:   32,
		},
	}
}

// Hash returns an encoded argon2id hash with a random salt
func (h *Argon2Hasher) Hash(token string) (string, error) {
	hash, err := argon2id.CreateHash(token, h.params)
	if err != nil {
		return "", fmt.Errorf("failed to hash API key: %w", err)
	}
	return hash, nil
}

// Compare checks a token against an encoded hash in constant time
func (h *Argon2Hasher) Compare(token, hash string) (bool, error) {
	match, err := argon2id.ComparePasswordAndHash(token, hash)
	if err != nil {
		return false, fmt.Errorf("failed to compare API key hash: %w", err)
	}
	return match, nil
}
