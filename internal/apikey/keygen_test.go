package apikey

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestKeyFormat_Generate(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		f := KeyFormat{
			TokenPrefix:  rapid.SampledFrom([]string{"blk_", "bl_live_", "k"}).Draw(rt, "tokenPrefix"),
			PrefixLength: 12,
		}

		token, prefix, err := f.Generate()
		require.NoError(rt, err)

		require.True(rt, strings.HasPrefix(token, f.TokenPrefix))
		body := strings.TrimPrefix(token, f.TokenPrefix)
		raw, err := hex.DecodeString(body)
		require.NoError(rt, err)
		assert.Len(rt, raw, keyEntropyBytes)
		assert.Equal(rt, token[:12], prefix)

		got, ok := f.Prefix(token)
		assert.True(rt, ok)
		assert.Equal(rt, prefix, got)
	})
}

func TestKeyFormat_Unique(t *testing.T) {
	f := DefaultKeyFormat()
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		token, _, err := f.Generate()
		require.NoError(t, err)
		require.False(t, seen[token], "duplicate token generated")
		seen[token] = true
	}
}

func TestKeyFormat_PrefixTooShort(t *testing.T) {
	_, ok := DefaultKeyFormat().Prefix("blk_abc")
	assert.False(t, ok)
}

func TestArgon2Hasher(t *testing.T) {
	h := testHasher()

	hash1, err := h.Hash("blk_secret")
	require.NoError(t, err)
	hash2, err := h.Hash("blk_secret")
	require.NoError(t, err)
	assert.NotEqual(t, hash1, hash2, "hashes must be salted")
	assert.True(t, strings.HasPrefix(hash1, "$argon2id$"))

	ok, err := h.Compare("blk_secret", hash1)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Compare("blk_secreT", hash1)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = h.Compare("blk_secret", "not-a-hash")
	assert.Error(t, err)
}
