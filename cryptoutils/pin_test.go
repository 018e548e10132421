package cryptoutils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastPinKDF = PinKDFParams{Time: 1, MemoryKiB: 1024, Threads: 1}

func TestDeriveAccessKey(t *testing.T) {
	key := DeriveAccessKey([]byte("1234"), "user@example.com", "jelli_key_share", fastPinKDF)
	require.Len(t, key, 32)

	again := DeriveAccessKey([]byte("1234"), "user@example.com", "jelli_key_share", fastPinKDF)
	assert.Equal(t, key, again)

	assert.NotEqual(t, key, DeriveAccessKey([]byte("1235"), "user@example.com", "jelli_key_share", fastPinKDF))
	assert.NotEqual(t, key, DeriveAccessKey([]byte("1234"), "other@example.com", "jelli_key_share", fastPinKDF))
	assert.NotEqual(t, key, DeriveAccessKey([]byte("1234"), "user@example.com", "other_context", fastPinKDF))
}

func TestRealmPinProofIsPerRealm(t *testing.T) {
	key := DeriveAccessKey([]byte("1234"), "user@example.com", "jelli_key_share", fastPinKDF)

	a := RealmPinProof(key, "realm-a")
	b := RealmPinProof(key, "realm-b")
	assert.Len(t, a, 32)
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, RealmPinProof(key, "realm-a"))
}
