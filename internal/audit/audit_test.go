package audit

import (
	"testing"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	key := make([]byte, chacha20poly1305.KeySize)
	for i := range key {
		key[i] = byte(i)
	}
	aead, err := chacha20poly1305.New(key)
	require.NoError(t, err)
	return &Ledger{aead: aead}
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	l := newTestLedger(t)

	plaintext := []byte(`{"user_sub":"alice","delegated_action":"transfer"}`)
	encoded, err := l.encrypt(plaintext)
	require.NoError(t, err)

	decoded, err := l.decrypt(encoded)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decoded)
}

func TestEncrypt_ProducesDistinctCiphertextEachCall(t *testing.T) {
	l := newTestLedger(t)

	plaintext := []byte(`{"a":1}`)
	c1, err := l.encrypt(plaintext)
	require.NoError(t, err)
	c2, err := l.encrypt(plaintext)
	require.NoError(t, err)

	assert.NotEqual(t, c1, c2, "nonce must be fresh per call")
}

func TestDecodePayload_FallsBackOnCorruptCiphertext(t *testing.T) {
	l := newTestLedger(t)

	got := l.decodePayload("not-valid-base64-or-ciphertext")
	assert.Equal(t, "not-valid-base64-or-ciphertext", got["raw"])
}
