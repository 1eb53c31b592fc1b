package secrets_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/fitcore/pkg/secrets"
)

func newCipher(t *testing.T) *secrets.Cipher {
	t.Helper()

	key, err := secrets.GenerateKey()
	require.NoError(t, err)
	c, err := secrets.New(key)
	require.NoError(t, err)
	return c
}

func TestNewRejectsBadKeySizes(t *testing.T) {
	t.Parallel()

	for _, size := range []int{0, 16, 31, 33, 64} {
		_, err := secrets.New(make([]byte, size))
		assert.ErrorIs(t, err, secrets.ErrInvalidKey, size)
	}
}

func TestEncryptDecryptString(t *testing.T) {
	t.Parallel()
	c := newCipher(t)

	tests := []struct {
		name      string
		plaintext string
	}{
		{"empty string", ""},
		{"simple text", "Hello, World!"},
		{"json", `{"items":[{"productId":"prod_1","quantity":2}]}`},
		{"unicode", "Hello 世界 🌍"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ciphertext, err := c.EncryptString("cart-contents", tt.plaintext)
			require.NoError(t, err)
			if tt.plaintext != "" {
				assert.NotEqual(t, tt.plaintext, ciphertext)
			}

			decrypted, err := c.DecryptString("cart-contents", ciphertext)
			require.NoError(t, err)
			assert.Equal(t, tt.plaintext, decrypted)
		})
	}
}

func TestEncryptDecryptBytes(t *testing.T) {
	t.Parallel()
	c := newCipher(t)

	data := []byte{0x00, 0x01, 0xff, 0xfe, 0x42}
	ciphertext, err := c.EncryptBytes("cart-contents", data)
	require.NoError(t, err)
	require.False(t, bytes.Equal(data, ciphertext))

	decrypted, err := c.DecryptBytes("cart-contents", ciphertext)
	require.NoError(t, err)
	assert.Equal(t, data, decrypted)
}

func TestPurposeSeparation(t *testing.T) {
	t.Parallel()
	c := newCipher(t)

	ciphertext, err := c.EncryptBytes("cart-contents", []byte("payload"))
	require.NoError(t, err)

	_, err = c.DecryptBytes("other-purpose", ciphertext)
	assert.ErrorIs(t, err, secrets.ErrDecryptionFailed)
}

func TestDifferentKeysCannotDecrypt(t *testing.T) {
	t.Parallel()

	a := newCipher(t)
	b := newCipher(t)

	ciphertext, err := a.EncryptBytes("cart-contents", []byte("payload"))
	require.NoError(t, err)

	_, err = b.DecryptBytes("cart-contents", ciphertext)
	assert.ErrorIs(t, err, secrets.ErrDecryptionFailed)
}

func TestDecryptRejectsGarbage(t *testing.T) {
	t.Parallel()
	c := newCipher(t)

	_, err := c.DecryptBytes("cart-contents", []byte{0x01, 0x02})
	assert.ErrorIs(t, err, secrets.ErrInvalidCiphertext)

	_, err = c.DecryptString("cart-contents", "not base64!!!")
	assert.ErrorIs(t, err, secrets.ErrInvalidCiphertext)
}

func TestNonDeterministicCiphertexts(t *testing.T) {
	t.Parallel()
	c := newCipher(t)

	first, err := c.EncryptBytes("cart-contents", []byte("payload"))
	require.NoError(t, err)
	second, err := c.EncryptBytes("cart-contents", []byte("payload"))
	require.NoError(t, err)

	assert.False(t, bytes.Equal(first, second), "random nonce must make ciphertexts differ")
}
