package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	// KeySize is the required size of the application key (AES-256).
	KeySize = 32

	// saltInfo provides domain separation for HKDF key derivation.
	saltInfo = "fitcore-secrets-v1"
)

// Cipher seals and opens byte payloads with AES-256-GCM. A purpose label
// is mixed into key derivation so ciphertexts produced for one purpose
// cannot be opened under another.
type Cipher struct {
	appKey []byte
}

// New validates the application key and returns a Cipher.
func New(appKey []byte) (*Cipher, error) {
	if len(appKey) != KeySize {
		return nil, ErrInvalidKey
	}
	key := make([]byte, KeySize)
	copy(key, appKey)
	return &Cipher{appKey: key}, nil
}

// deriveKey derives a purpose-scoped key from the app key using HKDF-SHA256.
func (c *Cipher) deriveKey(purpose string) ([]byte, error) {
	r := hkdf.New(sha256.New, c.appKey, []byte(purpose), []byte(saltInfo))
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, errors.Join(ErrKeyDerivationFailed, err)
	}
	return key, nil
}

// EncryptBytes seals plaintext for the given purpose. The nonce is
// prepended to the ciphertext so the result is self-contained.
func (c *Cipher) EncryptBytes(purpose string, plaintext []byte) ([]byte, error) {
	key, err := c.deriveKey(purpose)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Join(ErrEncryptionFailed, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Join(ErrEncryptionFailed, err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, errors.Join(ErrEncryptionFailed, err)
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// DecryptBytes opens a payload produced by EncryptBytes with the same purpose.
func (c *Cipher) DecryptBytes(purpose string, ciphertext []byte) ([]byte, error) {
	key, err := c.deriveKey(purpose)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Join(ErrDecryptionFailed, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Join(ErrDecryptionFailed, err)
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, ErrInvalidCiphertext
	}
	nonce, sealed := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, errors.Join(ErrDecryptionFailed, err)
	}
	return plaintext, nil
}

// EncryptString seals a UTF-8 string and returns base64 text safe for
// storage in Redis or Mongo string fields.
func (c *Cipher) EncryptString(purpose, plaintext string) (string, error) {
	ct, err := c.EncryptBytes(purpose, []byte(plaintext))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(ct), nil
}

// DecryptString reverses EncryptString.
func (c *Cipher) DecryptString(purpose, encoded string) (string, error) {
	ct, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", errors.Join(ErrInvalidCiphertext, err)
	}
	pt, err := c.DecryptBytes(purpose, ct)
	if err != nil {
		return "", err
	}
	return string(pt), nil
}

// GenerateKey returns a cryptographically random 32-byte key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, err
	}
	return key, nil
}
