// Package secrets provides AES-256-GCM at-rest encryption for application
// payloads under a single 32-byte key (ENCRYPTION_KEY). Keys are derived
// per purpose with HKDF-SHA-256; the nonce is prepended to the ciphertext
// so stored values are self-contained.
package secrets
