package crypto

import (
	"golang.org/x/crypto/chacha20poly1305"
)

// nonceZero is used for the single-use per-hop AEAD: each hop derives a
// fresh key from a fresh shared secret via KDFHeader, so the nonce never
// repeats under a given key.
var nonceZero [chacha20poly1305.NonceSize]byte

// Seal encrypts plaintext under key with an all-zero nonce (safe because
// the key is single-use, derived fresh per hop via KDFHeader).
func Seal(key [32]byte, plaintext, additionalData []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, nonceZero[:], plaintext, additionalData), nil
}

// Open decrypts ciphertext produced by Seal under the same key.
func Open(key [32]byte, ciphertext, additionalData []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, err
	}
	return aead.Open(nil, nonceZero[:], ciphertext, additionalData)
}
