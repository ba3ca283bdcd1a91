// Package keystore encrypts the node's ECDSA private key at rest so the
// key file on disk is not plaintext, using the same XChaCha20-Poly1305
// construction the teacher's core/security.go uses for sensitive blobs.
package keystore

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// Seal encrypts plaintext under key, returning nonce||ciphertext||tag.
// key must already be exactly chacha20poly1305.KeySize bytes (the
// caller derives it, e.g. via keccak256 of a user-supplied secret).
func Seal(key, plaintext, aad []byte) ([]byte, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, errors.New("keystore: key must be 32 bytes")
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("keystore: new aead: %w", err)
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("keystore: read nonce: %w", err)
	}
	ct := aead.Seal(nil, nonce, plaintext, aad)
	return append(nonce, ct...), nil
}

// Open decrypts and authenticates a blob produced by Seal.
func Open(key, blob, aad []byte) ([]byte, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, errors.New("keystore: key must be 32 bytes")
	}
	minLen := chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead
	if len(blob) < minLen {
		return nil, errors.New("keystore: ciphertext too short")
	}
	nonce, ciphertext := blob[:chacha20poly1305.NonceSizeX], blob[chacha20poly1305.NonceSizeX:]
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("keystore: new aead: %w", err)
	}
	return aead.Open(nil, nonce, ciphertext, aad)
}
