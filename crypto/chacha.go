package crypto

import (
	"crypto/cipher"
	"io"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/anchorageoss/coldsign/errs"
)

const (
	// KeySize is the ChaCha20-Poly1305 key length.
	KeySize = chacha20poly1305.KeySize
	// NonceSize is the RFC 7539 nonce length.
	NonceSize = chacha20poly1305.NonceSize
	// TagSize is the Poly1305 tag length.
	TagSize = chacha20poly1305.Overhead
)

// Decrypt opens ciphertext||tag with key and nonce. No associated data is
// authenticated.
func Decrypt(ciphertext, key, nonce []byte) ([]byte, error) {
	aead, err := newAEAD(key, nonce)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < TagSize {
		return nil, errs.Crypto("ciphertext shorter than tag: %d bytes", len(ciphertext))
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, errs.Crypto("authentication failed")
	}
	return plaintext, nil
}

// Encrypt seals plaintext with key and nonce and returns ciphertext||tag.
func Encrypt(plaintext, key, nonce []byte) ([]byte, error) {
	aead, err := newAEAD(key, nonce)
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, nonce, plaintext, nil), nil
}

// OpenEnvelope decrypts a device payload laid out as nonce||ciphertext||tag.
func OpenEnvelope(blob, key []byte) ([]byte, error) {
	if len(blob) < NonceSize+TagSize {
		return nil, errs.Crypto("envelope too short: %d bytes", len(blob))
	}
	return Decrypt(blob[NonceSize:], key, blob[:NonceSize])
}

// SealEnvelope encrypts plaintext under a fresh random nonce and returns
// nonce||ciphertext||tag.
func SealEnvelope(plaintext, key []byte, rand io.Reader) ([]byte, error) {
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand, nonce); err != nil {
		return nil, errs.Crypto("failed to read nonce: %v", err)
	}
	ct, err := Encrypt(plaintext, key, nonce)
	if err != nil {
		return nil, err
	}
	return append(nonce, ct...), nil
}

func newAEAD(key, nonce []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, errs.Crypto("key must be %d bytes, got %d", KeySize, len(key))
	}
	if len(nonce) != NonceSize {
		return nil, errs.Crypto("nonce must be %d bytes, got %d", NonceSize, len(nonce))
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, errs.Crypto("failed to create cipher: %v", err)
	}
	return aead, nil
}
