package keywrap

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const keySize = 32

var ErrUnwrap = errors.New("keywrap: cannot open sealed data")

// Wrapper seals records at rest with AES-GCM under a key derived from a
// deployment secret. Output is nonce || ciphertext.
type Wrapper struct {
	aead cipher.AEAD
}

// New derives the wrapping key with HKDF-SHA256, using purpose as info so
// distinct record kinds never share a key.
func New(secret []byte, purpose string) (*Wrapper, error) {
	if len(secret) == 0 {
		return nil, errors.New("keywrap: empty secret")
	}

	key := make([]byte, keySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(purpose)), key); err != nil {
		return nil, fmt.Errorf("hkdf: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	return &Wrapper{aead: aead}, nil
}

// Wrap seals plaintext bound to aad.
func (w *Wrapper) Wrap(plaintext, aad []byte) ([]byte, error) {
	nonce := make([]byte, w.aead.NonceSize(), w.aead.NonceSize()+len(plaintext)+w.aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("rand.Read nonce: %w", err)
	}
	return w.aead.Seal(nonce, nonce, plaintext, aad), nil
}

// Unwrap opens data produced by Wrap with the same aad.
func (w *Wrapper) Unwrap(sealed, aad []byte) ([]byte, error) {
	ns := w.aead.NonceSize()
	if len(sealed) < ns+w.aead.Overhead() {
		return nil, ErrUnwrap
	}
	plain, err := w.aead.Open(nil, sealed[:ns], sealed[ns:], aad)
	if err != nil {
		return nil, ErrUnwrap
	}
	return plain, nil
}
