// Package cryptoconfig implements the Encrypted Config Container: an
// opaque packet-level authenticated encryption wrapper for hole-punch
// datagrams. Confidentiality and integrity are required; replay
// resistance is not, since the hole-punch protocol's deadline and
// mutual-recognition handshake already absorb replayed datagrams.
package cryptoconfig

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

var ErrInvalidKeySize = errors.New("cryptoconfig: invalid key size")

// Container seals and opens NAT-traversal datagrams with
// ChaCha20-Poly1305. A fresh random nonce is prepended to every
// ciphertext; the container itself carries no sequence-number replay
// window, matching the traversal protocol's own deadline-based replay
// tolerance.
type Container struct {
	aead cipher.AEAD
}

// NewContainer builds a Container from a 32-byte key.
func NewContainer(key []byte) (*Container, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, ErrInvalidKeySize
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("cryptoconfig: new aead: %w", err)
	}
	return &Container{aead: aead}, nil
}

// GenerateKey produces a fresh random 32-byte key suitable for
// NewContainer.
func GenerateKey() ([]byte, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("cryptoconfig: generate key: %w", err)
	}
	return key, nil
}

// GeneratePacket AEAD-encrypts plaintext, returning nonce||ciphertext.
func (c *Container) GeneratePacket(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("cryptoconfig: generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nil, nonce, plaintext, nil)
	return append(nonce, sealed...), nil
}

// DecryptPacket verifies and decrypts a packet produced by
// GeneratePacket. It returns (nil, false) on any authentication or
// framing failure rather than an error: per the hole-punch protocol,
// a bad frame is silently dropped, not treated as fatal.
func (c *Container) DecryptPacket(ciphertext []byte) ([]byte, bool) {
	nonceSize := c.aead.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, false
	}
	nonce, sealed := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, false
	}
	return plaintext, true
}
