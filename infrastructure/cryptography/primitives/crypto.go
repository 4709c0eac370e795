// Package primitives provides the low-level cryptographic building
// blocks used by the session handshake: X25519 keypair generation,
// ECDH, and HKDF-SHA256 key derivation.
package primitives

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// KeyDeriver provides cryptographic key generation and derivation primitives
// shared across the handshake code path.
type KeyDeriver interface {
	GenerateX25519KeyPair() (publicKey []byte, privateKey [32]byte, err error)
	ECDH(privateKey [32]byte, peerPublicKey []byte) ([]byte, error)
	DeriveKey(sharedSecret, salt, info []byte) ([]byte, error)
}

// DefaultKeyDeriver implements KeyDeriver using standard crypto primitives.
type DefaultKeyDeriver struct{}

func (d *DefaultKeyDeriver) GenerateX25519KeyPair() ([]byte, [32]byte, error) {
	var private [32]byte
	if _, err := io.ReadFull(rand.Reader, private[:]); err != nil {
		return nil, private, err
	}
	public, err := curve25519.X25519(private[:], curve25519.Basepoint)
	return public, private, err
}

// ECDH computes the X25519 shared secret for privateKey and peerPublicKey.
// peerPublicKey must be exactly 32 bytes.
func (d *DefaultKeyDeriver) ECDH(privateKey [32]byte, peerPublicKey []byte) ([]byte, error) {
	if len(peerPublicKey) != 32 {
		return nil, fmt.Errorf("peer public key must be 32 bytes, got %d", len(peerPublicKey))
	}
	return curve25519.X25519(privateKey[:], peerPublicKey)
}

func (d *DefaultKeyDeriver) DeriveKey(sharedSecret, salt, info []byte) ([]byte, error) {
	r := hkdf.New(sha256.New, sharedSecret, salt, info)
	key := make([]byte, chacha20poly1305.KeySize)
	_, err := io.ReadFull(r, key)
	return key, err
}
