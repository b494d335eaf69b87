// Package crypto seals guestclip messages with NaCl secretbox.
//
// The 32-byte key is derived from the secret the guest and host share, using
// HKDF-SHA256 with a fixed info string. Every message gets a random 24-byte
// nonce prepended to the ciphertext:
//
//	[ 24-byte nonce ][ ciphertext ]
//
// An empty secret means no sealing: the wire layer is given a nil key and
// messages travel as plain JSON.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	keySize   = 32
	nonceSize = 24
)

// Key is a secretbox key.
type Key = [keySize]byte

// ErrOpen is returned when a sealed message cannot be authenticated, which in
// practice means the two sides were given different secrets.
var ErrOpen = errors.New("crypto: message authentication failed")

var hkdfInfo = []byte("guestclip-v1")

// DeriveKey derives the key both sides use from secret. It returns nil for an
// empty secret.
func DeriveKey(secret string) (*Key, error) {
	if secret == "" {
		return nil, nil
	}
	h := hkdf.New(sha256.New, []byte(secret), nil, hkdfInfo)
	var key Key
	if _, err := io.ReadFull(h, key[:]); err != nil {
		return nil, fmt.Errorf("key derivation: %w", err)
	}
	return &key, nil
}

// Seal encrypts plaintext with key, prepending a random nonce.
func Seal(plaintext []byte, key *Key) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("nonce generation: %w", err)
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, key), nil
}

// Open decrypts nonce+ciphertext with key.
func Open(sealed []byte, key *Key) ([]byte, error) {
	if len(sealed) < nonceSize+secretbox.Overhead {
		return nil, fmt.Errorf("%w: %d bytes is too short", ErrOpen, len(sealed))
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	plain, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, key)
	if !ok {
		return nil, ErrOpen
	}
	return plain, nil
}
