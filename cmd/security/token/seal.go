package token

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	sealVersion = byte(1)
	sealInfo    = "ticketline.state.v1"
)

// Sealer encrypts and authenticates persisted payloads.
// The AEAD key is derived from the secret with HKDF-SHA256 so any secret of
// at least MinStateKeyBytes works.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer derives a sealing key from secret.
func NewSealer(secret []byte) (*Sealer, error) {
	if len(secret) == 0 {
		return nil, ErrKeyMissing
	}
	if len(secret) < MinStateKeyBytes {
		return nil, ErrKeyTooShort
	}

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(sealInfo)), key); err != nil {
		return nil, fmt.Errorf("derive state key: %w", err)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init state cipher: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// Seal returns version || nonce || ciphertext. aad binds the payload to its storage key.
func (s *Sealer) Seal(plain, aad []byte) ([]byte, error) {
	ns := s.aead.NonceSize()
	out := make([]byte, 1+ns, 1+ns+len(plain)+s.aead.Overhead())
	out[0] = sealVersion
	nonce := out[1 : 1+ns]
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	return s.aead.Seal(out, nonce, plain, aad), nil
}

// Open reverses Seal. Any tampering, wrong key or wrong aad yields ErrUnseal.
func (s *Sealer) Open(sealed, aad []byte) ([]byte, error) {
	ns := s.aead.NonceSize()
	if len(sealed) < 1+ns+s.aead.Overhead() || sealed[0] != sealVersion {
		return nil, ErrUnseal
	}

	nonce := sealed[1 : 1+ns]
	plain, err := s.aead.Open(nil, nonce, sealed[1+ns:], aad)
	if err != nil {
		return nil, ErrUnseal
	}
	return plain, nil
}
