// Package protect anonymizes creator identities and encrypts exported data.
package protect

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/chacha20poly1305"
)

// AnonymousName replaces creator display names.
const AnonymousName = "Anonymous"

// KeySize is the length of a Sealer key.
const KeySize = chacha20poly1305.KeySize

var (
	// ErrKeySize is returned for keys that are not KeySize bytes.
	ErrKeySize = fmt.Errorf("protect: key must be %d bytes", KeySize)
	// ErrCiphertext is returned when a payload is truncated or was not
	// sealed with this key.
	ErrCiphertext = errors.New("protect: invalid ciphertext")
)

// AnonymizeHandle maps a creator handle to a stable pseudonym of the form
// user_NNNN. The same handle always yields the same pseudonym.
func AnonymizeHandle(handle string) string {
	sum := blake2b.Sum256([]byte(handle))
	return fmt.Sprintf("user_%04d", binary.BigEndian.Uint64(sum[:8])%10000)
}

// Sealer encrypts payloads with XChaCha20-Poly1305. The random nonce is
// prepended to each ciphertext.
type Sealer struct {
	key []byte
}

// NewSealer returns a Sealer for a KeySize-byte key.
func NewSealer(key []byte) (*Sealer, error) {
	if len(key) != KeySize {
		return nil, ErrKeySize
	}
	return &Sealer{key: append([]byte(nil), key...)}, nil
}

// NewSealerBase64 decodes a standard base64 key.
func NewSealerBase64(encoded string) (*Sealer, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("protect: decode key: %w", err)
	}
	return NewSealer(key)
}

// GenerateKey returns a new random key, base64 encoded.
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("protect: generate key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

// Seal encrypts plaintext.
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("protect: nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts a payload produced by Seal.
func (s *Sealer) Open(sealed []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrCiphertext
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrCiphertext
	}
	return plain, nil
}
