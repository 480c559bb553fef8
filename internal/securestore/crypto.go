package securestore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// hkdfInfo binds derived keys to this store version so a future envelope
// format can rotate keys without reusing old ones.
var hkdfInfo = []byte("portalcore securestore v1")

// sessionCipher is an AES-GCM cipher keyed from the session secret. The
// derived key lives only in memory for the lifetime of the store instance.
type sessionCipher struct {
	aead cipher.AEAD
}

func newSessionCipher(sessionSecret []byte) (*sessionCipher, error) {
	key := make([]byte, 32)
	kdf := hkdf.New(sha256.New, sessionSecret, nil, hkdfInfo)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("deriving session key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}

	return &sessionCipher{aead: aead}, nil
}

// seal encrypts plaintext with a fresh random nonce per write.
func (c *sessionCipher) seal(plaintext []byte) (nonce, ciphertext []byte, err error) {
	nonce = make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("generating nonce: %w", err)
	}
	return nonce, c.aead.Seal(nil, nonce, plaintext, nil), nil
}

func (c *sessionCipher) open(nonce, ciphertext []byte) ([]byte, error) {
	if len(nonce) != c.aead.NonceSize() {
		return nil, fmt.Errorf("invalid nonce length %d", len(nonce))
	}
	return c.aead.Open(nil, nonce, ciphertext, nil)
}
