package pii

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"io"

	"github.com/pkg/errors"
)

// Cipher is the capability the store and the purchase flow depend on for
// address-at-rest encryption. It is injected, never imported globally, so
// tests can swap it out.
type Cipher interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// AESCipher is AES-256-GCM with a random nonce prepended to the
// ciphertext. GCM gives authenticated integrity: a tampered ciphertext
// fails to decrypt instead of producing garbage.
type AESCipher struct {
	aead cipher.AEAD
}

func NewAESCipher(keyHex string) (*AESCipher, error) {
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, errors.Wrap(err, "decode pii key")
	}
	if len(key) != 32 {
		return nil, errors.Errorf("pii key must be 32 bytes, got %d", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "new aes cipher")
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(err, "new gcm")
	}
	return &AESCipher{aead: aead}, nil
}

func (c *AESCipher) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, errors.Wrap(err, "read nonce")
	}
	return c.aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (c *AESCipher) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < c.aead.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}
	nonce, ct := ciphertext[:c.aead.NonceSize()], ciphertext[c.aead.NonceSize():]
	out, err := c.aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, errors.Wrap(err, "decrypt")
	}
	return out, nil
}
