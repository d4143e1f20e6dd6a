package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const keySize = 32

var (
	ErrInvalidKey        = errors.New("invalid encryption key: must be 32 bytes")
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
	ErrDecryptionFailed  = errors.New("decryption failed")
	ErrNoKeyMaterial     = errors.New("no encryption key or passphrase configured")
)

var hkdfInfo = []byte("msgbridge credential encryption v1")

// CredentialCipher seals credential blobs with AES-256-GCM. Sealed values are
// base64(nonce || ciphertext).
type CredentialCipher struct {
	aead cipher.AEAD
}

func NewCredentialCipher(keyBase64 string) (*CredentialCipher, error) {
	key, err := base64.StdEncoding.DecodeString(keyBase64)
	if err != nil {
		return nil, fmt.Errorf("decode key: %w", err)
	}
	return NewCredentialCipherFromBytes(key)
}

func NewCredentialCipherFromBytes(key []byte) (*CredentialCipher, error) {
	if len(key) != keySize {
		return nil, ErrInvalidKey
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &CredentialCipher{aead: aead}, nil
}

// NewCredentialCipherFromPassphrase derives the key with HKDF-SHA256.
func NewCredentialCipherFromPassphrase(passphrase, salt string) (*CredentialCipher, error) {
	if passphrase == "" {
		return nil, ErrNoKeyMaterial
	}

	key := make([]byte, keySize)
	r := hkdf.New(sha256.New, []byte(passphrase), []byte(salt), hkdfInfo)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return NewCredentialCipherFromBytes(key)
}

// NewCredentialCipherFromConfig prefers an explicit key over a passphrase.
func NewCredentialCipherFromConfig(keyBase64, passphrase string) (*CredentialCipher, error) {
	switch {
	case keyBase64 != "":
		return NewCredentialCipher(keyBase64)
	case passphrase != "":
		return NewCredentialCipherFromPassphrase(passphrase, "msgbridge")
	default:
		return nil, ErrNoKeyMaterial
	}
}

func (c *CredentialCipher) Seal(plaintext []byte) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	sealed := c.aead.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (c *CredentialCipher) Open(sealed string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return nil, ErrInvalidCiphertext
	}

	nonceSize := c.aead.NonceSize()
	if len(data) < nonceSize {
		return nil, ErrInvalidCiphertext
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// GenerateKey returns a random base64 key suitable for CREDENTIAL_ENCRYPTION_KEY.
func GenerateKey() (string, error) {
	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(key), nil
}
