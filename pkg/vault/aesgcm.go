package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// AESCodec encrypts credentials with AES-256-GCM. The 256-bit key is derived
// from the configured master key with SHA-256, the random nonce is prepended
// to the ciphertext, and the result is base64-encoded behind AESPrefix.
type AESCodec struct {
	aead cipher.AEAD
}

// NewAESCodec creates a codec from the process-wide master key.
func NewAESCodec(masterKey string) (*AESCodec, error) {
	if masterKey == "" {
		return nil, fmt.Errorf("%w: master key is empty", ErrInvalidMasterKey)
	}

	key := sha256.Sum256([]byte(masterKey))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMasterKey, err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMasterKey, err)
	}

	return &AESCodec{aead: aead}, nil
}

// Encrypt serializes v to JSON and seals it
func (c *AESCodec) Encrypt(v any) (string, error) {
	plaintext, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal credential: %w", err)
	}

	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := c.aead.Seal(nonce, nonce, plaintext, nil)
	return AESPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt. Any tampering, truncation or
// codec mismatch is reported as ErrDecryptionFailed.
func (c *AESCodec) Decrypt(ciphertext string, dest any) error {
	if IsMockEncoded(ciphertext) {
		return fmt.Errorf("%w: value is mock-encoded but the AES codec is configured", ErrDecryptionFailed)
	}
	if !strings.HasPrefix(ciphertext, AESPrefix) {
		return fmt.Errorf("%w: missing %q prefix", ErrDecryptionFailed, AESPrefix)
	}

	sealed, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(ciphertext, AESPrefix))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	nonceSize := c.aead.NonceSize()
	if len(sealed) < nonceSize {
		return fmt.Errorf("%w: ciphertext shorter than nonce", ErrDecryptionFailed)
	}

	plaintext, err := c.aead.Open(nil, sealed[:nonceSize], sealed[nonceSize:], nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	if err := json.Unmarshal(plaintext, dest); err != nil {
		return fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return nil
}
