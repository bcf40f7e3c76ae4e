// Package vault encrypts OAuth client secrets and tokens at rest.
//
// A single CredentialCodec is selected at startup from configuration; calling
// code never branches on the encoding format. The AES codec produces
// authenticated ciphertext (AES-256-GCM) prefixed with "enc:v1:", the mock
// codec produces "mock:" + plaintext JSON for local development. The prefixes
// make the two encodings distinguishable so a misconfigured codec fails with
// a decryption error instead of garbage.
package vault

import (
	"errors"
	"strings"
)

var (
	// ErrDecryptionFailed is returned when a stored value cannot be decrypted.
	// It is deliberately distinct from "not found" so a broken master key or
	// tampered row is diagnosable.
	ErrDecryptionFailed = errors.New("credential decryption failed")

	// ErrInvalidMasterKey is returned when the configured master key cannot
	// be used to construct a codec
	ErrInvalidMasterKey = errors.New("invalid vault master key")
)

const (
	// AESPrefix marks values produced by the AES-GCM codec
	AESPrefix = "enc:v1:"

	// MockPrefix marks values produced by the mock codec
	MockPrefix = "mock:"
)

// CredentialCodec encrypts and decrypts credential objects. Implementations
// must round-trip any JSON-marshalable value.
type CredentialCodec interface {
	// Encrypt serializes v and returns an opaque, prefixed string
	Encrypt(v any) (string, error)

	// Decrypt parses an opaque string produced by Encrypt into dest.
	// Returns ErrDecryptionFailed when the value is tampered, truncated or
	// produced by a different codec.
	Decrypt(ciphertext string, dest any) error
}

// NewCodec selects the codec once at startup. mockMode is only for local
// development.
func NewCodec(masterKey string, mockMode bool) (CredentialCodec, error) {
	if mockMode {
		return &MockCodec{}, nil
	}
	return NewAESCodec(masterKey)
}

// IsMockEncoded reports whether a stored value was produced by the mock codec.
func IsMockEncoded(value string) bool {
	return strings.HasPrefix(value, MockPrefix)
}
