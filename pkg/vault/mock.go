package vault

import (
	"encoding/json"
	"fmt"
	"strings"
)

// MockCodec stores credentials as plaintext JSON behind MockPrefix. Local
// development only; NewCodec never selects it unless mock mode is enabled.
type MockCodec struct{}

func (c *MockCodec) Encrypt(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal credential: %w", err)
	}
	return MockPrefix + string(raw), nil
}

func (c *MockCodec) Decrypt(ciphertext string, dest any) error {
	if !strings.HasPrefix(ciphertext, MockPrefix) {
		return fmt.Errorf("%w: missing %q prefix", ErrDecryptionFailed, MockPrefix)
	}
	if err := json.Unmarshal([]byte(strings.TrimPrefix(ciphertext, MockPrefix)), dest); err != nil {
		return fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return nil
}
