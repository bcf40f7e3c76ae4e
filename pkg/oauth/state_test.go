package oauth

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateVerifier(t *testing.T) {
	first, err := GenerateVerifier()
	require.NoError(t, err)
	second, err := GenerateVerifier()
	require.NoError(t, err)

	assert.NotEmpty(t, first)
	assert.NotEqual(t, first, second)

	// RFC 7636 requires 43-128 characters
	assert.GreaterOrEqual(t, len(first), 43)
	assert.LessOrEqual(t, len(first), 128)
}

func TestChallengeS256(t *testing.T) {
	// Known vector from RFC 7636 appendix B
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	assert.Equal(t, "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM", ChallengeS256(verifier))
}

func TestStateSigner_RoundTrip(t *testing.T) {
	signer, err := NewStateSigner("test-secret-key-at-least-16b")
	require.NoError(t, err)

	tenantID := uuid.New()
	connectorID := uuid.New()

	state, err := signer.Sign(tenantID, "kintone", connectorID, "/settings/connectors")
	require.NoError(t, err)

	claims, err := signer.Verify(state, "kintone")
	require.NoError(t, err)
	assert.Equal(t, tenantID.String(), claims.TenantID)
	assert.Equal(t, connectorID.String(), claims.ConnectorID)
	assert.Equal(t, "kintone", claims.Provider)
	assert.Equal(t, "/settings/connectors", claims.ReturnPath)
}

func TestStateSigner_ProviderMismatch(t *testing.T) {
	signer, err := NewStateSigner("test-secret-key-at-least-16b")
	require.NoError(t, err)

	state, err := signer.Sign(uuid.New(), "kintone", uuid.New(), "")
	require.NoError(t, err)

	_, err = signer.Verify(state, "salesforce")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestStateSigner_Expired(t *testing.T) {
	signer, err := NewStateSigner("test-secret-key-at-least-16b")
	require.NoError(t, err)

	issued := time.Now()
	signer.now = func() time.Time { return issued }
	state, err := signer.Sign(uuid.New(), "kintone", uuid.New(), "")
	require.NoError(t, err)

	signer.now = func() time.Time { return issued.Add(StateTTL + time.Minute) }
	_, err = signer.Verify(state, "kintone")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestStateSigner_Tampered(t *testing.T) {
	signer, err := NewStateSigner("test-secret-key-at-least-16b")
	require.NoError(t, err)

	state, err := signer.Sign(uuid.New(), "kintone", uuid.New(), "")
	require.NoError(t, err)

	tampered := state[:len(state)-2] + "xx"
	_, err = signer.Verify(tampered, "kintone")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestStateSigner_WrongSecret(t *testing.T) {
	signerA, err := NewStateSigner("test-secret-key-at-least-16b")
	require.NoError(t, err)
	signerB, err := NewStateSigner("another-secret-key-16-bytes")
	require.NoError(t, err)

	state, err := signerA.Sign(uuid.New(), "kintone", uuid.New(), "")
	require.NoError(t, err)

	_, err = signerB.Verify(state, "kintone")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestStateSigner_RejectsAbsoluteReturnPath(t *testing.T) {
	signer, err := NewStateSigner("test-secret-key-at-least-16b")
	require.NoError(t, err)

	_, err = signer.Sign(uuid.New(), "kintone", uuid.New(), "https://evil.example.com/phish")
	assert.Error(t, err)

	_, err = signer.Sign(uuid.New(), "kintone", uuid.New(), "//evil.example.com")
	assert.Error(t, err)
}

func TestNewStateSigner_ShortSecret(t *testing.T) {
	_, err := NewStateSigner("short")
	assert.Error(t, err)
}
