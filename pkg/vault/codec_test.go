package vault

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testSecret struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

func TestAESCodec_RoundTrip(t *testing.T) {
	codec, err := NewAESCodec("test-master-key")
	require.NoError(t, err)

	original := testSecret{ClientID: "abc123", ClientSecret: "s3cret"}

	encrypted, err := codec.Encrypt(original)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(encrypted, AESPrefix))
	assert.NotContains(t, encrypted, "s3cret")

	var decrypted testSecret
	err = codec.Decrypt(encrypted, &decrypted)
	require.NoError(t, err)
	assert.Equal(t, original, decrypted)
}

func TestAESCodec_EncryptIsNonDeterministic(t *testing.T) {
	codec, err := NewAESCodec("test-master-key")
	require.NoError(t, err)

	secret := testSecret{ClientID: "abc", ClientSecret: "def"}

	first, err := codec.Encrypt(secret)
	require.NoError(t, err)
	second, err := codec.Encrypt(secret)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestAESCodec_TamperedCiphertext(t *testing.T) {
	codec, err := NewAESCodec("test-master-key")
	require.NoError(t, err)

	encrypted, err := codec.Encrypt(testSecret{ClientID: "abc", ClientSecret: "def"})
	require.NoError(t, err)

	// Flip a character in the middle of the payload
	payload := []byte(encrypted)
	mid := len(AESPrefix) + (len(payload)-len(AESPrefix))/2
	if payload[mid] == 'A' {
		payload[mid] = 'B'
	} else {
		payload[mid] = 'A'
	}

	var out testSecret
	err = codec.Decrypt(string(payload), &out)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestAESCodec_WrongMasterKey(t *testing.T) {
	codecA, err := NewAESCodec("key-a")
	require.NoError(t, err)
	codecB, err := NewAESCodec("key-b")
	require.NoError(t, err)

	encrypted, err := codecA.Encrypt(testSecret{ClientID: "abc"})
	require.NoError(t, err)

	var out testSecret
	err = codecB.Decrypt(encrypted, &out)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestAESCodec_RejectsMockEncodedValue(t *testing.T) {
	codec, err := NewAESCodec("test-master-key")
	require.NoError(t, err)

	var out testSecret
	err = codec.Decrypt(`mock:{"client_id":"abc"}`, &out)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestAESCodec_MissingPrefix(t *testing.T) {
	codec, err := NewAESCodec("test-master-key")
	require.NoError(t, err)

	var out testSecret
	err = codec.Decrypt("not-an-encrypted-value", &out)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestAESCodec_TruncatedCiphertext(t *testing.T) {
	codec, err := NewAESCodec("test-master-key")
	require.NoError(t, err)

	var out testSecret
	err = codec.Decrypt(AESPrefix+"QQ==", &out)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestNewAESCodec_EmptyMasterKey(t *testing.T) {
	_, err := NewAESCodec("")
	assert.ErrorIs(t, err, ErrInvalidMasterKey)
}

func TestMockCodec_RoundTrip(t *testing.T) {
	codec := &MockCodec{}

	original := testSecret{ClientID: "abc", ClientSecret: "def"}
	encoded, err := codec.Encrypt(original)
	require.NoError(t, err)
	assert.True(t, IsMockEncoded(encoded))

	var decoded testSecret
	err = codec.Decrypt(encoded, &decoded)
	require.NoError(t, err)
	assert.Equal(t, original, decoded)
}

func TestMockCodec_RejectsAESValue(t *testing.T) {
	aesCodec, err := NewAESCodec("test-master-key")
	require.NoError(t, err)
	encrypted, err := aesCodec.Encrypt(testSecret{ClientID: "abc"})
	require.NoError(t, err)

	var out testSecret
	err = (&MockCodec{}).Decrypt(encrypted, &out)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestNewCodec_SelectsByMode(t *testing.T) {
	codec, err := NewCodec("master", false)
	require.NoError(t, err)
	assert.IsType(t, &AESCodec{}, codec)

	codec, err = NewCodec("", true)
	require.NoError(t, err)
	assert.IsType(t, &MockCodec{}, codec)
}
