package crypto

import (
	"bytes"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey() []byte {
	return bytes.Repeat([]byte{0x42}, AES256KeySize)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	svc, err := NewEncryptionService(testKey())
	require.NoError(t, err)

	plaintext := []byte("twilio-auth-token-123")
	ciphertext, err := svc.Encrypt(plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, ciphertext)

	decrypted, err := svc.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestEncryptProducesUniqueCiphertexts(t *testing.T) {
	svc, err := NewEncryptionService(testKey())
	require.NoError(t, err)

	a, err := svc.Encrypt([]byte("secret"))
	require.NoError(t, err)
	b, err := svc.Encrypt([]byte("secret"))
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "nonces must differ per encryption")
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	svc, err := NewEncryptionService(testKey())
	require.NoError(t, err)

	ciphertext, err := svc.Encrypt([]byte("secret"))
	require.NoError(t, err)
	ciphertext[len(ciphertext)-1] ^= 0xff

	_, err = svc.Decrypt(ciphertext)
	assert.ErrorIs(t, err, ErrInvalidCiphertext)
}

func TestDecryptRejectsShortCiphertext(t *testing.T) {
	svc, err := NewEncryptionService(testKey())
	require.NoError(t, err)

	_, err = svc.Decrypt([]byte("short"))
	assert.ErrorIs(t, err, ErrInvalidCiphertext)
}

func TestNewEncryptionServiceRejectsBadKey(t *testing.T) {
	_, err := NewEncryptionService([]byte("too-short"))
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestNewEncryptionServiceFromBase64(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString(testKey())
	svc, err := NewEncryptionServiceFromBase64(encoded)
	require.NoError(t, err)
	require.NotNil(t, svc)

	_, err = NewEncryptionServiceFromBase64("!!not-base64!!")
	assert.Error(t, err)
}
