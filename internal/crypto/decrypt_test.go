package crypto

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	saltPath := filepath.Join(t.TempDir(), "credential.salt")
	d, err := NewAESGCMDecryptor("hunter2", saltPath)
	require.NoError(t, err)

	ciphertext, err := d.Encrypt("app-password-123")
	require.NoError(t, err)
	assert.Contains(t, ciphertext, encryptedPrefix)

	plaintext, err := d.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "app-password-123", plaintext)
}

func TestNewAESGCMDecryptor_RejectsEmptyPassphrase(t *testing.T) {
	saltPath := filepath.Join(t.TempDir(), "credential.salt")
	_, err := NewAESGCMDecryptor("   ", saltPath)
	assert.Error(t, err)
}

func TestNewAESGCMDecryptor_ReusesPersistedSalt(t *testing.T) {
	saltPath := filepath.Join(t.TempDir(), "credential.salt")

	d1, err := NewAESGCMDecryptor("hunter2", saltPath)
	require.NoError(t, err)
	ciphertext, err := d1.Encrypt("secret-value")
	require.NoError(t, err)

	// A second decryptor built against the same passphrase and salt file
	// must derive the identical key and be able to decrypt d1's output.
	d2, err := NewAESGCMDecryptor("hunter2", saltPath)
	require.NoError(t, err)
	plaintext, err := d2.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "secret-value", plaintext)
}

func TestDecrypt_RejectsMissingEnvelopePrefix(t *testing.T) {
	saltPath := filepath.Join(t.TempDir(), "credential.salt")
	d, err := NewAESGCMDecryptor("hunter2", saltPath)
	require.NoError(t, err)

	_, err = d.Decrypt("plaintextwithoutprefix")
	assert.Error(t, err)
}

func TestDecrypt_RejectsMalformedBase64(t *testing.T) {
	saltPath := filepath.Join(t.TempDir(), "credential.salt")
	d, err := NewAESGCMDecryptor("hunter2", saltPath)
	require.NoError(t, err)

	_, err = d.Decrypt(encryptedPrefix + "not-valid-base64!!!")
	assert.Error(t, err)
}

func TestDecrypt_RejectsWrongPassphrase(t *testing.T) {
	saltPath := filepath.Join(t.TempDir(), "credential.salt")
	d1, err := NewAESGCMDecryptor("correct-horse", saltPath)
	require.NoError(t, err)
	ciphertext, err := d1.Encrypt("top secret")
	require.NoError(t, err)

	saltPath2 := filepath.Join(t.TempDir(), "credential.salt")
	d2, err := NewAESGCMDecryptor("wrong-passphrase", saltPath2)
	require.NoError(t, err)

	_, err = d2.Decrypt(ciphertext)
	assert.Error(t, err)
}
