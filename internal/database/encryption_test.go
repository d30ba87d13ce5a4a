package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "this-is-a-very-long-test-secret-key-for-encryption-testing"

func TestEncryptor_EncryptDecrypt(t *testing.T) {
	enc, err := newEncryptorWithSecret(testSecret)
	require.NoError(t, err)
	assert.True(t, enc.Enabled())

	testCases := []struct {
		name      string
		plaintext string
	}{
		{"simple text", "hello world"},
		{"empty string", ""},
		{"unicode text", "Hello 世界 🌍"},
		{"multi line", "From: News\n\nhello\n\n05/03/2024 09:07"},
		{"special characters", "!@#$%^&*()_+-=[]{}|;':\",./<>?"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ciphertext, err := enc.Encrypt(tc.plaintext)
			require.NoError(t, err)

			if tc.plaintext == "" {
				assert.Equal(t, "", ciphertext)
				return
			}
			assert.NotEqual(t, tc.plaintext, ciphertext)

			decrypted, err := enc.Decrypt(ciphertext)
			require.NoError(t, err)
			assert.Equal(t, tc.plaintext, decrypted)
		})
	}
}

func TestEncryptor_EncryptionUniqueness(t *testing.T) {
	enc, err := newEncryptorWithSecret(testSecret)
	require.NoError(t, err)

	c1, err := enc.Encrypt("15550001111")
	require.NoError(t, err)
	c2, err := enc.Encrypt("15550001111")
	require.NoError(t, err)

	assert.NotEqual(t, c1, c2, "random nonces must give different ciphertexts")
}

func TestEncryptor_DecryptInvalidData(t *testing.T) {
	enc, err := newEncryptorWithSecret(testSecret)
	require.NoError(t, err)

	testCases := []struct {
		name       string
		ciphertext string
	}{
		{"invalid base64", "invalid-base64!@#"},
		{"too short", "dGVzdA=="},
		{"corrupted data", "YWJjZGVmZ2hpamtsbW5vcHFyc3R1dnd4eXo="},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := enc.Decrypt(tc.ciphertext)
			assert.Error(t, err)
		})
	}
}

func TestEncryptor_Disabled(t *testing.T) {
	t.Setenv(EnvEnableEncryption, "false")

	enc, err := NewEncryptor()
	require.NoError(t, err)
	assert.False(t, enc.Enabled())

	out, err := enc.Encrypt("plain")
	require.NoError(t, err)
	assert.Equal(t, "plain", out)

	out, err = enc.Decrypt("plain")
	require.NoError(t, err)
	assert.Equal(t, "plain", out)
}

func TestEncryptor_FromEnvironment(t *testing.T) {
	t.Setenv(EnvEnableEncryption, "true")
	t.Setenv(EnvEncryptionSecret, testSecret)

	enc, err := NewEncryptor()
	require.NoError(t, err)
	assert.True(t, enc.Enabled())
}

func TestEncryptor_SecretValidation(t *testing.T) {
	t.Setenv(EnvEnableEncryption, "true")

	t.Setenv(EnvEncryptionSecret, "")
	_, err := NewEncryptor()
	assert.ErrorContains(t, err, EnvEncryptionSecret)

	t.Setenv(EnvEncryptionSecret, "short")
	_, err = NewEncryptor()
	assert.ErrorContains(t, err, "at least 32 characters")
}

func TestEncryptor_LookupHash(t *testing.T) {
	for _, enabled := range []bool{false, true} {
		enc := &encryptor{}
		if enabled {
			var err error
			enc, err = newEncryptorWithSecret(testSecret)
			require.NoError(t, err)
		}

		a := enc.LookupHash("+1 555 000 1111")
		b := enc.LookupHash("15550001111")
		c := enc.LookupHash("15550002222")

		assert.Equal(t, a, b, "enabled=%v", enabled)
		assert.NotEqual(t, a, c, "enabled=%v", enabled)
		assert.NotContains(t, a, "15550001111")
	}
}
