package database

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"os"

	"whatsrelay/internal/constants"
	"whatsrelay/internal/models"

	"golang.org/x/crypto/pbkdf2"
)

const (
	EnvEnableEncryption = "WHATSRELAY_ENABLE_ENCRYPTION"
	EnvEncryptionSecret = "WHATSRELAY_ENCRYPTION_SECRET"
)

// encryptor seals destinations and message text in the delivery log. A nil
// gcm means encryption is disabled and values pass through unchanged.
type encryptor struct {
	gcm cipher.AEAD
}

// NewEncryptor builds an encryptor from the environment
func NewEncryptor() (*encryptor, error) {
	if !isEncryptionEnabled() {
		return &encryptor{}, nil
	}
	return newEncryptorWithSecret(os.Getenv(EnvEncryptionSecret))
}

func newEncryptorWithSecret(secret string) (*encryptor, error) {
	key, err := deriveKey(secret)
	if err != nil {
		return nil, fmt.Errorf("failed to derive encryption key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &encryptor{gcm: gcm}, nil
}

// Enabled reports whether values are encrypted
func (e *encryptor) Enabled() bool {
	return e.gcm != nil
}

func (e *encryptor) Encrypt(plaintext string) (string, error) {
	if plaintext == "" || e.gcm == nil {
		return plaintext, nil
	}

	nonce := make([]byte, models.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := e.gcm.Seal(nil, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(append(nonce, ciphertext...)), nil
}

func (e *encryptor) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" || e.gcm == nil {
		return ciphertext, nil
	}

	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("failed to decode base64: %w", err)
	}

	if len(data) < models.NonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, sealed := data[:models.NonceSize], data[models.NonceSize:]
	plaintext, err := e.gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}

	return string(plaintext), nil
}

// LookupHash returns a stable key for equality lookups on a destination.
// With encryption on it is a deterministic ciphertext; otherwise a SHA-256
// digest of the normalized value.
// #nosec G407 - deterministic nonce is required for searchable encryption
func (e *encryptor) LookupHash(value string) string {
	normalized := models.NormalizeDestination(value)
	hash := sha256.Sum256([]byte(normalized + constants.EncryptionLookupSalt))
	if e.gcm == nil {
		return base64.StdEncoding.EncodeToString(hash[:])
	}

	nonce := hash[:models.NonceSize]
	ciphertext := e.gcm.Seal(nil, nonce, []byte(normalized), nil)
	return base64.StdEncoding.EncodeToString(append(nonce, ciphertext...))
}

func deriveKey(secret string) ([]byte, error) {
	if secret == "" {
		return nil, fmt.Errorf("%s environment variable is required when encryption is enabled", EnvEncryptionSecret)
	}
	if len(secret) < 32 {
		return nil, fmt.Errorf("encryption secret must be at least 32 characters long")
	}

	salt := []byte(constants.EncryptionSalt)
	return pbkdf2.Key([]byte(secret), salt, models.Iterations, models.KeySize, sha256.New), nil
}

func isEncryptionEnabled() bool {
	return os.Getenv(EnvEnableEncryption) == "true"
}
