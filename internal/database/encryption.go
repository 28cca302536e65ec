package database

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"

	"wadesk/internal/constants"

	"golang.org/x/crypto/pbkdf2"

	"crypto/sha256"
)

// encryptor provides optional AES-GCM at-rest encryption for non-searchable
// columns (contact names, message content, conversation previews). Lookup
// keys stay plaintext so the UNIQUE constraints keep arbitrating idempotency.
type encryptor struct {
	gcm cipher.AEAD
}

func isEncryptionEnabled() bool {
	return os.Getenv("WADESK_DB_ENCRYPTION_SECRET") != ""
}

func deriveKey() ([]byte, error) {
	secret := os.Getenv("WADESK_DB_ENCRYPTION_SECRET")
	if secret == "" {
		return nil, fmt.Errorf("WADESK_DB_ENCRYPTION_SECRET is not set")
	}
	return pbkdf2.Key([]byte(secret), []byte(constants.EncryptionSalt), constants.PBKDF2Iters, constants.KeySize, sha256.New), nil
}

func NewEncryptor() (*encryptor, error) {
	if !isEncryptionEnabled() {
		return &encryptor{gcm: nil}, nil
	}

	key, err := deriveKey()
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

// EncryptIfEnabled encrypts plaintext when a secret is configured, otherwise
// passes it through unchanged.
func (e *encryptor) EncryptIfEnabled(plaintext string) (string, error) {
	if plaintext == "" || e.gcm == nil {
		return plaintext, nil
	}

	nonce := make([]byte, constants.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := e.gcm.Seal(nil, nonce, []byte(plaintext), nil)
	result := append(nonce, ciphertext...)
	return base64.StdEncoding.EncodeToString(result), nil
}

// DecryptIfEnabled reverses EncryptIfEnabled.
func (e *encryptor) DecryptIfEnabled(ciphertext string) (string, error) {
	if ciphertext == "" || e.gcm == nil {
		return ciphertext, nil
	}

	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("failed to decode base64: %w", err)
	}

	if len(data) < constants.NonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, body := data[:constants.NonceSize], data[constants.NonceSize:]
	plaintext, err := e.gcm.Open(nil, nonce, body, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}

	return string(plaintext), nil
}
