package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrNotInitialized is returned until InitEncryption succeeded
var ErrNotInitialized = errors.New("encryption not initialized")

var encryptionKey []byte

// InitEncryption loads the key that protects stored refresh tokens.
// ENCRYPTION_KEY wins when set: a base64 32-byte key is used as is, anything
// else is hashed down to 32 bytes. Otherwise the key comes from the system
// keychain, generated on first use.
func InitEncryption() error {
	if raw := os.Getenv("ENCRYPTION_KEY"); raw != "" {
		encryptionKey = deriveKey(raw)
		return nil
	}

	key, err := GenerateOrLoadKey()
	if err != nil {
		return fmt.Errorf("failed to initialize encryption from keystore: %w", err)
	}
	encryptionKey = key
	return nil
}

func deriveKey(raw string) []byte {
	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err == nil && len(decoded) == 32 {
		return decoded
	}
	if err != nil {
		decoded = []byte(raw)
	}
	sum := sha256.Sum256(decoded)
	return sum[:]
}

func newGCM() (cipher.AEAD, error) {
	if len(encryptionKey) == 0 {
		return nil, ErrNotInitialized
	}
	block, err := aes.NewCipher(encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// Encrypt seals plaintext with AES-256-GCM. The output is
// base64(nonce || ciphertext).
func Encrypt(plaintext string) (string, error) {
	gcm, err := newGCM()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt
func Decrypt(encoded string) (string, error) {
	gcm, err := newGCM()
	if err != nil {
		return "", err
	}

	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("failed to decode base64: %w", err)
	}
	if len(sealed) < gcm.NonceSize() {
		return "", errors.New("ciphertext too short")
	}

	nonce, body := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, body, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}
	return string(plaintext), nil
}

// EncryptToken encrypts an OAuth refresh token for storage.
// An empty token stays empty so "no token" remains distinguishable.
func EncryptToken(token string) (string, error) {
	if token == "" {
		return "", nil
	}
	return Encrypt(token)
}

// DecryptToken reverses EncryptToken
func DecryptToken(stored string) (string, error) {
	if stored == "" {
		return "", nil
	}
	return Decrypt(stored)
}
