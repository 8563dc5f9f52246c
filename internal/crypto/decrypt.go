// Package crypto implements the credential-decryption collaborator: a
// single decrypt(ciphertext) -> plaintext operation the coordinator
// calls before it can open an IMAP connection for a mailbox.
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
	"path/filepath"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// Decryptor is the credential-decryption contract. Errors are terminal
// for the mailbox that supplied the ciphertext.
type Decryptor interface {
	Decrypt(ciphertext string) (string, error)
}

const (
	encryptedPrefix  = "v1:"
	pbkdf2Iterations = 100000
	saltSize         = 32
	keySize          = 32
)

// AESGCMDecryptor implements Decryptor with AES-256-GCM keyed by a
// PBKDF2-HMAC-SHA256 derivation of an operator-supplied passphrase. The
// salt is generated once and persisted next to the store so re-running
// the process with the same passphrase reproduces the same key.
type AESGCMDecryptor struct {
	key []byte
}

// NewAESGCMDecryptor derives the working key from passphrase and the
// salt file at saltPath, creating the salt file if it doesn't exist yet.
func NewAESGCMDecryptor(passphrase, saltPath string) (*AESGCMDecryptor, error) {
	passphrase = strings.TrimSpace(passphrase)
	if passphrase == "" {
		return nil, errors.New("decryption passphrase must not be empty")
	}

	salt, err := loadOrCreateSalt(saltPath)
	if err != nil {
		return nil, fmt.Errorf("loading salt: %w", err)
	}

	key := pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, keySize, sha256.New)
	return &AESGCMDecryptor{key: key}, nil
}

func loadOrCreateSalt(path string) ([]byte, error) {
	if data, err := os.ReadFile(path); err == nil {
		salt, decErr := base64.StdEncoding.DecodeString(strings.TrimSpace(string(data)))
		if decErr == nil && len(salt) == saltSize {
			return salt, nil
		}
	}

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating salt directory: %w", err)
		}
	}

	encoded := base64.StdEncoding.EncodeToString(salt)
	if err := os.WriteFile(path, []byte(encoded), 0o600); err != nil {
		return nil, fmt.Errorf("writing salt: %w", err)
	}

	return salt, nil
}

// Encrypt is exposed alongside Decrypt so tests can produce valid
// ciphertexts without duplicating the AES-GCM setup elsewhere; the engine
// itself only ever calls Decrypt.
func (d *AESGCMDecryptor) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(d.key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return encryptedPrefix + base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt implements Decryptor.
func (d *AESGCMDecryptor) Decrypt(stored string) (string, error) {
	if !strings.HasPrefix(stored, encryptedPrefix) {
		return "", errors.New("credential is not in the expected v1: envelope")
	}

	block, err := aes.NewCipher(d.key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, encryptedPrefix))
	if err != nil {
		return "", fmt.Errorf("decoding ciphertext: %w", err)
	}
	if len(raw) < gcm.NonceSize() {
		return "", errors.New("ciphertext too short")
	}

	nonce, ct := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", fmt.Errorf("decrypting credential: %w", err)
	}
	return string(plaintext), nil
}
