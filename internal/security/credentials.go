package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	apperrors "labhub/pkg/errors"

	"github.com/zalando/go-keyring"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// Keyring service name
	keyringService = "labhub"
	// Salt for key derivation
	saltSize = 16
	// Number of iterations for PBKDF2
	pbkdf2Iterations = 100000
	// Key size for AES-256
	keySize = 32

	encryptedPrefix = "ENC["
	encryptedSuffix = "]"
	envPrefix       = "env:"
	keyringPrefix   = "keyring:"

	// EncryptionKeyEnv overrides the machine-derived passphrase for ENC[...] values
	EncryptionKeyEnv = "LABHUB_ENCRYPTION_KEY"
)

// CredentialManager resolves credential references found in configuration.
//
// Supported forms:
//
//	env:NAME       value of environment variable NAME
//	keyring:NAME   secret NAME stored in the OS keyring under the "labhub" service
//	ENC[...]       AES-256-GCM ciphertext produced by Encrypt
//
// Any other value is returned unchanged.
type CredentialManager struct {
	passphrase []byte
}

// NewCredentialManager creates a credential manager. The ENC passphrase comes
// from LABHUB_ENCRYPTION_KEY, or from machine-specific data when unset.
func NewCredentialManager() *CredentialManager {
	pass := os.Getenv(EncryptionKeyEnv)
	if pass == "" {
		pass = getMachineID()
	}
	return &CredentialManager{passphrase: []byte(pass)}
}

// NewCredentialManagerWithPassphrase uses an explicit ENC passphrase
func NewCredentialManagerWithPassphrase(passphrase string) *CredentialManager {
	return &CredentialManager{passphrase: []byte(passphrase)}
}

// Resolve turns a configured value into the secret it refers to
func (cm *CredentialManager) Resolve(value string) (string, error) {
	switch {
	case strings.HasPrefix(value, envPrefix):
		name := strings.TrimPrefix(value, envPrefix)
		secret, ok := os.LookupEnv(name)
		if !ok || secret == "" {
			return "", apperrors.New(apperrors.ErrCodeCredentialMissing,
				fmt.Sprintf("environment variable %s is not set", name)).
				WithContext("variable", name).
				WithSuggestions(fmt.Sprintf("export %s=<secret>", name))
		}
		return secret, nil

	case strings.HasPrefix(value, keyringPrefix):
		name := strings.TrimPrefix(value, keyringPrefix)
		secret, err := keyring.Get(keyringService, name)
		if err != nil {
			return "", apperrors.Wrap(err, apperrors.ErrCodeCredentialMissing,
				fmt.Sprintf("keyring entry %s not found", name)).
				WithContext("keyring_entry", name).
				WithSuggestions("Store it with 'labhub config encrypt-password --keyring " + name + "'")
		}
		return secret, nil

	case IsEncrypted(value):
		return cm.Decrypt(value)
	}

	return value, nil
}

// Store saves a secret in the OS keyring and returns the reference to put in config
func (cm *CredentialManager) Store(name, secret string) (string, error) {
	if err := keyring.Set(keyringService, name, secret); err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeEncryptionFailed, "failed to store in keyring").
			WithContext("keyring_entry", name)
	}
	return keyringPrefix + name, nil
}

// Delete removes a secret from the OS keyring
func (cm *CredentialManager) Delete(name string) error {
	return keyring.Delete(keyringService, name)
}

// Encrypt seals plaintext as ENC[base64(salt|nonce|ciphertext)]
func (cm *CredentialManager) Encrypt(plaintext string) (string, error) {
	if plaintext == "" || IsEncrypted(plaintext) || IsReference(plaintext) {
		return plaintext, nil
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeEncryptionFailed, "failed to generate salt")
	}

	gcm, err := cm.cipherFor(salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeEncryptionFailed, "failed to generate nonce")
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	payload := append(salt, sealed...)

	return encryptedPrefix + base64.StdEncoding.EncodeToString(payload) + encryptedSuffix, nil
}

// Decrypt opens a value produced by Encrypt
func (cm *CredentialManager) Decrypt(value string) (string, error) {
	if !IsEncrypted(value) {
		return value, nil
	}

	encoded := strings.TrimSuffix(strings.TrimPrefix(value, encryptedPrefix), encryptedSuffix)
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeEncryptionFailed, "failed to decode encrypted value")
	}
	if len(data) < saltSize {
		return "", apperrors.New(apperrors.ErrCodeEncryptionFailed, "encrypted value too short")
	}

	salt, rest := data[:saltSize], data[saltSize:]
	gcm, err := cm.cipherFor(salt)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(rest) < nonceSize {
		return "", apperrors.New(apperrors.ErrCodeEncryptionFailed, "ciphertext too short")
	}

	nonce, ciphertext := rest[:nonceSize], rest[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeEncryptionFailed,
			"failed to decrypt: wrong encryption key or corrupted value").
			WithSuggestions("Check " + EncryptionKeyEnv + " matches the key used by 'labhub config encrypt-password'")
	}

	return string(plaintext), nil
}

func (cm *CredentialManager) cipherFor(salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key(cm.passphrase, salt, pbkdf2Iterations, keySize, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeEncryptionFailed, "failed to create cipher")
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeEncryptionFailed, "failed to create GCM")
	}
	return gcm, nil
}

// IsEncrypted reports whether value is an ENC[...] ciphertext
func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, encryptedPrefix) && strings.HasSuffix(value, encryptedSuffix)
}

// IsReference reports whether value points at an external secret
func IsReference(value string) bool {
	return strings.HasPrefix(value, envPrefix) || strings.HasPrefix(value, keyringPrefix)
}

func getMachineID() string {
	hostname, _ := os.Hostname()
	user := os.Getenv("USER")
	if user == "" {
		user = os.Getenv("USERNAME")
	}

	data := fmt.Sprintf("%s-%s-%s-%s-labhub", hostname, user, runtime.GOOS, runtime.GOARCH)
	hash := sha256.Sum256([]byte(data))
	return base64.StdEncoding.EncodeToString(hash[:])
}
