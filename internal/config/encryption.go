package config

import (
	"labhub/internal/security"
	apperrors "labhub/pkg/errors"
	"labhub/pkg/models"
)

const redactedValue = "********"

// secretFields lists every credential held in the configuration
func secretFields(cfg *models.Config) map[string]*string {
	return map[string]*string{
		"source.password":    &cfg.Source.Password,
		"warehouse.password": &cfg.Warehouse.Password,
	}
}

// EncryptConfigPasswords replaces plain-text passwords with ENC[...] values.
// References (env:, keyring:) and already-encrypted values are kept.
func EncryptConfigPasswords(cfg *models.Config, cm *security.CredentialManager) error {
	for field, value := range secretFields(cfg) {
		encrypted, err := cm.Encrypt(*value)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeEncryptionFailed, "failed to encrypt "+field).
				WithContext("field", field)
		}
		*value = encrypted
	}
	return nil
}

// ResolveSecrets replaces every credential reference with the secret it names
func ResolveSecrets(cfg *models.Config, cm *security.CredentialManager) error {
	for field, value := range secretFields(cfg) {
		resolved, err := cm.Resolve(*value)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeCredentialMissing, "failed to resolve "+field).
				WithContext("field", field)
		}
		*value = resolved
	}
	return nil
}

// Redact returns a copy of cfg with plain-text and encrypted passwords masked.
// References are shown as written since they carry no secret.
func Redact(cfg *models.Config) models.Config {
	out := *cfg
	for _, value := range secretFields(&out) {
		if *value != "" && !security.IsReference(*value) {
			*value = redactedValue
		}
	}
	return out
}
