package config

import (
	"labhub/internal/security"
	"labhub/pkg/models"
)

// LoadSecure loads, validates and resolves credentials in one step. The
// returned config holds plain secrets and must not be saved.
func LoadSecure(path string, cm *security.CredentialManager) (*models.Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	if cm == nil {
		cm = security.NewCredentialManager()
	}
	if err := ResolveSecrets(cfg, cm); err != nil {
		return nil, err
	}

	return cfg, nil
}
