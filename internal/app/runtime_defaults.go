package app

import (
	"fmt"
	"strings"

	"github.com/charlesng35/skyprovider/pkg/crypto"
)

const tokenSecretBytes = 48

// ApplyRuntimeDefaults ensures critical secrets are populated even when no configuration file is supplied.
// It returns a map describing which keys were generated so callers can log the event without exposing values.
func ApplyRuntimeDefaults(cfg *Config) (map[string]bool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	generated := make(map[string]bool)

	if strings.TrimSpace(cfg.Provider.TokenSecret) == "" {
		secret, err := crypto.GenerateToken(tokenSecretBytes)
		if err != nil {
			return nil, fmt.Errorf("generate popup token secret: %w", err)
		}
		cfg.Provider.TokenSecret = secret
		generated["provider.token_secret"] = true
	}

	return generated, nil
}
