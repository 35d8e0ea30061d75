package config

import (
	"errors"
	"os"
	"strings"
)

// ErrNoAPIKey is returned when no API key is configured.
var ErrNoAPIKey = errors.New("no Anthropic API key configured")

// GetAPIKey returns the Anthropic API key for a provider.
// It checks in order: the provider's own key, environment variable, config file.
func GetAPIKey(cfg *Config, provider ProviderConfig) (string, error) {
	if key := usable(provider.APIKey); key != "" {
		return key, nil
	}

	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		return key, nil
	}

	if cfg != nil {
		if key := usable(cfg.Anthropic.APIKey); key != "" {
			return key, nil
		}
	}

	return "", ErrNoAPIKey
}

// usable expands env references and rejects unresolved placeholders.
func usable(key string) string {
	key = os.ExpandEnv(key)
	if key == "" || strings.HasPrefix(key, "${") {
		return ""
	}
	return key
}

// MaskAPIKey returns a masked version of the API key for display.
// Shows the first 7 characters (sk-ant-) and last 4 characters.
func MaskAPIKey(key string) string {
	if key == "" {
		return "(not set)"
	}

	if len(key) <= 15 {
		return "***"
	}

	return key[:7] + "..." + key[len(key)-4:]
}
