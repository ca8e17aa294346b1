package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

const (
	EnvGatewayToken = "MORNINGBOT_GATEWAY_TOKEN"
	EnvGatewayURL   = "MORNINGBOT_GATEWAY_URL"
)

// LoadDotEnv loads a .env file next to the config file, if present.
// Variables already set in the process environment win.
func LoadDotEnv(configPath string) error {
	p := filepath.Join(filepath.Dir(configPath), ".env")
	if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return godotenv.Load(p)
}

// applyEnv overrides secrets and endpoints from the environment.
func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(EnvGatewayToken)); v != "" {
		cfg.Gateway.Token = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvGatewayURL)); v != "" {
		cfg.Gateway.URL = v
	}
}
