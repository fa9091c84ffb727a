package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"stargate/internal/auth"
)

// Defaults for everything the config file leaves out.
const (
	DefaultBaseURL      = "https://dev-wwwcdn.us-east-1.shapediver.com"
	DefaultClientID     = "660310c8-50f4-4f47-bd78-9c7ede8e659b"
	DefaultCallbackPort = 3000
	DefaultClientName   = "Stargate Client"
	DefaultLogLevel     = "info"
)

// DefaultConfigPath returns the default config file location,
// ~/.config/stargate/config.yaml.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to determine home directory: %w", err)
	}
	return filepath.Join(home, ".config", "stargate", "config.yaml"), nil
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() Config {
	credentialsPath, _ := auth.DefaultCredentialsPath()
	return Config{
		Auth: AuthConfig{
			BaseURL:      DefaultBaseURL,
			ClientID:     DefaultClientID,
			CallbackPort: DefaultCallbackPort,
			AutoLogin:    true,
		},
		Gateway: GatewayConfig{
			ClientName: DefaultClientName,
			OutputDir:  ".",
		},
		Credentials: CredentialsConfig{
			Path: credentialsPath,
		},
		LogLevel: DefaultLogLevel,
	}
}

// Load reads the config file at path, or the default location when path is
// empty. A missing file yields the defaults; a malformed file is an error.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	explicit := path != ""
	if !explicit {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return cfg, err
		}
		path = defaultPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	applyDefaults(&cfg)
	return cfg, nil
}

// applyDefaults restores defaults for fields the file set to empty values.
func applyDefaults(cfg *Config) {
	if cfg.Auth.BaseURL == "" {
		cfg.Auth.BaseURL = DefaultBaseURL
	}
	if cfg.Auth.ClientID == "" {
		cfg.Auth.ClientID = DefaultClientID
	}
	if cfg.Auth.CallbackPort == 0 {
		cfg.Auth.CallbackPort = DefaultCallbackPort
	}
	if cfg.Gateway.ClientName == "" {
		cfg.Gateway.ClientName = DefaultClientName
	}
	if cfg.Gateway.OutputDir == "" {
		cfg.Gateway.OutputDir = "."
	}
	if cfg.Credentials.Path == "" {
		cfg.Credentials.Path, _ = auth.DefaultCredentialsPath()
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}
}
