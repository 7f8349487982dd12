package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"funnel/pkg/logging"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const (
	userConfigDir  = ".config/funnel"
	configFileName = "config.yaml"
)

// envOverrides are the environment variables that override file configuration.
// They apply after the file is parsed so an operator can tweak a deployment
// without editing config.yaml.
type envOverrides struct {
	Host       string `env:"FUNNEL_HOST"`
	Port       int    `env:"FUNNEL_PORT"`
	Transport  string `env:"FUNNEL_TRANSPORT"`
	ToolPrefix string `env:"FUNNEL_TOOL_PREFIX"`
	TokenDir   string `env:"FUNNEL_TOKEN_DIR"`
	Backend    string `env:"FUNNEL_TOKEN_BACKEND"`
}

// GetDefaultConfigPathOrPanic returns ~/.config/funnel.
func GetDefaultConfigPathOrPanic() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		panic(fmt.Errorf("could not determine user config directory: %w", err))
	}

	return filepath.Join(homeDir, userConfigDir)
}

// LoadConfig loads configuration from the specified directory. A missing
// config.yaml yields the defaults; a malformed one is an error. Environment
// variables override file values last.
func LoadConfig(configPath string) (FunnelConfig, error) {
	configFilePath := filepath.Join(configPath, configFileName)
	config := GetDefaultConfig()

	data, err := os.ReadFile(configFilePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logging.Info("ConfigLoader", "No config.yaml found at %s, using defaults", configFilePath)
			return applyEnvOverrides(config)
		}
		logging.Info("ConfigLoader", "Error loading config.yaml from %s: %s", configFilePath, err)
		return FunnelConfig{}, err
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return FunnelConfig{}, fmt.Errorf("error loading config from %s: %w", configFilePath, err)
	}
	logging.Info("ConfigLoader", "Loaded configuration from %s", configFilePath)

	return applyEnvOverrides(config)
}

// applyEnvOverrides applies FUNNEL_* environment variables on top of the
// parsed configuration.
func applyEnvOverrides(config FunnelConfig) (FunnelConfig, error) {
	var overrides envOverrides
	if err := env.Parse(&overrides); err != nil {
		return FunnelConfig{}, fmt.Errorf("error parsing environment overrides: %w", err)
	}

	if overrides.Host != "" {
		config.Aggregator.Host = overrides.Host
	}
	if overrides.Port != 0 {
		config.Aggregator.Port = overrides.Port
	}
	if overrides.Transport != "" {
		config.Aggregator.Transport = overrides.Transport
	}
	if overrides.ToolPrefix != "" {
		config.Aggregator.ToolPrefix = overrides.ToolPrefix
	}
	if overrides.TokenDir != "" {
		config.Tokens.Dir = overrides.TokenDir
	}
	if overrides.Backend != "" {
		config.Tokens.Backend = overrides.Backend
	}

	return config, nil
}

// Validate checks the configuration for structural problems worth failing
// fast on: duplicate upstream names, missing URLs, unknown transports, and
// auth blocks without the required endpoints.
func Validate(config FunnelConfig) error {
	seen := make(map[string]bool)
	for _, up := range config.Upstreams {
		if up.Name == "" {
			return fmt.Errorf("upstream with URL %q has no name", up.URL)
		}
		if seen[up.Name] {
			return fmt.Errorf("duplicate upstream name %q", up.Name)
		}
		seen[up.Name] = true

		if up.URL == "" {
			return fmt.Errorf("upstream %q has no URL", up.Name)
		}
		switch up.Transport {
		case "", TransportStreamableHTTP, TransportSSE, TransportWebSocket:
		default:
			return fmt.Errorf("upstream %q has unknown transport %q", up.Name, up.Transport)
		}

		if up.Auth != nil {
			if up.Auth.TokenURL == "" {
				return fmt.Errorf("upstream %q auth has no tokenUrl", up.Name)
			}
			if up.Auth.ClientID == "" {
				return fmt.Errorf("upstream %q auth has no clientId", up.Name)
			}
			switch up.Auth.GrantType {
			case "", "client_credentials":
			case "authorization_code":
				if up.Auth.AuthzURL == "" {
					return fmt.Errorf("upstream %q auth has no authorizationUrl", up.Name)
				}
			default:
				return fmt.Errorf("upstream %q auth has unknown grantType %q", up.Name, up.Auth.GrantType)
			}
		}
	}

	return nil
}
