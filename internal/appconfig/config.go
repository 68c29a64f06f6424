package appconfig

import (
	"os"
	"path/filepath"
)

// Config is the top-level application configuration.
type Config struct {
	ConfigVersion int           `mapstructure:"config_version" yaml:"config_version"`
	Hub           HubConfig     `mapstructure:"hub" yaml:"hub"`
	Gateway       GatewayConfig `mapstructure:"gateway" yaml:"gateway"`
	Retry         RetryConfig   `mapstructure:"retry" yaml:"retry"`
	Links         LinksConfig   `mapstructure:"links" yaml:"links"`
	HTTP          HTTPConfig    `mapstructure:"http" yaml:"http"`
}

// CurrentConfigVersion marks the supported config version.
const CurrentConfigVersion = 1

// HubConfig configures the control-plane endpoint that provisions tenant
// servers.
type HubConfig struct {
	BaseURL            string `mapstructure:"base_url" yaml:"base_url"`
	Token              string `mapstructure:"token" yaml:"token"`
	IdleTimeoutSeconds int    `mapstructure:"idle_timeout_seconds" yaml:"idle_timeout_seconds"`
}

// GatewayConfig configures access to ready tenant servers.
type GatewayConfig struct {
	Token string `mapstructure:"token" yaml:"token"`
}

// RetryConfig controls transient-failure retries on control-plane and
// server calls.
type RetryConfig struct {
	MaxAttempts     int `mapstructure:"max_attempts" yaml:"max_attempts"`
	BaseDelayMillis int `mapstructure:"base_delay_millis" yaml:"base_delay_millis"`
	MaxDelaySeconds int `mapstructure:"max_delay_seconds" yaml:"max_delay_seconds"`
}

// LinksConfig controls sandbox link rewriting in execution output.
type LinksConfig struct {
	Sentinel         string `mapstructure:"sentinel" yaml:"sentinel"`
	PartialThreshold int    `mapstructure:"partial_threshold" yaml:"partial_threshold"`
	PublicBaseURL    string `mapstructure:"public_base_url" yaml:"public_base_url"`
}

// HTTPConfig configures the HTTP server.
type HTTPConfig struct {
	Addr  string `mapstructure:"addr" yaml:"addr"`
	Token string `mapstructure:"token" yaml:"token"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() (Config, error) {
	return Config{
		ConfigVersion: CurrentConfigVersion,
		Hub: HubConfig{
			BaseURL:            "http://localhost:8000",
			Token:              "$JOVIAN_HUB_TOKEN",
			IdleTimeoutSeconds: 60,
		},
		Gateway: GatewayConfig{
			Token: "$JOVIAN_GATEWAY_TOKEN",
		},
		Retry: RetryConfig{
			MaxAttempts:     3,
			BaseDelayMillis: 500,
			MaxDelaySeconds: 8,
		},
		Links: LinksConfig{
			Sentinel:         "sandbox:",
			PartialThreshold: 30,
			PublicBaseURL:    "",
		},
		HTTP: HTTPConfig{
			Addr:  ":27490",
			Token: "",
		},
	}, nil
}

// DefaultConfigPath returns the standard config path.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".jovian", "config.yaml"), nil
}
