package appconfig

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Load reads configuration from the provided path. If path is empty, uses DefaultConfigPath.
func Load(path string) (Config, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return Config{}, err
		}
		path = defaultPath
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetDefault("config_version", cfg.ConfigVersion)
	v.SetDefault("hub.base_url", cfg.Hub.BaseURL)
	v.SetDefault("hub.token", cfg.Hub.Token)
	v.SetDefault("hub.idle_timeout_seconds", cfg.Hub.IdleTimeoutSeconds)
	v.SetDefault("gateway.token", cfg.Gateway.Token)
	v.SetDefault("retry.max_attempts", cfg.Retry.MaxAttempts)
	v.SetDefault("retry.base_delay_millis", cfg.Retry.BaseDelayMillis)
	v.SetDefault("retry.max_delay_seconds", cfg.Retry.MaxDelaySeconds)
	v.SetDefault("links.sentinel", cfg.Links.Sentinel)
	v.SetDefault("links.partial_threshold", cfg.Links.PartialThreshold)
	v.SetDefault("links.public_base_url", cfg.Links.PublicBaseURL)
	v.SetDefault("http.addr", cfg.HTTP.Addr)
	v.SetDefault("http.token", cfg.HTTP.Token)

	configLoaded := false
	if err := v.ReadInConfig(); err != nil {
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if !notFound && !errors.Is(err, os.ErrNotExist) {
			return Config{}, err
		}
	} else {
		configLoaded = true
	}

	if configLoaded {
		if !v.IsSet("config_version") {
			return Config{}, fmt.Errorf("config_version is required; expected %d", CurrentConfigVersion)
		}
		if v.GetInt("config_version") != CurrentConfigVersion {
			return Config{}, fmt.Errorf("unsupported config_version %d; expected %d", v.GetInt("config_version"), CurrentConfigVersion)
		}
		if !v.IsSet("hub.base_url") {
			return Config{}, fmt.Errorf("hub.base_url is required for config_version %d", CurrentConfigVersion)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	expandConfigEnv(&cfg)
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	if err := validateURL("hub.base_url", cfg.Hub.BaseURL); err != nil {
		return err
	}
	if cfg.Links.PublicBaseURL != "" {
		if err := validateURL("links.public_base_url", cfg.Links.PublicBaseURL); err != nil {
			return err
		}
	}
	if cfg.Links.Sentinel == "" {
		return fmt.Errorf("links.sentinel must not be empty")
	}
	if cfg.Links.PartialThreshold <= 0 {
		return fmt.Errorf("links.partial_threshold must be positive")
	}
	if cfg.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be positive")
	}
	return nil
}

func validateURL(key, value string) error {
	parsed, err := url.Parse(strings.TrimSpace(value))
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("%s must include scheme and host (e.g. https://example.com)", key)
	}
	return nil
}

func expandConfigEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	cfg.Hub.BaseURL = expandEnv(cfg.Hub.BaseURL)
	cfg.Hub.Token = expandEnv(cfg.Hub.Token)
	cfg.Gateway.Token = expandEnv(cfg.Gateway.Token)
	cfg.Links.PublicBaseURL = expandEnv(cfg.Links.PublicBaseURL)
	cfg.HTTP.Token = expandEnv(cfg.HTTP.Token)
}

func expandEnv(value string) string {
	if value == "" {
		return value
	}
	return os.Expand(value, func(key string) string {
		if key == "" {
			return ""
		}
		if val, ok := os.LookupEnv(key); ok {
			return val
		}
		return ""
	})
}

// WriteDefault writes the default config to the target path.
func WriteDefault(path string, overwrite bool) (string, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return "", err
		}
		path = defaultPath
	}

	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("config already exists at %s", path)
		}
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return "", err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}
