package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// File is the YAML daemon configuration. It holds tunables that are fixed
// for the lifetime of the process; user-editable device settings (Wi-Fi
// credentials, indicator color) live in the SQLite settings store instead.
type File struct {
	Listen    string          `yaml:"listen"`
	AP        APConfig        `yaml:"ap"`
	Network   NetworkConfig   `yaml:"network"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Indicator IndicatorConfig `yaml:"indicator"`
	Discovery DiscoveryConfig `yaml:"discovery"`
}

// APConfig describes the provisioning access point the device falls back to.
type APConfig struct {
	SSID       string `yaml:"ssid"`
	MaxClients int    `yaml:"max_clients"`
}

// NetworkConfig tunes the station-mode connection state machine.
type NetworkConfig struct {
	RetryBudget int `yaml:"retry_budget"`
}

// GatewayConfig points at the voice-chat gateway. The token is deliberately
// not stored in the file; TokenEnv names the environment variable carrying it.
type GatewayConfig struct {
	URL      string `yaml:"url"`
	TokenEnv string `yaml:"token_env"`
}

// IndicatorConfig describes the attached LED strip.
type IndicatorConfig struct {
	Leds   int           `yaml:"leds"`
	Tick   time.Duration `yaml:"tick"`
	Enable bool          `yaml:"enable"`
}

// DiscoveryConfig controls mDNS advertisement of the HTTP service.
type DiscoveryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Hostname string `yaml:"hostname"`
	Port     int    `yaml:"port"`
}

// DefaultFile returns the configuration used when no YAML file exists.
func DefaultFile() File {
	return File{
		Listen: ":80",
		AP: APConfig{
			SSID:       "Lumio-Setup",
			MaxClients: 4,
		},
		Network: NetworkConfig{
			RetryBudget: 5,
		},
		Gateway: GatewayConfig{
			TokenEnv: "LUMIO_GATEWAY_TOKEN",
		},
		Indicator: IndicatorConfig{
			Leds:   8,
			Tick:   50 * time.Millisecond,
			Enable: true,
		},
		Discovery: DiscoveryConfig{
			Enabled:  true,
			Hostname: "lumio",
			Port:     80,
		},
	}
}

// LoadFile reads the YAML configuration at path, layered over DefaultFile.
// A missing file is not an error; the defaults are returned as-is.
func LoadFile(path string) (File, error) {
	cfg := DefaultFile()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return File{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return File{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := Validate(&cfg); err != nil {
		return File{}, err
	}

	return cfg, nil
}

// Validate checks configuration correctness. It performs declarative
// validation only and never mutates the configuration.
func Validate(cfg *File) error {
	if strings.TrimSpace(cfg.Listen) == "" {
		return errors.New("config: listen address must not be empty")
	}
	if strings.TrimSpace(cfg.AP.SSID) == "" {
		return errors.New("config: ap.ssid must not be empty")
	}
	if cfg.AP.MaxClients <= 0 {
		return fmt.Errorf("config: ap.max_clients must be positive, got %d", cfg.AP.MaxClients)
	}
	if cfg.Network.RetryBudget <= 0 {
		return fmt.Errorf("config: network.retry_budget must be positive, got %d", cfg.Network.RetryBudget)
	}
	if cfg.Indicator.Leds <= 0 {
		return fmt.Errorf("config: indicator.leds must be positive, got %d", cfg.Indicator.Leds)
	}
	if cfg.Indicator.Tick <= 0 {
		return fmt.Errorf("config: indicator.tick must be positive, got %s", cfg.Indicator.Tick)
	}
	if cfg.Gateway.URL != "" &&
		!strings.HasPrefix(cfg.Gateway.URL, "ws://") && !strings.HasPrefix(cfg.Gateway.URL, "wss://") {
		return fmt.Errorf("config: gateway.url must use ws:// or wss://, got %q", cfg.Gateway.URL)
	}
	if cfg.Discovery.Enabled && cfg.Discovery.Port <= 0 {
		return fmt.Errorf("config: discovery.port must be positive, got %d", cfg.Discovery.Port)
	}
	return nil
}
