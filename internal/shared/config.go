package shared

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Backend  BackendConfig  `toml:"backend"`
	Proxy    ProxyConfig    `toml:"proxy"`
	Identity IdentityConfig `toml:"identity"`
	Database DatabaseConfig `toml:"database"`
	Server   ServerConfig   `toml:"server"`
}

// BackendConfig describes the remote API that issues endpoints and entitlements.
type BackendConfig struct {
	BaseURL    string  `toml:"base_url"`
	APIKey     string  `toml:"api_key"`
	TimeoutSec int     `toml:"timeout_sec"`
	RateLimit  float64 `toml:"rate_limit"`
	Burst      int     `toml:"burst"`
}

// ProxyConfig controls how proxy configurations are built, applied and probed.
type ProxyConfig struct {
	Scheme          string   `toml:"scheme"`
	Port            int      `toml:"port"`
	BypassList      []string `toml:"bypass_list"`
	Facility        string   `toml:"facility"`
	StateFile       string   `toml:"state_file"`
	NetworkService  string   `toml:"network_service"`
	ProbeURL        string   `toml:"probe_url"`
	ProbeTimeoutSec int      `toml:"probe_timeout_sec"`
	ProbeTransport  string   `toml:"probe_transport"`
	ApplyTimeoutSec int      `toml:"apply_timeout_sec"`
}

// IdentityConfig holds the identity provider used to sign in and the
// endpoint that revokes its tokens on logout.
type IdentityConfig struct {
	ClientID     string   `toml:"client_id"`
	ClientSecret string   `toml:"client_secret"`
	AuthURL      string   `toml:"auth_url"`
	TokenURL     string   `toml:"token_url"`
	RedirectURL  string   `toml:"redirect_url"`
	Scopes       []string `toml:"scopes"`
	RevokeURL    string   `toml:"revoke_url"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// ServerConfig contains control API settings.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// Addr returns the host:port pair the control API listens on.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + strconv.Itoa(s.Port)
}

// Timeout converts TimeoutSec, falling back to 15 seconds.
func (b BackendConfig) Timeout() time.Duration {
	return seconds(b.TimeoutSec, 15)
}

// ProbeTimeout converts ProbeTimeoutSec, falling back to 10 seconds.
func (p ProxyConfig) ProbeTimeout() time.Duration {
	return seconds(p.ProbeTimeoutSec, 10)
}

// ApplyTimeout converts ApplyTimeoutSec, falling back to 10 seconds.
func (p ProxyConfig) ApplyTimeout() time.Duration {
	return seconds(p.ApplyTimeoutSec, 10)
}

func seconds(n, fallback int) time.Duration {
	if n <= 0 {
		n = fallback
	}
	return time.Duration(n) * time.Second
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// Keys missing from the file keep the values of [DefaultConfig].
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	return config, nil
}

// LoadConfigOrDefault loads path when it exists and returns the defaults otherwise.
func LoadConfigOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		return DefaultConfig(), nil
	}
	return LoadConfig(path)
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile writes the embedded example config to path, refusing to overwrite.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
