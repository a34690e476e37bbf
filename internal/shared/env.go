package shared

import (
	"errors"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

const (
	EnvBaseURL = "EVPN_BASE_URL"
	EnvAPIKey  = "EVPN_API_KEY"
	EnvDBPath  = "EVPN_DB_PATH"
	EnvConfig  = "EVPN_CONFIG"

	EnvClientID     = "EVPN_CLIENT_ID"
	EnvClientSecret = "EVPN_CLIENT_SECRET"
)

// LoadEnv loads variables from the given dotenv files into the process
// environment. Missing files are skipped; existing variables win.
func LoadEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
	}
	return nil
}

// ApplyEnv overrides config values with EVPN_* environment variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvBaseURL); v != "" {
		c.Backend.BaseURL = v
	}
	if v := os.Getenv(EnvAPIKey); v != "" {
		c.Backend.APIKey = v
	}
	if v := os.Getenv(EnvDBPath); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv(EnvClientID); v != "" {
		c.Identity.ClientID = v
	}
	if v := os.Getenv(EnvClientSecret); v != "" {
		c.Identity.ClientSecret = v
	}
}
