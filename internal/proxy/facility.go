package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/evpn/internal/models"
	"github.com/desertthunder/evpn/internal/shared"
)

// Facility sets and clears the platform proxy.
type Facility interface {
	Set(ctx context.Context, cfg models.ProxyConfiguration) error
	Clear(ctx context.Context) error
}

// NewFacility picks the facility named by cfg.Facility.
func NewFacility(cfg shared.ProxyConfig, logger *log.Logger) (Facility, error) {
	switch cfg.Facility {
	case "", "file":
		path := cfg.StateFile
		if path == "" {
			path = "./proxy.json"
		}
		return NewFileFacility(path), nil
	case "system":
		sys, err := NewSystemFacility(cfg.NetworkService, nil)
		if err != nil {
			return nil, err
		}
		return sys, nil
	case "none":
		return &NopFacility{logger: logger}, nil
	}
	return nil, fmt.Errorf("%w: unknown proxy facility %q", shared.ErrInvalidConfig, cfg.Facility)
}

// FileFacility writes the proxy settings document to a file.
//
// The file holds {mode, rules:{singleProxy:{scheme,host,port}, bypassList}}; clearing removes it.
type FileFacility struct {
	path string
	mu   sync.Mutex
}

// NewFileFacility creates a [FileFacility] writing to path.
func NewFileFacility(path string) *FileFacility {
	return &FileFacility{path: path}
}

// Path returns the settings file location.
func (f *FileFacility) Path() string { return f.path }

// Set replaces the settings file atomically.
func (f *FileFacility) Set(ctx context.Context, cfg models.ProxyConfiguration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode proxy settings: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0600); err != nil {
		return fmt.Errorf("failed to write proxy settings: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace proxy settings: %w", err)
	}
	return nil
}

// Clear removes the settings file. A missing file is not an error.
func (f *FileFacility) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove proxy settings: %w", err)
	}
	return nil
}

// Read returns the configuration currently written, nil when none.
func (f *FileFacility) Read() (*models.ProxyConfiguration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var cfg models.ProxyConfiguration
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode proxy settings: %w", err)
	}
	return &cfg, nil
}

// NopFacility applies nothing and logs what it would do.
type NopFacility struct {
	logger *log.Logger
}

func (n *NopFacility) Set(_ context.Context, cfg models.ProxyConfiguration) error {
	if n.logger != nil {
		n.logger.Debug("proxy set (dry run)", "mode", cfg.Mode, "addr", cfg.Addr())
	}
	return nil
}

func (n *NopFacility) Clear(context.Context) error {
	if n.logger != nil {
		n.logger.Debug("proxy clear (dry run)")
	}
	return nil
}
