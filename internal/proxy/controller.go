package proxy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/evpn/internal/models"
	"github.com/desertthunder/evpn/internal/shared"
)

// ApplyError reports a failed Apply. Committed is true when the facility
// accepted the configuration and only the probe failed; in that case the
// configuration is still active.
type ApplyError struct {
	Committed bool
	Err       error
}

func (e *ApplyError) Error() string {
	if e.Committed {
		return "proxy committed but unreachable: " + e.Err.Error()
	}
	return "proxy not applied: " + e.Err.Error()
}

func (e *ApplyError) Unwrap() error { return e.Err }

// ControllerOpts configures a [Controller].
type ControllerOpts struct {
	Facility Facility
	Prober   Prober
	Logger   *log.Logger
	// Timeout bounds each facility call and the probe.
	Timeout time.Duration
}

// Controller is the single owner of the active proxy configuration.
type Controller struct {
	mu       sync.Mutex
	facility Facility
	prober   Prober
	logger   *log.Logger
	timeout  time.Duration
	active   *models.ProxyConfiguration
}

// NewController creates a controller. A nil Prober skips the reachability check.
func NewController(opts ControllerOpts) *Controller {
	if opts.Facility == nil {
		opts.Facility = &NopFacility{}
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &Controller{
		facility: opts.Facility,
		prober:   opts.Prober,
		logger:   shared.WithLogger(opts.Logger, "component", "proxy"),
		timeout:  opts.Timeout,
	}
}

// Apply commits cfg, replacing any active configuration, then probes it.
//
// A probe failure does not revert the commit. Callers that must not leave an
// unverified proxy in place call Clear on an [ApplyError] with Committed set.
func (c *Controller) Apply(ctx context.Context, cfg models.ProxyConfiguration) error {
	if err := cfg.Validate(); err != nil {
		return &ApplyError{Err: fmt.Errorf("%w: %v", shared.ErrProxyCommit, err)}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	setCtx, cancel := context.WithTimeout(ctx, c.timeout)
	err := c.facility.Set(setCtx, cfg)
	cancel()
	if err != nil {
		c.logger.Error("proxy commit failed", "addr", cfg.Addr(), "error", err)
		return &ApplyError{Err: fmt.Errorf("%w: %v", shared.ErrProxyCommit, err)}
	}

	applied := cfg
	c.active = &applied
	c.logger.Info("proxy committed", "mode", cfg.Mode, "addr", cfg.Addr())

	if c.prober == nil || cfg.Mode != models.ModeFixed {
		return nil
	}
	probeCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.prober.Probe(probeCtx, cfg); err != nil {
		c.logger.Warn("proxy probe failed", "addr", cfg.Addr(), "error", err)
		return &ApplyError{Committed: true, Err: err}
	}
	c.logger.Debug("proxy probe ok", "addr", cfg.Addr())
	return nil
}

// Clear removes the active configuration. Failures are logged, never returned.
func (c *Controller) Clear(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	clearCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.facility.Clear(clearCtx); err != nil {
		c.logger.Warn("proxy clear failed", "error", err)
	}
	c.active = nil
}

// Reset sets the neutral direct configuration.
func (c *Controller) Reset(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	setCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	direct := models.DirectProxy()
	if err := c.facility.Set(setCtx, direct); err != nil {
		c.logger.Warn("proxy reset failed", "error", err)
		return fmt.Errorf("%w: %v", shared.ErrProxyCommit, err)
	}
	c.active = &direct
	return nil
}

// Active returns a copy of the configuration last committed, nil when cleared.
func (c *Controller) Active() *models.ProxyConfiguration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return nil
	}
	cp := *c.active
	cp.BypassList = append([]string(nil), c.active.BypassList...)
	return &cp
}
