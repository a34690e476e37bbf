package tasks

import (
	"context"
	"time"

	"github.com/desertthunder/evpn/internal/models"
	"github.com/desertthunder/evpn/internal/proxy"
)

// AddressSource issues endpoint addresses for locations.
type AddressSource interface {
	RequestIP(ctx context.Context, id models.ID) (string, error)
}

// Checker probes traffic through a proxy configuration and reports the exit address.
type Checker interface {
	Check(ctx context.Context, cfg models.ProxyConfiguration) (*proxy.ProbeResult, error)
}

// LocationCheck is the outcome for one location.
type LocationCheck struct {
	Location models.Location `json:"location"`
	Host     string          `json:"host,omitempty"`
	ExitIP   string          `json:"exitIp,omitempty"`
	Latency  time.Duration   `json:"latency"`
	Err      error           `json:"-"`
	Error    string          `json:"error,omitempty"`
}

// OK reports whether the location was reachable.
func (c LocationCheck) OK() bool { return c.Err == nil }

// SweepResult summarizes a sweep.
type SweepResult struct {
	Total     int             `json:"total"`
	Reachable int             `json:"reachable"`
	Failed    int             `json:"failed"`
	Checks    []LocationCheck `json:"checks"`
	Duration  time.Duration   `json:"duration"`
}

// SweepEngine checks the reachability of directory locations.
type SweepEngine struct {
	addresses AddressSource
	checker   Checker
	now       func() time.Time
}

// NewSweepEngine creates an engine over the backend's address endpoint and a prober.
func NewSweepEngine(addresses AddressSource, checker Checker) *SweepEngine {
	return &SweepEngine{addresses: addresses, checker: checker, now: time.Now}
}

// sendProgress sends a progress update through the channel without blocking.
func (e *SweepEngine) sendProgress(progress chan<- ProgressUpdate, update ProgressUpdate) {
	if progress == nil {
		return
	}
	select {
	case progress <- update:
	default:
	}
}
