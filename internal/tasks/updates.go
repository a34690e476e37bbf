package tasks

import (
	"fmt"
	"time"

	"github.com/desertthunder/evpn/internal/models"
)

// ProgressUpdate represents a progress event during a long-running operation.
//
// Used to send real-time updates to the CLI or UI layer for display.
type ProgressUpdate struct {
	Phase   Phase  // Operation phase
	Step    int    // Current step number within phase
	Total   int    // Total steps in this phase
	Message string // Human-readable message for display
	Data    any    // Optional phase-specific data for advanced UIs
}

// Operation phase enumeration
type Phase int

const (
	RequestAddress Phase = iota
	ProbeEndpoint
	Complete
)

func (p Phase) String() string {
	switch p {
	case RequestAddress:
		return "request_address"
	case ProbeEndpoint:
		return "probe_endpoint"
	case Complete:
		return "complete"
	default:
		return ""
	}
}

func requestingAddressUpdate(step, total int, loc models.Location) ProgressUpdate {
	return ProgressUpdate{
		Phase:   RequestAddress,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("Requesting address for %s...", loc.DisplayName()),
		Data:    loc,
	}
}

func probeCompletedUpdate(step, total int, res LocationCheck) ProgressUpdate {
	msg := fmt.Sprintf("✓ %s reachable in %s", res.Location.DisplayName(), res.Latency.Round(time.Millisecond))
	if res.Err != nil {
		msg = fmt.Sprintf("✗ %s: %v", res.Location.DisplayName(), res.Err)
	}
	return ProgressUpdate{
		Phase:   ProbeEndpoint,
		Step:    step,
		Total:   total,
		Message: msg,
		Data:    res,
	}
}

func sweepCompleteUpdate(res *SweepResult) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Complete,
		Step:    res.Total,
		Total:   res.Total,
		Message: fmt.Sprintf("%d of %d locations reachable", res.Reachable, res.Total),
		Data:    res,
	}
}
