package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/desertthunder/evpn/internal/models"
)

// EventKind tags an outcome event.
type EventKind string

const (
	EventConnection  EventKind = "connection"
	EventError       EventKind = "error"
	EventSelection   EventKind = "selection"
	EventDirectory   EventKind = "directory"
	EventEntitlement EventKind = "entitlement"
	EventSession     EventKind = "session"
)

// Event is an outcome the presentation layer renders.
type Event struct {
	Kind      EventKind
	Connected bool
	Failure   *Failure
	Location  *models.Location
	Badge     models.Badge
	Message   string
	At        time.Time
}

// MarshalJSON flattens failures to their kind and source.
func (e Event) MarshalJSON() ([]byte, error) {
	out := struct {
		Kind      EventKind        `json:"kind"`
		Connected bool             `json:"connected"`
		Error     string           `json:"error,omitempty"`
		Source    string           `json:"source,omitempty"`
		Message   string           `json:"message,omitempty"`
		Location  *models.Location `json:"location,omitempty"`
		Badge     models.Badge     `json:"badge"`
		At        time.Time        `json:"at"`
	}{
		Kind:      e.Kind,
		Connected: e.Connected,
		Message:   e.Message,
		Location:  e.Location,
		Badge:     e.Badge,
		At:        e.At,
	}
	if e.Failure != nil {
		out.Error = e.Failure.Kind.String()
		out.Source = e.Failure.Source()
		if out.Message == "" {
			out.Message = e.Failure.Message()
		}
	}
	return json.Marshal(out)
}

// EventLog appends outcomes to the persisted history.
type EventLog interface {
	Append(ctx context.Context, kind, source, message string) (models.Event, error)
}

// Indicator shows the badge. Failures are logged by the caller and never
// change session state.
type Indicator interface {
	SetBadge(ctx context.Context, badge models.Badge) error
}

type hub struct {
	mu   sync.Mutex
	next int
	subs map[int]chan Event
}

func newHub() *hub {
	return &hub{subs: make(map[int]chan Event)}
}

func (h *hub) subscribe(buf int) (<-chan Event, func()) {
	if buf < 1 {
		buf = 1
	}
	ch := make(chan Event, buf)

	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// publish never blocks; slow subscribers miss events.
func (h *hub) publish(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- e:
		default:
		}
	}
}
