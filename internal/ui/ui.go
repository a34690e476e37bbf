package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/evpn/internal/models"
	"github.com/desertthunder/evpn/internal/session"
)

// ViewState represents the current view in the TUI
type ViewState int

const (
	HomeView ViewState = iota
	LocationsView
	NetworkErrorView
)

func (v ViewState) String() string {
	switch v {
	case HomeView:
		return "home"
	case LocationsView:
		return "locations"
	case NetworkErrorView:
		return "network error"
	default:
		return "unknown"
	}
}

// Controller is the part of the session orchestrator the TUI drives.
type Controller interface {
	Snapshot() session.SessionState
	Toggle(ctx context.Context) error
	SelectLocation(ctx context.Context, loc *models.Location) error
	RefreshDirectory(ctx context.Context) error
	Retry(ctx context.Context) (bool, error)
	Events(buf int) (<-chan session.Event, func())
}

// Model is the main bubbletea model for the TUI application
type Model struct {
	ctx         context.Context
	ctrl        Controller
	events      <-chan session.Event
	unsubscribe func()

	snapshot session.SessionState
	current  ViewState
	pending  bool
	notice   string
	failure  *session.Failure

	locations list.Model
	spinner   spinner.Model
	help      help.Model
	keys      keyMap
	width     int
	height    int
}

// NewModel creates a TUI model subscribed to the controller's outcome events.
func NewModel(ctx context.Context, ctrl Controller) Model {
	events, unsubscribe := ctrl.Events(16)

	locations := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	locations.Title = "Locations"
	locations.Styles.Title = styles.title

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = styles.warn

	snapshot := ctrl.Snapshot()
	return Model{
		ctx:         ctx,
		ctrl:        ctrl,
		events:      events,
		unsubscribe: unsubscribe,
		snapshot:    snapshot,
		current:     HomeView,
		failure:     snapshot.LastFailure,
		locations:   locations,
		spinner:     s,
		help:        help.New(),
		keys:        newKeyMap(),
	}
}

// Init starts the spinner and waits for the first outcome event.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForEvent(m.events))
}

// Close releases the event subscription.
func (m Model) Close() {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
}

// View returns the current view
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(styles.title.Render("evpn"))
	b.WriteString("\n")

	switch m.current {
	case LocationsView:
		b.WriteString(m.locations.View())
	case NetworkErrorView:
		b.WriteString(m.networkErrorView())
	default:
		b.WriteString(m.homeView())
	}

	if m.notice != "" {
		b.WriteString("\n" + styles.warn.Render(m.notice) + "\n")
	}
	b.WriteString("\n" + styles.help.Render(m.help.View(m.keys)))
	return b.String()
}

func (m Model) homeView() string {
	st := m.snapshot.Status()

	var power string
	switch {
	case m.busy():
		power = m.spinner.View() + " " + strings.ToUpper(st.State.String()[:1]) + st.State.String()[1:] + "..."
	case st.Connected:
		power = styles.ok.Render("● Connected")
	default:
		power = styles.err.Render("○ Disconnected")
	}

	location := "Smart Location"
	if st.Selected != nil {
		location = st.Selected.DisplayName()
	}

	lines := []string{
		badge(st.Badge) + "  " + power,
		"",
		"Location  " + location,
	}
	if st.Endpoint != nil {
		lines = append(lines, "Endpoint  "+st.Endpoint.Host)
	}
	if st.User != "" {
		lines = append(lines, "User      "+st.User)
	}
	if st.Plan != "" {
		lines = append(lines, "Plan      "+st.Plan)
	}
	if !st.LoggedIn {
		lines = append(lines, "", styles.warn.Render("Not signed in. Run `evpn login` first."))
	}
	return styles.panel.Render(strings.Join(lines, "\n"))
}

func (m Model) networkErrorView() string {
	msg := "Something went wrong, try again."
	if m.failure != nil {
		msg = m.failure.Message()
	}
	body := styles.err.Render("Network Error") + "\n\n" + msg + "\n\n"
	if m.pending {
		body += m.spinner.View() + " Retrying..."
	} else {
		body += styles.help.Render("press r to retry, esc to go back")
	}
	return styles.panel.Render(body)
}

func (m Model) busy() bool {
	return m.pending || m.snapshot.State == session.Connecting || m.snapshot.State == session.Disconnecting
}

// Update handles incoming messages and updates the model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.help.Width = msg.Width
		m.locations.SetSize(msg.Width, max(msg.Height-6, 0))
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case Msg:
		return m.handleMsg(msg)
	case tea.KeyMsg:
		if key.Matches(msg, m.keys.quit) && !m.filtering() {
			m.Close()
			return m, tea.Quit
		}
		switch m.current {
		case LocationsView:
			return m.updateLocations(msg)
		case NetworkErrorView:
			return m.updateNetworkError(msg)
		default:
			return m.updateHome(msg)
		}
	}
	return m, nil
}

func (m Model) filtering() bool {
	return m.current == LocationsView && m.locations.FilterState() == list.Filtering
}

func (m Model) handleMsg(msg Msg) (tea.Model, tea.Cmd) {
	switch msg.kind {
	case MsgEvent:
		e := msg.data.(session.Event)
		m.snapshot = m.ctrl.Snapshot()
		switch e.Kind {
		case session.EventError:
			m.failure = e.Failure
			m.current = NetworkErrorView
		case session.EventConnection:
			m.failure = nil
			if m.current == NetworkErrorView {
				m.current = HomeView
			}
		case session.EventDirectory:
			if m.current == LocationsView {
				m.locations.SetItems(locationItems(m.snapshot.Directory, m.snapshot.Selected))
			}
		}
		return m, waitForEvent(m.events)
	case MsgEventsClosed:
		m.events = nil
		return m, nil
	case MsgOpDone:
		res := msg.data.(opResult)
		m.pending = false
		m.snapshot = m.ctrl.Snapshot()
		m.notice = ""

		var f *session.Failure
		switch {
		case res.err == nil:
			if res.op == opSelect {
				m.current = HomeView
			}
			if res.op == opRetry && m.snapshot.LastFailure == nil {
				m.failure = nil
				m.current = HomeView
			}
		case errors.As(res.err, &f):
			m.failure = f
			m.current = NetworkErrorView
		default:
			m.notice = res.err.Error()
		}
		return m, nil
	}
	return m, nil
}

func (m Model) updateHome(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.toggle):
		if m.pending {
			return m, nil
		}
		m.pending = true
		m.notice = ""
		return m, tea.Batch(m.spinner.Tick, m.run(opToggle, m.ctrl.Toggle))
	case key.Matches(msg, m.keys.locations):
		if m.snapshot.Connected() {
			m.notice = "Disconnect to change location."
			return m, nil
		}
		m.notice = ""
		m.locations.SetItems(locationItems(m.snapshot.Directory, m.snapshot.Selected))
		m.current = LocationsView
		return m, nil
	case key.Matches(msg, m.keys.retry):
		if m.failure != nil {
			m.current = NetworkErrorView
		}
		return m, nil
	}
	return m, nil
}

func (m Model) updateLocations(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.filtering() {
		var cmd tea.Cmd
		m.locations, cmd = m.locations.Update(msg)
		return m, cmd
	}

	switch {
	case key.Matches(msg, m.keys.back):
		if m.locations.FilterState() == list.FilterApplied {
			m.locations.ResetFilter()
			return m, nil
		}
		m.current = HomeView
		return m, nil
	case key.Matches(msg, m.keys.refresh):
		if m.pending {
			return m, nil
		}
		m.pending = true
		return m, m.run(opRefresh, m.ctrl.RefreshDirectory)
	case key.Matches(msg, m.keys.enter):
		if m.pending {
			return m, nil
		}
		var target *models.Location
		switch item := m.locations.SelectedItem().(type) {
		case smartItem:
		case locationItem:
			loc := item.location
			target = &loc
		default:
			return m, nil
		}
		m.pending = true
		return m, m.run(opSelect, func(ctx context.Context) error {
			return m.ctrl.SelectLocation(ctx, target)
		})
	}

	var cmd tea.Cmd
	m.locations, cmd = m.locations.Update(msg)
	return m, cmd
}

func (m Model) updateNetworkError(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.retry):
		if m.pending {
			return m, nil
		}
		m.pending = true
		return m, tea.Batch(m.spinner.Tick, m.run(opRetry, func(ctx context.Context) error {
			retried, err := m.ctrl.Retry(ctx)
			if err == nil && !retried {
				return fmt.Errorf("nothing to retry")
			}
			return err
		}))
	case key.Matches(msg, m.keys.back):
		m.current = HomeView
		return m, nil
	}
	return m, nil
}

// run executes an orchestrator operation off the update loop.
func (m Model) run(op opKind, fn func(context.Context) error) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		return opDoneMsg(op, fn(ctx))
	}
}

// waitForEvent blocks on the subscription until the next outcome event.
func waitForEvent(events <-chan session.Event) tea.Cmd {
	if events == nil {
		return nil
	}
	return func() tea.Msg {
		e, ok := <-events
		if !ok {
			return eventsClosedMsg()
		}
		return eventMsg(e)
	}
}
