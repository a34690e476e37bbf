package session

import "github.com/desertthunder/evpn/internal/models"

// FailureView is the presentation form of a recorded failure.
type FailureView struct {
	Kind    string `json:"kind"`
	Source  string `json:"source"`
	Message string `json:"message"`
}

// Status is the presentation form of a [SessionState]. Credentials are omitted.
type Status struct {
	State       State            `json:"state"`
	Connected   bool             `json:"connected"`
	Busy        bool             `json:"busy"`
	Smart       bool             `json:"smart"`
	Selected    *models.Location `json:"selected,omitempty"`
	Endpoint    *models.Endpoint `json:"endpoint,omitempty"`
	Badge       models.Badge     `json:"badge"`
	Entitled    bool             `json:"entitled"`
	Plan        string           `json:"plan,omitempty"`
	User        string           `json:"user,omitempty"`
	LoggedIn    bool             `json:"loggedIn"`
	Locations   int              `json:"locations"`
	LastFailure *FailureView     `json:"lastFailure,omitempty"`
}

// Status builds the presentation view of s.
func (s SessionState) Status() Status {
	st := Status{
		State:     s.State,
		Connected: s.Connected(),
		Busy:      s.Busy,
		Smart:     s.Selected == nil,
		Selected:  s.Selected,
		Endpoint:  s.Endpoint,
		Badge:     s.Badge,
		Entitled:  s.Entitlement.Present(),
		Plan:      s.Entitlement.Title(),
		User:      s.Session.User.Email,
		LoggedIn:  s.Session.Authenticated(),
		Locations: s.Directory.Len(),
	}
	if f := s.LastFailure; f != nil {
		v := f.View()
		st.LastFailure = &v
	}
	return st
}

// View returns the presentation form of f.
func (f *Failure) View() FailureView {
	return FailureView{Kind: f.Kind.String(), Source: f.Source(), Message: f.Message()}
}
