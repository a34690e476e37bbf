package models

import (
	"time"

	"golang.org/x/oauth2"
)

// Endpoint is the live address issued for a location while connected.
type Endpoint struct {
	LocationID ID     `json:"locationId"`
	Scheme     string `json:"scheme"`
	Host       string `json:"host"`
	Port       int    `json:"port"`
}

// Session is the durable login: the backend session token plus the identity
// provider token it was exchanged from.
type Session struct {
	User     User          `json:"user"`
	Token    string        `json:"token"`
	Identity *oauth2.Token `json:"identity,omitempty"`
}

// Authenticated reports whether a backend token is present.
func (s Session) Authenticated() bool { return s.Token != "" }

// FailureRecord is the persisted form of the last failed operation.
type FailureRecord struct {
	Kind     string    `json:"kind"`
	Op       string    `json:"op"`
	Location *Location `json:"location,omitempty"`
	Token    string    `json:"token,omitempty"`
	Message  string    `json:"message,omitempty"`
	At       time.Time `json:"at"`
}

// Event is one entry of the outcome history.
type Event struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Source    string    `json:"source,omitempty"`
	Message   string    `json:"message,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}
