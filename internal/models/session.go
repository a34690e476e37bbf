package models

import (
	"bytes"
	"encoding/json"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Entitlement is the opaque subscription object. Only its presence matters.
type Entitlement json.RawMessage

// Present reports whether the entitlement carries a non-null value.
func (e Entitlement) Present() bool {
	v := bytes.TrimSpace(e)
	return len(v) > 0 && !bytes.Equal(v, []byte("null"))
}

// Title extracts a human readable plan name when the payload has one.
func (e Entitlement) Title() string {
	if !e.Present() {
		return ""
	}
	var probe struct {
		Name    string `json:"name"`
		Title   string `json:"title"`
		Package struct {
			Name string `json:"name"`
		} `json:"package"`
	}
	if err := json.Unmarshal(e, &probe); err != nil {
		return ""
	}
	for _, s := range []string{probe.Name, probe.Title, probe.Package.Name} {
		if s != "" {
			return s
		}
	}
	return "active"
}

// MarshalJSON emits the raw payload, or null when absent.
func (e Entitlement) MarshalJSON() ([]byte, error) {
	if !e.Present() {
		return []byte("null"), nil
	}
	return json.RawMessage(e).MarshalJSON()
}

// UnmarshalJSON stores a copy of the raw payload.
func (e *Entitlement) UnmarshalJSON(data []byte) error {
	*e = append((*e)[:0], data...)
	return nil
}

// User is the profile returned by login.
type User struct {
	ID      string `json:"_id,omitempty"`
	Name    string `json:"name,omitempty"`
	Email   string `json:"email,omitempty"`
	Picture string `json:"picture,omitempty"`
}

const (
	BadgeColorOn  = "#34D399"
	BadgeColorOff = "#EF4444"
	BadgeTextOff  = "Off"
)

// Badge is the text and color shown on the indicator.
type Badge struct {
	Text  string `json:"text"`
	Color string `json:"color"`
}

// BadgeFor returns the indicator for the given connection state.
func BadgeFor(connected bool, countryName string) Badge {
	if !connected {
		return Badge{Text: BadgeTextOff, Color: BadgeColorOff}
	}
	return Badge{Text: CountryBadgeCode(countryName), Color: BadgeColorOn}
}

// CountryBadgeCode shortens a country name to two letters: the first two
// letters of a single word, or the initials of several. Empty names give "ON".
func CountryBadgeCode(countryName string) string {
	words := strings.Fields(countryName)
	switch len(words) {
	case 0:
		return "ON"
	case 1:
		r := []rune(words[0])
		return strings.ToUpper(string(r[:min(2, len(r))]))
	}

	var b strings.Builder
	for _, w := range words {
		r, _ := utf8.DecodeRuneInString(w)
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}
