package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ID identifies a location. The backend sends strings, older payloads send numbers.
type ID string

// UnmarshalJSON accepts both JSON strings and numbers.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid location id %s: %w", data, err)
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }

// Location is a user-selectable endpoint. Identity is ID; CountryName and LocationName form the display key.
type Location struct {
	ID           ID     `json:"_id"`
	LocationName string `json:"locationName"`
	CountryName  string `json:"countryName"`
	Flag         string `json:"flag"`
}

// DisplayName joins country and location for lists and status lines.
func (l Location) DisplayName() string {
	switch {
	case l.CountryName == "":
		return l.LocationName
	case l.LocationName == "":
		return l.CountryName
	}
	return l.CountryName + " - " + l.LocationName
}

// ShortName returns DisplayName truncated to n runes with a trailing ellipsis.
func (l Location) ShortName(n int) string {
	name := []rune(l.DisplayName())
	if n <= 3 || len(name) <= n {
		return string(name)
	}
	return strings.TrimSpace(string(name[:n-3])) + "..."
}

// Equal reports whether both locations carry the same fields.
func (l Location) Equal(o Location) bool { return l == o }
