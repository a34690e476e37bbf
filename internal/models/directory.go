package models

import (
	"fmt"
)

// LocationEntry is a location as it appears nested under a [Country].
type LocationEntry struct {
	ID        ID     `json:"_id"`
	Name      string `json:"name"`
	IsDefault bool   `json:"isDefault"`
}

// Country groups the locations of one country in directory order.
type Country struct {
	CountryName string          `json:"countryName"`
	Flag        string          `json:"flag"`
	Locations   []LocationEntry `json:"locations"`
}

// Location builds the flat [Location] for entry e of this country.
func (c Country) Location(e LocationEntry) Location {
	return Location{ID: e.ID, LocationName: e.Name, CountryName: c.CountryName, Flag: c.Flag}
}

// Directory is the ordered catalog of countries and their locations.
type Directory []Country

// Entries flattens the directory into locations, preserving stored order.
func (d Directory) Entries() []Location {
	var out []Location
	for _, c := range d {
		for _, e := range c.Locations {
			out = append(out, c.Location(e))
		}
	}
	return out
}

// Len counts locations across all countries.
func (d Directory) Len() int {
	n := 0
	for _, c := range d {
		n += len(c.Locations)
	}
	return n
}

// Find returns the location with the given id.
func (d Directory) Find(id ID) (Location, bool) {
	for _, c := range d {
		for _, e := range c.Locations {
			if e.ID == id {
				return c.Location(e), true
			}
		}
	}
	return Location{}, false
}

// Validate checks that every location id is non-empty and unique across the directory.
func (d Directory) Validate() error {
	seen := make(map[ID]struct{}, d.Len())
	for _, c := range d {
		for _, e := range c.Locations {
			if e.ID == "" {
				return fmt.Errorf("location %q in %q has no id", e.Name, c.CountryName)
			}
			if _, ok := seen[e.ID]; ok {
				return fmt.Errorf("duplicate location id %q", e.ID)
			}
			seen[e.ID] = struct{}{}
		}
	}
	return nil
}

// Clone returns a deep copy safe to hand to other goroutines.
func (d Directory) Clone() Directory {
	if d == nil {
		return nil
	}
	out := make(Directory, len(d))
	for i, c := range d {
		c.Locations = append([]LocationEntry(nil), c.Locations...)
		out[i] = c
	}
	return out
}
