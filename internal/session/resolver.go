package session

import (
	"math/rand/v2"

	"github.com/desertthunder/evpn/internal/models"
)

// Resolve picks the location to connect to.
//
// An explicit selection is returned unchanged. Otherwise the first country with
// locations wins: its default location if one is flagged, else a random one.
// Nil means the directory has no locations at all.
func Resolve(selected *models.Location, dir models.Directory) *models.Location {
	return ResolveWith(selected, dir, rand.IntN)
}

// ResolveWith is [Resolve] with the random source injected.
func ResolveWith(selected *models.Location, dir models.Directory, intn func(int) int) *models.Location {
	if selected != nil {
		return selected
	}

	for _, c := range dir {
		if len(c.Locations) == 0 {
			continue
		}
		for _, e := range c.Locations {
			if e.IsDefault {
				loc := c.Location(e)
				return &loc
			}
		}
		loc := c.Location(c.Locations[intn(len(c.Locations))])
		return &loc
	}
	return nil
}

// EndpointID is the id to request an address for: the selection's id, else the
// first default entry of the directory, else its first entry. Empty when none.
func EndpointID(selected *models.Location, dir models.Directory) models.ID {
	if selected != nil && selected.ID != "" {
		return selected.ID
	}

	var first models.ID
	for _, c := range dir {
		for _, l := range c.Locations {
			if l.ID == "" {
				continue
			}
			if l.IsDefault {
				return l.ID
			}
			if first == "" {
				first = l.ID
			}
		}
	}
	return first
}
