package ui

import (
	"github.com/charmbracelet/bubbles/list"
	"github.com/desertthunder/evpn/internal/models"
)

var (
	_ list.Item = smartItem{}
	_ list.Item = locationItem{}
)

// smartItem is the "Smart Location" entry listed before every country.
type smartItem struct {
	selected bool
}

func (i smartItem) FilterValue() string { return "Smart Location" }
func (i smartItem) Title() string       { return mark(i.selected) + "Smart Location" }
func (i smartItem) Description() string { return "Pick the best location automatically" }

// locationItem wraps [models.Location] to implement [list.Item].
type locationItem struct {
	location  models.Location
	isDefault bool
	selected  bool
}

func (i locationItem) FilterValue() string { return i.location.DisplayName() }
func (i locationItem) Title() string       { return mark(i.selected) + i.location.LocationName }
func (i locationItem) Description() string {
	if i.isDefault {
		return i.location.CountryName + " • default"
	}
	return i.location.CountryName
}

func mark(selected bool) string {
	if selected {
		return "✓ "
	}
	return ""
}

// locationItems lists the smart entry first, then every location in directory order.
func locationItems(dir models.Directory, selected *models.Location) []list.Item {
	items := []list.Item{smartItem{selected: selected == nil}}
	for _, c := range dir {
		for _, e := range c.Locations {
			items = append(items, locationItem{
				location:  c.Location(e),
				isDefault: e.IsDefault,
				selected:  selected != nil && selected.ID == e.ID,
			})
		}
	}
	return items
}
