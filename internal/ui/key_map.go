package ui

import "github.com/charmbracelet/bubbles/key"

// keyMap defines the [key.Binding] mapping for the TUI.
type keyMap struct {
	toggle    key.Binding
	locations key.Binding
	refresh   key.Binding
	enter     key.Binding
	back      key.Binding
	retry     key.Binding
	quit      key.Binding
}

func newKeyMap() keyMap {
	return keyMap{
		toggle:    key.NewBinding(key.WithKeys("t", " "), key.WithHelp("space/t", "connect/disconnect")),
		locations: key.NewBinding(key.WithKeys("l"), key.WithHelp("l", "locations")),
		refresh:   key.NewBinding(key.WithKeys("f"), key.WithHelp("f", "refresh")),
		enter:     key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "select")),
		back:      key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "back")),
		retry:     key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "retry")),
		quit:      key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.toggle, k.locations, k.quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.toggle, k.locations, k.refresh},
		{k.enter, k.back, k.retry},
		{k.quit},
	}
}
