// Package ui implements an interactive terminal interface using bubbletea's Elm architecture.
//
// The TUI mirrors the popup of the browser extension:
//  1. [HomeView] : connection state, badge, selected location and the power toggle
//  2. [LocationsView] : the smart entry followed by every cached location
//  3. [NetworkErrorView] : the last failure with a single retry action
//
// The (view) [Model] implements bubbletea/Elm's standard Init/Update/View pattern, receiving messages via the Msg union type.
// Outcome events from the session orchestrator arrive through a subscription channel, one message per event,
// and every operation runs as a [tea.Cmd] so the view never blocks on the network.
package ui
