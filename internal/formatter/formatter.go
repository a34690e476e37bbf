// package formatter renders the location directory, session status and outcome history as text, Markdown, CSV or JSON
package formatter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/desertthunder/evpn/internal/models"
	"github.com/desertthunder/evpn/internal/session"
	"github.com/desertthunder/evpn/internal/shared"
	"github.com/desertthunder/evpn/internal/tasks"
)

// Format is an output format name.
type Format string

const (
	FormatText     Format = "text"
	FormatMarkdown Format = "markdown"
	FormatCSV      Format = "csv"
	FormatJSON     Format = "json"
)

// ParseFormat accepts a format name or a common alias ("md", "txt").
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text", "txt":
		return FormatText, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	case "csv":
		return FormatCSV, nil
	case "json":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("%w: unknown format %q", shared.ErrInvalidFlag, s)
}

// Extension returns the file extension for f, including the dot.
func (f Format) Extension() string {
	switch f {
	case FormatMarkdown:
		return ".md"
	case FormatCSV:
		return ".csv"
	case FormatJSON:
		return ".json"
	}
	return ".txt"
}

func toJSON(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode JSON: %w", err)
	}
	return append(data, '\n'), nil
}

func writeCSV(header []string, rows [][]string) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	if err := writer.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}
	for _, row := range rows {
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}
	return buf.Bytes(), nil
}

func isSelected(selected *models.Location, id models.ID) bool {
	return selected != nil && selected.ID == id
}

// DirectoryToCSV writes one row per location: ID, Country, Location, Default, Selected, Flag.
func DirectoryToCSV(dir models.Directory, selected *models.Location) ([]byte, error) {
	var rows [][]string
	for _, c := range dir {
		for _, l := range c.Locations {
			rows = append(rows, []string{
				string(l.ID),
				c.CountryName,
				l.Name,
				strconv.FormatBool(l.IsDefault),
				strconv.FormatBool(isSelected(selected, l.ID)),
				c.Flag,
			})
		}
	}
	return writeCSV([]string{"ID", "Country", "Location", "Default", "Selected", "Flag"}, rows)
}

// DirectoryToMarkdown writes a section per country. Countries without locations are listed as unavailable.
func DirectoryToMarkdown(dir models.Directory, selected *models.Location) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteString("# Locations\n\n")
	if selected == nil {
		buf.WriteString("**Selection**: Smart Location\n")
	} else {
		fmt.Fprintf(&buf, "**Selection**: %s\n", selected.DisplayName())
	}
	fmt.Fprintf(&buf, "**Locations**: %d\n", dir.Len())

	for _, c := range dir {
		fmt.Fprintf(&buf, "\n## %s\n\n", c.CountryName)
		if len(c.Locations) == 0 {
			buf.WriteString("_No locations available_\n")
			continue
		}
		for _, l := range c.Locations {
			var tags []string
			if l.IsDefault {
				tags = append(tags, "default")
			}
			if isSelected(selected, l.ID) {
				tags = append(tags, "selected")
			}
			suffix := ""
			if len(tags) > 0 {
				suffix = " _(" + strings.Join(tags, ", ") + ")_"
			}
			fmt.Fprintf(&buf, "- %s `%s`%s\n", l.Name, l.ID, suffix)
		}
	}
	return buf.Bytes(), nil
}

// DirectoryToText writes countries with numbered locations. The selection is marked with an asterisk.
func DirectoryToText(dir models.Directory, selected *models.Location) ([]byte, error) {
	var buf bytes.Buffer

	mark := " "
	if selected == nil {
		mark = "*"
	}
	fmt.Fprintf(&buf, "%s Smart Location\n", mark)

	for _, c := range dir {
		if len(c.Locations) == 0 {
			continue
		}
		fmt.Fprintf(&buf, "\n%s\n", c.CountryName)
		for i, l := range c.Locations {
			mark := " "
			if isSelected(selected, l.ID) {
				mark = "*"
			}
			def := ""
			if l.IsDefault {
				def = " (default)"
			}
			fmt.Fprintf(&buf, "%s %d. %s%s [%s]\n", mark, i+1, l.Name, def, l.ID)
		}
	}
	return buf.Bytes(), nil
}

// Directory renders dir in format f.
func Directory(f Format, dir models.Directory, selected *models.Location) ([]byte, error) {
	switch f {
	case FormatCSV:
		return DirectoryToCSV(dir, selected)
	case FormatMarkdown:
		return DirectoryToMarkdown(dir, selected)
	case FormatJSON:
		if dir == nil {
			dir = models.Directory{}
		}
		return toJSON(dir)
	}
	return DirectoryToText(dir, selected)
}

// StatusToText writes one "Key: value" line per field.
func StatusToText(st session.Status) ([]byte, error) {
	var buf bytes.Buffer

	state := st.State.String()
	if st.Busy {
		state += " (busy)"
	}
	fmt.Fprintf(&buf, "State: %s\n", state)
	fmt.Fprintf(&buf, "Badge: %s\n", st.Badge.Text)

	if st.Smart {
		buf.WriteString("Location: Smart Location\n")
	} else {
		fmt.Fprintf(&buf, "Location: %s\n", st.Selected.DisplayName())
	}
	if st.Endpoint != nil {
		fmt.Fprintf(&buf, "Endpoint: %s:%d\n", st.Endpoint.Host, st.Endpoint.Port)
	}

	if st.LoggedIn {
		user := st.User
		if user == "" {
			user = "logged in"
		}
		fmt.Fprintf(&buf, "User: %s\n", user)
	} else {
		buf.WriteString("User: not logged in\n")
	}
	if st.Entitled {
		fmt.Fprintf(&buf, "Subscription: %s\n", st.Plan)
	} else {
		buf.WriteString("Subscription: none\n")
	}
	fmt.Fprintf(&buf, "Locations: %d\n", st.Locations)

	if f := st.LastFailure; f != nil {
		fmt.Fprintf(&buf, "Last error: %s (%s) - %s\n", f.Kind, f.Source, f.Message)
	}
	return buf.Bytes(), nil
}

// StatusToMarkdown writes the status as a two column table.
func StatusToMarkdown(st session.Status) ([]byte, error) {
	text, _ := StatusToText(st)

	var buf bytes.Buffer
	buf.WriteString("# Status\n\n| Field | Value |\n| --- | --- |\n")
	for line := range strings.Lines(string(text)) {
		key, value, _ := strings.Cut(strings.TrimSpace(line), ": ")
		fmt.Fprintf(&buf, "| %s | %s |\n", key, strings.ReplaceAll(value, "|", "\\|"))
	}
	return buf.Bytes(), nil
}

// Status renders st in format f. CSV falls back to a key/value table.
func Status(f Format, st session.Status) ([]byte, error) {
	switch f {
	case FormatJSON:
		return toJSON(st)
	case FormatMarkdown:
		return StatusToMarkdown(st)
	case FormatCSV:
		text, _ := StatusToText(st)
		var rows [][]string
		for line := range strings.Lines(string(text)) {
			key, value, _ := strings.Cut(strings.TrimSpace(line), ": ")
			rows = append(rows, []string{key, value})
		}
		return writeCSV([]string{"Field", "Value"}, rows)
	}
	return StatusToText(st)
}

// History renders outcome events in format f.
func History(f Format, events []models.Event) ([]byte, error) {
	switch f {
	case FormatJSON:
		if events == nil {
			events = []models.Event{}
		}
		return toJSON(events)
	case FormatCSV:
		rows := make([][]string, 0, len(events))
		for _, e := range events {
			rows = append(rows, []string{e.CreatedAt.Format(time.RFC3339), e.Kind, e.Source, e.Message})
		}
		return writeCSV([]string{"Time", "Kind", "Source", "Message"}, rows)
	case FormatMarkdown:
		var buf bytes.Buffer
		buf.WriteString("# History\n\n")
		for _, e := range events {
			fmt.Fprintf(&buf, "- **%s** %s%s: %s\n", e.CreatedAt.Format(time.DateTime), e.Kind, sourceSuffix(e.Source), e.Message)
		}
		return buf.Bytes(), nil
	}

	var buf bytes.Buffer
	if len(events) == 0 {
		buf.WriteString("No events recorded\n")
	}
	for _, e := range events {
		fmt.Fprintf(&buf, "%s  %-11s %s%s\n", e.CreatedAt.Local().Format(time.DateTime), e.Kind, e.Message, sourceSuffix(e.Source))
	}
	return buf.Bytes(), nil
}

func sourceSuffix(source string) string {
	if source == "" {
		return ""
	}
	return " [" + source + "]"
}

// Sweep renders a location sweep in format f.
func Sweep(f Format, res *tasks.SweepResult) ([]byte, error) {
	switch f {
	case FormatJSON:
		return toJSON(res)
	case FormatCSV:
		rows := make([][]string, 0, len(res.Checks))
		for _, c := range res.Checks {
			rows = append(rows, []string{
				c.Location.ID.String(), c.Location.CountryName, c.Location.LocationName,
				c.Host, c.ExitIP, strconv.FormatInt(c.Latency.Milliseconds(), 10), c.Error,
			})
		}
		return writeCSV([]string{"ID", "Country", "Location", "Host", "Exit IP", "Latency (ms)", "Error"}, rows)
	case FormatMarkdown:
		var buf bytes.Buffer
		buf.WriteString("# Location Check\n\n| Location | Host | Exit IP | Latency | Result |\n| --- | --- | --- | --- | --- |\n")
		for _, c := range res.Checks {
			result := "ok"
			if !c.OK() {
				result = strings.ReplaceAll(c.Error, "|", "\\|")
			}
			fmt.Fprintf(&buf, "| %s | %s | %s | %s | %s |\n",
				c.Location.DisplayName(), c.Host, c.ExitIP, c.Latency.Round(time.Millisecond), result)
		}
		fmt.Fprintf(&buf, "\n_%d of %d reachable_\n", res.Reachable, res.Total)
		return buf.Bytes(), nil
	}

	var buf bytes.Buffer
	for _, c := range res.Checks {
		if c.OK() {
			fmt.Fprintf(&buf, "✓ %-32s %-8s %s via %s\n", c.Location.DisplayName(), c.Latency.Round(time.Millisecond), c.ExitIP, c.Host)
			continue
		}
		fmt.Fprintf(&buf, "✗ %-32s %s\n", c.Location.DisplayName(), c.Error)
	}
	fmt.Fprintf(&buf, "\n%d of %d locations reachable in %s\n", res.Reachable, res.Total, res.Duration.Round(time.Millisecond))
	return buf.Bytes(), nil
}

// WriteExport writes data to path, creating parent directories. An empty path
// defaults to base plus the format's extension in the working directory.
func WriteExport(path, base string, f Format, data []byte) (string, error) {
	if path == "" {
		path = base + f.Extension()
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", fmt.Errorf("failed to create directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return path, nil
}
