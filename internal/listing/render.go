// ABOUTME: Table and JSON renderers for agent records.
// ABOUTME: Table cells are sized by display width so wide runes never overflow a line.

package listing

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-runewidth"

	"github.com/2389/coven-registry/internal/agent"
)

// MaxLineWidth is the widest line RenderTable emits, in terminal cells.
const MaxLineWidth = 120

const (
	ellipsis  = "..."
	columnGap = "  "
)

// Format selects a renderer.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
)

// ParseFormat accepts "table" or "json". Empty means table.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "", FormatTable:
		return FormatTable, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: unknown output format %q (want table or json)", agent.ErrValidation, s)
	}
}

// Render writes records in the chosen format.
func Render(w io.Writer, f Format, records []agent.Record, now time.Time) error {
	if f == FormatJSON {
		return RenderJSON(w, records)
	}
	return RenderTable(w, records, now)
}

type column struct {
	title string
	width int
	value func(r agent.Record, now time.Time) string
}

var columns = []column{
	{"ID", 36, func(r agent.Record, _ time.Time) string { return r.ID }},
	{"NAME", 18, func(r agent.Record, _ time.Time) string { return r.Name }},
	{"MODEL", 14, func(r agent.Record, _ time.Time) string { return r.Model }},
	{"TYPE", 8, func(r agent.Record, _ time.Time) string { return r.Type }},
	{"STATUS", 9, func(r agent.Record, _ time.Time) string { return r.DisplayStatus() }},
	{"COST", 8, func(r agent.Record, _ time.Time) string { return fmt.Sprintf("$%.2f", r.Cost) }},
	{"LAST ACTIVE", 15, func(r agent.Record, now time.Time) string {
		return humanize.RelTime(r.LastActivity, now, "ago", "from now")
	}},
}

// RenderTable writes a fixed-width table. Over-wide values are cut with an
// ellipsis, and no line exceeds MaxLineWidth cells.
func RenderTable(w io.Writer, records []agent.Record, now time.Time) error {
	if len(records) == 0 {
		_, err := fmt.Fprintln(w, "(no agents)")
		return err
	}

	titles := make([]string, len(columns))
	rules := make([]string, len(columns))
	for i, c := range columns {
		titles[i] = c.title
		rules[i] = strings.Repeat("-", len(c.title))
	}
	if err := writeRow(w, titles); err != nil {
		return err
	}
	if err := writeRow(w, rules); err != nil {
		return err
	}

	cells := make([]string, len(columns))
	for _, r := range records {
		for i, c := range columns {
			cells[i] = c.value(r, now)
		}
		if err := writeRow(w, cells); err != nil {
			return err
		}
	}
	return nil
}

func writeRow(w io.Writer, cells []string) error {
	var b strings.Builder
	for i, c := range columns {
		if i > 0 {
			b.WriteString(columnGap)
		}
		cell := runewidth.Truncate(sanitize(cells[i]), c.width, ellipsis)
		if i < len(columns)-1 {
			cell = runewidth.FillRight(cell, c.width)
		}
		b.WriteString(cell)
	}
	line := runewidth.Truncate(strings.TrimRight(b.String(), " "), MaxLineWidth, "")
	_, err := fmt.Fprintln(w, line)
	return err
}

// sanitize keeps user-supplied values on one line.
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == '\t' {
			return ' '
		}
		return r
	}, s)
}

// RenderJSON writes records as an indented JSON array carrying every field.
func RenderJSON(w io.Writer, records []agent.Record) error {
	if records == nil {
		records = []agent.Record{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return fmt.Errorf("encoding agents: %w", err)
	}
	return nil
}

// ParseJSON reads records written by RenderJSON.
func ParseJSON(r io.Reader) ([]agent.Record, error) {
	var records []agent.Record
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, fmt.Errorf("decoding agents: %w", err)
	}
	return records, nil
}
