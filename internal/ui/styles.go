package ui

import (
	"fmt"

	"github.com/alfredjeanlab/onix/internal/model"
)

// ANSI256 color codes.
const (
	colorAccent  = 74  // blue
	colorCmd     = 250 // light gray
	colorMuted   = 245 // medium gray
	colorInsert  = 114 // green
	colorUpdate  = 179 // amber
	colorDelete  = 167 // red
	colorWarning = 215 // orange
)

var noColor bool

func paint(color int, s string) string {
	if noColor {
		return s
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", color, s)
}

// RenderAccent returns s in the accent (blue) color.
func RenderAccent(s string) string { return paint(colorAccent, s) }

// RenderMuted returns s in the muted (gray) color.
func RenderMuted(s string) string { return paint(colorMuted, s) }

// RenderCommand returns s styled as a command name (light gray).
func RenderCommand(s string) string { return paint(colorCmd, s) }

// RenderWarning returns s in the warning (orange) color.
func RenderWarning(s string) string { return paint(colorWarning, s) }

// RenderOutcome returns the long name of a mutation outcome, colored by
// its effect.
func RenderOutcome(o model.Outcome) string {
	switch o {
	case model.OutcomeInserted:
		return paint(colorInsert, o.String())
	case model.OutcomeUpdated:
		return paint(colorUpdate, o.String())
	case model.OutcomeDeleted:
		return paint(colorDelete, o.String())
	}
	return RenderMuted(o.String())
}

// RenderChange colors an audit change type the same way as the outcome it
// records.
func RenderChange(c model.ChangeType) string {
	switch c {
	case model.ChangeCreated:
		return paint(colorInsert, string(c))
	case model.ChangeUpdated:
		return paint(colorUpdate, string(c))
	case model.ChangeDeleted:
		return paint(colorDelete, string(c))
	}
	return string(c)
}

// ForceNoColor disables color output globally.
func ForceNoColor() {
	noColor = true
}
