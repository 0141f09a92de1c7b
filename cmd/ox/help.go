package main

import (
	"bytes"
	"fmt"
	"regexp"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/onix/internal/ui"
)

// helpStyle recolors one kind of token in cobra's plain help text. The
// style is applied to the submatch named "v"; the rest of the match is kept.
type helpStyle struct {
	re    *regexp.Regexp
	style func(string) string
}

var helpStyles = []helpStyle{
	// Group and section headers such as "Graph:" or "Flags:".
	{regexp.MustCompile(`(?m)^(?P<v>[A-Z][^\n]*:)[ \t]*$`), ui.RenderAccent},
	// Subcommand names in command listings.
	{regexp.MustCompile(`(?m)^  (?P<v>[a-z][\w-]*)  `), ui.RenderCommand},
	// Flag value types. Longer names come first so "int64" is not cut at "int".
	{regexp.MustCompile(`--[\w-]+ (?P<v>stringArray|stringSlice|string|duration|int64|int16|int)\b`), ui.RenderMuted},
	{regexp.MustCompile(`(?P<v>\(default [^)]*\))`), ui.RenderMuted},
}

// colorizedHelpFunc returns a cobra help function that styles the usage
// text when stdout supports color.
func colorizedHelpFunc() func(*cobra.Command, []string) {
	return func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		if !ui.ShouldUseColor() || noColor {
			_ = cmd.Usage()
			return
		}
		var buf bytes.Buffer
		cmd.SetOut(&buf)
		_ = cmd.Usage()
		cmd.SetOut(out)
		fmt.Fprint(out, colorizeHelp(buf.String()))
	}
}

func colorizeHelp(s string) string {
	for _, hs := range helpStyles {
		idx := hs.re.SubexpIndex("v")
		s = hs.re.ReplaceAllStringFunc(s, func(match string) string {
			m := hs.re.FindStringSubmatchIndex(match)
			if m == nil || m[2*idx] < 0 {
				return match
			}
			lo, hi := m[2*idx], m[2*idx+1]
			return match[:lo] + hs.style(match[lo:hi]) + match[hi:]
		})
	}
	return s
}
