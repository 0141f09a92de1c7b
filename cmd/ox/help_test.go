package main

import (
	"strings"
	"testing"
)

func TestColorizeHelp(t *testing.T) {
	in := "Graph:\n  item        Create, read, delete and query items\n\nFlags:\n      --top int   maximum results (default 20)\n"
	out := colorizeHelp(in)

	for _, want := range []string{
		"\x1b[38;5;74mGraph:\x1b[0m",
		"  \x1b[38;5;250mitem\x1b[0m  ",
		"--top \x1b[38;5;245mint\x1b[0m",
		"\x1b[38;5;245m(default 20)\x1b[0m",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%q", want, out)
		}
	}
	if !strings.Contains(out, "Create, read, delete and query items") {
		t.Error("descriptions must be left intact")
	}
}
