package idgen

import (
	"regexp"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	shape := regexp.MustCompile(`^x-[0-9a-zA-Z]{10}$`)
	seen := make(map[string]bool)
	for range 5000 {
		id, err := New("x-")
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if !shape.MatchString(id) {
			t.Fatalf("New = %q, want %s", id, shape)
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}

func TestPrefixedHelpers(t *testing.T) {
	if id := RequestID(); !strings.HasPrefix(id, "req-") || len(id) != len("req-")+randomSize {
		t.Errorf("RequestID() = %q", id)
	}
	key, err := LinkKey()
	if err != nil {
		t.Fatalf("LinkKey: %v", err)
	}
	if !strings.HasPrefix(key, "lnk-") || len(key) != len("lnk-")+randomSize {
		t.Errorf("LinkKey() = %q", key)
	}
}

func TestAcceptRequestID(t *testing.T) {
	for _, tc := range []struct {
		id   string
		want bool
	}{
		{"req-abc123", true},
		{"4b1c9e2a-7f1d-4c3e-9a55-0c5e0b6f3d21", true},
		{"", false},
		{"has space", false},
		{"line\nbreak", false},
		{"café", false},
		{strings.Repeat("a", maxCallerID), true},
		{strings.Repeat("a", maxCallerID+1), false},
	} {
		if got := AcceptRequestID(tc.id); got != tc.want {
			t.Errorf("AcceptRequestID(%q) = %v, want %v", tc.id, got, tc.want)
		}
	}
}
