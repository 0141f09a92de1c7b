package model

import (
	"bytes"
	"encoding/json"
	"maps"
	"reflect"
	"slices"
	"strings"
)

// NormalizeTags trims, deduplicates and sorts a tag list. Empty tags are
// dropped. A nil input yields nil.
func NormalizeTags(tags []string) []string {
	if tags == nil {
		return nil
	}
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t != "" {
			out = append(out, t)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// SameTags reports whether two normalized tag sets are equal.
func SameTags(a, b []string) bool {
	return slices.Equal(a, b)
}

// HasAllTags reports whether have is a superset of want.
func HasAllTags(have, want []string) bool {
	for _, w := range want {
		if !slices.Contains(have, w) {
			return false
		}
	}
	return true
}

// SameAttributes reports whether two attribute maps hold the same pairs. A nil
// map and an empty map are equal.
func SameAttributes(a, b map[string]string) bool {
	return maps.Equal(a, b)
}

// HasAttributes reports whether have contains every pair in want.
func HasAttributes(have, want map[string]string) bool {
	for k, v := range want {
		if got, ok := have[k]; !ok || got != v {
			return false
		}
	}
	return true
}

// SameMeta reports whether two meta documents are semantically equal. Key
// order and whitespace are ignored; an absent document equals JSON null.
func SameMeta(a, b json.RawMessage) bool {
	a, b = trimNull(a), trimNull(b)
	if len(a) == 0 || len(b) == 0 {
		return len(a) == len(b)
	}
	if bytes.Equal(a, b) {
		return true
	}
	var av, bv any
	if json.Unmarshal(a, &av) != nil || json.Unmarshal(b, &bv) != nil {
		return false
	}
	return reflect.DeepEqual(av, bv)
}

func trimNull(r json.RawMessage) json.RawMessage {
	t := bytes.TrimSpace(r)
	if bytes.Equal(t, []byte("null")) {
		return nil
	}
	return t
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return slices.Clone(s)
}

func cloneRaw(r json.RawMessage) json.RawMessage {
	if r == nil {
		return nil
	}
	return bytes.Clone(r)
}

func cloneAttributes(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	return maps.Clone(m)
}
