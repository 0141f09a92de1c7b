package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"testing"
	"time"
)

func TestEntityKind_IsValid(t *testing.T) {
	for _, tc := range []struct {
		kind EntityKind
		want bool
	}{
		{EntityItem, true},
		{EntityLink, true},
		{EntityKind(""), false},
		{EntityKind("itemtype"), false},
	} {
		if got := tc.kind.IsValid(); got != tc.want {
			t.Errorf("EntityKind(%q).IsValid() = %v, want %v", tc.kind, got, tc.want)
		}
	}
}

func TestChangeType_IsValid(t *testing.T) {
	for _, tc := range []struct {
		change ChangeType
		want   bool
	}{
		{ChangeCreated, true},
		{ChangeUpdated, true},
		{ChangeDeleted, true},
		{ChangeType("renamed"), false},
	} {
		if got := tc.change.IsValid(); got != tc.want {
			t.Errorf("ChangeType(%q).IsValid() = %v, want %v", tc.change, got, tc.want)
		}
	}
}

func TestOutcome_String(t *testing.T) {
	for _, tc := range []struct {
		outcome Outcome
		want    string
	}{
		{OutcomeInserted, "Inserted"},
		{OutcomeUpdated, "Updated"},
		{OutcomeNoAction, "NoAction"},
		{OutcomeDeleted, "Deleted"},
		{Outcome("X"), "X"},
	} {
		if got := tc.outcome.String(); got != tc.want {
			t.Errorf("Outcome(%q).String() = %q, want %q", tc.outcome, got, tc.want)
		}
	}
}

func TestCardinality(t *testing.T) {
	for _, tc := range []struct {
		c           Cardinality
		valid       bool
		singleStart bool
		singleEnd   bool
	}{
		{"", true, false, false},
		{CardinalityManyToMany, true, false, false},
		{CardinalityOneToMany, true, true, false},
		{CardinalityManyToOne, true, false, true},
		{CardinalityOneToOne, true, true, true},
		{Cardinality("some"), false, false, false},
	} {
		if got := tc.c.IsValid(); got != tc.valid {
			t.Errorf("Cardinality(%q).IsValid() = %v, want %v", tc.c, got, tc.valid)
		}
		if got := tc.c.SingleStart(); got != tc.singleStart {
			t.Errorf("Cardinality(%q).SingleStart() = %v, want %v", tc.c, got, tc.singleStart)
		}
		if got := tc.c.SingleEnd(); got != tc.singleEnd {
			t.Errorf("Cardinality(%q).SingleEnd() = %v, want %v", tc.c, got, tc.singleEnd)
		}
	}
}

func TestCodeOf(t *testing.T) {
	for _, tc := range []struct {
		err  error
		want Code
	}{
		{nil, CodeOK},
		{ErrNotFound, CodeNotFound},
		{fmt.Errorf("item %q: %w", "a", ErrNotFound), CodeNotFound},
		{fmt.Errorf("version: %w", ErrConflict), CodeConflict},
		{ErrRuleViolation, CodeRuleViolation},
		{&ValidationError{Errors: []FieldError{{Field: "key", Message: "is required"}}}, CodeInvalidArgument},
		{errors.New("connection reset"), CodeStorageFailure},
	} {
		if got := CodeOf(tc.err); got != tc.want {
			t.Errorf("CodeOf(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestNormalizeTags(t *testing.T) {
	for _, tc := range []struct {
		in   []string
		want []string
	}{
		{nil, nil},
		{[]string{}, []string{}},
		{[]string{"prod"}, []string{"prod"}},
		{[]string{"prod", "db", "prod", " db "}, []string{"db", "prod"}},
		{[]string{"", "  "}, []string{}},
	} {
		got := NormalizeTags(tc.in)
		if (got == nil) != (tc.want == nil) || !slices.Equal(got, tc.want) {
			t.Errorf("NormalizeTags(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestHasAllTags(t *testing.T) {
	have := []string{"db", "prod"}
	if !HasAllTags(have, []string{"prod"}) {
		t.Error("expected superset match for {prod}")
	}
	if !HasAllTags(have, nil) {
		t.Error("empty filter should match")
	}
	if HasAllTags(have, []string{"prod", "dev"}) {
		t.Error("expected no match for {prod, dev}")
	}
}

func TestSameMeta(t *testing.T) {
	for _, tc := range []struct {
		a, b string
		want bool
	}{
		{"", "", true},
		{"", "null", true},
		{`{"a":1,"b":2}`, `{"b": 2, "a": 1}`, true},
		{`{"a":1}`, `{"a":2}`, false},
		{`{"a":1}`, "", false},
		{`[1,2]`, `[2,1]`, false},
	} {
		var a, b json.RawMessage
		if tc.a != "" {
			a = json.RawMessage(tc.a)
		}
		if tc.b != "" {
			b = json.RawMessage(tc.b)
		}
		if got := SameMeta(a, b); got != tc.want {
			t.Errorf("SameMeta(%s, %s) = %v, want %v", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestItemMerge(t *testing.T) {
	base := NewItem("web-1", ItemInput{
		Name:        ptr("web"),
		ItemTypeKey: ptr("host"),
		Tags:        []string{"prod"},
		Attributes:  map[string]string{"os": "linux"},
	})

	if _, changed := base.Merge(ItemInput{}); changed {
		t.Error("empty input should not change the item")
	}
	if _, changed := base.Merge(ItemInput{Name: ptr("web"), Tags: []string{"prod", "prod"}}); changed {
		t.Error("identical values should not change the item")
	}

	next, changed := base.Merge(ItemInput{Description: ptr("frontend"), Attributes: map[string]string{}})
	if !changed {
		t.Fatal("expected change")
	}
	if next.Description != "frontend" || next.Name != "web" {
		t.Errorf("merge lost fields: %+v", next)
	}
	if len(next.Attributes) != 0 {
		t.Errorf("empty attributes map should clear, got %v", next.Attributes)
	}
	if base.Description != "" || base.Attributes["os"] != "linux" {
		t.Error("merge mutated the original item")
	}
}

func TestLinkCheckIdentity(t *testing.T) {
	l := NewLink("l1", LinkInput{LinkTypeKey: "runs-on", StartItemKey: "app", EndItemKey: "host"})
	if err := l.CheckIdentity(LinkInput{LinkTypeKey: "runs-on", StartItemKey: "app"}); err != nil {
		t.Fatalf("unchanged identity: %v", err)
	}
	err := l.CheckIdentity(LinkInput{EndItemKey: "other"})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestDayRange(t *testing.T) {
	loc := time.FixedZone("X", 3*3600)
	from := time.Date(2024, 3, 10, 17, 30, 0, 0, loc)
	to := time.Date(2024, 3, 12, 1, 0, 0, 0, loc)
	lo, hi := DayRange(&from, &to)
	if !lo.Equal(time.Date(2024, 3, 10, 0, 0, 0, 0, loc)) {
		t.Errorf("lo = %v", lo)
	}
	if !hi.Equal(time.Date(2024, 3, 13, 0, 0, 0, 0, loc)) {
		t.Errorf("hi = %v", hi)
	}

	for _, tc := range []struct {
		at   time.Time
		want bool
	}{
		{time.Date(2024, 3, 10, 0, 0, 0, 0, loc), true},
		{time.Date(2024, 3, 12, 23, 59, 59, 0, loc), true},
		{time.Date(2024, 3, 9, 23, 59, 59, 0, loc), false},
		{time.Date(2024, 3, 13, 0, 0, 0, 0, loc), false},
	} {
		if got := InDayRange(tc.at, &from, &to); got != tc.want {
			t.Errorf("InDayRange(%v) = %v, want %v", tc.at, got, tc.want)
		}
	}
	if !InDayRange(time.Now(), nil, nil) {
		t.Error("open range should include everything")
	}
}

func TestEffectiveTop(t *testing.T) {
	for _, tc := range []struct{ in, want int }{
		{0, DefaultTop},
		{-3, DefaultTop},
		{1, 1},
		{MaxTop + 1, MaxTop},
	} {
		if got := EffectiveTop(tc.in); got != tc.want {
			t.Errorf("EffectiveTop(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func ptr[T any](v T) *T { return &v }
