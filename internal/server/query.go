package server

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alfredjeanlab/onix/internal/model"
)

// dateLayout is the day format accepted by date filters. Full RFC 3339
// timestamps are accepted too; only their date part in their own zone is
// used.
const dateLayout = "2006-01-02"

// queryParser reads typed query parameters and remembers the first error.
type queryParser struct {
	q   url.Values
	err error
}

func (p *queryParser) fail(format string, args ...any) {
	if p.err == nil {
		p.err = inputError(fmt.Sprintf(format, args...))
	}
}

// list returns the values of a repeatable, comma-separated parameter.
func (p *queryParser) list(name string) []string {
	var out []string
	for _, v := range p.q[name] {
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

// attributes parses repeated attr=name=value parameters.
func (p *queryParser) attributes() map[string]string {
	vals := p.q["attr"]
	if len(vals) == 0 {
		return nil
	}
	out := make(map[string]string, len(vals))
	for _, v := range vals {
		name, value, ok := strings.Cut(v, "=")
		if !ok || name == "" {
			p.fail("attr must be name=value, got %q", v)
			continue
		}
		out[name] = value
	}
	return out
}

func (p *queryParser) date(name string) *time.Time {
	v := p.q.Get(name)
	if v == "" {
		return nil
	}
	if t, err := time.Parse(dateLayout, v); err == nil {
		return &t
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return &t
	}
	p.fail("%s must be a date (YYYY-MM-DD), got %q", name, v)
	return nil
}

func (p *queryParser) int(name string) int {
	v := p.q.Get(name)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		p.fail("%s must be a non-negative integer, got %q", name, v)
		return 0
	}
	return n
}

func parseItemFilter(q url.Values) (model.ItemFilter, error) {
	p := &queryParser{q: q}
	f := model.ItemFilter{
		ItemTypeKey: q.Get("type"),
		Tags:        p.list("tag"),
		Attributes:  p.attributes(),
		CreatedFrom: p.date("created_from"),
		CreatedTo:   p.date("created_to"),
		UpdatedFrom: p.date("updated_from"),
		UpdatedTo:   p.date("updated_to"),
		Top:         p.int("top"),
	}
	if v := q.Get("status"); v != "" {
		n, err := strconv.ParseInt(v, 10, 16)
		if err != nil {
			p.fail("status must be a small integer, got %q", v)
		} else {
			st := int16(n)
			f.Status = &st
		}
	}
	return f, p.err
}

func parseLinkFilter(q url.Values) (model.LinkFilter, error) {
	p := &queryParser{q: q}
	f := model.LinkFilter{
		LinkTypeKey:  q.Get("type"),
		StartItemKey: q.Get("start"),
		EndItemKey:   q.Get("end"),
		Tags:         p.list("tag"),
		Attributes:   p.attributes(),
		CreatedFrom:  p.date("created_from"),
		CreatedTo:    p.date("created_to"),
		UpdatedFrom:  p.date("updated_from"),
		UpdatedTo:    p.date("updated_to"),
		Top:          p.int("top"),
	}
	return f, p.err
}

func parseAuditFilter(q url.Values) (model.AuditFilter, error) {
	p := &queryParser{q: q}
	f := model.AuditFilter{
		EntityKind: model.EntityKind(q.Get("kind")),
		EntityKey:  q.Get("key"),
		ChangeType: model.ChangeType(q.Get("change")),
		From:       p.date("from"),
		To:         p.date("to"),
		Top:        p.int("top"),
	}
	return f, p.err
}
