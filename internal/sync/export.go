package sync

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/alfredjeanlab/onix/internal/cmdb"
	"github.com/alfredjeanlab/onix/internal/model"
	"github.com/alfredjeanlab/onix/internal/store"
)

// FormatVersion is written in every snapshot header.
const FormatVersion = "1"

// Record types, in the order they appear in a snapshot. Each kind only
// references kinds before it, so a snapshot can be replayed line by line.
const (
	TypeHeader   = "header"
	TypeItemType = "item_type"
	TypeLinkType = "link_type"
	TypeLinkRule = "link_rule"
	TypeItem     = "item"
	TypeLink     = "link"
)

// Counts is the number of entities of each kind in a snapshot.
type Counts struct {
	ItemTypes int `json:"item_types"`
	LinkTypes int `json:"link_types"`
	LinkRules int `json:"link_rules"`
	Items     int `json:"items"`
	Links     int `json:"links"`
}

// header is the first JSONL record written by ExportJSONL.
type header struct {
	Version   string    `json:"version"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Counts    Counts    `json:"counts"`
}

// record wraps a single JSONL line with a type discriminator.
type record struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Snapshot is a whole graph, as read from a store or decoded from JSONL.
type Snapshot struct {
	ItemTypes []*model.ItemType
	LinkTypes []*model.LinkType
	LinkRules []*model.LinkRule
	Items     []*model.Item
	Links     []*model.Link
}

func (s *Snapshot) Counts() Counts {
	return Counts{
		ItemTypes: len(s.ItemTypes),
		LinkTypes: len(s.LinkTypes),
		LinkRules: len(s.LinkRules),
		Items:     len(s.Items),
		Links:     len(s.Links),
	}
}

// ReadSnapshot reads the whole graph from s in one read-only transaction.
func ReadSnapshot(ctx context.Context, s store.Store) (*Snapshot, error) {
	var snap Snapshot
	err := s.RunReadOnly(ctx, func(tx store.Store) error {
		var err error
		if snap.ItemTypes, err = tx.ListItemTypes(ctx); err != nil {
			return fmt.Errorf("list item types: %w", err)
		}
		if snap.LinkTypes, err = tx.ListLinkTypes(ctx); err != nil {
			return fmt.Errorf("list link types: %w", err)
		}
		if snap.LinkRules, err = tx.ListLinkRules(ctx, ""); err != nil {
			return fmt.Errorf("list link rules: %w", err)
		}
		// Top 0 is unbounded at the store level.
		if snap.Items, _, err = tx.ListItems(ctx, model.ItemFilter{}); err != nil {
			return fmt.Errorf("list items: %w", err)
		}
		if snap.Links, _, err = tx.ListLinks(ctx, model.LinkFilter{}); err != nil {
			return fmt.Errorf("list links: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortByKey(snap.Items, func(it *model.Item) string { return it.Key })
	sortByKey(snap.Links, func(l *model.Link) string { return l.Key })
	return &snap, nil
}

func sortByKey[T any](xs []T, key func(T) string) {
	slices.SortFunc(xs, func(a, b T) int { return strings.Compare(key(a), key(b)) })
}

// ExportJSONL writes every type, rule, item and link in the store as JSONL
// to w. Entities of each kind are sorted by key, so unchanged graphs produce
// byte-identical bodies.
func ExportJSONL(ctx context.Context, s store.Store, w io.Writer) (Counts, error) {
	snap, err := ReadSnapshot(ctx, s)
	if err != nil {
		return Counts{}, err
	}
	counts := snap.Counts()

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(header{
		Version:   FormatVersion,
		Type:      TypeHeader,
		Timestamp: time.Now().UTC(),
		Counts:    counts,
	}); err != nil {
		return Counts{}, fmt.Errorf("encode header: %w", err)
	}

	write := func(typ, key string, v any) error {
		if err := enc.Encode(record{Type: typ, Data: v}); err != nil {
			return fmt.Errorf("encode %s %s: %w", typ, key, err)
		}
		return nil
	}
	for _, t := range snap.ItemTypes {
		if err := write(TypeItemType, t.Key, t); err != nil {
			return Counts{}, err
		}
	}
	for _, t := range snap.LinkTypes {
		if err := write(TypeLinkType, t.Key, t); err != nil {
			return Counts{}, err
		}
	}
	for _, r := range snap.LinkRules {
		if err := write(TypeLinkRule, r.Key, r); err != nil {
			return Counts{}, err
		}
	}
	for _, it := range snap.Items {
		if err := write(TypeItem, it.Key, it); err != nil {
			return Counts{}, err
		}
	}
	for _, l := range snap.Links {
		if err := write(TypeLink, l.Key, l); err != nil {
			return Counts{}, err
		}
	}
	return counts, nil
}

// rawRecord is record with its payload left undecoded.
type rawRecord struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// maxLineSize bounds a single JSONL record.
const maxLineSize = 16 * 1024 * 1024

// ImportJSONL replaces the contents of s with a snapshot written by
// ExportJSONL. The whole body is read and decoded before the store is
// touched; see Restore for what is checked.
func ImportJSONL(ctx context.Context, s store.Store, r io.Reader) (Counts, error) {
	snap, err := DecodeJSONL(r)
	if err != nil {
		return Counts{}, err
	}
	if err := Restore(ctx, s, snap); err != nil {
		return Counts{}, err
	}
	return snap.Counts(), nil
}

// DecodeJSONL reads a snapshot written by ExportJSONL to the end. The
// header's counts must match the records that follow.
func DecodeJSONL(r io.Reader) (*Snapshot, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return nil, readError("read header", err)
		}
		return nil, fmt.Errorf("empty snapshot: %w", model.ErrInvalidArgument)
	}
	var h header
	if err := json.Unmarshal(sc.Bytes(), &h); err != nil {
		return nil, fmt.Errorf("decode header: %w", errors.Join(err, model.ErrInvalidArgument))
	}
	if h.Type != TypeHeader || h.Version != FormatVersion {
		return nil, fmt.Errorf("unsupported snapshot header type=%q version=%q: %w", h.Type, h.Version, model.ErrInvalidArgument)
	}

	var snap Snapshot
	line := 1
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		if err := snap.decodeRecord(sc.Bytes()); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, readError("read snapshot", err)
	}
	if got := snap.Counts(); got != h.Counts {
		return nil, fmt.Errorf("snapshot truncated: header counts %+v, read %+v: %w", h.Counts, got, model.ErrInvalidArgument)
	}
	return &snap, nil
}

func readError(what string, err error) error {
	if errors.Is(err, bufio.ErrTooLong) {
		return fmt.Errorf("%s: %w", what, errors.Join(err, model.ErrInvalidArgument))
	}
	return fmt.Errorf("%s: %w", what, err)
}

func (s *Snapshot) decodeRecord(line []byte) error {
	var rec rawRecord
	if err := json.Unmarshal(line, &rec); err != nil {
		return errors.Join(err, model.ErrInvalidArgument)
	}
	var v any
	switch rec.Type {
	case TypeItemType:
		t := new(model.ItemType)
		s.ItemTypes, v = append(s.ItemTypes, t), t
	case TypeLinkType:
		t := new(model.LinkType)
		s.LinkTypes, v = append(s.LinkTypes, t), t
	case TypeLinkRule:
		r := new(model.LinkRule)
		s.LinkRules, v = append(s.LinkRules, r), r
	case TypeItem:
		it := new(model.Item)
		s.Items, v = append(s.Items, it), it
	case TypeLink:
		l := new(model.Link)
		s.Links, v = append(s.Links, l), l
	default:
		return fmt.Errorf("unknown record type %q: %w", rec.Type, model.ErrInvalidArgument)
	}
	if err := json.Unmarshal(rec.Data, v); err != nil {
		return fmt.Errorf("decode %s: %w", rec.Type, errors.Join(err, model.ErrInvalidArgument))
	}
	return nil
}

// Restore replaces the contents of s with snap, all or nothing. Each entity
// passes the checks a write through cmdb would: keys, attribute schemas,
// rule references, and link rules with their cardinality. Versions and
// timestamps are restored as written; the audit log is cleared.
func Restore(ctx context.Context, s store.Store, snap *Snapshot) error {
	return s.RunInTransaction(ctx, func(tx store.Store) error {
		if err := tx.Clear(ctx); err != nil {
			return err
		}
		load := func(typ, key string, check, create func() error) error {
			if err := check(); err != nil {
				return restoreError(typ, key, err)
			}
			if err := create(); err != nil {
				return restoreError(typ, key, err)
			}
			return nil
		}
		for _, t := range snap.ItemTypes {
			if err := load(TypeItemType, t.Key,
				func() error { return cmdb.CheckItemType(t) },
				func() error { return tx.CreateItemType(ctx, t) }); err != nil {
				return err
			}
		}
		for _, t := range snap.LinkTypes {
			if err := load(TypeLinkType, t.Key,
				func() error { return cmdb.CheckLinkType(t) },
				func() error { return tx.CreateLinkType(ctx, t) }); err != nil {
				return err
			}
		}
		for _, r := range snap.LinkRules {
			if err := load(TypeLinkRule, r.Key,
				func() error { return cmdb.CheckLinkRule(ctx, tx, r) },
				func() error { return tx.CreateLinkRule(ctx, r) }); err != nil {
				return err
			}
		}
		for _, it := range snap.Items {
			it.Links = nil
			if err := load(TypeItem, it.Key,
				func() error { return cmdb.CheckItem(ctx, tx, it) },
				func() error { return tx.CreateItem(ctx, it) }); err != nil {
				return err
			}
		}
		for _, l := range snap.Links {
			if err := load(TypeLink, l.Key,
				func() error { return cmdb.CheckLink(ctx, tx, l) },
				func() error { return tx.CreateLink(ctx, l) }); err != nil {
				return err
			}
		}
		return nil
	})
}

// restoreError reports a reference to an entity missing from the snapshot,
// or a key it holds twice, as a bad snapshot rather than a missing or
// conflicting entity.
func restoreError(typ, key string, err error) error {
	if errors.Is(err, model.ErrNotFound) || errors.Is(err, model.ErrConflict) {
		return fmt.Errorf("%s %q: %v: %w", typ, key, err, model.ErrInvalidArgument)
	}
	return fmt.Errorf("%s %q: %w", typ, key, err)
}
