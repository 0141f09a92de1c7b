package postgres

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/alfredjeanlab/onix/internal/model"
)

// scannable is the interface satisfied by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

// scanItem scans a row in itemColumns order. When withTotal is set the row
// carries a leading total_count column, which is returned.
func scanItem(row scannable, withTotal bool) (*model.Item, int, error) {
	var (
		it    model.Item
		total int
		tags  pq.StringArray
		meta  []byte
		attrs []byte
	)
	dest := []any{
		&it.Key, &it.Name, &it.Description, &it.ItemTypeKey, &it.Status,
		&tags, &meta, &attrs, &it.Version, &it.CreatedAt, &it.UpdatedAt, &it.ChangedBy,
	}
	if withTotal {
		dest = append([]any{&total}, dest...)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, 0, err
	}
	it.Tags = tagsFromArray(tags)
	it.Meta = rawJSON(meta)
	var err error
	if it.Attributes, err = decodeAttributes(attrs); err != nil {
		return nil, 0, fmt.Errorf("item %q attributes: %w", it.Key, err)
	}
	return &it, total, nil
}

// scanLink scans a row in linkColumns order.
func scanLink(row scannable, withTotal bool) (*model.Link, int, error) {
	var (
		l     model.Link
		total int
		tags  pq.StringArray
		meta  []byte
		attrs []byte
	)
	dest := []any{
		&l.Key, &l.LinkTypeKey, &l.StartItemKey, &l.EndItemKey, &l.Description,
		&tags, &meta, &attrs, &l.Version, &l.CreatedAt, &l.UpdatedAt, &l.ChangedBy,
	}
	if withTotal {
		dest = append([]any{&total}, dest...)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, 0, err
	}
	l.Tags = tagsFromArray(tags)
	l.Meta = rawJSON(meta)
	var err error
	if l.Attributes, err = decodeAttributes(attrs); err != nil {
		return nil, 0, fmt.Errorf("link %q attributes: %w", l.Key, err)
	}
	return &l, total, nil
}

func scanItemType(row scannable) (*model.ItemType, error) {
	var (
		t     model.ItemType
		rules []byte
	)
	if err := row.Scan(&t.Key, &t.Name, &t.Description, &rules, &t.Version, &t.CreatedAt, &t.UpdatedAt, &t.ChangedBy); err != nil {
		return nil, err
	}
	if len(rules) > 0 {
		if err := json.Unmarshal(rules, &t.AttributeValidation); err != nil {
			return nil, fmt.Errorf("item type %q attribute validation: %w", t.Key, err)
		}
	}
	return &t, nil
}

func scanLinkType(row scannable) (*model.LinkType, error) {
	var t model.LinkType
	if err := row.Scan(&t.Key, &t.Name, &t.Description, &t.Version, &t.CreatedAt, &t.UpdatedAt, &t.ChangedBy); err != nil {
		return nil, err
	}
	return &t, nil
}

func scanLinkRule(row scannable) (*model.LinkRule, error) {
	var r model.LinkRule
	if err := row.Scan(&r.Key, &r.LinkTypeKey, &r.StartItemTypeKey, &r.EndItemTypeKey, &r.Cardinality,
		&r.Version, &r.CreatedAt, &r.UpdatedAt, &r.ChangedBy); err != nil {
		return nil, err
	}
	return &r, nil
}

func scanAudit(row scannable) (*model.AuditRecord, error) {
	var (
		r        model.AuditRecord
		snapshot []byte
	)
	if err := row.Scan(&r.ID, &r.EntityKind, &r.EntityKey, &r.ChangeType, &snapshot, &r.ChangedBy, &r.Timestamp); err != nil {
		return nil, err
	}
	r.Snapshot = rawJSON(snapshot)
	return &r, nil
}

// tagsArray converts a tag set for a NOT NULL text[] column.
func tagsArray(tags []string) any {
	if tags == nil {
		tags = []string{}
	}
	return pq.Array(tags)
}

func tagsFromArray(a pq.StringArray) []string {
	if len(a) == 0 {
		return nil
	}
	return []string(a)
}

// jsonbBytes converts a json.RawMessage to a value suitable for a JSONB
// column. Returns nil (SQL NULL) when the message is empty.
func jsonbBytes(data json.RawMessage) any {
	if len(data) == 0 {
		return nil
	}
	return []byte(data)
}

// attributesJSON encodes an attribute map for a NOT NULL JSONB column.
func attributesJSON(attrs map[string]string) []byte {
	if len(attrs) == 0 {
		return []byte("{}")
	}
	b, _ := json.Marshal(attrs) // map[string]string always marshals
	return b
}

func decodeAttributes(b []byte) (map[string]string, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	if len(m) == 0 {
		return nil, nil
	}
	return m, nil
}

func rawJSON(b []byte) json.RawMessage {
	if len(b) == 0 {
		return nil
	}
	return json.RawMessage(b)
}

// translate maps driver errors onto the model's sentinel errors. A foreign
// key violation becomes onForeignKey: ErrNotFound on writes that reference a
// missing row, ErrConflict on deletes of a row still referenced.
func translate(err error, what string, onForeignKey error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, model.ErrNotFound)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%s already exists: %w", what, model.ErrConflict)
		case "23503": // foreign_key_violation
			return fmt.Errorf("%s: %s: %w", what, pqErr.Message, onForeignKey)
		}
	}
	return fmt.Errorf("%s: %w", what, err)
}
