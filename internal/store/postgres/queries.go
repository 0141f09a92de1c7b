package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/alfredjeanlab/onix/internal/model"
)

// itemColumns is the column list used for SELECT statements on the items table.
const itemColumns = `key, name, description, item_type_key, status,
	tags, meta, attributes, version, created_at, updated_at, changed_by`

// linkColumns is the column list used for SELECT statements on the links table.
const linkColumns = `key, link_type_key, start_item_key, end_item_key, description,
	tags, meta, attributes, version, created_at, updated_at, changed_by`

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// whereBuilder accumulates AND-ed predicates with positional arguments.
type whereBuilder struct {
	clauses []string
	args    []any
}

func (w *whereBuilder) nextArg(v any) string {
	w.args = append(w.args, v)
	return fmt.Sprintf("$%d", len(w.args))
}

func (w *whereBuilder) add(format string, v any) {
	w.clauses = append(w.clauses, fmt.Sprintf(format, w.nextArg(v)))
}

func (w *whereBuilder) addDayRange(column string, from, to *time.Time) {
	lo, hi := model.DayRange(from, to)
	if lo != nil {
		w.add(column+" >= %s", *lo)
	}
	if hi != nil {
		w.add(column+" < %s", *hi)
	}
}

func (w *whereBuilder) sql() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

// --- Items ---

func queryCreateItem(ctx context.Context, db executor, it *model.Item) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO items (
			key, name, description, item_type_key, status,
			tags, meta, attributes, version, created_at, updated_at, changed_by
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10, $11, $12
		)`,
		it.Key,
		it.Name,
		it.Description,
		it.ItemTypeKey,
		it.Status,
		tagsArray(it.Tags),
		jsonbBytes(it.Meta),
		attributesJSON(it.Attributes),
		it.Version,
		it.CreatedAt,
		it.UpdatedAt,
		it.ChangedBy,
	)
	return translate(err, fmt.Sprintf("item %q", it.Key), model.ErrNotFound)
}

func queryGetItem(ctx context.Context, db executor, key string) (*model.Item, error) {
	row := db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE key = $1`, key)
	it, _, err := scanItem(row, false)
	if err != nil {
		return nil, translate(err, fmt.Sprintf("item %q", key), model.ErrNotFound)
	}
	return it, nil
}

// queryUpdateItem writes it only if the stored version still equals
// expectedVersion.
func queryUpdateItem(ctx context.Context, db executor, it *model.Item, expectedVersion int64) error {
	res, err := db.ExecContext(ctx, `
		UPDATE items SET
			name = $2,
			description = $3,
			item_type_key = $4,
			status = $5,
			tags = $6,
			meta = $7,
			attributes = $8,
			version = $9,
			updated_at = $10,
			changed_by = $11
		WHERE key = $1 AND version = $12`,
		it.Key,
		it.Name,
		it.Description,
		it.ItemTypeKey,
		it.Status,
		tagsArray(it.Tags),
		jsonbBytes(it.Meta),
		attributesJSON(it.Attributes),
		it.Version,
		it.UpdatedAt,
		it.ChangedBy,
		expectedVersion,
	)
	if err != nil {
		return translate(err, fmt.Sprintf("item %q", it.Key), model.ErrNotFound)
	}
	return casResult(ctx, db, res, "items", "item", it.Key, expectedVersion)
}

// casResult turns a zero-row conditional update into ErrNotFound or
// ErrConflict depending on whether the row exists.
func casResult(ctx context.Context, db executor, res sql.Result, table, kind, key string, expectedVersion int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s %q rows affected: %w", kind, key, err)
	}
	if n > 0 {
		return nil
	}
	var current int64
	err = db.QueryRowContext(ctx, `SELECT version FROM `+table+` WHERE key = $1`, key).Scan(&current)
	if err != nil {
		return translate(err, fmt.Sprintf("%s %q", kind, key), model.ErrNotFound)
	}
	return fmt.Errorf("%s %q is at version %d, not %d: %w", kind, key, current, expectedVersion, model.ErrConflict)
}

func queryDeleteItem(ctx context.Context, db executor, key string) error {
	return deleteByKey(ctx, db, "items", "item", key)
}

func deleteByKey(ctx context.Context, db executor, table, kind, key string) error {
	what := fmt.Sprintf("%s %q", kind, key)
	res, err := db.ExecContext(ctx, `DELETE FROM `+table+` WHERE key = $1`, key)
	if err != nil {
		return translate(err, what, model.ErrConflict)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", what, err)
	}
	if n == 0 {
		return translate(sql.ErrNoRows, what, model.ErrNotFound)
	}
	return nil
}

func queryListItems(ctx context.Context, db executor, filter model.ItemFilter) ([]*model.Item, int, error) {
	var w whereBuilder
	if filter.ItemTypeKey != "" {
		w.add("item_type_key = %s", filter.ItemTypeKey)
	}
	if filter.Status != nil {
		w.add("status = %s", *filter.Status)
	}
	if len(filter.Tags) > 0 {
		w.add("tags @> %s", tagsArray(filter.Tags))
	}
	if len(filter.Attributes) > 0 {
		w.add("attributes @> %s::jsonb", string(attributesJSON(filter.Attributes)))
	}
	w.addDayRange("created_at", filter.CreatedFrom, filter.CreatedTo)
	w.addDayRange("updated_at", filter.UpdatedFrom, filter.UpdatedTo)

	// Single query with COUNT(*) OVER() to get total and rows atomically.
	q := "SELECT COUNT(*) OVER() AS total_count, " + itemColumns + " FROM items" + w.sql() + " ORDER BY updated_at DESC, key ASC"
	if filter.Top > 0 {
		q += " LIMIT " + w.nextArg(filter.Top)
	}

	rows, err := db.QueryContext(ctx, q, w.args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	var items []*model.Item
	var total int
	for rows.Next() {
		it, t, err := scanItem(rows, true)
		if err != nil {
			return nil, 0, fmt.Errorf("scan items: %w", err)
		}
		total = t
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("scan items: %w", err)
	}
	return items, total, nil
}

// --- Links ---

func queryCreateLink(ctx context.Context, db executor, l *model.Link) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO links (
			key, link_type_key, start_item_key, end_item_key, description,
			tags, meta, attributes, version, created_at, updated_at, changed_by
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10, $11, $12
		)`,
		l.Key,
		l.LinkTypeKey,
		l.StartItemKey,
		l.EndItemKey,
		l.Description,
		tagsArray(l.Tags),
		jsonbBytes(l.Meta),
		attributesJSON(l.Attributes),
		l.Version,
		l.CreatedAt,
		l.UpdatedAt,
		l.ChangedBy,
	)
	return translate(err, fmt.Sprintf("link %q", l.Key), model.ErrNotFound)
}

func queryGetLink(ctx context.Context, db executor, key string) (*model.Link, error) {
	row := db.QueryRowContext(ctx, `SELECT `+linkColumns+` FROM links WHERE key = $1`, key)
	l, _, err := scanLink(row, false)
	if err != nil {
		return nil, translate(err, fmt.Sprintf("link %q", key), model.ErrNotFound)
	}
	return l, nil
}

// queryUpdateLink never touches the link type or endpoints.
func queryUpdateLink(ctx context.Context, db executor, l *model.Link, expectedVersion int64) error {
	res, err := db.ExecContext(ctx, `
		UPDATE links SET
			description = $2,
			tags = $3,
			meta = $4,
			attributes = $5,
			version = $6,
			updated_at = $7,
			changed_by = $8
		WHERE key = $1 AND version = $9`,
		l.Key,
		l.Description,
		tagsArray(l.Tags),
		jsonbBytes(l.Meta),
		attributesJSON(l.Attributes),
		l.Version,
		l.UpdatedAt,
		l.ChangedBy,
		expectedVersion,
	)
	if err != nil {
		return translate(err, fmt.Sprintf("link %q", l.Key), model.ErrNotFound)
	}
	return casResult(ctx, db, res, "links", "link", l.Key, expectedVersion)
}

func queryDeleteLink(ctx context.Context, db executor, key string) error {
	return deleteByKey(ctx, db, "links", "link", key)
}

func queryListLinks(ctx context.Context, db executor, filter model.LinkFilter) ([]*model.Link, int, error) {
	var w whereBuilder
	if filter.LinkTypeKey != "" {
		w.add("link_type_key = %s", filter.LinkTypeKey)
	}
	if filter.StartItemKey != "" {
		w.add("start_item_key = %s", filter.StartItemKey)
	}
	if filter.EndItemKey != "" {
		w.add("end_item_key = %s", filter.EndItemKey)
	}
	if len(filter.Tags) > 0 {
		w.add("tags @> %s", tagsArray(filter.Tags))
	}
	if len(filter.Attributes) > 0 {
		w.add("attributes @> %s::jsonb", string(attributesJSON(filter.Attributes)))
	}
	w.addDayRange("created_at", filter.CreatedFrom, filter.CreatedTo)
	w.addDayRange("updated_at", filter.UpdatedFrom, filter.UpdatedTo)

	q := "SELECT COUNT(*) OVER() AS total_count, " + linkColumns + " FROM links" + w.sql() + " ORDER BY updated_at DESC, key ASC"
	if filter.Top > 0 {
		q += " LIMIT " + w.nextArg(filter.Top)
	}

	rows, err := db.QueryContext(ctx, q, w.args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list links: %w", err)
	}
	defer rows.Close()

	var links []*model.Link
	var total int
	for rows.Next() {
		l, t, err := scanLink(rows, true)
		if err != nil {
			return nil, 0, fmt.Errorf("scan links: %w", err)
		}
		total = t
		links = append(links, l)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("scan links: %w", err)
	}
	return links, total, nil
}

func queryListIncidentLinks(ctx context.Context, db executor, itemKey string) ([]*model.Link, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+linkColumns+` FROM links WHERE start_item_key = $1 OR end_item_key = $1 ORDER BY key`,
		itemKey)
	if err != nil {
		return nil, fmt.Errorf("list incident links: %w", err)
	}
	defer rows.Close()

	var links []*model.Link
	for rows.Next() {
		l, _, err := scanLink(rows, false)
		if err != nil {
			return nil, fmt.Errorf("scan links: %w", err)
		}
		links = append(links, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan links: %w", err)
	}
	return links, nil
}

// queryClear wipes every table and resets the audit sequence.
func queryClear(ctx context.Context, db executor) error {
	_, err := db.ExecContext(ctx,
		`TRUNCATE audit, links, items, link_rules, link_types, item_types RESTART IDENTITY`)
	if err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	return nil
}
