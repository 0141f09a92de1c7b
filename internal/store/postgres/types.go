package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/alfredjeanlab/onix/internal/model"
)

const itemTypeColumns = `key, name, description, attr_valid, version, created_at, updated_at, changed_by`

const linkTypeColumns = `key, name, description, version, created_at, updated_at, changed_by`

const linkRuleColumns = `key, link_type_key, start_item_type_key, end_item_type_key, cardinality,
	version, created_at, updated_at, changed_by`

func rulesJSON(rules map[string]model.AttributeRule) (any, error) {
	if len(rules) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(rules)
	if err != nil {
		return nil, fmt.Errorf("marshal attribute validation: %w", err)
	}
	return b, nil
}

// --- Item types ---

func queryCreateItemType(ctx context.Context, db executor, t *model.ItemType) error {
	rules, err := rulesJSON(t.AttributeValidation)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO item_types (`+itemTypeColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		t.Key, t.Name, t.Description, rules, t.Version, t.CreatedAt, t.UpdatedAt, t.ChangedBy,
	)
	return translate(err, fmt.Sprintf("item type %q", t.Key), model.ErrNotFound)
}

func queryGetItemType(ctx context.Context, db executor, key string) (*model.ItemType, error) {
	row := db.QueryRowContext(ctx, `SELECT `+itemTypeColumns+` FROM item_types WHERE key = $1`, key)
	t, err := scanItemType(row)
	if err != nil {
		return nil, translate(err, fmt.Sprintf("item type %q", key), model.ErrNotFound)
	}
	return t, nil
}

func queryUpdateItemType(ctx context.Context, db executor, t *model.ItemType, expectedVersion int64) error {
	rules, err := rulesJSON(t.AttributeValidation)
	if err != nil {
		return err
	}
	res, err := db.ExecContext(ctx, `
		UPDATE item_types SET
			name = $2, description = $3, attr_valid = $4,
			version = $5, updated_at = $6, changed_by = $7
		WHERE key = $1 AND version = $8`,
		t.Key, t.Name, t.Description, rules, t.Version, t.UpdatedAt, t.ChangedBy, expectedVersion,
	)
	if err != nil {
		return translate(err, fmt.Sprintf("item type %q", t.Key), model.ErrNotFound)
	}
	return casResult(ctx, db, res, "item_types", "item type", t.Key, expectedVersion)
}

func queryDeleteItemType(ctx context.Context, db executor, key string) error {
	return deleteByKey(ctx, db, "item_types", "item type", key)
}

func queryListItemTypes(ctx context.Context, db executor) ([]*model.ItemType, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+itemTypeColumns+` FROM item_types ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list item types: %w", err)
	}
	defer rows.Close()

	var out []*model.ItemType
	for rows.Next() {
		t, err := scanItemType(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item types: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// --- Link types ---

func queryCreateLinkType(ctx context.Context, db executor, t *model.LinkType) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO link_types (`+linkTypeColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		t.Key, t.Name, t.Description, t.Version, t.CreatedAt, t.UpdatedAt, t.ChangedBy,
	)
	return translate(err, fmt.Sprintf("link type %q", t.Key), model.ErrNotFound)
}

func queryGetLinkType(ctx context.Context, db executor, key string) (*model.LinkType, error) {
	row := db.QueryRowContext(ctx, `SELECT `+linkTypeColumns+` FROM link_types WHERE key = $1`, key)
	t, err := scanLinkType(row)
	if err != nil {
		return nil, translate(err, fmt.Sprintf("link type %q", key), model.ErrNotFound)
	}
	return t, nil
}

func queryUpdateLinkType(ctx context.Context, db executor, t *model.LinkType, expectedVersion int64) error {
	res, err := db.ExecContext(ctx, `
		UPDATE link_types SET
			name = $2, description = $3, version = $4, updated_at = $5, changed_by = $6
		WHERE key = $1 AND version = $7`,
		t.Key, t.Name, t.Description, t.Version, t.UpdatedAt, t.ChangedBy, expectedVersion,
	)
	if err != nil {
		return translate(err, fmt.Sprintf("link type %q", t.Key), model.ErrNotFound)
	}
	return casResult(ctx, db, res, "link_types", "link type", t.Key, expectedVersion)
}

func queryDeleteLinkType(ctx context.Context, db executor, key string) error {
	return deleteByKey(ctx, db, "link_types", "link type", key)
}

func queryListLinkTypes(ctx context.Context, db executor) ([]*model.LinkType, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+linkTypeColumns+` FROM link_types ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list link types: %w", err)
	}
	defer rows.Close()

	var out []*model.LinkType
	for rows.Next() {
		t, err := scanLinkType(rows)
		if err != nil {
			return nil, fmt.Errorf("scan link types: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// --- Link rules ---

func queryCreateLinkRule(ctx context.Context, db executor, r *model.LinkRule) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO link_rules (`+linkRuleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		r.Key, r.LinkTypeKey, r.StartItemTypeKey, r.EndItemTypeKey, string(r.Cardinality),
		r.Version, r.CreatedAt, r.UpdatedAt, r.ChangedBy,
	)
	return translate(err, fmt.Sprintf("link rule %q", r.Key), model.ErrNotFound)
}

func queryGetLinkRule(ctx context.Context, db executor, key string) (*model.LinkRule, error) {
	row := db.QueryRowContext(ctx, `SELECT `+linkRuleColumns+` FROM link_rules WHERE key = $1`, key)
	r, err := scanLinkRule(row)
	if err != nil {
		return nil, translate(err, fmt.Sprintf("link rule %q", key), model.ErrNotFound)
	}
	return r, nil
}

func queryUpdateLinkRule(ctx context.Context, db executor, r *model.LinkRule, expectedVersion int64) error {
	res, err := db.ExecContext(ctx, `
		UPDATE link_rules SET
			link_type_key = $2, start_item_type_key = $3, end_item_type_key = $4, cardinality = $5,
			version = $6, updated_at = $7, changed_by = $8
		WHERE key = $1 AND version = $9`,
		r.Key, r.LinkTypeKey, r.StartItemTypeKey, r.EndItemTypeKey, string(r.Cardinality),
		r.Version, r.UpdatedAt, r.ChangedBy, expectedVersion,
	)
	if err != nil {
		return translate(err, fmt.Sprintf("link rule %q", r.Key), model.ErrNotFound)
	}
	return casResult(ctx, db, res, "link_rules", "link rule", r.Key, expectedVersion)
}

func queryDeleteLinkRule(ctx context.Context, db executor, key string) error {
	return deleteByKey(ctx, db, "link_rules", "link rule", key)
}

// queryListLinkRules uses link_rules_link_type_idx when linkTypeKey is set.
func queryListLinkRules(ctx context.Context, db executor, linkTypeKey string) ([]*model.LinkRule, error) {
	q := `SELECT ` + linkRuleColumns + ` FROM link_rules`
	var args []any
	if linkTypeKey != "" {
		q += ` WHERE link_type_key = $1`
		args = append(args, linkTypeKey)
	}
	q += ` ORDER BY key`

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list link rules: %w", err)
	}
	defer rows.Close()

	var out []*model.LinkRule
	for rows.Next() {
		r, err := scanLinkRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan link rules: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- Audit ---

const auditColumns = `id, entity_kind, entity_key, change_type, snapshot, changed_by, changed_at`

func queryAppendAudit(ctx context.Context, db executor, rec *model.AuditRecord) error {
	snapshot := jsonbBytes(rec.Snapshot)
	if snapshot == nil {
		snapshot = []byte("null")
	}
	err := db.QueryRowContext(ctx, `
		INSERT INTO audit (entity_kind, entity_key, change_type, snapshot, changed_by, changed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		string(rec.EntityKind), rec.EntityKey, string(rec.ChangeType), snapshot, rec.ChangedBy, rec.Timestamp,
	).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("append audit %s %q: %w", rec.EntityKind, rec.EntityKey, err)
	}
	return nil
}

func queryListAudit(ctx context.Context, db executor, filter model.AuditFilter) ([]*model.AuditRecord, error) {
	var w whereBuilder
	if filter.EntityKind != "" {
		w.add("entity_kind = %s", string(filter.EntityKind))
	}
	if filter.EntityKey != "" {
		w.add("entity_key = %s", filter.EntityKey)
	}
	if filter.ChangeType != "" {
		w.add("change_type = %s", string(filter.ChangeType))
	}
	w.addDayRange("changed_at", filter.From, filter.To)

	q := "SELECT " + auditColumns + " FROM audit" + w.sql() + " ORDER BY changed_at DESC, id DESC"
	if filter.Top > 0 {
		q += " LIMIT " + w.nextArg(filter.Top)
	}

	rows, err := db.QueryContext(ctx, q, w.args...)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()

	var out []*model.AuditRecord
	for rows.Next() {
		r, err := scanAudit(rows)
		if err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
