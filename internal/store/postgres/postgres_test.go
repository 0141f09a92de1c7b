package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/alfredjeanlab/onix/internal/model"
	"github.com/alfredjeanlab/onix/internal/store"
)

// newMockDB creates a sqlmock database with automatic cleanup and expectation checking.
func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unfulfilled expectations: %v", err)
		}
		db.Close()
	})
	return db, mock
}

var itemRowColumns = []string{
	"key", "name", "description", "item_type_key", "status",
	"tags", "meta", "attributes", "version", "created_at", "updated_at", "changed_by",
}

var linkRowColumns = []string{
	"key", "link_type_key", "start_item_key", "end_item_key", "description",
	"tags", "meta", "attributes", "version", "created_at", "updated_at", "changed_by",
}

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestCreateItem(t *testing.T) {
	db, mock := newMockDB(t)
	it := &model.Item{
		Key: "web-1", Name: "web", ItemTypeKey: "host", Tags: []string{"prod"},
		Attributes: map[string]string{"os": "linux"}, Version: 1,
		CreatedAt: now, UpdatedAt: now, ChangedBy: "alice",
	}

	mock.ExpectExec("INSERT INTO items").
		WithArgs("web-1", "web", "", "host", int16(0), sqlmock.AnyArg(), nil, []byte(`{"os":"linux"}`), int64(1), now, now, "alice").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := queryCreateItem(context.Background(), db, it); err != nil {
		t.Fatalf("queryCreateItem: %v", err)
	}
}

func TestCreateItem_Errors(t *testing.T) {
	for _, tc := range []struct {
		name string
		code pq.ErrorCode
		want error
	}{
		{"duplicate key", "23505", model.ErrConflict},
		{"unknown item type", "23503", model.ErrNotFound},
	} {
		t.Run(tc.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			mock.ExpectExec("INSERT INTO items").WillReturnError(&pq.Error{Code: tc.code, Message: tc.name})
			err := queryCreateItem(context.Background(), db, &model.Item{Key: "web-1", ItemTypeKey: "host"})
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestGetItem(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT .+ FROM items WHERE key = \\$1").WithArgs("web-1").
		WillReturnRows(sqlmock.NewRows(itemRowColumns).AddRow(
			"web-1", "web", "", "host", int64(2),
			"{db,prod}", []byte(`{"rack":4}`), []byte(`{"os":"linux"}`), int64(3), now, now, "alice",
		))

	it, err := queryGetItem(context.Background(), db, "web-1")
	if err != nil {
		t.Fatalf("queryGetItem: %v", err)
	}
	if it.Status != 2 || it.Version != 3 || it.ChangedBy != "alice" {
		t.Errorf("unexpected scalar fields: %+v", it)
	}
	if len(it.Tags) != 2 || it.Tags[0] != "db" || it.Tags[1] != "prod" {
		t.Errorf("tags = %v", it.Tags)
	}
	if it.Attributes["os"] != "linux" {
		t.Errorf("attributes = %v", it.Attributes)
	}
	if !model.SameMeta(it.Meta, json.RawMessage(`{"rack":4}`)) {
		t.Errorf("meta = %s", it.Meta)
	}
}

func TestGetItem_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT .+ FROM items WHERE key = \\$1").WithArgs("nope").
		WillReturnRows(sqlmock.NewRows(itemRowColumns))

	_, err := queryGetItem(context.Background(), db, "nope")
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateItem_CompareAndSet(t *testing.T) {
	it := &model.Item{Key: "web-1", ItemTypeKey: "host", Version: 4, UpdatedAt: now, ChangedBy: "bob"}

	t.Run("applied", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectExec("UPDATE items SET .+ WHERE key = \\$1 AND version = \\$12").
			WithArgs("web-1", "", "", "host", int16(0), sqlmock.AnyArg(), nil, []byte("{}"), int64(4), now, "bob", int64(3)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		if err := queryUpdateItem(context.Background(), db, it, 3); err != nil {
			t.Fatalf("queryUpdateItem: %v", err)
		}
	})

	t.Run("stale version", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectExec("UPDATE items SET").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT version FROM items WHERE key = \\$1").WithArgs("web-1").
			WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(int64(5)))
		err := queryUpdateItem(context.Background(), db, it, 3)
		if !errors.Is(err, model.ErrConflict) {
			t.Fatalf("expected ErrConflict, got %v", err)
		}
	})

	t.Run("missing row", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectExec("UPDATE items SET").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT version FROM items").WillReturnRows(sqlmock.NewRows([]string{"version"}))
		err := queryUpdateItem(context.Background(), db, it, 3)
		if !errors.Is(err, model.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestDeleteItem(t *testing.T) {
	for _, tc := range []struct {
		name   string
		result driver.Result
		err    error
		want   error
	}{
		{"deleted", sqlmock.NewResult(0, 1), nil, nil},
		{"absent", sqlmock.NewResult(0, 0), nil, model.ErrNotFound},
		{"still linked", nil, &pq.Error{Code: "23503"}, model.ErrConflict},
	} {
		t.Run(tc.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			exp := mock.ExpectExec("DELETE FROM items WHERE key = \\$1").WithArgs("web-1")
			if tc.err != nil {
				exp.WillReturnError(tc.err)
			} else {
				exp.WillReturnResult(tc.result)
			}
			err := queryDeleteItem(context.Background(), db, "web-1")
			if tc.want == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tc.want != nil && !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestListItems_Filters(t *testing.T) {
	db, mock := newMockDB(t)
	day := time.Date(2024, 5, 1, 15, 30, 0, 0, time.UTC)
	status := int16(1)

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) OVER\\(\\) AS total_count, .+ FROM items " +
		"WHERE item_type_key = \\$1 AND status = \\$2 AND tags @> \\$3 AND attributes @> \\$4::jsonb " +
		"AND updated_at >= \\$5 AND updated_at < \\$6 " +
		"ORDER BY updated_at DESC, key ASC LIMIT \\$7").
		WithArgs("host", int16(1), sqlmock.AnyArg(), `{"os":"linux"}`,
			time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC), 20).
		WillReturnRows(sqlmock.NewRows(append([]string{"total_count"}, itemRowColumns...)).
			AddRow(7, "web-1", "", "", "host", int64(1), "{prod}", nil, []byte("{}"), int64(1), now, now, "").
			AddRow(7, "web-2", "", "", "host", int64(1), "{prod}", nil, []byte("{}"), int64(1), now, now, ""))

	items, total, err := queryListItems(context.Background(), db, model.ItemFilter{
		ItemTypeKey: "host",
		Status:      &status,
		Tags:        []string{"prod"},
		Attributes:  map[string]string{"os": "linux"},
		UpdatedFrom: &day,
		UpdatedTo:   &day,
		Top:         20,
	})
	if err != nil {
		t.Fatalf("queryListItems: %v", err)
	}
	if total != 7 || len(items) != 2 {
		t.Fatalf("got %d items, total %d", len(items), total)
	}
	if items[0].Attributes != nil {
		t.Errorf("empty attributes should decode to nil, got %v", items[0].Attributes)
	}
}

func TestListItems_Unbounded(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("FROM items ORDER BY updated_at DESC, key ASC$").
		WillReturnRows(sqlmock.NewRows(append([]string{"total_count"}, itemRowColumns...)))

	items, total, err := queryListItems(context.Background(), db, model.ItemFilter{})
	if err != nil {
		t.Fatalf("queryListItems: %v", err)
	}
	if len(items) != 0 || total != 0 {
		t.Fatalf("expected empty result, got %d/%d", len(items), total)
	}
}

func TestListIncidentLinks(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("FROM links WHERE start_item_key = \\$1 OR end_item_key = \\$1 ORDER BY key").
		WithArgs("web-1").
		WillReturnRows(sqlmock.NewRows(linkRowColumns).
			AddRow("l1", "runs-on", "app-1", "web-1", "", "{}", nil, []byte("{}"), int64(1), now, now, "").
			AddRow("l2", "uses", "web-1", "db-1", "", "{}", nil, []byte("{}"), int64(1), now, now, ""))

	links, err := queryListIncidentLinks(context.Background(), db, "web-1")
	if err != nil {
		t.Fatalf("queryListIncidentLinks: %v", err)
	}
	if len(links) != 2 || links[0].EndItemKey != "web-1" || links[1].StartItemKey != "web-1" {
		t.Fatalf("unexpected links: %+v", links)
	}
}

func TestUpdateLink_LeavesIdentityAlone(t *testing.T) {
	db, mock := newMockDB(t)
	l := &model.Link{Key: "l1", LinkTypeKey: "runs-on", StartItemKey: "a", EndItemKey: "b", Description: "x", Version: 2, UpdatedAt: now}
	mock.ExpectExec("UPDATE links SET description = \\$2, tags = \\$3, meta = \\$4, attributes = \\$5, " +
		"version = \\$6, updated_at = \\$7, changed_by = \\$8 WHERE key = \\$1 AND version = \\$9").
		WithArgs("l1", "x", sqlmock.AnyArg(), nil, []byte("{}"), int64(2), now, "", int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := queryUpdateLink(context.Background(), db, l, 1); err != nil {
		t.Fatalf("queryUpdateLink: %v", err)
	}
}

func TestListLinkRules(t *testing.T) {
	cols := []string{"key", "link_type_key", "start_item_type_key", "end_item_type_key", "cardinality",
		"version", "created_at", "updated_at", "changed_by"}

	t.Run("by link type", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectQuery("FROM link_rules WHERE link_type_key = \\$1 ORDER BY key").WithArgs("runs-on").
			WillReturnRows(sqlmock.NewRows(cols).
				AddRow("r1", "runs-on", "app", "host", "one-to-many", int64(1), now, now, ""))
		rules, err := queryListLinkRules(context.Background(), db, "runs-on")
		if err != nil {
			t.Fatalf("queryListLinkRules: %v", err)
		}
		if len(rules) != 1 || rules[0].Cardinality != model.CardinalityOneToMany {
			t.Fatalf("unexpected rules: %+v", rules)
		}
	})

	t.Run("all", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectQuery("FROM link_rules ORDER BY key").
			WillReturnRows(sqlmock.NewRows(cols))
		if _, err := queryListLinkRules(context.Background(), db, ""); err != nil {
			t.Fatalf("queryListLinkRules: %v", err)
		}
	})
}

func TestItemTypeRoundTrip(t *testing.T) {
	db, mock := newMockDB(t)
	it := &model.ItemType{
		Key:                 "host",
		AttributeValidation: map[string]model.AttributeRule{"os": {Required: true}},
		Version:             1, CreatedAt: now, UpdatedAt: now,
	}
	rules, _ := json.Marshal(it.AttributeValidation)

	mock.ExpectExec("INSERT INTO item_types").
		WithArgs("host", "", "", rules, int64(1), now, now, "").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("FROM item_types WHERE key = \\$1").WithArgs("host").
		WillReturnRows(sqlmock.NewRows([]string{"key", "name", "description", "attr_valid", "version", "created_at", "updated_at", "changed_by"}).
			AddRow("host", "", "", rules, int64(1), now, now, ""))

	if err := queryCreateItemType(context.Background(), db, it); err != nil {
		t.Fatalf("queryCreateItemType: %v", err)
	}
	got, err := queryGetItemType(context.Background(), db, "host")
	if err != nil {
		t.Fatalf("queryGetItemType: %v", err)
	}
	if !got.AttributeValidation["os"].Required {
		t.Fatalf("attribute validation lost: %+v", got.AttributeValidation)
	}
}

func TestAppendAudit(t *testing.T) {
	db, mock := newMockDB(t)
	rec := &model.AuditRecord{
		EntityKind: model.EntityItem, EntityKey: "web-1", ChangeType: model.ChangeCreated,
		Snapshot: json.RawMessage(`{"key":"web-1"}`), ChangedBy: "alice", Timestamp: now,
	}
	mock.ExpectQuery("INSERT INTO audit .+ RETURNING id").
		WithArgs("item", "web-1", "created", []byte(`{"key":"web-1"}`), "alice", now).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))

	if err := queryAppendAudit(context.Background(), db, rec); err != nil {
		t.Fatalf("queryAppendAudit: %v", err)
	}
	if rec.ID != 42 {
		t.Fatalf("id = %d, want 42", rec.ID)
	}
}

func TestListAudit(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("FROM audit WHERE entity_kind = \\$1 AND entity_key = \\$2 ORDER BY changed_at DESC, id DESC LIMIT \\$3").
		WithArgs("link", "l1", 5).
		WillReturnRows(sqlmock.NewRows([]string{"id", "entity_kind", "entity_key", "change_type", "snapshot", "changed_by", "changed_at"}).
			AddRow(int64(9), "link", "l1", "deleted", []byte(`{}`), "bob", now))

	recs, err := queryListAudit(context.Background(), db, model.AuditFilter{EntityKind: model.EntityLink, EntityKey: "l1", Top: 5})
	if err != nil {
		t.Fatalf("queryListAudit: %v", err)
	}
	if len(recs) != 1 || recs[0].ChangeType != model.ChangeDeleted || recs[0].ID != 9 {
		t.Fatalf("unexpected records: %+v", recs)
	}
}

func TestRunInTransaction(t *testing.T) {
	t.Run("commit", func(t *testing.T) {
		db, mock := newMockDB(t)
		s := NewWithDB(db)
		mock.ExpectBegin()
		mock.ExpectExec("DELETE FROM links WHERE key = \\$1").WithArgs("l1").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("INSERT INTO audit").WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
		mock.ExpectCommit()

		err := s.RunInTransaction(context.Background(), func(tx store.Store) error {
			if err := tx.DeleteLink(context.Background(), "l1"); err != nil {
				return err
			}
			return tx.AppendAudit(context.Background(), &model.AuditRecord{
				EntityKind: model.EntityLink, EntityKey: "l1", ChangeType: model.ChangeDeleted, Timestamp: now,
			})
		})
		if err != nil {
			t.Fatalf("RunInTransaction: %v", err)
		}
	})

	t.Run("rollback", func(t *testing.T) {
		db, mock := newMockDB(t)
		s := NewWithDB(db)
		mock.ExpectBegin()
		mock.ExpectExec("DELETE FROM links").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		err := s.RunInTransaction(context.Background(), func(tx store.Store) error {
			return tx.DeleteLink(context.Background(), "l1")
		})
		if !errors.Is(err, model.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestRunReadOnly(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewWithDB(db)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .* FROM items WHERE key = \\$1").WithArgs("web-1").
		WillReturnRows(sqlmock.NewRows(itemRowColumns))
	mock.ExpectRollback()

	err := s.RunReadOnly(context.Background(), func(tx store.Store) error {
		_, err := tx.GetItem(context.Background(), "web-1")
		return err
	})
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestClear(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec("TRUNCATE audit, links, items, link_rules, link_types, item_types RESTART IDENTITY").
		WillReturnResult(sqlmock.NewResult(0, 0))
	if err := NewWithDB(db).Clear(context.Background()); err != nil {
		t.Fatalf("Clear: %v", err)
	}
}

func TestScanHelpers(t *testing.T) {
	if jsonbBytes(nil) != nil {
		t.Error("jsonbBytes(nil) should be nil")
	}
	if string(attributesJSON(nil)) != "{}" {
		t.Error("attributesJSON(nil) should be {}")
	}
	if m, err := decodeAttributes([]byte(`{}`)); err != nil || m != nil {
		t.Errorf("decodeAttributes({}) = %v, %v", m, err)
	}
	if tagsFromArray(pq.StringArray{}) != nil {
		t.Error("empty array should decode to nil tags")
	}
	if err := translate(errors.New("boom"), "item", model.ErrNotFound); model.CodeOf(err) != model.CodeStorageFailure {
		t.Errorf("unknown driver errors must stay storage failures, got %v", err)
	}
}
