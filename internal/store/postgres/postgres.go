// Package postgres implements the store.Store interface backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/alfredjeanlab/onix/internal/model"
	"github.com/alfredjeanlab/onix/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore implements store.Store backed by a PostgreSQL database.
type PostgresStore struct {
	db *sql.DB
}

// Compile-time check that PostgresStore implements store.Store.
var _ store.Store = (*PostgresStore)(nil)

// New opens a connection to the PostgreSQL database at the given URL,
// configures the connection pool, and runs any pending migrations.
func New(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// NewWithDB wraps an already-open database without running migrations.
func NewWithDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func runMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) CreateItem(ctx context.Context, item *model.Item) error {
	return queryCreateItem(ctx, s.db, item)
}

func (s *PostgresStore) GetItem(ctx context.Context, key string) (*model.Item, error) {
	return queryGetItem(ctx, s.db, key)
}

func (s *PostgresStore) UpdateItem(ctx context.Context, item *model.Item, expectedVersion int64) error {
	return queryUpdateItem(ctx, s.db, item, expectedVersion)
}

func (s *PostgresStore) DeleteItem(ctx context.Context, key string) error {
	return queryDeleteItem(ctx, s.db, key)
}

func (s *PostgresStore) ListItems(ctx context.Context, filter model.ItemFilter) ([]*model.Item, int, error) {
	return queryListItems(ctx, s.db, filter)
}

func (s *PostgresStore) CreateLink(ctx context.Context, link *model.Link) error {
	return queryCreateLink(ctx, s.db, link)
}

func (s *PostgresStore) GetLink(ctx context.Context, key string) (*model.Link, error) {
	return queryGetLink(ctx, s.db, key)
}

func (s *PostgresStore) UpdateLink(ctx context.Context, link *model.Link, expectedVersion int64) error {
	return queryUpdateLink(ctx, s.db, link, expectedVersion)
}

func (s *PostgresStore) DeleteLink(ctx context.Context, key string) error {
	return queryDeleteLink(ctx, s.db, key)
}

func (s *PostgresStore) ListLinks(ctx context.Context, filter model.LinkFilter) ([]*model.Link, int, error) {
	return queryListLinks(ctx, s.db, filter)
}

func (s *PostgresStore) ListIncidentLinks(ctx context.Context, itemKey string) ([]*model.Link, error) {
	return queryListIncidentLinks(ctx, s.db, itemKey)
}

func (s *PostgresStore) CreateItemType(ctx context.Context, t *model.ItemType) error {
	return queryCreateItemType(ctx, s.db, t)
}

func (s *PostgresStore) GetItemType(ctx context.Context, key string) (*model.ItemType, error) {
	return queryGetItemType(ctx, s.db, key)
}

func (s *PostgresStore) UpdateItemType(ctx context.Context, t *model.ItemType, expectedVersion int64) error {
	return queryUpdateItemType(ctx, s.db, t, expectedVersion)
}

func (s *PostgresStore) DeleteItemType(ctx context.Context, key string) error {
	return queryDeleteItemType(ctx, s.db, key)
}

func (s *PostgresStore) ListItemTypes(ctx context.Context) ([]*model.ItemType, error) {
	return queryListItemTypes(ctx, s.db)
}

func (s *PostgresStore) CreateLinkType(ctx context.Context, t *model.LinkType) error {
	return queryCreateLinkType(ctx, s.db, t)
}

func (s *PostgresStore) GetLinkType(ctx context.Context, key string) (*model.LinkType, error) {
	return queryGetLinkType(ctx, s.db, key)
}

func (s *PostgresStore) UpdateLinkType(ctx context.Context, t *model.LinkType, expectedVersion int64) error {
	return queryUpdateLinkType(ctx, s.db, t, expectedVersion)
}

func (s *PostgresStore) DeleteLinkType(ctx context.Context, key string) error {
	return queryDeleteLinkType(ctx, s.db, key)
}

func (s *PostgresStore) ListLinkTypes(ctx context.Context) ([]*model.LinkType, error) {
	return queryListLinkTypes(ctx, s.db)
}

func (s *PostgresStore) CreateLinkRule(ctx context.Context, r *model.LinkRule) error {
	return queryCreateLinkRule(ctx, s.db, r)
}

func (s *PostgresStore) GetLinkRule(ctx context.Context, key string) (*model.LinkRule, error) {
	return queryGetLinkRule(ctx, s.db, key)
}

func (s *PostgresStore) UpdateLinkRule(ctx context.Context, r *model.LinkRule, expectedVersion int64) error {
	return queryUpdateLinkRule(ctx, s.db, r, expectedVersion)
}

func (s *PostgresStore) DeleteLinkRule(ctx context.Context, key string) error {
	return queryDeleteLinkRule(ctx, s.db, key)
}

func (s *PostgresStore) ListLinkRules(ctx context.Context, linkTypeKey string) ([]*model.LinkRule, error) {
	return queryListLinkRules(ctx, s.db, linkTypeKey)
}

func (s *PostgresStore) AppendAudit(ctx context.Context, rec *model.AuditRecord) error {
	return queryAppendAudit(ctx, s.db, rec)
}

func (s *PostgresStore) ListAudit(ctx context.Context, filter model.AuditFilter) ([]*model.AuditRecord, error) {
	return queryListAudit(ctx, s.db, filter)
}

func (s *PostgresStore) Clear(ctx context.Context) error {
	return queryClear(ctx, s.db)
}

// RunInTransaction begins a database transaction, creates a txStore that
// delegates to it, calls fn, and commits on success or rolls back on error.
func (s *PostgresStore) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	txS := &txStore{tx: tx}
	if err := fn(txS); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// RunReadOnly runs fn in a read-only database transaction. The transaction
// is always rolled back.
func (s *PostgresStore) RunReadOnly(ctx context.Context, fn func(tx store.Store) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return fmt.Errorf("begin read-only transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	return fn(&txStore{tx: tx})
}

// txStore implements store.Store using a *sql.Tx.
type txStore struct {
	tx *sql.Tx
}

// Compile-time check that txStore implements store.Store.
var _ store.Store = (*txStore)(nil)

func (s *txStore) CreateItem(ctx context.Context, item *model.Item) error {
	return queryCreateItem(ctx, s.tx, item)
}

func (s *txStore) GetItem(ctx context.Context, key string) (*model.Item, error) {
	return queryGetItem(ctx, s.tx, key)
}

func (s *txStore) UpdateItem(ctx context.Context, item *model.Item, expectedVersion int64) error {
	return queryUpdateItem(ctx, s.tx, item, expectedVersion)
}

func (s *txStore) DeleteItem(ctx context.Context, key string) error {
	return queryDeleteItem(ctx, s.tx, key)
}

func (s *txStore) ListItems(ctx context.Context, filter model.ItemFilter) ([]*model.Item, int, error) {
	return queryListItems(ctx, s.tx, filter)
}

func (s *txStore) CreateLink(ctx context.Context, link *model.Link) error {
	return queryCreateLink(ctx, s.tx, link)
}

func (s *txStore) GetLink(ctx context.Context, key string) (*model.Link, error) {
	return queryGetLink(ctx, s.tx, key)
}

func (s *txStore) UpdateLink(ctx context.Context, link *model.Link, expectedVersion int64) error {
	return queryUpdateLink(ctx, s.tx, link, expectedVersion)
}

func (s *txStore) DeleteLink(ctx context.Context, key string) error {
	return queryDeleteLink(ctx, s.tx, key)
}

func (s *txStore) ListLinks(ctx context.Context, filter model.LinkFilter) ([]*model.Link, int, error) {
	return queryListLinks(ctx, s.tx, filter)
}

func (s *txStore) ListIncidentLinks(ctx context.Context, itemKey string) ([]*model.Link, error) {
	return queryListIncidentLinks(ctx, s.tx, itemKey)
}

func (s *txStore) CreateItemType(ctx context.Context, t *model.ItemType) error {
	return queryCreateItemType(ctx, s.tx, t)
}

func (s *txStore) GetItemType(ctx context.Context, key string) (*model.ItemType, error) {
	return queryGetItemType(ctx, s.tx, key)
}

func (s *txStore) UpdateItemType(ctx context.Context, t *model.ItemType, expectedVersion int64) error {
	return queryUpdateItemType(ctx, s.tx, t, expectedVersion)
}

func (s *txStore) DeleteItemType(ctx context.Context, key string) error {
	return queryDeleteItemType(ctx, s.tx, key)
}

func (s *txStore) ListItemTypes(ctx context.Context) ([]*model.ItemType, error) {
	return queryListItemTypes(ctx, s.tx)
}

func (s *txStore) CreateLinkType(ctx context.Context, t *model.LinkType) error {
	return queryCreateLinkType(ctx, s.tx, t)
}

func (s *txStore) GetLinkType(ctx context.Context, key string) (*model.LinkType, error) {
	return queryGetLinkType(ctx, s.tx, key)
}

func (s *txStore) UpdateLinkType(ctx context.Context, t *model.LinkType, expectedVersion int64) error {
	return queryUpdateLinkType(ctx, s.tx, t, expectedVersion)
}

func (s *txStore) DeleteLinkType(ctx context.Context, key string) error {
	return queryDeleteLinkType(ctx, s.tx, key)
}

func (s *txStore) ListLinkTypes(ctx context.Context) ([]*model.LinkType, error) {
	return queryListLinkTypes(ctx, s.tx)
}

func (s *txStore) CreateLinkRule(ctx context.Context, r *model.LinkRule) error {
	return queryCreateLinkRule(ctx, s.tx, r)
}

func (s *txStore) GetLinkRule(ctx context.Context, key string) (*model.LinkRule, error) {
	return queryGetLinkRule(ctx, s.tx, key)
}

func (s *txStore) UpdateLinkRule(ctx context.Context, r *model.LinkRule, expectedVersion int64) error {
	return queryUpdateLinkRule(ctx, s.tx, r, expectedVersion)
}

func (s *txStore) DeleteLinkRule(ctx context.Context, key string) error {
	return queryDeleteLinkRule(ctx, s.tx, key)
}

func (s *txStore) ListLinkRules(ctx context.Context, linkTypeKey string) ([]*model.LinkRule, error) {
	return queryListLinkRules(ctx, s.tx, linkTypeKey)
}

func (s *txStore) AppendAudit(ctx context.Context, rec *model.AuditRecord) error {
	return queryAppendAudit(ctx, s.tx, rec)
}

func (s *txStore) ListAudit(ctx context.Context, filter model.AuditFilter) ([]*model.AuditRecord, error) {
	return queryListAudit(ctx, s.tx, filter)
}

func (s *txStore) Clear(ctx context.Context) error {
	return queryClear(ctx, s.tx)
}

// RunInTransaction on a txStore reuses the existing transaction (no nesting).
func (s *txStore) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	return fn(s)
}

func (s *txStore) RunReadOnly(ctx context.Context, fn func(tx store.Store) error) error {
	return fn(s)
}

// Close is a no-op for a transaction store; the parent store owns the connection.
func (s *txStore) Close() error {
	return nil
}
