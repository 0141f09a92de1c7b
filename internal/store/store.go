package store

import (
	"context"

	"github.com/alfredjeanlab/onix/internal/model"
)

// Store defines the persistence interface for the configuration graph.
//
// Getters and deletes return an error wrapping model.ErrNotFound when the key
// is absent. Creates return model.ErrConflict when the key is taken, and
// updates return model.ErrConflict when the stored version differs from
// expectedVersion. List calls treat a filter Top of zero as unbounded.
type Store interface {
	// Items
	CreateItem(ctx context.Context, item *model.Item) error
	GetItem(ctx context.Context, key string) (*model.Item, error)
	UpdateItem(ctx context.Context, item *model.Item, expectedVersion int64) error
	DeleteItem(ctx context.Context, key string) error
	ListItems(ctx context.Context, filter model.ItemFilter) ([]*model.Item, int, error) // returns items, total count, error

	// Links
	CreateLink(ctx context.Context, link *model.Link) error
	GetLink(ctx context.Context, key string) (*model.Link, error)
	UpdateLink(ctx context.Context, link *model.Link, expectedVersion int64) error
	DeleteLink(ctx context.Context, key string) error
	ListLinks(ctx context.Context, filter model.LinkFilter) ([]*model.Link, int, error)
	ListIncidentLinks(ctx context.Context, itemKey string) ([]*model.Link, error)

	// Item types
	CreateItemType(ctx context.Context, t *model.ItemType) error
	GetItemType(ctx context.Context, key string) (*model.ItemType, error)
	UpdateItemType(ctx context.Context, t *model.ItemType, expectedVersion int64) error
	DeleteItemType(ctx context.Context, key string) error
	ListItemTypes(ctx context.Context) ([]*model.ItemType, error)

	// Link types
	CreateLinkType(ctx context.Context, t *model.LinkType) error
	GetLinkType(ctx context.Context, key string) (*model.LinkType, error)
	UpdateLinkType(ctx context.Context, t *model.LinkType, expectedVersion int64) error
	DeleteLinkType(ctx context.Context, key string) error
	ListLinkTypes(ctx context.Context) ([]*model.LinkType, error)

	// Link rules. An empty linkTypeKey lists every rule.
	CreateLinkRule(ctx context.Context, r *model.LinkRule) error
	GetLinkRule(ctx context.Context, key string) (*model.LinkRule, error)
	UpdateLinkRule(ctx context.Context, r *model.LinkRule, expectedVersion int64) error
	DeleteLinkRule(ctx context.Context, key string) error
	ListLinkRules(ctx context.Context, linkTypeKey string) ([]*model.LinkRule, error)

	// Audit. AppendAudit assigns rec.ID.
	AppendAudit(ctx context.Context, rec *model.AuditRecord) error
	ListAudit(ctx context.Context, filter model.AuditFilter) ([]*model.AuditRecord, error)

	// Clear removes every entity and audit record.
	Clear(ctx context.Context) error

	// Transaction support
	RunInTransaction(ctx context.Context, fn func(tx Store) error) error
	// RunReadOnly gives fn a consistent view for reads. fn must not write
	// through tx.
	RunReadOnly(ctx context.Context, fn func(tx Store) error) error

	// Lifecycle
	Close() error
}
