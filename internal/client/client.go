// Package client provides a transport-agnostic interface for the onix
// service and an HTTP/JSON implementation that talks to the onix REST API.
package client

import (
	"context"
	"io"

	"github.com/alfredjeanlab/onix/internal/cmdb"
	"github.com/alfredjeanlab/onix/internal/events"
	"github.com/alfredjeanlab/onix/internal/model"
	graphsync "github.com/alfredjeanlab/onix/internal/sync"
)

// Client is the interface that all ox CLI commands use to communicate with
// the onix server. changedBy is sent as the caller identity on writes; an
// empty value lets the server apply its default.
type Client interface {
	// Items
	PutItem(ctx context.Context, key string, in model.ItemInput, expectedVersion *int64, changedBy string) (model.Result, error)
	GetItem(ctx context.Context, key string) (*model.Item, error)
	DeleteItem(ctx context.Context, key, changedBy string) (model.Result, error)
	FindItems(ctx context.Context, filter model.ItemFilter) (*cmdb.Page[*model.Item], error)
	IncidentLinks(ctx context.Context, itemKey string) ([]*model.Link, error)

	// Links
	PutLink(ctx context.Context, key string, in model.LinkInput, expectedVersion *int64, changedBy string) (model.Result, error)
	GetLink(ctx context.Context, key string) (*model.Link, error)
	DeleteLink(ctx context.Context, key, changedBy string) (model.Result, error)
	FindLinks(ctx context.Context, filter model.LinkFilter) (*cmdb.Page[*model.Link], error)

	// Item types
	DefineItemType(ctx context.Context, key string, in model.ItemTypeInput, expectedVersion *int64, changedBy string) (model.Result, error)
	GetItemType(ctx context.Context, key string) (*model.ItemType, error)
	ListItemTypes(ctx context.Context) ([]*model.ItemType, error)
	DeleteItemType(ctx context.Context, key, changedBy string) (model.Result, error)
	DeleteItemTypes(ctx context.Context, changedBy string) (model.Result, error)
	ValidateAttributes(ctx context.Context, itemTypeKey string, attrs map[string]string) ([]model.FieldError, error)

	// Link types
	DefineLinkType(ctx context.Context, key string, in model.LinkTypeInput, expectedVersion *int64, changedBy string) (model.Result, error)
	GetLinkType(ctx context.Context, key string) (*model.LinkType, error)
	ListLinkTypes(ctx context.Context) ([]*model.LinkType, error)
	DeleteLinkType(ctx context.Context, key, changedBy string) (model.Result, error)
	DeleteLinkTypes(ctx context.Context, changedBy string) (model.Result, error)

	// Link rules
	DefineLinkRule(ctx context.Context, key string, in model.LinkRuleInput, expectedVersion *int64, changedBy string) (model.Result, error)
	GetLinkRule(ctx context.Context, key string) (*model.LinkRule, error)
	ListLinkRules(ctx context.Context, linkTypeKey string) ([]*model.LinkRule, error)
	DeleteLinkRule(ctx context.Context, key, changedBy string) (model.Result, error)
	DeleteLinkRules(ctx context.Context, changedBy string) (model.Result, error)
	IsLinkAllowed(ctx context.Context, startItemTypeKey, linkTypeKey, endItemTypeKey string) (bool, error)

	// Audit
	FindAudit(ctx context.Context, filter model.AuditFilter) ([]*model.AuditRecord, error)

	// Admin
	Clear(ctx context.Context, changedBy string) error
	ExportSnapshot(ctx context.Context, w io.Writer) error
	RestoreSnapshot(ctx context.Context, r io.Reader, changedBy string) (graphsync.Counts, error)

	// Events
	StreamEvents(ctx context.Context, topics []string, lastEventID string, fn func(events.Message) error) error

	// Health
	Health(ctx context.Context) (string, error)

	// Lifecycle
	Close() error
}
