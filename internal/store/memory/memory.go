// Package memory implements store.Store in process memory. Transactions run
// under a write lock and record an undo journal so a failed transaction
// leaves no trace.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/alfredjeanlab/onix/internal/model"
	"github.com/alfredjeanlab/onix/internal/store"
)

type state struct {
	items     map[string]*model.Item
	links     map[string]*model.Link
	incident  map[string]map[string]struct{} // item key -> link keys
	itemTypes map[string]*model.ItemType
	linkTypes map[string]*model.LinkType
	linkRules map[string]*model.LinkRule
	audit     []*model.AuditRecord
	auditSeq  int64
}

func newState() *state {
	return &state{
		items:     make(map[string]*model.Item),
		links:     make(map[string]*model.Link),
		incident:  make(map[string]map[string]struct{}),
		itemTypes: make(map[string]*model.ItemType),
		linkTypes: make(map[string]*model.LinkType),
		linkRules: make(map[string]*model.LinkRule),
	}
}

// Store is an in-memory store.Store.
type Store struct {
	mu sync.RWMutex
	st *state
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{st: newState()}
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

// RunInTransaction executes fn under the store's write lock. If fn returns an
// error or panics, every mutation made through tx is undone.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &txStore{st: s.st}
	committed := false
	defer func() {
		if !committed {
			tx.rollback()
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	committed = true
	return nil
}

// RunReadOnly executes fn under the store's read lock, so it runs
// alongside other readers.
func (s *Store) RunReadOnly(ctx context.Context, fn func(tx store.Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx, done := s.read()
	defer done()
	return fn(tx)
}

func (s *Store) read() (*txStore, func()) {
	s.mu.RLock()
	return &txStore{st: s.st}, s.mu.RUnlock
}

func (s *Store) write(ctx context.Context, fn func(tx store.Store) error) error {
	return s.RunInTransaction(ctx, fn)
}

// --- Items ---

func (s *Store) CreateItem(ctx context.Context, item *model.Item) error {
	return s.write(ctx, func(tx store.Store) error { return tx.CreateItem(ctx, item) })
}

func (s *Store) GetItem(ctx context.Context, key string) (*model.Item, error) {
	tx, done := s.read()
	defer done()
	return tx.GetItem(ctx, key)
}

func (s *Store) UpdateItem(ctx context.Context, item *model.Item, expectedVersion int64) error {
	return s.write(ctx, func(tx store.Store) error { return tx.UpdateItem(ctx, item, expectedVersion) })
}

func (s *Store) DeleteItem(ctx context.Context, key string) error {
	return s.write(ctx, func(tx store.Store) error { return tx.DeleteItem(ctx, key) })
}

func (s *Store) ListItems(ctx context.Context, filter model.ItemFilter) ([]*model.Item, int, error) {
	tx, done := s.read()
	defer done()
	return tx.ListItems(ctx, filter)
}

// --- Links ---

func (s *Store) CreateLink(ctx context.Context, link *model.Link) error {
	return s.write(ctx, func(tx store.Store) error { return tx.CreateLink(ctx, link) })
}

func (s *Store) GetLink(ctx context.Context, key string) (*model.Link, error) {
	tx, done := s.read()
	defer done()
	return tx.GetLink(ctx, key)
}

func (s *Store) UpdateLink(ctx context.Context, link *model.Link, expectedVersion int64) error {
	return s.write(ctx, func(tx store.Store) error { return tx.UpdateLink(ctx, link, expectedVersion) })
}

func (s *Store) DeleteLink(ctx context.Context, key string) error {
	return s.write(ctx, func(tx store.Store) error { return tx.DeleteLink(ctx, key) })
}

func (s *Store) ListLinks(ctx context.Context, filter model.LinkFilter) ([]*model.Link, int, error) {
	tx, done := s.read()
	defer done()
	return tx.ListLinks(ctx, filter)
}

func (s *Store) ListIncidentLinks(ctx context.Context, itemKey string) ([]*model.Link, error) {
	tx, done := s.read()
	defer done()
	return tx.ListIncidentLinks(ctx, itemKey)
}

// --- Item types ---

func (s *Store) CreateItemType(ctx context.Context, t *model.ItemType) error {
	return s.write(ctx, func(tx store.Store) error { return tx.CreateItemType(ctx, t) })
}

func (s *Store) GetItemType(ctx context.Context, key string) (*model.ItemType, error) {
	tx, done := s.read()
	defer done()
	return tx.GetItemType(ctx, key)
}

func (s *Store) UpdateItemType(ctx context.Context, t *model.ItemType, expectedVersion int64) error {
	return s.write(ctx, func(tx store.Store) error { return tx.UpdateItemType(ctx, t, expectedVersion) })
}

func (s *Store) DeleteItemType(ctx context.Context, key string) error {
	return s.write(ctx, func(tx store.Store) error { return tx.DeleteItemType(ctx, key) })
}

func (s *Store) ListItemTypes(ctx context.Context) ([]*model.ItemType, error) {
	tx, done := s.read()
	defer done()
	return tx.ListItemTypes(ctx)
}

// --- Link types ---

func (s *Store) CreateLinkType(ctx context.Context, t *model.LinkType) error {
	return s.write(ctx, func(tx store.Store) error { return tx.CreateLinkType(ctx, t) })
}

func (s *Store) GetLinkType(ctx context.Context, key string) (*model.LinkType, error) {
	tx, done := s.read()
	defer done()
	return tx.GetLinkType(ctx, key)
}

func (s *Store) UpdateLinkType(ctx context.Context, t *model.LinkType, expectedVersion int64) error {
	return s.write(ctx, func(tx store.Store) error { return tx.UpdateLinkType(ctx, t, expectedVersion) })
}

func (s *Store) DeleteLinkType(ctx context.Context, key string) error {
	return s.write(ctx, func(tx store.Store) error { return tx.DeleteLinkType(ctx, key) })
}

func (s *Store) ListLinkTypes(ctx context.Context) ([]*model.LinkType, error) {
	tx, done := s.read()
	defer done()
	return tx.ListLinkTypes(ctx)
}

// --- Link rules ---

func (s *Store) CreateLinkRule(ctx context.Context, r *model.LinkRule) error {
	return s.write(ctx, func(tx store.Store) error { return tx.CreateLinkRule(ctx, r) })
}

func (s *Store) GetLinkRule(ctx context.Context, key string) (*model.LinkRule, error) {
	tx, done := s.read()
	defer done()
	return tx.GetLinkRule(ctx, key)
}

func (s *Store) UpdateLinkRule(ctx context.Context, r *model.LinkRule, expectedVersion int64) error {
	return s.write(ctx, func(tx store.Store) error { return tx.UpdateLinkRule(ctx, r, expectedVersion) })
}

func (s *Store) DeleteLinkRule(ctx context.Context, key string) error {
	return s.write(ctx, func(tx store.Store) error { return tx.DeleteLinkRule(ctx, key) })
}

func (s *Store) ListLinkRules(ctx context.Context, linkTypeKey string) ([]*model.LinkRule, error) {
	tx, done := s.read()
	defer done()
	return tx.ListLinkRules(ctx, linkTypeKey)
}

// --- Audit ---

func (s *Store) AppendAudit(ctx context.Context, rec *model.AuditRecord) error {
	return s.write(ctx, func(tx store.Store) error { return tx.AppendAudit(ctx, rec) })
}

func (s *Store) ListAudit(ctx context.Context, filter model.AuditFilter) ([]*model.AuditRecord, error) {
	tx, done := s.read()
	defer done()
	return tx.ListAudit(ctx, filter)
}

func (s *Store) Clear(ctx context.Context) error {
	return s.write(ctx, func(tx store.Store) error { return tx.Clear(ctx) })
}

// Compile-time interface checks.
var (
	_ store.Store = (*Store)(nil)
	_ store.Store = (*txStore)(nil)
)

func notFound(kind, key string) error {
	return fmt.Errorf("%s %q: %w", kind, key, model.ErrNotFound)
}

func conflict(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, model.ErrConflict)...)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
