package memory

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/alfredjeanlab/onix/internal/model"
	"github.com/alfredjeanlab/onix/internal/store"
)

// txStore operates directly on the shared state while its parent Store holds
// the lock. Every mutation pushes an inverse onto the journal.
type txStore struct {
	st      *state
	journal []func()
}

func (t *txStore) undo(fn func()) {
	t.journal = append(t.journal, fn)
}

func (t *txStore) rollback() {
	for i := len(t.journal) - 1; i >= 0; i-- {
		t.journal[i]()
	}
	t.journal = nil
}

func (t *txStore) RunInTransaction(_ context.Context, fn func(tx store.Store) error) error {
	return fn(t)
}

func (t *txStore) RunReadOnly(_ context.Context, fn func(tx store.Store) error) error {
	return fn(t)
}

func (t *txStore) Close() error { return nil }

// --- Items ---

func (t *txStore) CreateItem(_ context.Context, item *model.Item) error {
	if _, ok := t.st.items[item.Key]; ok {
		return conflict("item %q already exists", item.Key)
	}
	if _, ok := t.st.itemTypes[item.ItemTypeKey]; !ok {
		return notFound("item type", item.ItemTypeKey)
	}
	c := item.Clone()
	c.Links = nil
	t.st.items[item.Key] = c
	t.undo(func() { delete(t.st.items, item.Key) })
	return nil
}

func (t *txStore) GetItem(_ context.Context, key string) (*model.Item, error) {
	it, ok := t.st.items[key]
	if !ok {
		return nil, notFound("item", key)
	}
	return it.Clone(), nil
}

func (t *txStore) UpdateItem(_ context.Context, item *model.Item, expectedVersion int64) error {
	old, ok := t.st.items[item.Key]
	if !ok {
		return notFound("item", item.Key)
	}
	if old.Version != expectedVersion {
		return conflict("item %q is at version %d, not %d", item.Key, old.Version, expectedVersion)
	}
	if _, ok := t.st.itemTypes[item.ItemTypeKey]; !ok {
		return notFound("item type", item.ItemTypeKey)
	}
	c := item.Clone()
	c.Links = nil
	t.st.items[item.Key] = c
	t.undo(func() { t.st.items[item.Key] = old })
	return nil
}

func (t *txStore) DeleteItem(_ context.Context, key string) error {
	old, ok := t.st.items[key]
	if !ok {
		return notFound("item", key)
	}
	if len(t.st.incident[key]) > 0 {
		return conflict("item %q still has %d links", key, len(t.st.incident[key]))
	}
	delete(t.st.items, key)
	t.undo(func() { t.st.items[key] = old })
	return nil
}

func (t *txStore) ListItems(_ context.Context, filter model.ItemFilter) ([]*model.Item, int, error) {
	var out []*model.Item
	for _, it := range t.st.items {
		if matchItem(it, filter) {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].Key < out[j].Key
	})
	total := len(out)
	if filter.Top > 0 && len(out) > filter.Top {
		out = out[:filter.Top]
	}
	for i, it := range out {
		out[i] = it.Clone()
	}
	return out, total, nil
}

func matchItem(it *model.Item, f model.ItemFilter) bool {
	if f.ItemTypeKey != "" && it.ItemTypeKey != f.ItemTypeKey {
		return false
	}
	if f.Status != nil && it.Status != *f.Status {
		return false
	}
	if !model.HasAllTags(it.Tags, f.Tags) || !model.HasAttributes(it.Attributes, f.Attributes) {
		return false
	}
	return model.InDayRange(it.CreatedAt, f.CreatedFrom, f.CreatedTo) &&
		model.InDayRange(it.UpdatedAt, f.UpdatedFrom, f.UpdatedTo)
}

// --- Links ---

func (t *txStore) CreateLink(_ context.Context, link *model.Link) error {
	if _, ok := t.st.links[link.Key]; ok {
		return conflict("link %q already exists", link.Key)
	}
	if _, ok := t.st.linkTypes[link.LinkTypeKey]; !ok {
		return notFound("link type", link.LinkTypeKey)
	}
	for _, k := range []string{link.StartItemKey, link.EndItemKey} {
		if _, ok := t.st.items[k]; !ok {
			return notFound("item", k)
		}
	}
	c := link.Clone()
	t.st.links[c.Key] = c
	t.index(c)
	t.undo(func() {
		delete(t.st.links, c.Key)
		t.unindex(c)
	})
	return nil
}

func (t *txStore) index(l *model.Link) {
	for _, k := range []string{l.StartItemKey, l.EndItemKey} {
		set, ok := t.st.incident[k]
		if !ok {
			set = make(map[string]struct{})
			t.st.incident[k] = set
		}
		set[l.Key] = struct{}{}
	}
}

func (t *txStore) unindex(l *model.Link) {
	for _, k := range []string{l.StartItemKey, l.EndItemKey} {
		delete(t.st.incident[k], l.Key)
		if len(t.st.incident[k]) == 0 {
			delete(t.st.incident, k)
		}
	}
}

func (t *txStore) GetLink(_ context.Context, key string) (*model.Link, error) {
	l, ok := t.st.links[key]
	if !ok {
		return nil, notFound("link", key)
	}
	return l.Clone(), nil
}

func (t *txStore) UpdateLink(_ context.Context, link *model.Link, expectedVersion int64) error {
	old, ok := t.st.links[link.Key]
	if !ok {
		return notFound("link", link.Key)
	}
	if old.Version != expectedVersion {
		return conflict("link %q is at version %d, not %d", link.Key, old.Version, expectedVersion)
	}
	if err := old.CheckIdentity(model.LinkInput{
		LinkTypeKey:  link.LinkTypeKey,
		StartItemKey: link.StartItemKey,
		EndItemKey:   link.EndItemKey,
	}); err != nil {
		return err
	}
	t.st.links[link.Key] = link.Clone()
	t.undo(func() { t.st.links[link.Key] = old })
	return nil
}

func (t *txStore) DeleteLink(_ context.Context, key string) error {
	old, ok := t.st.links[key]
	if !ok {
		return notFound("link", key)
	}
	delete(t.st.links, key)
	t.unindex(old)
	t.undo(func() {
		t.st.links[key] = old
		t.index(old)
	})
	return nil
}

func (t *txStore) ListLinks(_ context.Context, filter model.LinkFilter) ([]*model.Link, int, error) {
	var out []*model.Link
	for _, l := range t.st.links {
		if matchLink(l, filter) {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].Key < out[j].Key
	})
	total := len(out)
	if filter.Top > 0 && len(out) > filter.Top {
		out = out[:filter.Top]
	}
	for i, l := range out {
		out[i] = l.Clone()
	}
	return out, total, nil
}

func matchLink(l *model.Link, f model.LinkFilter) bool {
	if f.LinkTypeKey != "" && l.LinkTypeKey != f.LinkTypeKey {
		return false
	}
	if f.StartItemKey != "" && l.StartItemKey != f.StartItemKey {
		return false
	}
	if f.EndItemKey != "" && l.EndItemKey != f.EndItemKey {
		return false
	}
	if !model.HasAllTags(l.Tags, f.Tags) || !model.HasAttributes(l.Attributes, f.Attributes) {
		return false
	}
	return model.InDayRange(l.CreatedAt, f.CreatedFrom, f.CreatedTo) &&
		model.InDayRange(l.UpdatedAt, f.UpdatedFrom, f.UpdatedTo)
}

func (t *txStore) ListIncidentLinks(_ context.Context, itemKey string) ([]*model.Link, error) {
	keys := sortedKeys(t.st.incident[itemKey])
	out := make([]*model.Link, 0, len(keys))
	for _, k := range keys {
		out = append(out, t.st.links[k].Clone())
	}
	return out, nil
}

// --- Item types ---

func (t *txStore) CreateItemType(_ context.Context, it *model.ItemType) error {
	if _, ok := t.st.itemTypes[it.Key]; ok {
		return conflict("item type %q already exists", it.Key)
	}
	t.st.itemTypes[it.Key] = it.Clone()
	t.undo(func() { delete(t.st.itemTypes, it.Key) })
	return nil
}

func (t *txStore) GetItemType(_ context.Context, key string) (*model.ItemType, error) {
	it, ok := t.st.itemTypes[key]
	if !ok {
		return nil, notFound("item type", key)
	}
	return it.Clone(), nil
}

func (t *txStore) UpdateItemType(_ context.Context, it *model.ItemType, expectedVersion int64) error {
	old, ok := t.st.itemTypes[it.Key]
	if !ok {
		return notFound("item type", it.Key)
	}
	if old.Version != expectedVersion {
		return conflict("item type %q is at version %d, not %d", it.Key, old.Version, expectedVersion)
	}
	t.st.itemTypes[it.Key] = it.Clone()
	t.undo(func() { t.st.itemTypes[it.Key] = old })
	return nil
}

func (t *txStore) DeleteItemType(_ context.Context, key string) error {
	old, ok := t.st.itemTypes[key]
	if !ok {
		return notFound("item type", key)
	}
	for _, it := range t.st.items {
		if it.ItemTypeKey == key {
			return conflict("item type %q is used by item %q", key, it.Key)
		}
	}
	for _, r := range t.st.linkRules {
		if r.StartItemTypeKey == key || r.EndItemTypeKey == key {
			return conflict("item type %q is used by link rule %q", key, r.Key)
		}
	}
	delete(t.st.itemTypes, key)
	t.undo(func() { t.st.itemTypes[key] = old })
	return nil
}

func (t *txStore) ListItemTypes(_ context.Context) ([]*model.ItemType, error) {
	out := make([]*model.ItemType, 0, len(t.st.itemTypes))
	for _, k := range sortedKeys(t.st.itemTypes) {
		out = append(out, t.st.itemTypes[k].Clone())
	}
	return out, nil
}

// --- Link types ---

func (t *txStore) CreateLinkType(_ context.Context, lt *model.LinkType) error {
	if _, ok := t.st.linkTypes[lt.Key]; ok {
		return conflict("link type %q already exists", lt.Key)
	}
	t.st.linkTypes[lt.Key] = lt.Clone()
	t.undo(func() { delete(t.st.linkTypes, lt.Key) })
	return nil
}

func (t *txStore) GetLinkType(_ context.Context, key string) (*model.LinkType, error) {
	lt, ok := t.st.linkTypes[key]
	if !ok {
		return nil, notFound("link type", key)
	}
	return lt.Clone(), nil
}

func (t *txStore) UpdateLinkType(_ context.Context, lt *model.LinkType, expectedVersion int64) error {
	old, ok := t.st.linkTypes[lt.Key]
	if !ok {
		return notFound("link type", lt.Key)
	}
	if old.Version != expectedVersion {
		return conflict("link type %q is at version %d, not %d", lt.Key, old.Version, expectedVersion)
	}
	t.st.linkTypes[lt.Key] = lt.Clone()
	t.undo(func() { t.st.linkTypes[lt.Key] = old })
	return nil
}

func (t *txStore) DeleteLinkType(_ context.Context, key string) error {
	old, ok := t.st.linkTypes[key]
	if !ok {
		return notFound("link type", key)
	}
	for _, l := range t.st.links {
		if l.LinkTypeKey == key {
			return conflict("link type %q is used by link %q", key, l.Key)
		}
	}
	for _, r := range t.st.linkRules {
		if r.LinkTypeKey == key {
			return conflict("link type %q is used by link rule %q", key, r.Key)
		}
	}
	delete(t.st.linkTypes, key)
	t.undo(func() { t.st.linkTypes[key] = old })
	return nil
}

func (t *txStore) ListLinkTypes(_ context.Context) ([]*model.LinkType, error) {
	out := make([]*model.LinkType, 0, len(t.st.linkTypes))
	for _, k := range sortedKeys(t.st.linkTypes) {
		out = append(out, t.st.linkTypes[k].Clone())
	}
	return out, nil
}

// --- Link rules ---

func (t *txStore) checkRuleRefs(r *model.LinkRule) error {
	if _, ok := t.st.linkTypes[r.LinkTypeKey]; !ok {
		return notFound("link type", r.LinkTypeKey)
	}
	for _, k := range []string{r.StartItemTypeKey, r.EndItemTypeKey} {
		if _, ok := t.st.itemTypes[k]; !ok {
			return notFound("item type", k)
		}
	}
	return nil
}

func (t *txStore) CreateLinkRule(_ context.Context, r *model.LinkRule) error {
	if _, ok := t.st.linkRules[r.Key]; ok {
		return conflict("link rule %q already exists", r.Key)
	}
	if err := t.checkRuleRefs(r); err != nil {
		return err
	}
	t.st.linkRules[r.Key] = r.Clone()
	t.undo(func() { delete(t.st.linkRules, r.Key) })
	return nil
}

func (t *txStore) GetLinkRule(_ context.Context, key string) (*model.LinkRule, error) {
	r, ok := t.st.linkRules[key]
	if !ok {
		return nil, notFound("link rule", key)
	}
	return r.Clone(), nil
}

func (t *txStore) UpdateLinkRule(_ context.Context, r *model.LinkRule, expectedVersion int64) error {
	old, ok := t.st.linkRules[r.Key]
	if !ok {
		return notFound("link rule", r.Key)
	}
	if old.Version != expectedVersion {
		return conflict("link rule %q is at version %d, not %d", r.Key, old.Version, expectedVersion)
	}
	if err := t.checkRuleRefs(r); err != nil {
		return err
	}
	t.st.linkRules[r.Key] = r.Clone()
	t.undo(func() { t.st.linkRules[r.Key] = old })
	return nil
}

func (t *txStore) DeleteLinkRule(_ context.Context, key string) error {
	old, ok := t.st.linkRules[key]
	if !ok {
		return notFound("link rule", key)
	}
	delete(t.st.linkRules, key)
	t.undo(func() { t.st.linkRules[key] = old })
	return nil
}

func (t *txStore) ListLinkRules(_ context.Context, linkTypeKey string) ([]*model.LinkRule, error) {
	var out []*model.LinkRule
	for _, k := range sortedKeys(t.st.linkRules) {
		r := t.st.linkRules[k]
		if linkTypeKey == "" || r.LinkTypeKey == linkTypeKey {
			out = append(out, r.Clone())
		}
	}
	return out, nil
}

// --- Audit ---

func (t *txStore) AppendAudit(_ context.Context, rec *model.AuditRecord) error {
	if !rec.EntityKind.IsValid() || !rec.ChangeType.IsValid() {
		return fmt.Errorf("audit record %s/%s: %w", rec.EntityKind, rec.ChangeType, model.ErrInvalidArgument)
	}
	t.st.auditSeq++
	rec.ID = t.st.auditSeq
	c := *rec
	c.Snapshot = append([]byte(nil), rec.Snapshot...)
	t.st.audit = append(t.st.audit, &c)
	t.undo(func() {
		t.st.audit = t.st.audit[:len(t.st.audit)-1]
		t.st.auditSeq--
	})
	return nil
}

func (t *txStore) ListAudit(_ context.Context, filter model.AuditFilter) ([]*model.AuditRecord, error) {
	var out []*model.AuditRecord
	// The log is in append order; walk it backwards so equal timestamps come
	// out newest first.
	for i := len(t.st.audit) - 1; i >= 0; i-- {
		r := t.st.audit[i]
		if filter.EntityKind != "" && r.EntityKind != filter.EntityKind {
			continue
		}
		if filter.EntityKey != "" && r.EntityKey != filter.EntityKey {
			continue
		}
		if filter.ChangeType != "" && r.ChangeType != filter.ChangeType {
			continue
		}
		if !model.InDayRange(r.Timestamp, filter.From, filter.To) {
			continue
		}
		c := *r
		c.Snapshot = bytes.Clone(r.Snapshot)
		out = append(out, &c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if filter.Top > 0 && len(out) > filter.Top {
		out = out[:filter.Top]
	}
	return out, nil
}

func (t *txStore) Clear(_ context.Context) error {
	old := *t.st
	*t.st = *newState()
	t.undo(func() { *t.st = old })
	return nil
}
