package cmdb

import (
	"context"
	"errors"
	"fmt"

	"github.com/alfredjeanlab/onix/internal/model"
	"github.com/alfredjeanlab/onix/internal/store"
)

// PutItem creates the item if key is new, otherwise merges in into it.
//
// When expectedVersion is set and the item exists at another version the
// call fails with ErrConflict and nothing is written. An update that changes
// nothing returns NoAction with the version unchanged. The audit record is
// written in the same transaction as the item.
func (s *Service) PutItem(ctx context.Context, key string, in model.ItemInput, expectedVersion *int64, changedBy string) (model.Result, error) {
	if err := model.ValidateKey("key", key); err != nil {
		return model.Result{}, err
	}
	defer s.locks.lock(lockSet{items: []string{key}})()

	var res model.Result
	err := s.run(ctx, changedBy, func(m *mutation) error {
		cur, err := m.tx.GetItem(ctx, key)
		switch {
		case errors.Is(err, model.ErrNotFound):
			res, err = createItem(ctx, m, key, in)
		case err != nil:
		default:
			res, err = updateItem(ctx, m, cur, in, expectedVersion)
		}
		return err
	})
	if err != nil {
		return model.Result{}, err
	}
	if res.Outcome != model.OutcomeNoAction {
		s.logger.Debug("item written", "key", key, "result", res.Outcome.String(), "version", res.Version)
	}
	return res, nil
}

func createItem(ctx context.Context, m *mutation, key string, in model.ItemInput) (model.Result, error) {
	if in.ItemTypeKey == nil || *in.ItemTypeKey == "" {
		return model.Result{}, &model.ValidationError{Errors: []model.FieldError{{Field: "item_type_key", Message: "is required"}}}
	}
	it := model.NewItem(key, in)
	if err := validateItem(ctx, m.tx, it); err != nil {
		return model.Result{}, err
	}
	it.CreatedAt, it.UpdatedAt, it.ChangedBy = m.at, m.at, m.changedBy
	if err := m.tx.CreateItem(ctx, it); err != nil {
		return model.Result{}, err
	}
	if err := m.audit(ctx, model.EntityItem, key, model.ChangeCreated, it); err != nil {
		return model.Result{}, err
	}
	return model.Result{Outcome: model.OutcomeInserted, Version: it.Version}, nil
}

func updateItem(ctx context.Context, m *mutation, cur *model.Item, in model.ItemInput, expectedVersion *int64) (model.Result, error) {
	if err := checkVersion("item", cur.Key, cur.Version, expectedVersion); err != nil {
		return model.Result{}, err
	}
	next, changed := cur.Merge(in)
	if !changed {
		return model.Result{Outcome: model.OutcomeNoAction, Version: cur.Version}, nil
	}
	if next.ItemTypeKey == "" {
		return model.Result{}, &model.ValidationError{Errors: []model.FieldError{{Field: "item_type_key", Message: "is required"}}}
	}
	if err := validateItem(ctx, m.tx, next); err != nil {
		return model.Result{}, err
	}
	if next.ItemTypeKey != cur.ItemTypeKey {
		if err := checkRetype(ctx, m.tx, next); err != nil {
			return model.Result{}, err
		}
	}
	next.Version = cur.Version + 1
	next.UpdatedAt, next.ChangedBy = m.at, m.changedBy
	if err := m.tx.UpdateItem(ctx, next, cur.Version); err != nil {
		return model.Result{}, err
	}
	if err := m.audit(ctx, model.EntityItem, next.Key, model.ChangeUpdated, next); err != nil {
		return model.Result{}, err
	}
	return model.Result{Outcome: model.OutcomeUpdated, Version: next.Version}, nil
}

// validateItem resolves the item's type and checks its attributes.
func validateItem(ctx context.Context, tx store.Store, it *model.Item) error {
	t, err := tx.GetItemType(ctx, it.ItemTypeKey)
	if err != nil {
		return fmt.Errorf("item %q: %w", it.Key, err)
	}
	return model.ValidateAttributes(it.Attributes, t.AttributeValidation)
}

// checkRetype fails with ErrRuleViolation if, with its new type, the item
// would take part in a link no rule permits.
func checkRetype(ctx context.Context, tx store.Store, it *model.Item) error {
	links, err := tx.ListIncidentLinks(ctx, it.Key)
	if err != nil {
		return err
	}
	for _, l := range links {
		startType, endType, err := endpointTypes(ctx, tx, l, it)
		if err != nil {
			return err
		}
		rules, err := matchingRules(ctx, tx, startType, l.LinkTypeKey, endType)
		if err != nil {
			return err
		}
		if len(rules) == 0 {
			return fmt.Errorf("item %q cannot become %q: link %q (%s -[%s]-> %s) would not be permitted: %w",
				it.Key, it.ItemTypeKey, l.Key, startType, l.LinkTypeKey, endType, model.ErrRuleViolation)
		}
	}
	return nil
}

// endpointTypes returns the item types at either end of l, taking override
// in place of the stored item with the same key.
func endpointTypes(ctx context.Context, tx store.Store, l *model.Link, override *model.Item) (start, end string, err error) {
	typeOf := func(key string) (string, error) {
		if override != nil && key == override.Key {
			return override.ItemTypeKey, nil
		}
		it, err := tx.GetItem(ctx, key)
		if err != nil {
			return "", err
		}
		return it.ItemTypeKey, nil
	}
	if start, err = typeOf(l.StartItemKey); err != nil {
		return "", "", err
	}
	if end, err = typeOf(l.EndItemKey); err != nil {
		return "", "", err
	}
	return start, end, nil
}

// GetItem returns the item with its incident links attached.
func (s *Service) GetItem(ctx context.Context, key string) (*model.Item, error) {
	var it *model.Item
	err := s.store.RunReadOnly(ctx, func(tx store.Store) error {
		var err error
		if it, err = tx.GetItem(ctx, key); err != nil {
			return err
		}
		links, err := tx.ListIncidentLinks(ctx, key)
		if err != nil {
			return err
		}
		it.Links = links
		return nil
	})
	if err != nil {
		return nil, err
	}
	return it, nil
}

// DeleteItem deletes the item and every link touching it, all or nothing.
// Each link deletion is audited before the item's.
func (s *Service) DeleteItem(ctx context.Context, key, changedBy string) (model.Result, error) {
	// Links cannot be created against a locked item, so the incident set read
	// here is complete once the item lock is held.
	unlockItem := s.locks.lock(lockSet{items: []string{key}})
	defer unlockItem()

	incident, err := s.store.ListIncidentLinks(ctx, key)
	if err != nil {
		return model.Result{}, err
	}
	linkKeys := make([]string, len(incident))
	for i, l := range incident {
		linkKeys[i] = l.Key
	}
	defer s.locks.lock(lockSet{links: linkKeys})()

	cascaded := 0
	err = s.run(ctx, changedBy, func(m *mutation) error {
		it, err := m.tx.GetItem(ctx, key)
		if err != nil {
			return err
		}
		links, err := m.tx.ListIncidentLinks(ctx, key)
		if err != nil {
			return err
		}
		for _, l := range links {
			if err := m.tx.DeleteLink(ctx, l.Key); err != nil {
				return err
			}
			if err := m.audit(ctx, model.EntityLink, l.Key, model.ChangeDeleted, l); err != nil {
				return err
			}
		}
		cascaded = len(links)
		if err := m.tx.DeleteItem(ctx, key); err != nil {
			return err
		}
		return m.audit(ctx, model.EntityItem, key, model.ChangeDeleted, it)
	})
	if err != nil {
		return model.Result{}, err
	}
	s.logger.Debug("item deleted", "key", key, "links", cascaded)
	return model.Result{Outcome: model.OutcomeDeleted}, nil
}
