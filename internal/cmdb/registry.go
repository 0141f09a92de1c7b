package cmdb

import (
	"context"
	"errors"
	"fmt"

	"github.com/alfredjeanlab/onix/internal/events"
	"github.com/alfredjeanlab/onix/internal/model"
	"github.com/alfredjeanlab/onix/internal/store"
)

const (
	kindItemType = "itemtype"
	kindLinkType = "linktype"
	kindLinkRule = "linkrule"
)

// DefineItemType creates or updates an item type. Attribute patterns must
// compile.
func (s *Service) DefineItemType(ctx context.Context, key string, in model.ItemTypeInput, expectedVersion *int64, changedBy string) (model.Result, error) {
	if err := model.ValidateKey("key", key); err != nil {
		return model.Result{}, err
	}
	if err := model.ValidateRules(in.AttributeValidation); err != nil {
		return model.Result{}, err
	}
	defer s.locks.lock(lockSet{schema: []string{kindItemType + ":" + key}})()

	var res model.Result
	err := s.run(ctx, changedBy, func(m *mutation) error {
		cur, err := m.tx.GetItemType(ctx, key)
		if errors.Is(err, model.ErrNotFound) {
			t, _ := (&model.ItemType{Key: key}).Merge(in)
			t.Version = 1
			t.CreatedAt, t.UpdatedAt, t.ChangedBy = m.at, m.at, changedBy
			if err := m.tx.CreateItemType(ctx, t); err != nil {
				return err
			}
			res = model.Result{Outcome: model.OutcomeInserted, Version: 1}
		} else if err != nil {
			return err
		} else {
			if err := checkVersion("item type", key, cur.Version, expectedVersion); err != nil {
				return err
			}
			next, changed := cur.Merge(in)
			if !changed {
				res = model.Result{Outcome: model.OutcomeNoAction, Version: cur.Version}
				return nil
			}
			next.Version = cur.Version + 1
			next.UpdatedAt, next.ChangedBy = m.at, changedBy
			if err := m.tx.UpdateItemType(ctx, next, cur.Version); err != nil {
				return err
			}
			res = model.Result{Outcome: model.OutcomeUpdated, Version: next.Version}
		}
		m.emit(events.TopicItemTypeDefined, events.SchemaChanged{Kind: kindItemType, Key: key, Outcome: res.Outcome, Version: res.Version, ChangedBy: changedBy})
		return nil
	})
	if err != nil {
		return model.Result{}, err
	}
	s.logSchema(kindItemType, key, res)
	return res, nil
}

// DefineLinkType creates or updates a link type.
func (s *Service) DefineLinkType(ctx context.Context, key string, in model.LinkTypeInput, expectedVersion *int64, changedBy string) (model.Result, error) {
	if err := model.ValidateKey("key", key); err != nil {
		return model.Result{}, err
	}
	defer s.locks.lock(lockSet{schema: []string{kindLinkType + ":" + key}})()

	var res model.Result
	err := s.run(ctx, changedBy, func(m *mutation) error {
		cur, err := m.tx.GetLinkType(ctx, key)
		if errors.Is(err, model.ErrNotFound) {
			t, _ := (&model.LinkType{Key: key}).Merge(in)
			t.Version = 1
			t.CreatedAt, t.UpdatedAt, t.ChangedBy = m.at, m.at, changedBy
			if err := m.tx.CreateLinkType(ctx, t); err != nil {
				return err
			}
			res = model.Result{Outcome: model.OutcomeInserted, Version: 1}
		} else if err != nil {
			return err
		} else {
			if err := checkVersion("link type", key, cur.Version, expectedVersion); err != nil {
				return err
			}
			next, changed := cur.Merge(in)
			if !changed {
				res = model.Result{Outcome: model.OutcomeNoAction, Version: cur.Version}
				return nil
			}
			next.Version = cur.Version + 1
			next.UpdatedAt, next.ChangedBy = m.at, changedBy
			if err := m.tx.UpdateLinkType(ctx, next, cur.Version); err != nil {
				return err
			}
			res = model.Result{Outcome: model.OutcomeUpdated, Version: next.Version}
		}
		m.emit(events.TopicLinkTypeDefined, events.SchemaChanged{Kind: kindLinkType, Key: key, Outcome: res.Outcome, Version: res.Version, ChangedBy: changedBy})
		return nil
	})
	if err != nil {
		return model.Result{}, err
	}
	s.logSchema(kindLinkType, key, res)
	return res, nil
}

// DefineLinkRule creates or updates a link rule. The link type and both item
// types it names must exist.
func (s *Service) DefineLinkRule(ctx context.Context, key string, in model.LinkRuleInput, expectedVersion *int64, changedBy string) (model.Result, error) {
	if err := model.ValidateKey("key", key); err != nil {
		return model.Result{}, err
	}
	defer s.locks.lock(lockSet{schema: []string{kindLinkRule + ":" + key}})()

	var res model.Result
	err := s.run(ctx, changedBy, func(m *mutation) error {
		cur, err := m.tx.GetLinkRule(ctx, key)
		if errors.Is(err, model.ErrNotFound) {
			r, _ := (&model.LinkRule{Key: key}).Merge(in)
			if err := checkRule(ctx, m.tx, r); err != nil {
				return err
			}
			r.Version = 1
			r.CreatedAt, r.UpdatedAt, r.ChangedBy = m.at, m.at, changedBy
			if err := m.tx.CreateLinkRule(ctx, r); err != nil {
				return err
			}
			res = model.Result{Outcome: model.OutcomeInserted, Version: 1}
		} else if err != nil {
			return err
		} else {
			if err := checkVersion("link rule", key, cur.Version, expectedVersion); err != nil {
				return err
			}
			next, changed := cur.Merge(in)
			if !changed {
				res = model.Result{Outcome: model.OutcomeNoAction, Version: cur.Version}
				return nil
			}
			if err := checkRule(ctx, m.tx, next); err != nil {
				return err
			}
			next.Version = cur.Version + 1
			next.UpdatedAt, next.ChangedBy = m.at, changedBy
			if err := m.tx.UpdateLinkRule(ctx, next, cur.Version); err != nil {
				return err
			}
			res = model.Result{Outcome: model.OutcomeUpdated, Version: next.Version}
		}
		m.emit(events.TopicLinkRuleDefined, events.SchemaChanged{Kind: kindLinkRule, Key: key, Outcome: res.Outcome, Version: res.Version, ChangedBy: changedBy})
		return nil
	})
	if err != nil {
		return model.Result{}, err
	}
	s.logSchema(kindLinkRule, key, res)
	return res, nil
}

// checkRule validates r and resolves the keys it references.
func checkRule(ctx context.Context, tx store.Store, r *model.LinkRule) error {
	if err := model.ValidateLinkRule(r); err != nil {
		return err
	}
	if _, err := tx.GetLinkType(ctx, r.LinkTypeKey); err != nil {
		return err
	}
	if _, err := tx.GetItemType(ctx, r.StartItemTypeKey); err != nil {
		return fmt.Errorf("start item type: %w", err)
	}
	if _, err := tx.GetItemType(ctx, r.EndItemTypeKey); err != nil {
		return fmt.Errorf("end item type: %w", err)
	}
	return nil
}

func (s *Service) logSchema(kind, key string, res model.Result) {
	if res.Outcome == model.OutcomeNoAction {
		return
	}
	s.logger.Info("schema changed", "kind", kind, "key", key, "result", res.Outcome.String(), "version", res.Version)
}

func (s *Service) GetItemType(ctx context.Context, key string) (*model.ItemType, error) {
	return s.store.GetItemType(ctx, key)
}

func (s *Service) GetLinkType(ctx context.Context, key string) (*model.LinkType, error) {
	return s.store.GetLinkType(ctx, key)
}

func (s *Service) GetLinkRule(ctx context.Context, key string) (*model.LinkRule, error) {
	return s.store.GetLinkRule(ctx, key)
}

func (s *Service) ListItemTypes(ctx context.Context) ([]*model.ItemType, error) {
	return s.store.ListItemTypes(ctx)
}

func (s *Service) ListLinkTypes(ctx context.Context) ([]*model.LinkType, error) {
	return s.store.ListLinkTypes(ctx)
}

// ListLinkRules returns the rules for linkTypeKey, or every rule when it is
// empty.
func (s *Service) ListLinkRules(ctx context.Context, linkTypeKey string) ([]*model.LinkRule, error) {
	return s.store.ListLinkRules(ctx, linkTypeKey)
}

// DeleteItemType fails with ErrConflict while items or rules reference the
// type.
func (s *Service) DeleteItemType(ctx context.Context, key, changedBy string) (model.Result, error) {
	return s.deleteSchema(ctx, kindItemType, []string{key}, changedBy, func(tx store.Store) ([]string, error) {
		return []string{key}, tx.DeleteItemType(ctx, key)
	})
}

// DeleteLinkType fails with ErrConflict while links or rules reference the
// type.
func (s *Service) DeleteLinkType(ctx context.Context, key, changedBy string) (model.Result, error) {
	return s.deleteSchema(ctx, kindLinkType, []string{key}, changedBy, func(tx store.Store) ([]string, error) {
		return []string{key}, tx.DeleteLinkType(ctx, key)
	})
}

func (s *Service) DeleteLinkRule(ctx context.Context, key, changedBy string) (model.Result, error) {
	return s.deleteSchema(ctx, kindLinkRule, []string{key}, changedBy, func(tx store.Store) ([]string, error) {
		return []string{key}, tx.DeleteLinkRule(ctx, key)
	})
}

// DeleteItemTypes deletes every item type in one transaction. It fails with
// ErrConflict, deleting nothing, if any type is still referenced. The result
// is NoAction when there was nothing to delete.
func (s *Service) DeleteItemTypes(ctx context.Context, changedBy string) (model.Result, error) {
	return s.deleteSchema(ctx, kindItemType, nil, changedBy, func(tx store.Store) ([]string, error) {
		types, err := tx.ListItemTypes(ctx)
		if err != nil {
			return nil, err
		}
		keys := make([]string, 0, len(types))
		for _, t := range types {
			if err := tx.DeleteItemType(ctx, t.Key); err != nil {
				return nil, err
			}
			keys = append(keys, t.Key)
		}
		return keys, nil
	})
}

// DeleteLinkTypes deletes every link type in one transaction.
func (s *Service) DeleteLinkTypes(ctx context.Context, changedBy string) (model.Result, error) {
	return s.deleteSchema(ctx, kindLinkType, nil, changedBy, func(tx store.Store) ([]string, error) {
		types, err := tx.ListLinkTypes(ctx)
		if err != nil {
			return nil, err
		}
		keys := make([]string, 0, len(types))
		for _, t := range types {
			if err := tx.DeleteLinkType(ctx, t.Key); err != nil {
				return nil, err
			}
			keys = append(keys, t.Key)
		}
		return keys, nil
	})
}

// DeleteLinkRules deletes every link rule in one transaction.
func (s *Service) DeleteLinkRules(ctx context.Context, changedBy string) (model.Result, error) {
	return s.deleteSchema(ctx, kindLinkRule, nil, changedBy, func(tx store.Store) ([]string, error) {
		rules, err := tx.ListLinkRules(ctx, "")
		if err != nil {
			return nil, err
		}
		keys := make([]string, 0, len(rules))
		for _, r := range rules {
			if err := tx.DeleteLinkRule(ctx, r.Key); err != nil {
				return nil, err
			}
			keys = append(keys, r.Key)
		}
		return keys, nil
	})
}

var schemaDeletedTopics = map[string]string{
	kindItemType: events.TopicItemTypeDeleted,
	kindLinkType: events.TopicLinkTypeDeleted,
	kindLinkRule: events.TopicLinkRuleDeleted,
}

// deleteSchema runs del in a transaction, locking lockKeys if given, and
// publishes a deletion event per key it reports.
func (s *Service) deleteSchema(ctx context.Context, kind string, lockKeys []string, changedBy string, del func(tx store.Store) ([]string, error)) (model.Result, error) {
	var set lockSet
	for _, k := range lockKeys {
		set.schema = append(set.schema, kind+":"+k)
	}
	defer s.locks.lock(set)()

	var deleted []string
	err := s.run(ctx, changedBy, func(m *mutation) error {
		keys, err := del(m.tx)
		if err != nil {
			return err
		}
		deleted = keys
		for _, k := range keys {
			m.emit(schemaDeletedTopics[kind], events.SchemaChanged{Kind: kind, Key: k, Outcome: model.OutcomeDeleted, ChangedBy: changedBy})
		}
		return nil
	})
	if err != nil {
		return model.Result{}, err
	}
	if len(deleted) == 0 {
		return model.Result{Outcome: model.OutcomeNoAction}, nil
	}
	s.logger.Info("schema deleted", "kind", kind, "count", len(deleted))
	return model.Result{Outcome: model.OutcomeDeleted}, nil
}

// ValidateAttributes checks attrs against the rules of an item type. A nil
// slice means the attributes are valid.
func (s *Service) ValidateAttributes(ctx context.Context, itemTypeKey string, attrs map[string]string) ([]model.FieldError, error) {
	t, err := s.store.GetItemType(ctx, itemTypeKey)
	if err != nil {
		return nil, err
	}
	err = model.ValidateAttributes(attrs, t.AttributeValidation)
	var ve *model.ValidationError
	if errors.As(err, &ve) {
		return ve.Errors, nil
	}
	return nil, err
}

// IsLinkAllowed reports whether some rule permits links of linkTypeKey from
// items of startItemTypeKey to items of endItemTypeKey.
func (s *Service) IsLinkAllowed(ctx context.Context, startItemTypeKey, linkTypeKey, endItemTypeKey string) (bool, error) {
	rules, err := matchingRules(ctx, s.store, startItemTypeKey, linkTypeKey, endItemTypeKey)
	if err != nil {
		return false, err
	}
	return len(rules) > 0, nil
}

func matchingRules(ctx context.Context, st store.Store, startItemTypeKey, linkTypeKey, endItemTypeKey string) ([]*model.LinkRule, error) {
	rules, err := st.ListLinkRules(ctx, linkTypeKey)
	if err != nil {
		return nil, err
	}
	var out []*model.LinkRule
	for _, r := range rules {
		if r.Matches(startItemTypeKey, linkTypeKey, endItemTypeKey) {
			out = append(out, r)
		}
	}
	return out, nil
}
