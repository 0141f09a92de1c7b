package cmdb

import (
	"context"
	"errors"
	"fmt"

	"github.com/alfredjeanlab/onix/internal/model"
	"github.com/alfredjeanlab/onix/internal/store"
)

// PutLink creates the link if key is new, otherwise merges in into it.
//
// On create the link type and both endpoint items must exist, and a link
// rule must permit the triple without exceeding its cardinality. On update
// the link type and endpoints cannot change.
func (s *Service) PutLink(ctx context.Context, key string, in model.LinkInput, expectedVersion *int64, changedBy string) (model.Result, error) {
	if err := model.ValidateKey("key", key); err != nil {
		return model.Result{}, err
	}
	// Holding the endpoint items keeps cardinality checks and cascading
	// deletes from racing with the create.
	defer s.locks.lock(lockSet{
		items: []string{in.StartItemKey, in.EndItemKey},
		links: []string{key},
	})()

	var res model.Result
	err := s.run(ctx, changedBy, func(m *mutation) error {
		cur, err := m.tx.GetLink(ctx, key)
		switch {
		case errors.Is(err, model.ErrNotFound):
			res, err = createLink(ctx, m, key, in)
		case err != nil:
		default:
			res, err = updateLink(ctx, m, cur, in, expectedVersion)
		}
		return err
	})
	if err != nil {
		return model.Result{}, err
	}
	if res.Outcome != model.OutcomeNoAction {
		s.logger.Debug("link written", "key", key, "result", res.Outcome.String(), "version", res.Version)
	}
	return res, nil
}

// requireLinkKeys reports which of a link's identifying keys are missing.
func requireLinkKeys(linkType, start, end string) error {
	var ve model.ValidationError
	for _, f := range []struct{ field, val string }{
		{"link_type_key", linkType},
		{"start_item_key", start},
		{"end_item_key", end},
	} {
		if f.val == "" {
			ve.Errors = append(ve.Errors, model.FieldError{Field: f.field, Message: "is required"})
		}
	}
	if ve.HasErrors() {
		return &ve
	}
	return nil
}

func createLink(ctx context.Context, m *mutation, key string, in model.LinkInput) (model.Result, error) {
	if err := requireLinkKeys(in.LinkTypeKey, in.StartItemKey, in.EndItemKey); err != nil {
		return model.Result{}, err
	}

	if _, err := m.tx.GetLinkType(ctx, in.LinkTypeKey); err != nil {
		return model.Result{}, fmt.Errorf("link %q: %w", key, err)
	}
	start, err := m.tx.GetItem(ctx, in.StartItemKey)
	if err != nil {
		return model.Result{}, fmt.Errorf("link %q start: %w", key, err)
	}
	end, err := m.tx.GetItem(ctx, in.EndItemKey)
	if err != nil {
		return model.Result{}, fmt.Errorf("link %q end: %w", key, err)
	}

	l := model.NewLink(key, in)
	if err := checkLinkRules(ctx, m.tx, l, start.ItemTypeKey, end.ItemTypeKey); err != nil {
		return model.Result{}, err
	}
	l.CreatedAt, l.UpdatedAt, l.ChangedBy = m.at, m.at, m.changedBy
	if err := m.tx.CreateLink(ctx, l); err != nil {
		return model.Result{}, err
	}
	if err := m.audit(ctx, model.EntityLink, key, model.ChangeCreated, l); err != nil {
		return model.Result{}, err
	}
	return model.Result{Outcome: model.OutcomeInserted, Version: l.Version}, nil
}

func updateLink(ctx context.Context, m *mutation, cur *model.Link, in model.LinkInput, expectedVersion *int64) (model.Result, error) {
	if err := cur.CheckIdentity(in); err != nil {
		return model.Result{}, err
	}
	if err := checkVersion("link", cur.Key, cur.Version, expectedVersion); err != nil {
		return model.Result{}, err
	}
	next, changed := cur.Merge(in)
	if !changed {
		return model.Result{Outcome: model.OutcomeNoAction, Version: cur.Version}, nil
	}
	next.Version = cur.Version + 1
	next.UpdatedAt, next.ChangedBy = m.at, m.changedBy
	if err := m.tx.UpdateLink(ctx, next, cur.Version); err != nil {
		return model.Result{}, err
	}
	if err := m.audit(ctx, model.EntityLink, next.Key, model.ChangeUpdated, next); err != nil {
		return model.Result{}, err
	}
	return model.Result{Outcome: model.OutcomeUpdated, Version: next.Version}, nil
}

// checkLinkRules fails with ErrRuleViolation unless some rule matching the
// triple still has room for l under its cardinality.
func checkLinkRules(ctx context.Context, tx store.Store, l *model.Link, startType, endType string) error {
	rules, err := matchingRules(ctx, tx, startType, l.LinkTypeKey, endType)
	if err != nil {
		return err
	}
	if len(rules) == 0 {
		return fmt.Errorf("no rule permits %s -[%s]-> %s: %w", startType, l.LinkTypeKey, endType, model.ErrRuleViolation)
	}

	outgoing, err := countLinks(ctx, tx, l.StartItemKey, func(x *model.Link) bool {
		return x.LinkTypeKey == l.LinkTypeKey && x.StartItemKey == l.StartItemKey
	})
	if err != nil {
		return err
	}
	incoming, err := countLinks(ctx, tx, l.EndItemKey, func(x *model.Link) bool {
		return x.LinkTypeKey == l.LinkTypeKey && x.EndItemKey == l.EndItemKey
	})
	if err != nil {
		return err
	}

	for _, r := range rules {
		if r.Cardinality.SingleEnd() && outgoing > 0 {
			continue
		}
		if r.Cardinality.SingleStart() && incoming > 0 {
			continue
		}
		return nil
	}
	return fmt.Errorf("link %q exceeds the %s cardinality of rule %q (item %q has %d outgoing, item %q has %d incoming %q links): %w",
		l.Key, rules[0].Cardinality, rules[0].Key, l.StartItemKey, outgoing, l.EndItemKey, incoming, l.LinkTypeKey, model.ErrRuleViolation)
}

func countLinks(ctx context.Context, tx store.Store, itemKey string, match func(*model.Link) bool) (int, error) {
	links, err := tx.ListIncidentLinks(ctx, itemKey)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, x := range links {
		if match(x) {
			n++
		}
	}
	return n, nil
}

func (s *Service) GetLink(ctx context.Context, key string) (*model.Link, error) {
	return s.store.GetLink(ctx, key)
}

// DeleteLink deletes a single link. Its endpoints are untouched.
func (s *Service) DeleteLink(ctx context.Context, key, changedBy string) (model.Result, error) {
	defer s.locks.lock(lockSet{links: []string{key}})()

	err := s.run(ctx, changedBy, func(m *mutation) error {
		l, err := m.tx.GetLink(ctx, key)
		if err != nil {
			return err
		}
		if err := m.tx.DeleteLink(ctx, key); err != nil {
			return err
		}
		return m.audit(ctx, model.EntityLink, key, model.ChangeDeleted, l)
	})
	if err != nil {
		return model.Result{}, err
	}
	s.logger.Debug("link deleted", "key", key)
	return model.Result{Outcome: model.OutcomeDeleted}, nil
}
