package cmdb

import (
	"context"
	"fmt"

	"github.com/alfredjeanlab/onix/internal/model"
	"github.com/alfredjeanlab/onix/internal/store"
)

// The checks below hold entities loaded in bulk, such as a restored snapshot,
// to the rules a Service enforces on writes. Each reads through tx, so
// entities loaded earlier in the same transaction count.

// CheckItemType validates an item type's key and attribute schema.
func CheckItemType(t *model.ItemType) error {
	if err := model.ValidateKey("key", t.Key); err != nil {
		return err
	}
	return model.ValidateRules(t.AttributeValidation)
}

func CheckLinkType(t *model.LinkType) error {
	return model.ValidateKey("key", t.Key)
}

// CheckLinkRule validates r and resolves the types it names.
func CheckLinkRule(ctx context.Context, tx store.Store, r *model.LinkRule) error {
	if err := model.ValidateKey("key", r.Key); err != nil {
		return err
	}
	return checkRule(ctx, tx, r)
}

// CheckItem validates the item's key and its attributes against its type.
func CheckItem(ctx context.Context, tx store.Store, it *model.Item) error {
	if err := model.ValidateKey("key", it.Key); err != nil {
		return err
	}
	if it.ItemTypeKey == "" {
		return &model.ValidationError{Errors: []model.FieldError{{Field: "item_type_key", Message: "is required"}}}
	}
	return validateItem(ctx, tx, it)
}

// CheckLink fails with ErrRuleViolation unless a rule permits l between its
// endpoints with room under the rule's cardinality. Both endpoints and the
// link type must already be in tx.
func CheckLink(ctx context.Context, tx store.Store, l *model.Link) error {
	if err := model.ValidateKey("key", l.Key); err != nil {
		return err
	}
	if err := requireLinkKeys(l.LinkTypeKey, l.StartItemKey, l.EndItemKey); err != nil {
		return err
	}
	if _, err := tx.GetLinkType(ctx, l.LinkTypeKey); err != nil {
		return fmt.Errorf("link %q: %w", l.Key, err)
	}
	start, end, err := endpointTypes(ctx, tx, l, nil)
	if err != nil {
		return fmt.Errorf("link %q: %w", l.Key, err)
	}
	return checkLinkRules(ctx, tx, l, start, end)
}
