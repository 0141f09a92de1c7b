package cmdb

import (
	"context"
	"fmt"

	"github.com/alfredjeanlab/onix/internal/model"
)

// FindAudit returns audit records, newest first. Records sharing a
// timestamp, such as those of one cascading delete, come in descending id
// order.
func (s *Service) FindAudit(ctx context.Context, filter model.AuditFilter) ([]*model.AuditRecord, error) {
	if filter.EntityKind != "" && !filter.EntityKind.IsValid() {
		return nil, fmt.Errorf("entity kind %q: %w", filter.EntityKind, model.ErrInvalidArgument)
	}
	if filter.ChangeType != "" && !filter.ChangeType.IsValid() {
		return nil, fmt.Errorf("change type %q: %w", filter.ChangeType, model.ErrInvalidArgument)
	}
	filter.Top = model.EffectiveTop(filter.Top)
	recs, err := s.store.ListAudit(ctx, filter)
	if err != nil {
		return nil, err
	}
	if recs == nil {
		recs = []*model.AuditRecord{}
	}
	return recs, nil
}
