package cmdb

import (
	"context"

	"github.com/alfredjeanlab/onix/internal/model"
)

// Page is one bounded page of query results. Total counts every match,
// ignoring Top.
type Page[T any] struct {
	Results []T `json:"results"`
	Total   int `json:"total"`
	Top     int `json:"top"`
}

// FindItems returns items matching every set field of filter, most recently
// updated first. Tags match when the item carries all of them. Date bounds
// are inclusive whole days.
func (s *Service) FindItems(ctx context.Context, filter model.ItemFilter) (Page[*model.Item], error) {
	filter.Top = model.EffectiveTop(filter.Top)
	filter.Tags = model.NormalizeTags(filter.Tags)
	items, total, err := s.store.ListItems(ctx, filter)
	if err != nil {
		return Page[*model.Item]{}, err
	}
	if items == nil {
		items = []*model.Item{}
	}
	return Page[*model.Item]{Results: items, Total: total, Top: filter.Top}, nil
}

// FindLinks is FindItems for links.
func (s *Service) FindLinks(ctx context.Context, filter model.LinkFilter) (Page[*model.Link], error) {
	filter.Top = model.EffectiveTop(filter.Top)
	filter.Tags = model.NormalizeTags(filter.Tags)
	links, total, err := s.store.ListLinks(ctx, filter)
	if err != nil {
		return Page[*model.Link]{}, err
	}
	if links == nil {
		links = []*model.Link{}
	}
	return Page[*model.Link]{Results: links, Total: total, Top: filter.Top}, nil
}

// IncidentLinks returns every link starting or ending at itemKey, by key.
func (s *Service) IncidentLinks(ctx context.Context, itemKey string) ([]*model.Link, error) {
	if _, err := s.store.GetItem(ctx, itemKey); err != nil {
		return nil, err
	}
	return s.store.ListIncidentLinks(ctx, itemKey)
}
