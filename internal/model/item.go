package model

import (
	"encoding/json"
	"time"
)

// Item is a typed node in the configuration graph.
type Item struct {
	Key         string            `json:"key"`
	Name        string            `json:"name,omitempty"`
	Description string            `json:"description,omitempty"`
	ItemTypeKey string            `json:"item_type_key"`
	Status      int16             `json:"status"`
	Tags        []string          `json:"tags,omitempty"`
	Meta        json.RawMessage   `json:"meta,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	Version     int64             `json:"version"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	ChangedBy   string            `json:"changed_by,omitempty"`

	// Links holds the incident links in both directions. Only populated by
	// single-item reads.
	Links []*Link `json:"links,omitempty"`
}

// ItemInput carries the caller-supplied fields of an item write. Nil fields
// are left unchanged on update; a non-nil empty slice or map clears the field.
type ItemInput struct {
	Name        *string           `json:"name,omitempty"`
	Description *string           `json:"description,omitempty"`
	ItemTypeKey *string           `json:"item_type_key,omitempty"`
	Status      *int16            `json:"status,omitempty"`
	Tags        []string          `json:"tags,omitempty"`
	Meta        json.RawMessage   `json:"meta,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// Clone returns a deep copy of the item.
func (it *Item) Clone() *Item {
	if it == nil {
		return nil
	}
	c := *it
	c.Tags = cloneStrings(it.Tags)
	c.Meta = cloneRaw(it.Meta)
	c.Attributes = cloneAttributes(it.Attributes)
	if it.Links != nil {
		c.Links = make([]*Link, len(it.Links))
		for i, l := range it.Links {
			c.Links[i] = l.Clone()
		}
	}
	return &c
}

// Merge applies the non-nil fields of in to a copy of it and reports whether
// anything changed. Version, timestamps and ChangedBy are left to the caller.
func (it *Item) Merge(in ItemInput) (*Item, bool) {
	next := it.Clone()
	next.Links = nil
	if in.Name != nil {
		next.Name = *in.Name
	}
	if in.Description != nil {
		next.Description = *in.Description
	}
	if in.ItemTypeKey != nil {
		next.ItemTypeKey = *in.ItemTypeKey
	}
	if in.Status != nil {
		next.Status = *in.Status
	}
	if in.Tags != nil {
		next.Tags = NormalizeTags(in.Tags)
	}
	if in.Meta != nil {
		next.Meta = cloneRaw(in.Meta)
	}
	if in.Attributes != nil {
		next.Attributes = cloneAttributes(in.Attributes)
	}
	changed := next.Name != it.Name ||
		next.Description != it.Description ||
		next.ItemTypeKey != it.ItemTypeKey ||
		next.Status != it.Status ||
		!SameTags(next.Tags, it.Tags) ||
		!SameMeta(next.Meta, it.Meta) ||
		!SameAttributes(next.Attributes, it.Attributes)
	return next, changed
}

// NewItem builds a version-1 item from an input. ItemTypeKey must be set.
func NewItem(key string, in ItemInput) *Item {
	it := &Item{Key: key}
	if in.Name != nil {
		it.Name = *in.Name
	}
	if in.Description != nil {
		it.Description = *in.Description
	}
	if in.ItemTypeKey != nil {
		it.ItemTypeKey = *in.ItemTypeKey
	}
	if in.Status != nil {
		it.Status = *in.Status
	}
	it.Tags = NormalizeTags(in.Tags)
	it.Meta = cloneRaw(in.Meta)
	it.Attributes = cloneAttributes(in.Attributes)
	it.Version = 1
	return it
}
