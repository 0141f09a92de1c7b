package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Link is a typed, directed edge between two items.
type Link struct {
	Key          string            `json:"key"`
	LinkTypeKey  string            `json:"link_type_key"`
	StartItemKey string            `json:"start_item_key"`
	EndItemKey   string            `json:"end_item_key"`
	Description  string            `json:"description,omitempty"`
	Tags         []string          `json:"tags,omitempty"`
	Meta         json.RawMessage   `json:"meta,omitempty"`
	Attributes   map[string]string `json:"attributes,omitempty"`
	Version      int64             `json:"version"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	ChangedBy    string            `json:"changed_by,omitempty"`
}

// LinkInput carries the caller-supplied fields of a link write. LinkTypeKey
// and the endpoints are required on create and immutable afterwards.
type LinkInput struct {
	LinkTypeKey  string            `json:"link_type_key,omitempty"`
	StartItemKey string            `json:"start_item_key,omitempty"`
	EndItemKey   string            `json:"end_item_key,omitempty"`
	Description  *string           `json:"description,omitempty"`
	Tags         []string          `json:"tags,omitempty"`
	Meta         json.RawMessage   `json:"meta,omitempty"`
	Attributes   map[string]string `json:"attributes,omitempty"`
}

// Clone returns a deep copy of the link.
func (l *Link) Clone() *Link {
	if l == nil {
		return nil
	}
	c := *l
	c.Tags = cloneStrings(l.Tags)
	c.Meta = cloneRaw(l.Meta)
	c.Attributes = cloneAttributes(l.Attributes)
	return &c
}

// CheckIdentity returns an error wrapping ErrInvalidArgument when in tries to
// change the link type or either endpoint. Empty input fields are ignored.
func (l *Link) CheckIdentity(in LinkInput) error {
	var ve ValidationError
	if in.LinkTypeKey != "" && in.LinkTypeKey != l.LinkTypeKey {
		ve.Errors = append(ve.Errors, FieldError{Field: "link_type_key", Message: fmt.Sprintf("cannot change from %q", l.LinkTypeKey)})
	}
	if in.StartItemKey != "" && in.StartItemKey != l.StartItemKey {
		ve.Errors = append(ve.Errors, FieldError{Field: "start_item_key", Message: fmt.Sprintf("cannot change from %q", l.StartItemKey)})
	}
	if in.EndItemKey != "" && in.EndItemKey != l.EndItemKey {
		ve.Errors = append(ve.Errors, FieldError{Field: "end_item_key", Message: fmt.Sprintf("cannot change from %q", l.EndItemKey)})
	}
	if ve.HasErrors() {
		return &ve
	}
	return nil
}

// Merge applies the mutable fields of in to a copy of l and reports whether
// anything changed.
func (l *Link) Merge(in LinkInput) (*Link, bool) {
	next := l.Clone()
	if in.Description != nil {
		next.Description = *in.Description
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
	changed := next.Description != l.Description ||
		!SameTags(next.Tags, l.Tags) ||
		!SameMeta(next.Meta, l.Meta) ||
		!SameAttributes(next.Attributes, l.Attributes)
	return next, changed
}

// NewLink builds a version-1 link from an input.
func NewLink(key string, in LinkInput) *Link {
	l := &Link{
		Key:          key,
		LinkTypeKey:  in.LinkTypeKey,
		StartItemKey: in.StartItemKey,
		EndItemKey:   in.EndItemKey,
		Tags:         NormalizeTags(in.Tags),
		Meta:         cloneRaw(in.Meta),
		Attributes:   cloneAttributes(in.Attributes),
		Version:      1,
	}
	if in.Description != nil {
		l.Description = *in.Description
	}
	return l
}
