package model

import (
	"encoding/json"
	"time"
)

// EntityKind identifies what an audit record describes.
type EntityKind string

const (
	EntityItem EntityKind = "item"
	EntityLink EntityKind = "link"
)

// String returns the string representation of the entity kind.
func (k EntityKind) String() string {
	return string(k)
}

// IsValid checks whether the entity kind is a known value.
func (k EntityKind) IsValid() bool {
	switch k {
	case EntityItem, EntityLink:
		return true
	}
	return false
}

// ChangeType is the kind of mutation an audit record captures.
type ChangeType string

const (
	ChangeCreated ChangeType = "created"
	ChangeUpdated ChangeType = "updated"
	ChangeDeleted ChangeType = "deleted"
)

// String returns the string representation of the change type.
func (c ChangeType) String() string {
	return string(c)
}

// IsValid checks whether the change type is a known value.
func (c ChangeType) IsValid() bool {
	switch c {
	case ChangeCreated, ChangeUpdated, ChangeDeleted:
		return true
	}
	return false
}

// AuditRecord is an immutable entry in the change log. Snapshot holds the
// entity state after the change, or the last known state for deletes.
type AuditRecord struct {
	ID         int64           `json:"id"`
	EntityKind EntityKind      `json:"entity_kind"`
	EntityKey  string          `json:"entity_key"`
	ChangeType ChangeType      `json:"change_type"`
	Snapshot   json.RawMessage `json:"snapshot"`
	ChangedBy  string          `json:"changed_by,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// Topic returns the event subject for the record, e.g. "onix.item.created".
func (r *AuditRecord) Topic() string {
	return "onix." + string(r.EntityKind) + "." + string(r.ChangeType)
}
