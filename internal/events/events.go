package events

import (
	"context"
	"time"

	"github.com/alfredjeanlab/onix/internal/model"
)

// Topics. Item and link topics match model.AuditRecord.Topic.
const (
	TopicAll = "onix.>"

	TopicItemCreated = "onix.item.created"
	TopicItemUpdated = "onix.item.updated"
	TopicItemDeleted = "onix.item.deleted"

	TopicLinkCreated = "onix.link.created"
	TopicLinkUpdated = "onix.link.updated"
	TopicLinkDeleted = "onix.link.deleted"

	// Schema events
	TopicItemTypeDefined = "onix.itemtype.defined"
	TopicItemTypeDeleted = "onix.itemtype.deleted"
	TopicLinkTypeDefined = "onix.linktype.defined"
	TopicLinkTypeDeleted = "onix.linktype.deleted"
	TopicLinkRuleDefined = "onix.linkrule.defined"
	TopicLinkRuleDeleted = "onix.linkrule.deleted"

	TopicCleared = "onix.admin.cleared"
)

// Change is published for every audit record, after the mutation commits.
type Change struct {
	Record *model.AuditRecord `json:"record"`
}

// SchemaChanged is published when a type or rule is defined or deleted.
type SchemaChanged struct {
	Kind      string        `json:"kind"` // "itemtype", "linktype" or "linkrule"
	Key       string        `json:"key"`
	Outcome   model.Outcome `json:"result"`
	Version   int64         `json:"version,omitempty"`
	ChangedBy string        `json:"changed_by,omitempty"`
}

type Cleared struct {
	ChangedBy string    `json:"changed_by,omitempty"`
	At        time.Time `json:"at"`
}

// Publisher is the interface for emitting events.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}
