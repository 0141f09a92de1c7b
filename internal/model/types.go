package model

import (
	"maps"
	"slices"
	"time"
)

// AttributeRule constrains a single item attribute. A zero rule accepts any
// value, including absence.
type AttributeRule struct {
	Required      bool     `json:"required,omitempty" yaml:"required,omitempty"`
	Pattern       string   `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	AllowedValues []string `json:"allowed_values,omitempty" yaml:"allowed_values,omitempty"`
}

func (r AttributeRule) equal(o AttributeRule) bool {
	return r.Required == o.Required && r.Pattern == o.Pattern && slices.Equal(r.AllowedValues, o.AllowedValues)
}

// ItemType is the schema for a class of items.
type ItemType struct {
	Key                 string                   `json:"key"`
	Name                string                   `json:"name,omitempty"`
	Description         string                   `json:"description,omitempty"`
	AttributeValidation map[string]AttributeRule `json:"attribute_validation,omitempty"`
	Version             int64                    `json:"version"`
	CreatedAt           time.Time                `json:"created_at"`
	UpdatedAt           time.Time                `json:"updated_at"`
	ChangedBy           string                   `json:"changed_by,omitempty"`
}

// ItemTypeInput carries the caller-supplied fields of an item type write.
type ItemTypeInput struct {
	Name                *string                  `json:"name,omitempty" yaml:"name,omitempty"`
	Description         *string                  `json:"description,omitempty" yaml:"description,omitempty"`
	AttributeValidation map[string]AttributeRule `json:"attribute_validation,omitempty" yaml:"attribute_validation,omitempty"`
}

// Clone returns a deep copy of the item type.
func (t *ItemType) Clone() *ItemType {
	if t == nil {
		return nil
	}
	c := *t
	c.AttributeValidation = cloneRules(t.AttributeValidation)
	return &c
}

func cloneRules(rules map[string]AttributeRule) map[string]AttributeRule {
	if rules == nil {
		return nil
	}
	out := make(map[string]AttributeRule, len(rules))
	for k, r := range rules {
		r.AllowedValues = cloneStrings(r.AllowedValues)
		out[k] = r
	}
	return out
}

// Merge applies in to a copy of t and reports whether anything changed.
func (t *ItemType) Merge(in ItemTypeInput) (*ItemType, bool) {
	next := t.Clone()
	if in.Name != nil {
		next.Name = *in.Name
	}
	if in.Description != nil {
		next.Description = *in.Description
	}
	if in.AttributeValidation != nil {
		next.AttributeValidation = cloneRules(in.AttributeValidation)
	}
	changed := next.Name != t.Name ||
		next.Description != t.Description ||
		!maps.EqualFunc(next.AttributeValidation, t.AttributeValidation, AttributeRule.equal)
	return next, changed
}

// LinkType is the schema for a class of links.
type LinkType struct {
	Key         string    `json:"key"`
	Name        string    `json:"name,omitempty"`
	Description string    `json:"description,omitempty"`
	Version     int64     `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	ChangedBy   string    `json:"changed_by,omitempty"`
}

// LinkTypeInput carries the caller-supplied fields of a link type write.
type LinkTypeInput struct {
	Name        *string `json:"name,omitempty" yaml:"name,omitempty"`
	Description *string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Clone returns a copy of the link type.
func (t *LinkType) Clone() *LinkType {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// Merge applies in to a copy of t and reports whether anything changed.
func (t *LinkType) Merge(in LinkTypeInput) (*LinkType, bool) {
	next := t.Clone()
	if in.Name != nil {
		next.Name = *in.Name
	}
	if in.Description != nil {
		next.Description = *in.Description
	}
	return next, next.Name != t.Name || next.Description != t.Description
}

// Cardinality limits how many links of a rule's type an item may take part in.
type Cardinality string

const (
	CardinalityManyToMany Cardinality = "many-to-many"
	CardinalityOneToMany  Cardinality = "one-to-many"
	CardinalityManyToOne  Cardinality = "many-to-one"
	CardinalityOneToOne   Cardinality = "one-to-one"
)

// String returns the string representation of the cardinality.
func (c Cardinality) String() string {
	return string(c)
}

// IsValid reports whether c is a known cardinality. The empty value means
// many-to-many.
func (c Cardinality) IsValid() bool {
	switch c {
	case "", CardinalityManyToMany, CardinalityOneToMany, CardinalityManyToOne, CardinalityOneToOne:
		return true
	}
	return false
}

// SingleStart reports whether an end item may have at most one incoming link.
func (c Cardinality) SingleStart() bool {
	return c == CardinalityOneToMany || c == CardinalityOneToOne
}

// SingleEnd reports whether a start item may have at most one outgoing link.
func (c Cardinality) SingleEnd() bool {
	return c == CardinalityManyToOne || c == CardinalityOneToOne
}

// LinkRule permits links of LinkTypeKey from items of StartItemTypeKey to
// items of EndItemTypeKey.
type LinkRule struct {
	Key              string      `json:"key"`
	LinkTypeKey      string      `json:"link_type_key"`
	StartItemTypeKey string      `json:"start_item_type_key"`
	EndItemTypeKey   string      `json:"end_item_type_key"`
	Cardinality      Cardinality `json:"cardinality,omitempty"`
	Version          int64       `json:"version"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
	ChangedBy        string      `json:"changed_by,omitempty"`
}

// LinkRuleInput carries the caller-supplied fields of a link rule write.
type LinkRuleInput struct {
	LinkTypeKey      *string      `json:"link_type_key,omitempty" yaml:"link_type,omitempty"`
	StartItemTypeKey *string      `json:"start_item_type_key,omitempty" yaml:"start,omitempty"`
	EndItemTypeKey   *string      `json:"end_item_type_key,omitempty" yaml:"end,omitempty"`
	Cardinality      *Cardinality `json:"cardinality,omitempty" yaml:"cardinality,omitempty"`
}

// Clone returns a copy of the rule.
func (r *LinkRule) Clone() *LinkRule {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

// Matches reports whether the rule permits the given triple.
func (r *LinkRule) Matches(startItemTypeKey, linkTypeKey, endItemTypeKey string) bool {
	return r.LinkTypeKey == linkTypeKey && r.StartItemTypeKey == startItemTypeKey && r.EndItemTypeKey == endItemTypeKey
}

// Merge applies in to a copy of r and reports whether anything changed.
func (r *LinkRule) Merge(in LinkRuleInput) (*LinkRule, bool) {
	next := r.Clone()
	if in.LinkTypeKey != nil {
		next.LinkTypeKey = *in.LinkTypeKey
	}
	if in.StartItemTypeKey != nil {
		next.StartItemTypeKey = *in.StartItemTypeKey
	}
	if in.EndItemTypeKey != nil {
		next.EndItemTypeKey = *in.EndItemTypeKey
	}
	if in.Cardinality != nil {
		next.Cardinality = *in.Cardinality
	}
	changed := next.LinkTypeKey != r.LinkTypeKey ||
		next.StartItemTypeKey != r.StartItemTypeKey ||
		next.EndItemTypeKey != r.EndItemTypeKey ||
		next.Cardinality != r.Cardinality
	return next, changed
}
