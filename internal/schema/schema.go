// Package schema reads and writes YAML manifests of item types, link types
// and link rules, so a graph's schema can be kept in version control and
// applied declaratively.
package schema

import (
	"context"
	"fmt"
	"maps"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/alfredjeanlab/onix/internal/model"
)

// ManifestVersion is the only manifest format understood.
const ManifestVersion = "1"

// Manifest is the YAML document. Maps are keyed by entity key.
type Manifest struct {
	Version   string                         `yaml:"version"`
	ItemTypes map[string]model.ItemTypeInput `yaml:"item_types,omitempty"`
	LinkTypes map[string]model.LinkTypeInput `yaml:"link_types,omitempty"`
	LinkRules map[string]model.LinkRuleInput `yaml:"link_rules,omitempty"`
}

// Registry is the subset of the engine a manifest is applied to.
type Registry interface {
	DefineItemType(ctx context.Context, key string, in model.ItemTypeInput, expectedVersion *int64, changedBy string) (model.Result, error)
	DefineLinkType(ctx context.Context, key string, in model.LinkTypeInput, expectedVersion *int64, changedBy string) (model.Result, error)
	DefineLinkRule(ctx context.Context, key string, in model.LinkRuleInput, expectedVersion *int64, changedBy string) (model.Result, error)
	ListItemTypes(ctx context.Context) ([]*model.ItemType, error)
	ListLinkTypes(ctx context.Context) ([]*model.LinkType, error)
	ListLinkRules(ctx context.Context, linkTypeKey string) ([]*model.LinkRule, error)
}

// Entry is the outcome of applying one manifest entry.
type Entry struct {
	Kind    string        `json:"kind"`
	Key     string        `json:"key"`
	Outcome model.Outcome `json:"result"`
	Version int64         `json:"version"`
}

// Load reads a manifest from path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return Parse(data)
}

// Parse decodes and checks a manifest.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks the manifest without consulting a registry. Rules must
// name their link type and both item types.
func (m *Manifest) Validate() error {
	var ve model.ValidationError
	if m.Version != "" && m.Version != ManifestVersion {
		ve.Errors = append(ve.Errors, model.FieldError{Field: "version", Message: fmt.Sprintf("unsupported version %q", m.Version)})
	}
	for _, key := range slices.Sorted(maps.Keys(m.ItemTypes)) {
		if err := model.ValidateRules(m.ItemTypes[key].AttributeValidation); err != nil {
			ve.Errors = append(ve.Errors, model.FieldError{Field: "item_types." + key, Message: err.Error()})
		}
	}
	for _, key := range slices.Sorted(maps.Keys(m.LinkRules)) {
		r := m.LinkRules[key]
		field := "link_rules." + key
		if r.LinkTypeKey == nil || *r.LinkTypeKey == "" {
			ve.Errors = append(ve.Errors, model.FieldError{Field: field + ".link_type", Message: "is required"})
		}
		if r.StartItemTypeKey == nil || *r.StartItemTypeKey == "" {
			ve.Errors = append(ve.Errors, model.FieldError{Field: field + ".start", Message: "is required"})
		}
		if r.EndItemTypeKey == nil || *r.EndItemTypeKey == "" {
			ve.Errors = append(ve.Errors, model.FieldError{Field: field + ".end", Message: "is required"})
		}
		if r.Cardinality != nil && !r.Cardinality.IsValid() {
			ve.Errors = append(ve.Errors, model.FieldError{Field: field + ".cardinality", Message: fmt.Sprintf("unknown cardinality %q", *r.Cardinality)})
		}
	}
	if ve.HasErrors() {
		return &ve
	}
	return nil
}

// Apply defines every entry of m in reg: item types, then link types, then
// rules, each in key order. Existing entities are updated in place and
// unchanged ones report NoAction. Apply stops at the first failure and
// returns the entries applied so far.
func Apply(ctx context.Context, reg Registry, m *Manifest, changedBy string) ([]Entry, error) {
	var out []Entry
	record := func(kind, key string, res model.Result, err error) error {
		if err != nil {
			return fmt.Errorf("%s %q: %w", kind, key, err)
		}
		out = append(out, Entry{Kind: kind, Key: key, Outcome: res.Outcome, Version: res.Version})
		return nil
	}

	for _, key := range slices.Sorted(maps.Keys(m.ItemTypes)) {
		res, err := reg.DefineItemType(ctx, key, m.ItemTypes[key], nil, changedBy)
		if err := record("item_type", key, res, err); err != nil {
			return out, err
		}
	}
	for _, key := range slices.Sorted(maps.Keys(m.LinkTypes)) {
		res, err := reg.DefineLinkType(ctx, key, m.LinkTypes[key], nil, changedBy)
		if err := record("link_type", key, res, err); err != nil {
			return out, err
		}
	}
	for _, key := range slices.Sorted(maps.Keys(m.LinkRules)) {
		res, err := reg.DefineLinkRule(ctx, key, m.LinkRules[key], nil, changedBy)
		if err := record("link_rule", key, res, err); err != nil {
			return out, err
		}
	}
	return out, nil
}

// Export builds a manifest describing the schema currently held by reg.
func Export(ctx context.Context, reg Registry) (*Manifest, error) {
	m := &Manifest{Version: ManifestVersion}

	itemTypes, err := reg.ListItemTypes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list item types: %w", err)
	}
	if len(itemTypes) > 0 {
		m.ItemTypes = make(map[string]model.ItemTypeInput, len(itemTypes))
	}
	for _, t := range itemTypes {
		m.ItemTypes[t.Key] = model.ItemTypeInput{
			Name:                optional(t.Name),
			Description:         optional(t.Description),
			AttributeValidation: t.AttributeValidation,
		}
	}

	linkTypes, err := reg.ListLinkTypes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list link types: %w", err)
	}
	if len(linkTypes) > 0 {
		m.LinkTypes = make(map[string]model.LinkTypeInput, len(linkTypes))
	}
	for _, t := range linkTypes {
		m.LinkTypes[t.Key] = model.LinkTypeInput{
			Name:        optional(t.Name),
			Description: optional(t.Description),
		}
	}

	rules, err := reg.ListLinkRules(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list link rules: %w", err)
	}
	if len(rules) > 0 {
		m.LinkRules = make(map[string]model.LinkRuleInput, len(rules))
	}
	for _, r := range rules {
		in := model.LinkRuleInput{
			LinkTypeKey:      &r.LinkTypeKey,
			StartItemTypeKey: &r.StartItemTypeKey,
			EndItemTypeKey:   &r.EndItemTypeKey,
		}
		if r.Cardinality != "" {
			in.Cardinality = &r.Cardinality
		}
		m.LinkRules[r.Key] = in
	}
	return m, nil
}

// Marshal encodes m as YAML.
func (m *Manifest) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	return data, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
