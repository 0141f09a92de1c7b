package schema

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alfredjeanlab/onix/internal/cmdb"
	"github.com/alfredjeanlab/onix/internal/model"
	"github.com/alfredjeanlab/onix/internal/store/memory"
)

const manifestYAML = `
version: "1"
item_types:
  host:
    name: Host
    attribute_validation:
      os:
        required: true
        allowed_values: [linux, windows]
  app:
    name: Application
link_types:
  runs-on:
    description: application placement
link_rules:
  app-runs-on-host:
    link_type: runs-on
    start: app
    end: host
    cardinality: many-to-one
`

func TestParse(t *testing.T) {
	m, err := Parse([]byte(manifestYAML))
	require.NoError(t, err)

	require.Contains(t, m.ItemTypes, "host")
	host := m.ItemTypes["host"]
	require.NotNil(t, host.Name)
	assert.Equal(t, "Host", *host.Name)
	assert.Equal(t, model.AttributeRule{Required: true, AllowedValues: []string{"linux", "windows"}}, host.AttributeValidation["os"])

	rule := m.LinkRules["app-runs-on-host"]
	require.NotNil(t, rule.Cardinality)
	assert.Equal(t, model.CardinalityManyToOne, *rule.Cardinality)
	assert.Equal(t, "app", *rule.StartItemTypeKey)
}

func TestParse_Invalid(t *testing.T) {
	for _, tc := range []struct {
		name string
		yaml string
	}{
		{"bad version", "version: \"2\"\n"},
		{"missing rule end", "link_rules:\n  r:\n    link_type: x\n    start: a\n"},
		{"bad cardinality", "link_rules:\n  r:\n    link_type: x\n    start: a\n    end: b\n    cardinality: some\n"},
		{"bad pattern", "item_types:\n  host:\n    attribute_validation:\n      ip:\n        pattern: \"[\"\n"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.yaml))
			assert.ErrorIs(t, err, model.ErrInvalidArgument)
		})
	}

	_, err := Parse([]byte("item_types: [oops"))
	assert.Error(t, err)
}

func TestApply(t *testing.T) {
	ctx := context.Background()
	svc := cmdb.New(memory.New())
	m, err := Parse([]byte(manifestYAML))
	require.NoError(t, err)

	entries, err := Apply(ctx, svc, m, "ci")
	require.NoError(t, err)
	require.Len(t, entries, 4)
	assert.Equal(t, Entry{Kind: "item_type", Key: "app", Outcome: model.OutcomeInserted, Version: 1}, entries[0])
	assert.Equal(t, "link_rule", entries[3].Kind)

	allowed, err := svc.IsLinkAllowed(ctx, "app", "runs-on", "host")
	require.NoError(t, err)
	assert.True(t, allowed)

	// Applying the same manifest again changes nothing.
	entries, err = Apply(ctx, svc, m, "ci")
	require.NoError(t, err)
	for _, e := range entries {
		assert.Equal(t, model.OutcomeNoAction, e.Outcome, e.Key)
	}

	// An edit updates only the changed entry.
	name := "Server"
	host := m.ItemTypes["host"]
	host.Name = &name
	m.ItemTypes["host"] = host
	entries, err = Apply(ctx, svc, m, "ci")
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeUpdated, entries[1].Outcome)
	assert.Equal(t, int64(2), entries[1].Version)
}

func TestApply_StopsAtFailure(t *testing.T) {
	ctx := context.Background()
	svc := cmdb.New(memory.New())
	m, err := Parse([]byte("link_rules:\n  r:\n    link_type: missing\n    start: a\n    end: b\n"))
	require.NoError(t, err)

	entries, err := Apply(ctx, svc, m, "ci")
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.Empty(t, entries)
}

func TestExport_RoundTrip(t *testing.T) {
	ctx := context.Background()
	svc := cmdb.New(memory.New())

	path := filepath.Join(t.TempDir(), "schema.yaml")
	require.NoError(t, os.WriteFile(path, []byte(manifestYAML), 0o644))
	m, err := Load(path)
	require.NoError(t, err)
	_, err = Apply(ctx, svc, m, "ci")
	require.NoError(t, err)

	exported, err := Export(ctx, svc)
	require.NoError(t, err)
	data, err := exported.Marshal()
	require.NoError(t, err)

	again, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, m.ItemTypes, again.ItemTypes)
	assert.Equal(t, m.LinkTypes, again.LinkTypes)
	assert.Equal(t, m.LinkRules, again.LinkRules)

	// Applying the export to the same registry is a no-op.
	entries, err := Apply(ctx, svc, again, "ci")
	require.NoError(t, err)
	for _, e := range entries {
		assert.Equal(t, model.OutcomeNoAction, e.Outcome, e.Key)
	}
}
