package cmdb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alfredjeanlab/onix/internal/events"
	"github.com/alfredjeanlab/onix/internal/model"
)

func TestDefineItemType_Lifecycle(t *testing.T) {
	s, pub := newService(t)
	ctx := context.Background()

	res, err := s.DefineItemType(ctx, "host", model.ItemTypeInput{Name: ptr("Host")}, nil, "admin")
	require.NoError(t, err)
	assert.Equal(t, model.Result{Outcome: model.OutcomeInserted, Version: 1}, res)

	res, err = s.DefineItemType(ctx, "host", model.ItemTypeInput{Name: ptr("Host")}, nil, "admin")
	require.NoError(t, err)
	assert.Equal(t, model.Result{Outcome: model.OutcomeNoAction, Version: 1}, res)

	rules := map[string]model.AttributeRule{"env": {Required: true, AllowedValues: []string{"dev", "prod"}}}
	res, err = s.DefineItemType(ctx, "host", model.ItemTypeInput{AttributeValidation: rules}, ptr(int64(1)), "admin")
	require.NoError(t, err)
	assert.Equal(t, model.Result{Outcome: model.OutcomeUpdated, Version: 2}, res)

	_, err = s.DefineItemType(ctx, "host", model.ItemTypeInput{Description: ptr("stale")}, ptr(int64(1)), "admin")
	require.ErrorIs(t, err, model.ErrConflict)

	got, err := s.GetItemType(ctx, "host")
	require.NoError(t, err)
	assert.Equal(t, "Host", got.Name)
	assert.Equal(t, rules, got.AttributeValidation)
	assert.Equal(t, int64(2), got.Version)

	assert.Equal(t, []string{events.TopicItemTypeDefined, events.TopicItemTypeDefined}, pub.topics())
}

func TestDefineItemType_BadPattern(t *testing.T) {
	s, _ := newService(t)
	_, err := s.DefineItemType(context.Background(), "host", model.ItemTypeInput{
		AttributeValidation: map[string]model.AttributeRule{"ip": {Pattern: "(unclosed"}},
	}, nil, "admin")
	require.ErrorIs(t, err, model.ErrInvalidArgument)
}

func TestDefineLinkRule_References(t *testing.T) {
	s, _ := newService(t)
	seedSchema(t, s, "")
	ctx := context.Background()

	for _, tc := range []struct {
		name string
		in   model.LinkRuleInput
		want error
	}{
		{"unknown link type", model.LinkRuleInput{LinkTypeKey: ptr("nope"), StartItemTypeKey: ptr("app"), EndItemTypeKey: ptr("host")}, model.ErrNotFound},
		{"unknown start", model.LinkRuleInput{LinkTypeKey: ptr("runs-on"), StartItemTypeKey: ptr("nope"), EndItemTypeKey: ptr("host")}, model.ErrNotFound},
		{"unknown end", model.LinkRuleInput{LinkTypeKey: ptr("runs-on"), StartItemTypeKey: ptr("app"), EndItemTypeKey: ptr("nope")}, model.ErrNotFound},
		{"missing end", model.LinkRuleInput{LinkTypeKey: ptr("runs-on"), StartItemTypeKey: ptr("app")}, model.ErrInvalidArgument},
		{"bad cardinality", model.LinkRuleInput{LinkTypeKey: ptr("runs-on"), StartItemTypeKey: ptr("app"), EndItemTypeKey: ptr("host"), Cardinality: ptr(model.Cardinality("few-to-some"))}, model.ErrInvalidArgument},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.DefineLinkRule(ctx, "r", tc.in, nil, "admin")
			require.ErrorIs(t, err, tc.want)
		})
	}

	res, err := s.DefineLinkRule(ctx, "app-runs-on-host", model.LinkRuleInput{Cardinality: ptr(model.CardinalityOneToOne)}, nil, "admin")
	require.NoError(t, err)
	assert.Equal(t, model.Result{Outcome: model.OutcomeUpdated, Version: 2}, res)

	rules, err := s.ListLinkRules(ctx, "runs-on")
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, model.CardinalityOneToOne, rules[0].Cardinality)
}

func TestDeleteItemType_ConflictWhileReferenced(t *testing.T) {
	s, _ := newService(t)
	seedSchema(t, s, "")
	ctx := context.Background()
	_, err := s.DefineItemType(ctx, "disk", model.ItemTypeInput{}, nil, "admin")
	require.NoError(t, err)
	putItem(t, s, "d1", "disk")

	_, err = s.DeleteItemType(ctx, "disk", "admin")
	require.ErrorIs(t, err, model.ErrConflict, "live item references the type")
	_, err = s.DeleteItemType(ctx, "app", "admin")
	require.ErrorIs(t, err, model.ErrConflict, "rule references the type")

	_, err = s.DeleteItem(ctx, "d1", "admin")
	require.NoError(t, err)
	res, err := s.DeleteItemType(ctx, "disk", "admin")
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeDeleted, res.Outcome)

	_, err = s.DeleteItemType(ctx, "disk", "admin")
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestDeleteLinkType_ConflictWhileReferenced(t *testing.T) {
	s, _ := newService(t)
	seedSchema(t, s, "")
	ctx := context.Background()

	_, err := s.DeleteLinkType(ctx, "runs-on", "admin")
	require.ErrorIs(t, err, model.ErrConflict)

	_, err = s.DeleteLinkRule(ctx, "app-runs-on-host", "admin")
	require.NoError(t, err)
	_, err = s.DeleteLinkType(ctx, "runs-on", "admin")
	require.NoError(t, err)
}

func TestBulkDeletes(t *testing.T) {
	s, pub := newService(t)
	seedSchema(t, s, "")
	ctx := context.Background()
	putItem(t, s, "h1", "host")

	_, err := s.DeleteItemTypes(ctx, "admin")
	require.ErrorIs(t, err, model.ErrConflict)
	types, err := s.ListItemTypes(ctx)
	require.NoError(t, err)
	assert.Len(t, types, 2, "a failed bulk delete removes nothing")

	pub.reset()
	res, err := s.DeleteLinkRules(ctx, "admin")
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeDeleted, res.Outcome)
	assert.Equal(t, []string{events.TopicLinkRuleDeleted}, pub.topics())

	res, err = s.DeleteLinkRules(ctx, "admin")
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeNoAction, res.Outcome)

	_, err = s.DeleteLinkTypes(ctx, "admin")
	require.NoError(t, err)
	_, err = s.DeleteItem(ctx, "h1", "admin")
	require.NoError(t, err)
	_, err = s.DeleteItemTypes(ctx, "admin")
	require.NoError(t, err)

	types, err = s.ListItemTypes(ctx)
	require.NoError(t, err)
	assert.Empty(t, types)
	linkTypes, err := s.ListLinkTypes(ctx)
	require.NoError(t, err)
	assert.Empty(t, linkTypes)
}

func TestValidateAttributes(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()
	_, err := s.DefineItemType(ctx, "host", model.ItemTypeInput{
		AttributeValidation: map[string]model.AttributeRule{
			"ip":  {Required: true, Pattern: `^\d+\.\d+\.\d+\.\d+$`},
			"env": {AllowedValues: []string{"dev", "prod"}},
		},
	}, nil, "admin")
	require.NoError(t, err)

	errs, err := s.ValidateAttributes(ctx, "host", map[string]string{"ip": "10.0.0.1", "env": "prod", "extra": "ok"})
	require.NoError(t, err)
	assert.Empty(t, errs)

	errs, err = s.ValidateAttributes(ctx, "host", map[string]string{"env": "qa"})
	require.NoError(t, err)
	fields := make([]string, len(errs))
	for i, fe := range errs {
		fields[i] = fe.Field
	}
	assert.ElementsMatch(t, []string{"attributes.ip", "attributes.env"}, fields)

	_, err = s.ValidateAttributes(ctx, "router", nil)
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestClearAll(t *testing.T) {
	s, pub := newService(t)
	seedSchema(t, s, "")
	putItem(t, s, "a1", "app")
	putItem(t, s, "h1", "host")
	_, err := putLink(s, "l1", "a1", "h1")
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.ClearAll(ctx, "admin"))

	page, err := s.FindItems(ctx, model.ItemFilter{})
	require.NoError(t, err)
	assert.Zero(t, page.Total)
	recs, err := s.FindAudit(ctx, model.AuditFilter{})
	require.NoError(t, err)
	assert.Empty(t, recs)
	rules, err := s.ListLinkRules(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, rules)
	topics := pub.topics()
	assert.Equal(t, events.TopicCleared, topics[len(topics)-1])
}
