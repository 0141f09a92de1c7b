package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alfredjeanlab/onix/internal/model"
	"github.com/alfredjeanlab/onix/internal/store/memory"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// seedGraph builds a small graph directly through the store.
func seedGraph(t *testing.T) *memory.Store {
	t.Helper()
	ctx := context.Background()
	s := memory.New()
	require.NoError(t, s.CreateItemType(ctx, &model.ItemType{
		Key: "host", Version: 1, CreatedAt: t0, UpdatedAt: t0,
		AttributeValidation: map[string]model.AttributeRule{"os": {AllowedValues: []string{"linux"}}},
	}))
	require.NoError(t, s.CreateItemType(ctx, &model.ItemType{Key: "app", Version: 1, CreatedAt: t0, UpdatedAt: t0}))
	require.NoError(t, s.CreateLinkType(ctx, &model.LinkType{Key: "runs-on", Version: 1, CreatedAt: t0, UpdatedAt: t0}))
	require.NoError(t, s.CreateLinkRule(ctx, &model.LinkRule{
		Key: "app-runs-on-host", LinkTypeKey: "runs-on", StartItemTypeKey: "app", EndItemTypeKey: "host",
		Cardinality: model.CardinalityManyToOne, Version: 1, CreatedAt: t0, UpdatedAt: t0,
	}))
	// Inserted out of key order to check sorting.
	require.NoError(t, s.CreateItem(ctx, &model.Item{
		Key: "web-01", ItemTypeKey: "host", Attributes: map[string]string{"os": "linux"},
		Tags: []string{"prod"}, Version: 3, CreatedAt: t0, UpdatedAt: t0.Add(time.Hour),
	}))
	require.NoError(t, s.CreateItem(ctx, &model.Item{
		Key: "billing", ItemTypeKey: "app", Meta: json.RawMessage(`{"team":"pay"}`),
		Version: 1, CreatedAt: t0, UpdatedAt: t0,
	}))
	require.NoError(t, s.CreateLink(ctx, &model.Link{
		Key: "billing-on-web-01", LinkTypeKey: "runs-on", StartItemKey: "billing", EndItemKey: "web-01",
		Version: 2, CreatedAt: t0, UpdatedAt: t0,
	}))
	return s
}

func TestExportJSONL_Empty(t *testing.T) {
	var buf bytes.Buffer
	counts, err := ExportJSONL(context.Background(), memory.New(), &buf)
	require.NoError(t, err)
	assert.Equal(t, Counts{}, counts)

	lines := nonEmptyLines(buf.String())
	require.Len(t, lines, 1)

	var h header
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &h))
	assert.Equal(t, TypeHeader, h.Type)
	assert.Equal(t, FormatVersion, h.Version)
	assert.False(t, h.Timestamp.IsZero())
}

func TestExportJSONL_OrderAndCounts(t *testing.T) {
	var buf bytes.Buffer
	counts, err := ExportJSONL(context.Background(), seedGraph(t), &buf)
	require.NoError(t, err)
	assert.Equal(t, Counts{ItemTypes: 2, LinkTypes: 1, LinkRules: 1, Items: 2, Links: 1}, counts)

	lines := nonEmptyLines(buf.String())
	require.Len(t, lines, 8)

	var got []string
	for _, line := range lines[1:] {
		var rec struct {
			Type string `json:"type"`
			Data struct {
				Key string `json:"key"`
			} `json:"data"`
		}
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		got = append(got, rec.Type+"/"+rec.Data.Key)
	}
	assert.Equal(t, []string{
		"item_type/app",
		"item_type/host",
		"link_type/runs-on",
		"link_rule/app-runs-on-host",
		"item/billing",
		"item/web-01",
		"link/billing-on-web-01",
	}, got)
}

func TestImportJSONL_RoundTrip(t *testing.T) {
	ctx := context.Background()
	src := seedGraph(t)
	var buf bytes.Buffer
	_, err := ExportJSONL(ctx, src, &buf)
	require.NoError(t, err)

	dst := memory.New()
	require.NoError(t, dst.CreateItemType(ctx, &model.ItemType{Key: "stale", Version: 1}))

	counts, err := ImportJSONL(ctx, dst, bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 2, counts.Items)

	_, err = dst.GetItemType(ctx, "stale")
	assert.ErrorIs(t, err, model.ErrNotFound)

	want, err := src.GetItem(ctx, "web-01")
	require.NoError(t, err)
	got, err := dst.GetItem(ctx, "web-01")
	require.NoError(t, err)
	assert.Equal(t, want.Version, got.Version)
	assert.Equal(t, want.Attributes, got.Attributes)
	assert.True(t, want.UpdatedAt.Equal(got.UpdatedAt))

	billing, err := dst.GetItem(ctx, "billing")
	require.NoError(t, err)
	assert.JSONEq(t, `{"team":"pay"}`, string(billing.Meta))

	rule, err := dst.GetLinkRule(ctx, "app-runs-on-host")
	require.NoError(t, err)
	assert.Equal(t, model.CardinalityManyToOne, rule.Cardinality)

	// A second export of the restored graph has the same body.
	var again bytes.Buffer
	_, err = ExportJSONL(ctx, dst, &again)
	require.NoError(t, err)
	assert.Equal(t, nonEmptyLines(buf.String())[1:], nonEmptyLines(again.String())[1:])
}

func TestImportJSONL_Rejects(t *testing.T) {
	ctx := context.Background()
	var full bytes.Buffer
	_, err := ExportJSONL(ctx, seedGraph(t), &full)
	require.NoError(t, err)
	lines := nonEmptyLines(full.String())

	for _, tc := range []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"not json", "nope\n"},
		{"wrong version", `{"type":"header","version":"99"}` + "\n"},
		{"truncated", strings.Join(lines[:len(lines)-1], "\n") + "\n"},
		{"unknown record", lines[0] + "\n" + `{"type":"widget","data":{}}` + "\n"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			dst := memory.New()
			require.NoError(t, dst.CreateItemType(ctx, &model.ItemType{Key: "keep", Version: 1}))

			_, err := ImportJSONL(ctx, dst, strings.NewReader(tc.input))
			assert.ErrorIs(t, err, model.ErrInvalidArgument)

			_, err = dst.GetItemType(ctx, "keep")
			assert.NoError(t, err, "failed import must leave the store untouched")
		})
	}
}

func TestRestore_EnforcesGraphRules(t *testing.T) {
	ctx := context.Background()
	for _, tc := range []struct {
		name string
		edit func(snap *Snapshot)
		want error
	}{
		{"link without a rule", func(snap *Snapshot) {
			snap.LinkRules = nil
		}, model.ErrRuleViolation},
		{"cardinality exceeded", func(snap *Snapshot) {
			snap.Items = append(snap.Items, &model.Item{
				Key: "web-02", ItemTypeKey: "host", Attributes: map[string]string{"os": "linux"}, Version: 1,
			})
			snap.Links = append(snap.Links, &model.Link{
				Key: "billing-on-web-02", LinkTypeKey: "runs-on", StartItemKey: "billing", EndItemKey: "web-02", Version: 1,
			})
		}, model.ErrRuleViolation},
		{"attribute not allowed", func(snap *Snapshot) {
			snap.Items[1].Attributes["os"] = "plan9"
		}, model.ErrInvalidArgument},
		{"unknown item type", func(snap *Snapshot) {
			snap.Items[0].ItemTypeKey = "db"
		}, model.ErrInvalidArgument},
		{"rule names a missing type", func(snap *Snapshot) {
			snap.LinkRules[0].EndItemTypeKey = "db"
		}, model.ErrInvalidArgument},
		{"bad attribute pattern", func(snap *Snapshot) {
			snap.ItemTypes[0].AttributeValidation = map[string]model.AttributeRule{"tier": {Pattern: "("}}
		}, model.ErrInvalidArgument},
		{"duplicate key", func(snap *Snapshot) {
			dup := *snap.Items[0]
			snap.Items = append(snap.Items, &dup)
		}, model.ErrInvalidArgument},
		{"key with whitespace", func(snap *Snapshot) {
			snap.LinkTypes[0].Key = "runs on"
		}, model.ErrInvalidArgument},
	} {
		t.Run(tc.name, func(t *testing.T) {
			snap, err := ReadSnapshot(ctx, seedGraph(t))
			require.NoError(t, err)
			tc.edit(snap)

			dst := memory.New()
			require.NoError(t, dst.CreateItemType(ctx, &model.ItemType{Key: "keep", Version: 1}))

			err = Restore(ctx, dst, snap)
			require.ErrorIs(t, err, tc.want)
			assert.Equal(t, model.CodeOf(tc.want), model.CodeOf(err))

			_, err = dst.GetItemType(ctx, "keep")
			assert.NoError(t, err, "failed restore must leave the store untouched")
			_, err = dst.GetItem(ctx, "billing")
			assert.ErrorIs(t, err, model.ErrNotFound)
		})
	}
}

func TestImportJSONL_RejectsUnpermittedLink(t *testing.T) {
	ctx := context.Background()
	// The store itself does not enforce rules, so it can hold a graph the
	// service would have refused.
	src := memory.New()
	require.NoError(t, src.CreateItemType(ctx, &model.ItemType{Key: "host", Version: 1}))
	require.NoError(t, src.CreateItemType(ctx, &model.ItemType{Key: "app", Version: 1}))
	require.NoError(t, src.CreateLinkType(ctx, &model.LinkType{Key: "deployed-on", Version: 1}))
	require.NoError(t, src.CreateItem(ctx, &model.Item{Key: "h1", ItemTypeKey: "host", Version: 1}))
	require.NoError(t, src.CreateItem(ctx, &model.Item{Key: "a1", ItemTypeKey: "app", Version: 1}))
	require.NoError(t, src.CreateLink(ctx, &model.Link{
		Key: "h1-on-a1", LinkTypeKey: "deployed-on", StartItemKey: "h1", EndItemKey: "a1", Version: 1,
	}))
	var buf bytes.Buffer
	_, err := ExportJSONL(ctx, src, &buf)
	require.NoError(t, err)

	dst := seedGraph(t)
	_, err = ImportJSONL(ctx, dst, &buf)
	require.ErrorIs(t, err, model.ErrRuleViolation)

	_, err = dst.GetLink(ctx, "h1-on-a1")
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = dst.GetItem(ctx, "web-01")
	assert.NoError(t, err)
}

func TestImportJSONL_StalledBodyDoesNotBlockStore(t *testing.T) {
	ctx := context.Background()
	var full bytes.Buffer
	_, err := ExportJSONL(ctx, seedGraph(t), &full)
	require.NoError(t, err)
	header := nonEmptyLines(full.String())[0]

	dst := seedGraph(t)
	pr, pw := io.Pipe()
	result := make(chan error, 1)
	go func() {
		_, err := ImportJSONL(ctx, dst, pr)
		result <- err
	}()
	_, err = pw.Write([]byte(header + "\n"))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		if _, err := dst.GetItem(ctx, "web-01"); err != nil {
			done <- err
			return
		}
		done <- dst.CreateItemType(ctx, &model.ItemType{Key: "db", Version: 1})
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("store blocked while a restore waits on its body")
	}

	require.NoError(t, pw.Close())
	select {
	case err := <-result:
		assert.ErrorIs(t, err, model.ErrInvalidArgument)
	case <-time.After(2 * time.Second):
		t.Fatal("restore did not finish after the body closed")
	}
	_, err = dst.GetItemType(ctx, "db")
	assert.NoError(t, err, "an incomplete body must leave the store untouched")
}

func nonEmptyLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
