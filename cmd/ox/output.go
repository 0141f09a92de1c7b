package main

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/alfredjeanlab/onix/internal/model"
	"github.com/alfredjeanlab/onix/internal/ui"
)

const timeLayout = "2006-01-02 15:04:05"

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// printResult reports a mutation outcome.
func printResult(w io.Writer, kind, key string, res model.Result) error {
	if jsonOutput {
		return printJSON(w, res)
	}
	if res.Version > 0 {
		_, err := fmt.Fprintf(w, "%s %s %s (version %d)\n", kind, ui.RenderAccent(key), ui.RenderOutcome(res.Outcome), res.Version)
		return err
	}
	_, err := fmt.Fprintf(w, "%s %s %s\n", kind, ui.RenderAccent(key), ui.RenderOutcome(res.Outcome))
	return err
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format(timeLayout)
}

func formatAttributes(attrs map[string]string) string {
	parts := make([]string, 0, len(attrs))
	for _, k := range slices.Sorted(maps.Keys(attrs)) {
		parts = append(parts, k+"="+attrs[k])
	}
	return strings.Join(parts, ", ")
}

func printItem(w io.Writer, it *model.Item) {
	fmt.Fprintf(w, "Key:         %s\n", ui.RenderAccent(it.Key))
	fmt.Fprintf(w, "Type:        %s\n", it.ItemTypeKey)
	if it.Name != "" {
		fmt.Fprintf(w, "Name:        %s\n", it.Name)
	}
	if it.Description != "" {
		fmt.Fprintf(w, "Description: %s\n", it.Description)
	}
	fmt.Fprintf(w, "Status:      %d\n", it.Status)
	if len(it.Tags) > 0 {
		fmt.Fprintf(w, "Tags:        %s\n", strings.Join(it.Tags, ", "))
	}
	if len(it.Attributes) > 0 {
		fmt.Fprintf(w, "Attributes:  %s\n", formatAttributes(it.Attributes))
	}
	if len(it.Meta) > 0 {
		fmt.Fprintf(w, "Meta:        %s\n", string(it.Meta))
	}
	fmt.Fprintf(w, "Version:     %d\n", it.Version)
	fmt.Fprintf(w, "Created At:  %s\n", formatTime(it.CreatedAt))
	fmt.Fprintf(w, "Updated At:  %s\n", formatTime(it.UpdatedAt))
	if it.ChangedBy != "" {
		fmt.Fprintf(w, "Changed By:  %s\n", it.ChangedBy)
	}
	if len(it.Links) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Links:")
		for _, l := range it.Links {
			fmt.Fprintf(w, "  %s  %s -[%s]-> %s\n", ui.RenderMuted(l.Key), l.StartItemKey, l.LinkTypeKey, l.EndItemKey)
		}
	}
}

func printLink(w io.Writer, l *model.Link) {
	fmt.Fprintf(w, "Key:         %s\n", ui.RenderAccent(l.Key))
	fmt.Fprintf(w, "Type:        %s\n", l.LinkTypeKey)
	fmt.Fprintf(w, "Start:       %s\n", l.StartItemKey)
	fmt.Fprintf(w, "End:         %s\n", l.EndItemKey)
	if l.Description != "" {
		fmt.Fprintf(w, "Description: %s\n", l.Description)
	}
	if len(l.Tags) > 0 {
		fmt.Fprintf(w, "Tags:        %s\n", strings.Join(l.Tags, ", "))
	}
	if len(l.Attributes) > 0 {
		fmt.Fprintf(w, "Attributes:  %s\n", formatAttributes(l.Attributes))
	}
	if len(l.Meta) > 0 {
		fmt.Fprintf(w, "Meta:        %s\n", string(l.Meta))
	}
	fmt.Fprintf(w, "Version:     %d\n", l.Version)
	fmt.Fprintf(w, "Created At:  %s\n", formatTime(l.CreatedAt))
	fmt.Fprintf(w, "Updated At:  %s\n", formatTime(l.UpdatedAt))
	if l.ChangedBy != "" {
		fmt.Fprintf(w, "Changed By:  %s\n", l.ChangedBy)
	}
}

func printItemTable(w io.Writer, items []*model.Item, total int) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tTYPE\tSTATUS\tNAME\tTAGS\tUPDATED")
	nameWidth := max(20, ui.Width()/4)
	for _, it := range items {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n",
			it.Key, it.ItemTypeKey, it.Status, ui.Truncate(it.Name, nameWidth),
			strings.Join(it.Tags, ","), formatTime(it.UpdatedAt))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\n%d items (%d total)\n", len(items), total)
	return err
}

func printLinkTable(w io.Writer, links []*model.Link, total int) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tTYPE\tSTART\tEND\tTAGS\tUPDATED")
	for _, l := range links {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			l.Key, l.LinkTypeKey, l.StartItemKey, l.EndItemKey,
			strings.Join(l.Tags, ","), formatTime(l.UpdatedAt))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if total < 0 {
		return nil
	}
	_, err := fmt.Fprintf(w, "\n%d links (%d total)\n", len(links), total)
	return err
}

func printItemTypeTable(w io.Writer, types []*model.ItemType) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tNAME\tATTRIBUTES\tVERSION")
	for _, t := range types {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n",
			t.Key, t.Name, strings.Join(slices.Sorted(maps.Keys(t.AttributeValidation)), ","), t.Version)
	}
	return tw.Flush()
}

func printLinkTypeTable(w io.Writer, types []*model.LinkType) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tNAME\tDESCRIPTION\tVERSION")
	for _, t := range types {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", t.Key, t.Name, ui.Truncate(t.Description, 50), t.Version)
	}
	return tw.Flush()
}

func printLinkRuleTable(w io.Writer, rules []*model.LinkRule) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tSTART\tLINK TYPE\tEND\tCARDINALITY\tVERSION")
	for _, r := range rules {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\n",
			r.Key, r.StartItemTypeKey, r.LinkTypeKey, r.EndItemTypeKey, r.Cardinality, r.Version)
	}
	return tw.Flush()
}

func printAuditTable(w io.Writer, recs []*model.AuditRecord) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTIME\tKIND\tKEY\tCHANGE\tBY")
	for _, r := range recs {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, formatTime(r.Timestamp), r.EntityKind, r.EntityKey, ui.RenderChange(r.ChangeType), r.ChangedBy)
	}
	return tw.Flush()
}
