package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// parseAttributes turns repeated name=value flags into a map.
func parseAttributes(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		name, value, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("attribute must be name=value, got %q", p)
		}
		out[strings.TrimSpace(name)] = value
	}
	return out, nil
}

// parseDay accepts YYYY-MM-DD in local time or an RFC 3339 timestamp.
func parseDay(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", s, time.Local); err == nil {
		return &t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t, nil
	}
	return nil, fmt.Errorf("invalid date %q (want YYYY-MM-DD)", s)
}

func parseMeta(s string) (json.RawMessage, error) {
	if s == "" {
		return nil, nil
	}
	if !json.Valid([]byte(s)) {
		return nil, fmt.Errorf("--meta must be valid JSON")
	}
	return json.RawMessage(s), nil
}

// changedString returns a pointer to the flag's string value when it was set on
// the command line, so unset flags leave fields untouched on update.
func changedString(flags *pflag.FlagSet, name string) *string {
	if !flags.Changed(name) {
		return nil
	}
	v, _ := flags.GetString(name)
	return &v
}

// expectedVersionFlag reads --version; zero means unconditional.
func expectedVersionFlag(cmd *cobra.Command) *int64 {
	v, _ := cmd.Flags().GetInt64("version")
	if v <= 0 {
		return nil
	}
	return &v
}

// dateRange reads a pair of date flags.
func dateRange(flags *pflag.FlagSet, fromName, toName string) (from, to *time.Time, err error) {
	fromStr, _ := flags.GetString(fromName)
	toStr, _ := flags.GetString(toName)
	if from, err = parseDay(fromStr); err != nil {
		return nil, nil, fmt.Errorf("--%s: %w", fromName, err)
	}
	if to, err = parseDay(toStr); err != nil {
		return nil, nil, fmt.Errorf("--%s: %w", toName, err)
	}
	return from, to, nil
}

// entityFlags registers the flags shared by item and link writes.
func entityFlags(cmd *cobra.Command) {
	cmd.Flags().StringSlice("tag", nil, "tags (repeatable or comma-separated; replaces the tag set)")
	cmd.Flags().StringArray("attr", nil, "attribute as name=value (repeatable; replaces the attribute set)")
	cmd.Flags().String("meta", "", "free-form JSON metadata")
	cmd.Flags().Int64("version", 0, "expected current version (optimistic concurrency)")
}

// queryFlags registers the filters shared by item and link queries.
func queryFlags(cmd *cobra.Command) {
	cmd.Flags().StringSlice("tag", nil, "require all of these tags")
	cmd.Flags().StringArray("attr", nil, "require attribute name=value (repeatable)")
	cmd.Flags().String("created-from", "", "created on or after this day")
	cmd.Flags().String("created-to", "", "created on or before this day")
	cmd.Flags().String("updated-from", "", "updated on or after this day")
	cmd.Flags().String("updated-to", "", "updated on or before this day")
	cmd.Flags().Int("top", 0, "maximum results (default 20, max 500)")
}

// commonQuery holds the parsed values of queryFlags.
type commonQuery struct {
	tags                   []string
	attrs                  map[string]string
	createdFrom, createdTo *time.Time
	updatedFrom, updatedTo *time.Time
	top                    int
}

func readQueryFlags(cmd *cobra.Command) (commonQuery, error) {
	var q commonQuery
	var err error
	flags := cmd.Flags()
	q.tags, _ = flags.GetStringSlice("tag")
	pairs, _ := flags.GetStringArray("attr")
	if len(pairs) > 0 {
		if q.attrs, err = parseAttributes(pairs); err != nil {
			return q, err
		}
	}
	if q.createdFrom, q.createdTo, err = dateRange(flags, "created-from", "created-to"); err != nil {
		return q, err
	}
	if q.updatedFrom, q.updatedTo, err = dateRange(flags, "updated-from", "updated-to"); err != nil {
		return q, err
	}
	q.top, _ = flags.GetInt("top")
	return q, nil
}

// entityInput holds the parsed values of entityFlags. Nil fields were not
// given.
type entityInput struct {
	tags  []string
	attrs map[string]string
	meta  json.RawMessage
}

func readEntityFlags(cmd *cobra.Command) (entityInput, error) {
	var in entityInput
	var err error
	flags := cmd.Flags()
	if flags.Changed("tag") {
		in.tags, _ = flags.GetStringSlice("tag")
		if in.tags == nil {
			in.tags = []string{}
		}
	}
	if flags.Changed("attr") {
		pairs, _ := flags.GetStringArray("attr")
		if in.attrs, err = parseAttributes(pairs); err != nil {
			return in, err
		}
	}
	meta, _ := flags.GetString("meta")
	if in.meta, err = parseMeta(meta); err != nil {
		return in, err
	}
	return in, nil
}
