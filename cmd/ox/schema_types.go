package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/onix/internal/model"
	"github.com/alfredjeanlab/onix/internal/ui"
)

// --- Item types ---

var itemTypeCmd = &cobra.Command{
	Use:     "itemtype",
	Aliases: []string{"it"},
	Short:   "Manage item types and their attribute rules",
	GroupID: "schema",
}

var itemTypePutCmd = &cobra.Command{
	Use:   "put <key>",
	Short: "Define or update an item type",
	Long: `Define or update an item type. Attribute rules are given with --required,
--pattern and --allowed; any of them replaces the whole rule set.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		in := model.ItemTypeInput{
			Name:        changedString(flags, "name"),
			Description: changedString(flags, "description"),
		}
		rules, err := readAttributeRules(cmd)
		if err != nil {
			return err
		}
		in.AttributeValidation = rules

		res, err := oxClient.DefineItemType(context.Background(), args[0], in, expectedVersionFlag(cmd), actor)
		if err != nil {
			return fmt.Errorf("defining item type: %w", err)
		}
		return printResult(cmd.OutOrStdout(), "item type", args[0], res)
	},
}

// readAttributeRules builds an attribute rule set from --required,
// --pattern and --allowed. It returns nil when none was given.
func readAttributeRules(cmd *cobra.Command) (map[string]model.AttributeRule, error) {
	flags := cmd.Flags()
	if !flags.Changed("required") && !flags.Changed("pattern") && !flags.Changed("allowed") {
		return nil, nil
	}
	rules := map[string]model.AttributeRule{}
	required, _ := flags.GetStringSlice("required")
	for _, name := range required {
		r := rules[name]
		r.Required = true
		rules[name] = r
	}
	patterns, _ := flags.GetStringArray("pattern")
	for _, p := range patterns {
		name, re, ok := strings.Cut(p, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("--pattern must be name=regex, got %q", p)
		}
		r := rules[name]
		r.Pattern = re
		rules[name] = r
	}
	allowed, _ := flags.GetStringArray("allowed")
	for _, a := range allowed {
		name, vals, ok := strings.Cut(a, "=")
		if !ok || name == "" || vals == "" {
			return nil, fmt.Errorf("--allowed must be name=v1,v2,..., got %q", a)
		}
		r := rules[name]
		r.AllowedValues = strings.Split(vals, ",")
		rules[name] = r
	}
	if err := model.ValidateRules(rules); err != nil {
		return nil, err
	}
	return rules, nil
}

var itemTypeGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Show an item type",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := oxClient.GetItemType(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("getting item type: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), t)
		}
		return printItemTypeTable(cmd.OutOrStdout(), []*model.ItemType{t})
	},
}

var itemTypeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List item types",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		types, err := oxClient.ListItemTypes(context.Background())
		if err != nil {
			return fmt.Errorf("listing item types: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), types)
		}
		return printItemTypeTable(cmd.OutOrStdout(), types)
	},
}

var itemTypeDeleteCmd = &cobra.Command{
	Use:   "delete [<key>]",
	Short: "Delete an item type, or all of them with --all",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSchemaDelete(cmd, args, "item type",
			oxClient.DeleteItemType, oxClient.DeleteItemTypes)
	},
}

var itemTypeValidateCmd = &cobra.Command{
	Use:   "validate <key> name=value...",
	Short: "Check attributes against an item type without writing",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		attrs, err := parseAttributes(args[1:])
		if err != nil {
			return err
		}
		errs, err := oxClient.ValidateAttributes(context.Background(), args[0], attrs)
		if err != nil {
			return fmt.Errorf("validating attributes: %w", err)
		}
		if jsonOutput {
			if err := printJSON(cmd.OutOrStdout(), map[string]any{"valid": len(errs) == 0, "errors": errs}); err != nil {
				return err
			}
		} else if len(errs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "valid")
		} else {
			for _, fe := range errs {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", ui.RenderWarning(fe.Field), fe.Message)
			}
		}
		if len(errs) > 0 {
			cmd.SilenceErrors = true
			return fmt.Errorf("%d invalid attributes", len(errs))
		}
		return nil
	},
}

// --- Link types ---

var linkTypeCmd = &cobra.Command{
	Use:     "linktype",
	Aliases: []string{"lt"},
	Short:   "Manage link types",
	GroupID: "schema",
}

var linkTypePutCmd = &cobra.Command{
	Use:   "put <key>",
	Short: "Define or update a link type",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		in := model.LinkTypeInput{
			Name:        changedString(flags, "name"),
			Description: changedString(flags, "description"),
		}
		res, err := oxClient.DefineLinkType(context.Background(), args[0], in, expectedVersionFlag(cmd), actor)
		if err != nil {
			return fmt.Errorf("defining link type: %w", err)
		}
		return printResult(cmd.OutOrStdout(), "link type", args[0], res)
	},
}

var linkTypeGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Show a link type",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := oxClient.GetLinkType(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("getting link type: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), t)
		}
		return printLinkTypeTable(cmd.OutOrStdout(), []*model.LinkType{t})
	},
}

var linkTypeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List link types",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		types, err := oxClient.ListLinkTypes(context.Background())
		if err != nil {
			return fmt.Errorf("listing link types: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), types)
		}
		return printLinkTypeTable(cmd.OutOrStdout(), types)
	},
}

var linkTypeDeleteCmd = &cobra.Command{
	Use:   "delete [<key>]",
	Short: "Delete a link type, or all of them with --all",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSchemaDelete(cmd, args, "link type",
			oxClient.DeleteLinkType, oxClient.DeleteLinkTypes)
	},
}

// --- Link rules ---

var linkRuleCmd = &cobra.Command{
	Use:     "linkrule",
	Aliases: []string{"lr"},
	Short:   "Manage the rules that permit links between item types",
	GroupID: "schema",
}

var linkRulePutCmd = &cobra.Command{
	Use:   "put <key>",
	Short: "Define or update a link rule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		in := model.LinkRuleInput{
			LinkTypeKey:      changedString(flags, "type"),
			StartItemTypeKey: changedString(flags, "start"),
			EndItemTypeKey:   changedString(flags, "end"),
		}
		if flags.Changed("cardinality") {
			s, _ := flags.GetString("cardinality")
			c := model.Cardinality(s)
			if !c.IsValid() {
				return fmt.Errorf("unknown cardinality %q", s)
			}
			in.Cardinality = &c
		}
		res, err := oxClient.DefineLinkRule(context.Background(), args[0], in, expectedVersionFlag(cmd), actor)
		if err != nil {
			return fmt.Errorf("defining link rule: %w", err)
		}
		return printResult(cmd.OutOrStdout(), "link rule", args[0], res)
	},
}

var linkRuleGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Show a link rule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := oxClient.GetLinkRule(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("getting link rule: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), r)
		}
		return printLinkRuleTable(cmd.OutOrStdout(), []*model.LinkRule{r})
	},
}

var linkRuleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List link rules",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		linkType, _ := cmd.Flags().GetString("type")
		rules, err := oxClient.ListLinkRules(context.Background(), linkType)
		if err != nil {
			return fmt.Errorf("listing link rules: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), rules)
		}
		return printLinkRuleTable(cmd.OutOrStdout(), rules)
	},
}

var linkRuleDeleteCmd = &cobra.Command{
	Use:   "delete [<key>]",
	Short: "Delete a link rule, or all of them with --all",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSchemaDelete(cmd, args, "link rule",
			oxClient.DeleteLinkRule, oxClient.DeleteLinkRules)
	},
}

var linkRuleAllowedCmd = &cobra.Command{
	Use:   "allowed <start-type> <link-type> <end-type>",
	Short: "Check whether a link between two item types is permitted",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ok, err := oxClient.IsLinkAllowed(context.Background(), args[0], args[1], args[2])
		if err != nil {
			return fmt.Errorf("checking link rule: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), map[string]bool{"allowed": ok})
		}
		if ok {
			fmt.Fprintln(cmd.OutOrStdout(), "allowed")
			return nil
		}
		return fmt.Errorf("%s -[%s]-> %s is not allowed", args[0], args[1], args[2])
	},
}

type deleteOne func(ctx context.Context, key, changedBy string) (model.Result, error)
type deleteAll func(ctx context.Context, changedBy string) (model.Result, error)

func runSchemaDelete(cmd *cobra.Command, args []string, kind string, one deleteOne, all deleteAll) error {
	everything, _ := cmd.Flags().GetBool("all")
	switch {
	case everything && len(args) == 0:
		res, err := all(context.Background(), actor)
		if err != nil {
			return fmt.Errorf("deleting all %ss: %w", kind, err)
		}
		return printResult(cmd.OutOrStdout(), kind+"s", "*", res)
	case !everything && len(args) == 1:
		res, err := one(context.Background(), args[0], actor)
		if err != nil {
			return fmt.Errorf("deleting %s: %w", kind, err)
		}
		return printResult(cmd.OutOrStdout(), kind, args[0], res)
	}
	return fmt.Errorf("give either a key or --all")
}

func init() {
	itemTypePutCmd.Flags().StringP("name", "n", "", "display name")
	itemTypePutCmd.Flags().StringP("description", "d", "", "description")
	itemTypePutCmd.Flags().StringSlice("required", nil, "attributes that must be present")
	itemTypePutCmd.Flags().StringArray("pattern", nil, "attribute pattern as name=regex (repeatable)")
	itemTypePutCmd.Flags().StringArray("allowed", nil, "attribute values as name=v1,v2 (repeatable)")
	itemTypePutCmd.Flags().Int64("version", 0, "expected current version")
	itemTypeDeleteCmd.Flags().Bool("all", false, "delete every item type")

	itemTypeCmd.AddCommand(itemTypePutCmd)
	itemTypeCmd.AddCommand(itemTypeGetCmd)
	itemTypeCmd.AddCommand(itemTypeListCmd)
	itemTypeCmd.AddCommand(itemTypeDeleteCmd)
	itemTypeCmd.AddCommand(itemTypeValidateCmd)

	linkTypePutCmd.Flags().StringP("name", "n", "", "display name")
	linkTypePutCmd.Flags().StringP("description", "d", "", "description")
	linkTypePutCmd.Flags().Int64("version", 0, "expected current version")
	linkTypeDeleteCmd.Flags().Bool("all", false, "delete every link type")

	linkTypeCmd.AddCommand(linkTypePutCmd)
	linkTypeCmd.AddCommand(linkTypeGetCmd)
	linkTypeCmd.AddCommand(linkTypeListCmd)
	linkTypeCmd.AddCommand(linkTypeDeleteCmd)

	linkRulePutCmd.Flags().StringP("type", "t", "", "link type key")
	linkRulePutCmd.Flags().String("start", "", "start item type key")
	linkRulePutCmd.Flags().String("end", "", "end item type key")
	linkRulePutCmd.Flags().String("cardinality", "", "many-to-many, one-to-many, many-to-one or one-to-one")
	linkRulePutCmd.Flags().Int64("version", 0, "expected current version")
	linkRuleListCmd.Flags().StringP("type", "t", "", "only rules for this link type")
	linkRuleDeleteCmd.Flags().Bool("all", false, "delete every link rule")

	linkRuleCmd.AddCommand(linkRulePutCmd)
	linkRuleCmd.AddCommand(linkRuleGetCmd)
	linkRuleCmd.AddCommand(linkRuleListCmd)
	linkRuleCmd.AddCommand(linkRuleDeleteCmd)
	linkRuleCmd.AddCommand(linkRuleAllowedCmd)
}
