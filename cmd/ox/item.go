package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/onix/internal/model"
)

var itemCmd = &cobra.Command{
	Use:     "item",
	Short:   "Create, read, delete and query items",
	GroupID: "graph",
}

var itemPutCmd = &cobra.Command{
	Use:   "put <key>",
	Short: "Create or update an item",
	Long: `Create or update an item. On update only the given flags change;
--tag and --attr replace the whole set.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		in := model.ItemInput{
			Name:        changedString(flags, "name"),
			Description: changedString(flags, "description"),
			ItemTypeKey: changedString(flags, "type"),
		}
		if flags.Changed("status") {
			st, _ := flags.GetInt16("status")
			in.Status = &st
		}
		common, err := readEntityFlags(cmd)
		if err != nil {
			return err
		}
		in.Tags, in.Attributes, in.Meta = common.tags, common.attrs, common.meta

		res, err := oxClient.PutItem(context.Background(), args[0], in, expectedVersionFlag(cmd), actor)
		if err != nil {
			return fmt.Errorf("putting item: %w", err)
		}
		return printResult(cmd.OutOrStdout(), "item", args[0], res)
	},
}

var itemGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Show an item and its links",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		it, err := oxClient.GetItem(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("getting item: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), it)
		}
		printItem(cmd.OutOrStdout(), it)
		return nil
	},
}

var itemDeleteCmd = &cobra.Command{
	Use:   "delete <key>",
	Short: "Delete an item and every link touching it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := oxClient.DeleteItem(context.Background(), args[0], actor)
		if err != nil {
			return fmt.Errorf("deleting item: %w", err)
		}
		return printResult(cmd.OutOrStdout(), "item", args[0], res)
	},
}

var itemFindCmd = &cobra.Command{
	Use:     "find",
	Aliases: []string{"list"},
	Short:   "Query items, most recently updated first",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := readQueryFlags(cmd)
		if err != nil {
			return err
		}
		filter := model.ItemFilter{
			Tags:        q.tags,
			Attributes:  q.attrs,
			CreatedFrom: q.createdFrom,
			CreatedTo:   q.createdTo,
			UpdatedFrom: q.updatedFrom,
			UpdatedTo:   q.updatedTo,
			Top:         q.top,
		}
		filter.ItemTypeKey, _ = cmd.Flags().GetString("type")
		if cmd.Flags().Changed("status") {
			st, _ := cmd.Flags().GetInt16("status")
			filter.Status = &st
		}

		page, err := oxClient.FindItems(context.Background(), filter)
		if err != nil {
			return fmt.Errorf("finding items: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), page)
		}
		return printItemTable(cmd.OutOrStdout(), page.Results, page.Total)
	},
}

var itemLinksCmd = &cobra.Command{
	Use:   "links <key>",
	Short: "List the links starting or ending at an item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		links, err := oxClient.IncidentLinks(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("listing links: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), links)
		}
		return printLinkTable(cmd.OutOrStdout(), links, -1)
	},
}

func init() {
	itemPutCmd.Flags().StringP("type", "t", "", "item type key (required on create)")
	itemPutCmd.Flags().StringP("name", "n", "", "display name")
	itemPutCmd.Flags().StringP("description", "d", "", "description")
	itemPutCmd.Flags().Int16("status", 0, "status code")
	entityFlags(itemPutCmd)

	itemFindCmd.Flags().StringP("type", "t", "", "item type key")
	itemFindCmd.Flags().Int16("status", 0, "status code")
	queryFlags(itemFindCmd)

	itemCmd.AddCommand(itemPutCmd)
	itemCmd.AddCommand(itemGetCmd)
	itemCmd.AddCommand(itemDeleteCmd)
	itemCmd.AddCommand(itemFindCmd)
	itemCmd.AddCommand(itemLinksCmd)
}
