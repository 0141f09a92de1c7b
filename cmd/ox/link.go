package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/onix/internal/idgen"
	"github.com/alfredjeanlab/onix/internal/model"
)

var linkCmd = &cobra.Command{
	Use:     "link",
	Short:   "Create, read, delete and query links",
	GroupID: "graph",
}

var linkPutCmd = &cobra.Command{
	Use:   "put [<key>]",
	Short: "Create or update a link",
	Long: `Create or update a link. The link type and endpoints are fixed once the
link exists. Without a key, a new random link key is generated.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		in := model.LinkInput{Description: changedString(flags, "description")}
		in.LinkTypeKey, _ = flags.GetString("type")
		in.StartItemKey, _ = flags.GetString("start")
		in.EndItemKey, _ = flags.GetString("end")
		common, err := readEntityFlags(cmd)
		if err != nil {
			return err
		}
		in.Tags, in.Attributes, in.Meta = common.tags, common.attrs, common.meta

		var key string
		if len(args) == 1 {
			key = args[0]
		} else {
			if in.StartItemKey == "" || in.LinkTypeKey == "" || in.EndItemKey == "" {
				return fmt.Errorf("--start, --type and --end are required without a key")
			}
			if key, err = idgen.LinkKey(); err != nil {
				return err
			}
		}

		res, err := oxClient.PutLink(context.Background(), key, in, expectedVersionFlag(cmd), actor)
		if err != nil {
			return fmt.Errorf("putting link: %w", err)
		}
		return printResult(cmd.OutOrStdout(), "link", key, res)
	},
}

var linkGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Show a link",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		l, err := oxClient.GetLink(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("getting link: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), l)
		}
		printLink(cmd.OutOrStdout(), l)
		return nil
	},
}

var linkDeleteCmd = &cobra.Command{
	Use:   "delete <key>",
	Short: "Delete a link",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := oxClient.DeleteLink(context.Background(), args[0], actor)
		if err != nil {
			return fmt.Errorf("deleting link: %w", err)
		}
		return printResult(cmd.OutOrStdout(), "link", args[0], res)
	},
}

var linkFindCmd = &cobra.Command{
	Use:     "find",
	Aliases: []string{"list"},
	Short:   "Query links, most recently updated first",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := readQueryFlags(cmd)
		if err != nil {
			return err
		}
		filter := model.LinkFilter{
			Tags:        q.tags,
			Attributes:  q.attrs,
			CreatedFrom: q.createdFrom,
			CreatedTo:   q.createdTo,
			UpdatedFrom: q.updatedFrom,
			UpdatedTo:   q.updatedTo,
			Top:         q.top,
		}
		filter.LinkTypeKey, _ = cmd.Flags().GetString("type")
		filter.StartItemKey, _ = cmd.Flags().GetString("start")
		filter.EndItemKey, _ = cmd.Flags().GetString("end")

		page, err := oxClient.FindLinks(context.Background(), filter)
		if err != nil {
			return fmt.Errorf("finding links: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), page)
		}
		return printLinkTable(cmd.OutOrStdout(), page.Results, page.Total)
	},
}

func init() {
	linkPutCmd.Flags().StringP("type", "t", "", "link type key (required on create)")
	linkPutCmd.Flags().String("start", "", "start item key (required on create)")
	linkPutCmd.Flags().String("end", "", "end item key (required on create)")
	linkPutCmd.Flags().StringP("description", "d", "", "description")
	entityFlags(linkPutCmd)

	linkFindCmd.Flags().StringP("type", "t", "", "link type key")
	linkFindCmd.Flags().String("start", "", "start item key")
	linkFindCmd.Flags().String("end", "", "end item key")
	queryFlags(linkFindCmd)

	linkCmd.AddCommand(linkPutCmd)
	linkCmd.AddCommand(linkGetCmd)
	linkCmd.AddCommand(linkDeleteCmd)
	linkCmd.AddCommand(linkFindCmd)
}
