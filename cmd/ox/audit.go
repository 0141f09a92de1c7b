package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/onix/internal/model"
)

var auditCmd = &cobra.Command{
	Use:     "audit",
	Short:   "Show the change history of items and links, newest first",
	GroupID: "graph",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		kind, _ := flags.GetString("kind")
		key, _ := flags.GetString("key")
		change, _ := flags.GetString("change")
		top, _ := flags.GetInt("top")
		from, to, err := dateRange(flags, "from", "to")
		if err != nil {
			return err
		}

		recs, err := oxClient.FindAudit(context.Background(), model.AuditFilter{
			EntityKind: model.EntityKind(kind),
			EntityKey:  key,
			ChangeType: model.ChangeType(change),
			From:       from,
			To:         to,
			Top:        top,
		})
		if err != nil {
			return fmt.Errorf("reading audit: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), recs)
		}
		return printAuditTable(cmd.OutOrStdout(), recs)
	},
}

func init() {
	auditCmd.Flags().String("kind", "", "item or link")
	auditCmd.Flags().String("key", "", "entity key")
	auditCmd.Flags().String("change", "", "created, updated or deleted")
	auditCmd.Flags().String("from", "", "changed on or after this day")
	auditCmd.Flags().String("to", "", "changed on or before this day")
	auditCmd.Flags().Int("top", 0, "maximum records (default 20, max 500)")
}
