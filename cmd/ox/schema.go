package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/onix/internal/schema"
	"github.com/alfredjeanlab/onix/internal/ui"
)

var schemaCmd = &cobra.Command{
	Use:     "schema",
	Short:   "Apply or export a YAML schema manifest",
	GroupID: "schema",
}

var schemaApplyCmd = &cobra.Command{
	Use:   "apply <manifest.yaml>",
	Short: "Define every item type, link type and rule in a manifest",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := schema.Load(args[0])
		if err != nil {
			return err
		}
		if dryRun, _ := cmd.Flags().GetBool("dry-run"); dryRun {
			fmt.Fprintf(cmd.OutOrStdout(), "manifest ok: %d item types, %d link types, %d link rules\n",
				len(m.ItemTypes), len(m.LinkTypes), len(m.LinkRules))
			return nil
		}

		entries, err := schema.Apply(context.Background(), oxClient, m, actor)
		if jsonOutput {
			if perr := printJSON(cmd.OutOrStdout(), entries); perr != nil {
				return perr
			}
		} else {
			for _, e := range entries {
				fmt.Fprintf(cmd.OutOrStdout(), "%-10s %-30s %s\n", e.Kind, ui.RenderAccent(e.Key), ui.RenderOutcome(e.Outcome))
			}
		}
		if err != nil {
			return fmt.Errorf("applying manifest: %w", err)
		}
		return nil
	},
}

var schemaExportCmd = &cobra.Command{
	Use:   "export [<file>]",
	Short: "Write the server's schema as a manifest",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := schema.Export(context.Background(), oxClient)
		if err != nil {
			return fmt.Errorf("exporting schema: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), m)
		}
		data, err := m.Marshal()
		if err != nil {
			return err
		}
		if len(args) == 1 && args[0] != "-" {
			return os.WriteFile(args[0], data, 0o644)
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

func init() {
	schemaApplyCmd.Flags().Bool("dry-run", false, "only parse and check the manifest")

	schemaCmd.AddCommand(schemaApplyCmd)
	schemaCmd.AddCommand(schemaExportCmd)
}
