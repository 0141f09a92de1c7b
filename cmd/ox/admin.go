package main

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	graphsync "github.com/alfredjeanlab/onix/internal/sync"
)

var clearCmd = &cobra.Command{
	Use:     "clear",
	Short:   "Delete the whole graph, schema and audit history",
	GroupID: "system",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes && !confirm(cmd, "This deletes every item, link, type, rule and audit record. Continue?") {
			return fmt.Errorf("aborted")
		}
		if err := oxClient.Clear(context.Background(), actor); err != nil {
			return fmt.Errorf("clearing: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "cleared")
		return nil
	},
}

func confirm(cmd *cobra.Command, prompt string) bool {
	fmt.Fprintf(cmd.ErrOrStderr(), "%s [y/N] ", prompt)
	line, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

var snapshotCmd = &cobra.Command{
	Use:     "snapshot",
	Short:   "Export and restore JSONL snapshots of the graph",
	GroupID: "system",
}

var snapshotExportCmd = &cobra.Command{
	Use:   "export [<file>]",
	Short: "Write the server's snapshot to a file or stdout",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var w io.Writer = cmd.OutOrStdout()
		if len(args) == 1 && args[0] != "-" {
			f, err := os.Create(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			w = f
		}
		if err := oxClient.ExportSnapshot(context.Background(), w); err != nil {
			return fmt.Errorf("exporting snapshot: %w", err)
		}
		return nil
	},
}

var snapshotRestoreCmd = &cobra.Command{
	Use:   "restore <file>",
	Short: "Replace the server's graph with a snapshot file (- for stdin)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var r io.Reader = cmd.InOrStdin()
		if args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			r = f
		}
		return restore(cmd, r)
	},
}

var snapshotPullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Restore the server from the latest snapshot in S3 or a git clone",
	Long: `Restore the server from the snapshot the sync scheduler last wrote.
Give --s3-bucket to read from S3, or --git-repo to read from a git clone.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		src, err := snapshotSource(ctx, cmd)
		if err != nil {
			return err
		}
		data, err := src.Read(ctx)
		if err != nil {
			return fmt.Errorf("reading %s: %w", src.Name(), err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "read %d bytes from %s\n", len(data), src.Name())
		return restore(cmd, bytes.NewReader(data))
	},
}

type namedSource interface {
	graphsync.Source
	Name() string
}

func snapshotSource(ctx context.Context, cmd *cobra.Command) (namedSource, error) {
	flags := cmd.Flags()
	bucket, _ := flags.GetString("s3-bucket")
	repo, _ := flags.GetString("git-repo")
	switch {
	case bucket != "" && repo != "":
		return nil, fmt.Errorf("give only one of --s3-bucket and --git-repo")
	case bucket != "":
		key, _ := flags.GetString("s3-key")
		region, _ := flags.GetString("s3-region")
		endpoint, _ := flags.GetString("s3-endpoint")
		return graphsync.NewS3Destination(ctx, bucket, key, region, endpoint)
	case repo != "":
		file, _ := flags.GetString("git-file")
		branch, _ := flags.GetString("git-branch")
		return graphsync.NewGitDestination(repo, file, branch), nil
	}
	return nil, fmt.Errorf("one of --s3-bucket or --git-repo is required")
}

func restore(cmd *cobra.Command, r io.Reader) error {
	counts, err := oxClient.RestoreSnapshot(context.Background(), r, actor)
	if err != nil {
		return fmt.Errorf("restoring snapshot: %w", err)
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), counts)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "restored %d item types, %d link types, %d link rules, %d items, %d links\n",
		counts.ItemTypes, counts.LinkTypes, counts.LinkRules, counts.Items, counts.Links)
	return nil
}

func init() {
	clearCmd.Flags().BoolP("yes", "y", false, "do not ask for confirmation")

	snapshotPullCmd.Flags().String("s3-bucket", os.Getenv("ONIX_SYNC_S3_BUCKET"), "S3 bucket")
	snapshotPullCmd.Flags().String("s3-key", firstSet(os.Getenv("ONIX_SYNC_S3_KEY"), "onix/snapshot.jsonl"), "S3 object key")
	snapshotPullCmd.Flags().String("s3-region", firstSet(os.Getenv("ONIX_SYNC_S3_REGION"), "us-east-1"), "S3 region")
	snapshotPullCmd.Flags().String("s3-endpoint", os.Getenv("ONIX_SYNC_S3_ENDPOINT"), "custom S3 endpoint")
	snapshotPullCmd.Flags().String("git-repo", "", "path to a git clone")
	snapshotPullCmd.Flags().String("git-file", "onix.jsonl", "snapshot path inside the clone")
	snapshotPullCmd.Flags().String("git-branch", "main", "branch to pull")

	snapshotCmd.AddCommand(snapshotExportCmd)
	snapshotCmd.AddCommand(snapshotRestoreCmd)
	snapshotCmd.AddCommand(snapshotPullCmd)
}
