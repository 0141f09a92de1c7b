package main

import (
	"os"
	"os/exec"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/onix/internal/client"
	"github.com/alfredjeanlab/onix/internal/ui"
)

var (
	httpURL    string
	authToken  string
	jsonOutput bool
	noColor    bool
	actor      string

	oxClient client.Client
)

// firstSet returns the first non-empty value.
func firstSet(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// gitUserName is the actor fallback for people running ox in a checkout.
func gitUserName() string {
	out, err := exec.Command("git", "config", "user.name").Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

// Flag defaults: ONIX_* variables, then the active remote, then a local
// server.
func defaultActor() string   { return firstSet(os.Getenv("ONIX_ACTOR"), gitUserName(), "ox") }
func defaultHTTPURL() string { return firstSet(os.Getenv("ONIX_URL"), activeRemoteURL(), "http://localhost:8080") }
func defaultToken() string   { return firstSet(os.Getenv("ONIX_TOKEN"), activeRemoteToken()) }
func defaultGRPCAddr() string {
	return firstSet(os.Getenv("ONIX_GRPC_ADDR"), activeRemoteGRPC(), "localhost:9090")
}
func defaultNATSURL() string { return firstSet(os.Getenv("ONIX_NATS_URL"), activeRemoteNATSURL()) }

// noClient is used by commands that never talk to the server.
func noClient(cmd *cobra.Command, args []string) error { return nil }

var rootCmd = &cobra.Command{
	Use:           "ox <command>",
	Short:         "CLI for the onix configuration graph",
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if noColor {
			ui.ForceNoColor()
		}
		oxClient = client.NewHTTPClient(httpURL, authToken)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if oxClient != nil {
			oxClient.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&httpURL, "url", defaultHTTPURL(), "onix server URL")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", defaultToken(), "bearer token")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().StringVar(&actor, "actor", defaultActor(), "identity recorded as changed_by on writes")

	rootCmd.AddGroup(
		&cobra.Group{ID: "graph", Title: "Graph:"},
		&cobra.Group{ID: "schema", Title: "Schema:"},
		&cobra.Group{ID: "system", Title: "System:"},
	)

	cobra.EnableCommandSorting = false
	rootCmd.SetHelpFunc(colorizedHelpFunc())

	// Graph
	rootCmd.AddCommand(itemCmd, linkCmd, auditCmd, watchCmd)

	// Schema
	rootCmd.AddCommand(itemTypeCmd, linkTypeCmd, linkRuleCmd, schemaCmd)

	// System
	rootCmd.AddCommand(serveCmd, healthCmd, snapshotCmd, clearCmd, remoteCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
