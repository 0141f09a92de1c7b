package main

import (
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"text/tabwriter"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
)

// Remote is a named server profile.
type Remote struct {
	URL      string `toml:"url"`
	Token    string `toml:"token,omitempty"`
	NATSURL  string `toml:"nats_url,omitempty"`
	GRPCAddr string `toml:"grpc_addr,omitempty"`
}

// RemotesConfig is the on-disk profile list, $XDG_CONFIG_HOME/onix/remotes.toml.
type RemotesConfig struct {
	Active  string            `toml:"active"`
	Remotes map[string]Remote `toml:"remotes"`
}

func errUnknownRemote(name string) error { return fmt.Errorf("remote %q not found", name) }

// put adds or replaces a remote. The first remote added becomes active.
func (c *RemotesConfig) put(name string, r Remote) {
	c.Remotes[name] = r
	if c.Active == "" {
		c.Active = name
	}
}

func (c *RemotesConfig) remove(name string) error {
	if _, ok := c.Remotes[name]; !ok {
		return errUnknownRemote(name)
	}
	delete(c.Remotes, name)
	if c.Active == name {
		c.Active = ""
	}
	return nil
}

func (c *RemotesConfig) use(name string) error {
	if _, ok := c.Remotes[name]; !ok {
		return errUnknownRemote(name)
	}
	c.Active = name
	return nil
}

func (c *RemotesConfig) rename(from, to string) error {
	r, ok := c.Remotes[from]
	if !ok {
		return errUnknownRemote(from)
	}
	if _, taken := c.Remotes[to]; taken {
		return fmt.Errorf("remote %q already exists", to)
	}
	delete(c.Remotes, from)
	c.Remotes[to] = r
	if c.Active == from {
		c.Active = to
	}
	return nil
}

// lookup resolves name, or the active remote when name is empty.
func (c *RemotesConfig) lookup(name string) (string, Remote, error) {
	if name == "" {
		name = c.Active
	}
	if name == "" {
		return "", Remote{}, errors.New("no active remote; specify a name or run 'ox remote use <name>'")
	}
	r, ok := c.Remotes[name]
	if !ok {
		return "", Remote{}, errUnknownRemote(name)
	}
	return name, r, nil
}

func remoteConfigPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	dir = filepath.Join(dir, "onix")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return filepath.Join(dir, "remotes.toml"), nil
}

func loadRemotesConfig() (RemotesConfig, error) {
	cfg := RemotesConfig{Remotes: map[string]Remote{}}
	path, err := remoteConfigPath()
	if err != nil {
		return cfg, err
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("reading %s: %w", path, err)
	}
	if cfg.Remotes == nil {
		cfg.Remotes = map[string]Remote{}
	}
	return cfg, nil
}

// saveRemotesConfig writes through a temp file so a failed encode never
// truncates the existing profiles. Tokens live here, hence 0600.
func saveRemotesConfig(cfg RemotesConfig) error {
	path, err := remoteConfigPath()
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".remotes-*.toml")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if err := toml.NewEncoder(tmp).Encode(cfg); err != nil {
		tmp.Close()
		return fmt.Errorf("encoding remotes: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// updateRemotes loads the profiles, applies fn and saves the result.
func updateRemotes(fn func(*RemotesConfig) error) error {
	cfg, err := loadRemotesConfig()
	if err != nil {
		return err
	}
	if err := fn(&cfg); err != nil {
		return err
	}
	return saveRemotesConfig(cfg)
}

// activeRemote is loaded once per process, before flags are parsed.
var activeRemote = sync.OnceValue(func() Remote {
	cfg, err := loadRemotesConfig()
	if err != nil {
		return Remote{}
	}
	_, r, err := cfg.lookup("")
	if err != nil {
		return Remote{}
	}
	return r
})

func activeRemoteURL() string     { return activeRemote().URL }
func activeRemoteToken() string   { return activeRemote().Token }
func activeRemoteNATSURL() string { return activeRemote().NATSURL }
func activeRemoteGRPC() string    { return activeRemote().GRPCAddr }

var remoteCmd = &cobra.Command{
	Use:               "remote",
	Short:             "Manage named server remotes",
	GroupID:           "system",
	PersistentPreRunE: noClient,
}

var remoteAddCmd = &cobra.Command{
	Use:   "add <name> <url>",
	Short: "Add or update a named remote",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		r := Remote{URL: args[1]}
		r.Token, _ = cmd.Flags().GetString("token")
		r.NATSURL, _ = cmd.Flags().GetString("nats")
		r.GRPCAddr, _ = cmd.Flags().GetString("grpc")

		if err := updateRemotes(func(c *RemotesConfig) error {
			c.put(args[0], r)
			return nil
		}); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "remote %q added (%s)\n", args[0], r.URL)
		return nil
	},
}

var remoteRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a named remote",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := updateRemotes(func(c *RemotesConfig) error { return c.remove(args[0]) }); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "remote %q removed\n", args[0])
		return nil
	},
}

var remoteRenameCmd = &cobra.Command{
	Use:   "rename <old> <new>",
	Short: "Rename a remote",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := updateRemotes(func(c *RemotesConfig) error { return c.rename(args[0], args[1]) }); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "remote %q renamed to %q\n", args[0], args[1])
		return nil
	},
}

var remoteUseCmd = &cobra.Command{
	Use:   "use <name>",
	Short: "Set the active remote",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := updateRemotes(func(c *RemotesConfig) error { return c.use(args[0]) }); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "active remote set to %q\n", args[0])
		return nil
	},
}

var remoteListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all remotes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadRemotesConfig()
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), cfg)
		}
		if len(cfg.Remotes) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no remotes configured")
			return nil
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "  NAME\tURL\tTOKEN")
		for _, name := range slices.Sorted(maps.Keys(cfg.Remotes)) {
			marker := "  "
			if name == cfg.Active {
				marker = "* "
			}
			r := cfg.Remotes[name]
			fmt.Fprintf(w, "%s%s\t%s\t%s\n", marker, name, r.URL, maskToken(r.Token))
		}
		return w.Flush()
	},
}

var remoteShowCmd = &cobra.Command{
	Use:   "show [<name>]",
	Short: "Show details for a remote (defaults to active)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadRemotesConfig()
		if err != nil {
			return err
		}
		var want string
		if len(args) == 1 {
			want = args[0]
		}
		name, r, err := cfg.lookup(want)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), r)
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 1, ' ', 0)
		fmt.Fprintf(w, "Name:\t%s\n", name)
		fmt.Fprintf(w, "URL:\t%s\n", r.URL)
		fmt.Fprintf(w, "Token:\t%s\n", maskToken(r.Token))
		if r.NATSURL != "" {
			fmt.Fprintf(w, "NATS:\t%s\n", r.NATSURL)
		}
		if r.GRPCAddr != "" {
			fmt.Fprintf(w, "gRPC:\t%s\n", r.GRPCAddr)
		}
		return w.Flush()
	},
}

// maskToken keeps enough of a token to tell remotes apart.
func maskToken(token string) string {
	if len(token) <= 8 {
		return token
	}
	return token[:8] + "..."
}

func init() {
	remoteAddCmd.Flags().String("token", "", "bearer token for this remote")
	remoteAddCmd.Flags().String("nats", "", "NATS URL for ox watch")
	remoteAddCmd.Flags().String("grpc", "", "gRPC address for ox health --grpc")

	remoteCmd.AddCommand(remoteAddCmd, remoteRemoveCmd, remoteRenameCmd, remoteUseCmd, remoteListCmd, remoteShowCmd)
}
