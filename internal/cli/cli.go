// Package cli implements the aipgraph command-line interface.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/matzehuels/aipgraph/pkg/buildinfo"
	"github.com/matzehuels/aipgraph/pkg/config"
)

const (
	// appName is used for directories and display.
	appName = "aipgraph"

	// configEnv names the environment variable read when --config is unset.
	configEnv = "AIPGRAPH_CONFIG"
)

// Log levels exported for use in main.go.
const (
	LogDebug = log.DebugLevel
	LogInfo  = log.InfoLevel
)

// CLI holds shared state for all commands.
type CLI struct {
	Logger *log.Logger

	configPath string
	levelSet   bool // the level came from a flag and wins over [log] level
}

// New creates a CLI whose logger writes to w.
func New(w io.Writer, level log.Level) *CLI {
	return &CLI{Logger: newLogger(w, level)}
}

// SetLogLevel updates the logger's level. An explicit level is kept even
// when the config file names another one.
func (c *CLI) SetLogLevel(level log.Level) {
	c.Logger.SetLevel(level)
	c.levelSet = true
}

// RootCommand creates the root cobra command with all subcommands registered.
func (c *CLI) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   appName,
		Short: "aipgraph stores archival packages as a DAG and answers chained queries",
		Long: `aipgraph keeps domains, dissemination packages (DAips) and preservation
packages (PAips) in a multi-parent graph with per-node ancestor distances,
and evaluates chains of traversal stages (domain, one-hop, depth, path)
over a graph store, a search index and a result cache.`,
		Version:      buildinfo.Version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cmd.SetContext(withLogger(cmd.Context(), c.Logger))
			return nil
		},
	}
	root.SetVersionTemplate(buildinfo.Template())
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", os.Getenv(configEnv), "config file (TOML)")

	root.AddCommand(c.ingestCommand())
	root.AddCommand(c.queryCommand())
	root.AddCommand(c.nodeCommand())
	root.AddCommand(c.renderCommand())
	root.AddCommand(c.serveCommand())
	root.AddCommand(c.cacheCommand())
	root.AddCommand(c.versionCommand())
	root.AddCommand(c.completionCommand())

	return root
}

// loadConfig reads the config file and applies its log level.
func (c *CLI) loadConfig() (config.Config, error) {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if !c.levelSet && cfg.Log.Level != "" {
		level, err := log.ParseLevel(cfg.Log.Level)
		if err != nil {
			return config.Config{}, fmt.Errorf("[log] level: %w", err)
		}
		c.Logger.SetLevel(level)
	}
	return cfg, nil
}

// open loads the config and connects its backends.
func (c *CLI) open(ctx context.Context) (*backends, error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, err
	}
	c.Logger.Debug("opening backends", "store", cfg.Store.Backend, "search", cfg.Search.Backend, "cache", cfg.Cache.Backend)
	return openBackends(ctx, cfg, c.Logger)
}

func (c *CLI) versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), buildinfo.String())
		},
	}
}

// =============================================================================
// Paths
// =============================================================================

// cacheDir returns the file cache directory using the XDG standard
// (~/.cache/aipgraph/).
func cacheDir() (string, error) {
	if cacheHome := os.Getenv("XDG_CACHE_HOME"); cacheHome != "" {
		return filepath.Join(cacheHome, appName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".cache", appName), nil
}

// =============================================================================
// Flag Helpers
// =============================================================================

// splitAssignments parses name=value flags.
func splitAssignments(flag string, in []string) (map[string]string, error) {
	out := make(map[string]string, len(in))
	for _, s := range in {
		k, v, ok := strings.Cut(s, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("--%s %q: want name=value", flag, s)
		}
		out[k] = v
	}
	return out, nil
}
