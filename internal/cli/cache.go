package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/matzehuels/aipgraph/pkg/cache"
	"github.com/matzehuels/aipgraph/pkg/config"
)

func (c *CLI) cacheCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the query result cache",
	}
	cmd.AddCommand(c.cacheClearCommand())
	cmd.AddCommand(c.cachePathCommand())
	return cmd
}

func (c *CLI) cacheClearCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every cached chain result from the configured cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			b, err := c.open(ctx)
			if err != nil {
				return err
			}
			defer b.Close()

			prefix := b.results.Keyer.Prefix()
			var n int
			switch cc := b.cache.(type) {
			case *cache.FileCache:
				n, err = cc.Clear()
			case *cache.RedisCache:
				n, err = cc.Clear(ctx, prefix)
			case *cache.MongoCache:
				n, err = cc.Clear(ctx, prefix)
			default:
				printInfo("%s cache lives in process memory; nothing to clear", b.cfg.Cache.Backend)
				return nil
			}
			if err != nil {
				return fmt.Errorf("clear cache: %w", err)
			}
			printSuccess("Removed %d cached results", n)
			return nil
		},
	}
}

func (c *CLI) cachePathCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the file cache directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			dir := cfg.Cache.Dir
			if dir == "" {
				if dir, err = cacheDir(); err != nil {
					return err
				}
			}
			if cfg.Cache.Backend != config.CacheFile {
				printWarning("configured cache backend is %s, not file", cfg.Cache.Backend)
			}
			fmt.Fprintln(out, dir)
			return nil
		},
	}
}
