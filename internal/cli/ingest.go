package cli

import (
	"fmt"
	"maps"
	"slices"

	"github.com/spf13/cobra"

	"github.com/matzehuels/aipgraph/pkg/config"
	"github.com/matzehuels/aipgraph/pkg/ingest"
)

func (c *CLI) ingestCommand() *cobra.Command {
	var vars []string

	cmd := &cobra.Command{
		Use:   "ingest FILE...",
		Short: "Load domains, DAips, PAips and retention rules from JSON-lines files",
		Long: `Load JSON-lines records into the graph store. Each line is one record:

  {"type": "counter", "name": "n", "start": 0}
  {"type": "domain", "ref": "d", "name": "Archives"}
  {"type": "dua", "name": "keep-10y", "fields": {"years": 10}}
  {"type": "daip", "ref": "a", "parents": ["d"], "fields": {"title": "fonds ${#n}"}}
  {"type": "paip", "parents": ["a"], "dua": "keep-10y"}

Parents name a ref defined earlier in the same file or the id of a stored
node. Records with an explicit id are merged into the stored node.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			bindings, err := splitAssignments("var", vars)
			if err != nil {
				return err
			}
			b, err := c.open(ctx)
			if err != nil {
				return err
			}
			defer b.Close()
			if b.cfg.Store.Backend == config.StoreMemory {
				printWarning("memory store: ingested nodes are discarded when the command exits")
			}

			l := b.loader(bindings)
			total := ingest.Stats{}
			prog := newProgress(loggerFromContext(ctx))
			for _, path := range args {
				spin := newSpinner(ctx, "Ingesting "+path)
				spin.Start()
				stats, err := l.LoadFile(ctx, path)
				if err != nil {
					spin.StopWithError("%s", path)
					return err
				}
				spin.StopWithSuccess("%s: %d lines", path, stats.Lines)
				total = addStats(total, stats)
			}
			prog.done("ingest finished", "files", len(args), "lines", total.Lines)
			printStats(total)
			if b.bulk != nil {
				if n := b.bulk.Failed(); n > 0 {
					printWarning("%d search index batches failed; depth stages may miss nodes until they are written again", n)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&vars, "var", nil, "placeholder binding name=value (repeatable)")
	return cmd
}

func addStats(a, b ingest.Stats) ingest.Stats {
	a.Lines += b.Lines
	for _, m := range []*map[string]int{&a.Created, &a.Merged} {
		if *m == nil {
			*m = map[string]int{}
		}
	}
	for k, v := range b.Created {
		a.Created[k] += v
	}
	for k, v := range b.Merged {
		a.Merged[k] += v
	}
	return a
}

func printStats(s ingest.Stats) {
	kinds := slices.Sorted(maps.Keys(s.Created))
	for _, k := range slices.Sorted(maps.Keys(s.Merged)) {
		if _, ok := s.Created[k]; !ok {
			kinds = append(kinds, k)
		}
	}
	slices.Sort(kinds)
	for _, k := range kinds {
		printKeyValue(k, fmt.Sprintf("%d created, %d merged", s.Created[k], s.Merged[k]))
	}
}
