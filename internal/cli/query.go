package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/matzehuels/aipgraph/pkg/errors"
	"github.com/matzehuels/aipgraph/pkg/query"
	"github.com/matzehuels/aipgraph/pkg/result"
)

// maxPrinted bounds the ids listed per result in human output.
const maxPrinted = 20

// chainFile is the on-disk form of a query: the chain plus default
// bindings, in TOML or JSON.
//
//	order_by = "title"
//
//	[[stages]]
//	kind = "domain"
//	filter = { name = "${dom}" }
//
//	[[stages]]
//	kind = "onehop"
//	query = "title:letter"
//
//	[vars]
//	dom = "Archives"
type chainFile struct {
	Stages   []query.Stage     `json:"stages" toml:"stages"`
	OrderBy  string            `json:"order_by" toml:"order_by"`
	Vars     map[string]string `json:"vars" toml:"vars"`
	Counters map[string]int64  `json:"counters" toml:"counters"`
}

// readChain decodes a chain file; ".json" files are JSON, anything else TOML.
func readChain(path string) (query.Chain, query.Bindings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return query.Chain{}, query.Bindings{}, err
	}
	var f chainFile
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(data, &f)
	} else {
		var md toml.MetaData
		md, err = toml.Decode(string(data), &f)
		if err == nil {
			if undecoded := md.Undecoded(); len(undecoded) > 0 {
				err = fmt.Errorf("unknown key %s", undecoded[0])
			}
		}
	}
	if err != nil {
		return query.Chain{}, query.Bindings{}, errors.Wrap(errors.ErrCodeConfig, err, "%s", path)
	}
	return query.Chain{Stages: f.Stages, OrderBy: f.OrderBy},
		query.Bindings{Vars: f.Vars, Counters: f.Counters}, nil
}

// overlay adds flag bindings over the file's.
func overlay(b query.Bindings, vars map[string]string, counters map[string]int64) query.Bindings {
	if len(vars) > 0 {
		if b.Vars == nil {
			b.Vars = map[string]string{}
		}
		maps.Copy(b.Vars, vars)
	}
	if len(counters) > 0 {
		if b.Counters == nil {
			b.Counters = map[string]int64{}
		}
		maps.Copy(b.Counters, counters)
	}
	return b
}

func parseCounters(in []string) (map[string]int64, error) {
	raw, err := splitAssignments("counter", in)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(raw))
	for k, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("--counter %s: %w", k, err)
		}
		out[k] = n
	}
	return out, nil
}

func (c *CLI) queryCommand() *cobra.Command {
	var (
		vars        []string
		counters    []string
		fullPaths   bool
		simulate    bool
		asJSON      bool
		interactive bool
	)

	cmd := &cobra.Command{
		Use:   "query CHAIN_FILE",
		Short: "Run a stage chain and print every level",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			chain, bindings, err := readChain(args[0])
			if err != nil {
				return err
			}
			flagVars, err := splitAssignments("var", vars)
			if err != nil {
				return err
			}
			flagCounters, err := parseCounters(counters)
			if err != nil {
				return err
			}
			bindings = overlay(bindings, flagVars, flagCounters)

			b, err := c.open(ctx)
			if err != nil {
				return err
			}
			defer b.Close()

			exec := b.executor(simulate)
			prog := newProgress(loggerFromContext(ctx))
			trace, err := exec.Run(ctx, chain, bindings)
			if err != nil {
				return err
			}
			var paths *result.Result
			if fullPaths && !simulate {
				if paths, err = exec.FullPaths(ctx, trace); err != nil {
					return err
				}
			}
			prog.done("query finished", "stages", len(trace.Levels), "cached", trace.CachedLevels)

			if interactive {
				return browseTrace(ctx, trace, paths)
			}
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(struct {
					*query.Trace
					Paths *result.Result `json:"paths,omitempty"`
				}{trace, paths})
			}
			printTrace(trace, paths)
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&vars, "var", nil, "variable binding name=value (repeatable)")
	cmd.Flags().StringArrayVar(&counters, "counter", nil, "counter start value name=N (repeatable)")
	cmd.Flags().BoolVar(&fullPaths, "full-paths", false, "reconstruct domain-to-node id paths of the final level")
	cmd.Flags().BoolVar(&simulate, "simulate", false, "build synthetic results without touching any backend")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the trace as JSON")
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "browse levels and full paths in the terminal")
	cmd.MarkFlagsMutuallyExclusive("json", "interactive")
	return cmd
}

// browseTrace runs the trace browser and prints the id picked in it.
func browseTrace(ctx context.Context, t *query.Trace, paths *result.Result) error {
	final, err := tea.NewProgram(NewTraceModel(t, paths), tea.WithContext(ctx)).Run()
	if err != nil {
		return err
	}
	m, ok := final.(TraceModel)
	if !ok || m.Selected == "" {
		return nil
	}
	printSuccess("Selected %s", m.Selected)
	printNextStep("Inspect it", "aipgraph node daip "+m.Selected)
	return nil
}

func printTrace(t *query.Trace, paths *result.Result) {
	for i, r := range t.Levels {
		printLevel(i, r.MinLevel, r.MaxLevel, r.Len(), r.SubNodeCount, i < t.CachedLevels)
	}
	if t.Truncated {
		printWarning("chain stopped early on an empty stage")
	}
	if t.Final != nil {
		printIDs(t.Final.IDs)
	}
	if paths != nil {
		printInfo("%d full paths", paths.Len())
		printIDs(paths.IDs)
	}
}

func printIDs(ids []string) {
	for i, id := range ids {
		if i == maxPrinted {
			printDetail("... %d more", len(ids)-maxPrinted)
			return
		}
		printFile(id)
	}
}
