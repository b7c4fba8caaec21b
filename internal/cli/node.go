package cli

import (
	"encoding/json"
	stderrors "errors"

	"github.com/spf13/cobra"

	"github.com/matzehuels/aipgraph/pkg/errors"
	"github.com/matzehuels/aipgraph/pkg/graph"
)

func (c *CLI) nodeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "node KIND ID",
		Short: "Print one stored node as JSON",
		Long:  "Print one stored node as JSON. KIND is domain, daip, paip or dua.",
		Args:  cobra.ExactArgs(2),
		ValidArgsFunction: func(_ *cobra.Command, args []string, _ string) ([]string, cobra.ShellCompDirective) {
			if len(args) > 0 {
				return nil, cobra.ShellCompDirectiveNoFileComp
			}
			var kinds []string
			for _, k := range graph.Kinds {
				kinds = append(kinds, string(k))
			}
			return kinds, cobra.ShellCompDirectiveNoFileComp
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			kind, id, err := parseNodeArgs(args)
			if err != nil {
				return err
			}
			b, err := c.open(ctx)
			if err != nil {
				return err
			}
			defer b.Close()

			n, err := b.graph.Get(ctx, kind, id)
			if stderrors.Is(err, graph.ErrNotFound) {
				return errors.Wrap(errors.ErrCodeNotFound, err, "%s %s", kind, id)
			}
			if err != nil {
				return err
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(n)
		},
	}
}

func parseNodeArgs(args []string) (graph.Kind, string, error) {
	kind, err := graph.ParseKind(args[0])
	if err != nil {
		return "", "", errors.Wrap(errors.ErrCodeInvalidInput, err, "kind")
	}
	if err := errors.ValidateNodeID(args[1]); err != nil {
		return "", "", err
	}
	return kind, args[1], nil
}
