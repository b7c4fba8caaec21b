package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/matzehuels/aipgraph/pkg/render"
)

func (c *CLI) renderCommand() *cobra.Command {
	var (
		output   string
		format   string
		depth    int
		label    string
		detailed bool
		scale    float64
	)

	cmd := &cobra.Command{
		Use:   "render KIND ID",
		Short: "Draw the ancestors of a node",
		Long: `Draw a node and its ancestors up to the domains, parents above children.
SVG is laid out with graphviz; PDF and PNG additionally need rsvg-convert.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			kind, id, err := parseNodeArgs(args)
			if err != nil {
				return err
			}
			f, err := render.ParseFormat(format)
			if err != nil {
				return err
			}
			b, err := c.open(ctx)
			if err != nil {
				return err
			}
			defer b.Close()

			sg, err := render.Ancestors(ctx, b.graph, kind, id, depth)
			if err != nil {
				return err
			}
			loggerFromContext(ctx).Debug("ancestors loaded", "nodes", len(sg.Nodes), "edges", len(sg.Edges))
			data, err := render.Render(ctx, render.ToDOT(sg, render.Options{LabelField: label, Detailed: detailed}), f, scale)
			if err != nil {
				return err
			}

			if output == "" {
				output = id + "." + string(f)
			}
			if output == "-" {
				_, err := out.Write(data)
				return err
			}
			if err := os.WriteFile(output, data, 0o644); err != nil {
				return err
			}
			printSuccess("Rendered %d nodes", len(sg.Nodes))
			printFile(output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output file, - for stdout (default ID.FORMAT)")
	cmd.Flags().StringVarP(&format, "format", "f", "svg", "output format: dot, svg, pdf, png")
	cmd.Flags().IntVar(&depth, "depth", 0, "maximum hops above the node (0 = up to the domains)")
	cmd.Flags().StringVar(&label, "label", "title", "business field used as the node label")
	cmd.Flags().BoolVar(&detailed, "detailed", false, "show kind, child count and fields in labels")
	cmd.Flags().Float64Var(&scale, "scale", 2, "PNG scale factor")
	return cmd
}
