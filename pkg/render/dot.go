package render

import (
	"bytes"
	"context"
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/goccy/go-graphviz"

	"github.com/matzehuels/aipgraph/pkg/graph"
)

// Options configures DOT generation.
type Options struct {
	// LabelField names the business field shown as the node label. Nodes
	// without it show their name, or their id.
	LabelField string
	// Detailed adds kind, child count and every business field to labels.
	Detailed bool
}

var kindStyle = map[graph.Kind]string{
	graph.KindDomain: `shape=box, style="rounded,filled,bold", fillcolor="#dbe8f6"`,
	graph.KindDAip:   `shape=box, style="rounded,filled", fillcolor=white`,
	graph.KindPAip:   `shape=note, style=filled, fillcolor="#f4f1e8"`,
}

// ToDOT converts sg to Graphviz DOT source. Parents are drawn above their
// children and the root is highlighted.
func ToDOT(sg *Subgraph, opts Options) string {
	var buf bytes.Buffer
	buf.WriteString("digraph ancestry {\n")
	buf.WriteString("  rankdir=BT;\n")
	buf.WriteString("  bgcolor=\"transparent\";\n")
	buf.WriteString("  node [fontsize=14, margin=\"0.2,0.1\"];\n")
	buf.WriteString("  edge [arrowsize=0.7];\n")
	buf.WriteString("\n")

	for _, n := range sg.Nodes {
		attrs := []string{fmt.Sprintf("label=%q", label(n, opts))}
		if style, ok := kindStyle[n.Kind]; ok {
			attrs = append(attrs, style)
		}
		if n.ID == sg.Root {
			attrs = append(attrs, "penwidth=2.5")
		}
		fmt.Fprintf(&buf, "  %q [%s];\n", n.ID, strings.Join(attrs, ", "))
	}

	buf.WriteString("\n")
	for _, e := range sg.Edges {
		fmt.Fprintf(&buf, "  %q -> %q;\n", e.To, e.From)
	}
	buf.WriteString("}\n")
	return buf.String()
}

func label(n graph.Node, opts Options) string {
	title := n.ID
	if v, ok := n.Fields[opts.LabelField]; ok && opts.LabelField != "" {
		title = fmt.Sprint(v)
	} else if n.Name != "" {
		title = n.Name
	}
	if !opts.Detailed {
		return title
	}

	parts := []string{title, fmt.Sprintf("%s, %d children", n.Kind, n.NB)}
	for _, k := range slices.Sorted(maps.Keys(n.Fields)) {
		if k == opts.LabelField {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %v", k, n.Fields[k]))
	}
	return strings.Join(parts, "\n")
}

// RenderSVG lays out DOT source and returns SVG.
func RenderSVG(ctx context.Context, dot string) ([]byte, error) {
	gv, err := graphviz.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("init graphviz: %w", err)
	}
	defer gv.Close()

	g, err := graphviz.ParseBytes([]byte(dot))
	if err != nil {
		return nil, fmt.Errorf("parse DOT: %w", err)
	}
	defer g.Close()

	var buf bytes.Buffer
	if err := gv.Render(ctx, g, graphviz.SVG, &buf); err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}
	return scalableSVG(buf.Bytes()), nil
}

var (
	svgTagRe  = regexp.MustCompile(`<svg[^>]*>`)
	viewBoxRe = regexp.MustCompile(`viewBox="([0-9.]+)\s+([0-9.]+)\s+([0-9.]+)\s+([0-9.]+)"`)
)

// scalableSVG replaces the graphviz root tag, whose size is in points, with
// one sized by its viewBox.
func scalableSVG(svg []byte) []byte {
	m := viewBoxRe.FindSubmatch(svg)
	if m == nil {
		return svg
	}
	w, _ := strconv.ParseFloat(string(m[3]), 64)
	h, _ := strconv.ParseFloat(string(m[4]), 64)
	if w == 0 || h == 0 {
		return svg
	}
	tag := fmt.Sprintf(`<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 %.2f %.2f" width="%.0f" height="%.0f">`, w, h, w, h)
	return svgTagRe.ReplaceAll(svg, []byte(tag))
}
