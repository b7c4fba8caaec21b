// Package render draws the ancestry of archival nodes.
//
// [Ancestors] collects the subgraph above one node by following its "up"
// and "doms" links. [ToDOT] turns it into Graphviz DOT source, and
// [RenderSVG] lays it out in process with go-graphviz:
//
//	sg, err := render.Ancestors(ctx, mgr, graph.KindDAip, id, 0)
//	dot := render.ToDOT(sg, render.Options{LabelField: "title"})
//	svg, err := render.RenderSVG(ctx, dot)
//
// PDF and PNG output convert the SVG with rsvg-convert (librsvg), which must
// be installed separately.
package render
