package render

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/matzehuels/aipgraph/pkg/graph"
)

// NodeGetter loads a node. *graph.Manager implements it.
type NodeGetter interface {
	Get(ctx context.Context, kind graph.Kind, id string) (graph.Node, error)
}

// Edge links a parent to a child.
type Edge struct {
	From, To string
}

// Subgraph is a node and its ancestors.
type Subgraph struct {
	Root  string
	Nodes []graph.Node // sorted by id
	Edges []Edge       // sorted
	// Depth maps node ids to their hop distance from Root.
	Depth map[string]int
}

type visit struct {
	kind graph.Kind
	id   string
	hops int
}

// Ancestors walks parent links up from the node kind/id, breadth first,
// stopping after maxHops (0 means no limit). A parent missing from the store
// appears as a bare node.
func Ancestors(ctx context.Context, g NodeGetter, kind graph.Kind, id string, maxHops int) (*Subgraph, error) {
	root, err := g.Get(ctx, kind, id)
	if err != nil {
		return nil, fmt.Errorf("load %s %s: %w", kind, id, err)
	}
	sg := &Subgraph{Root: id, Depth: map[string]int{id: 0}}
	nodes := map[string]graph.Node{id: root}
	queue := []visit{{kind, id, 0}}

	for len(queue) > 0 {
		v := queue[0]
		queue = queue[1:]
		if maxHops > 0 && v.hops >= maxHops {
			continue
		}
		n := nodes[v.id]
		for _, p := range parents(n) {
			sg.Edges = append(sg.Edges, Edge{From: p.id, To: n.ID})
			if _, seen := nodes[p.id]; seen {
				continue
			}
			pn, err := g.Get(ctx, p.kind, p.id)
			if err != nil {
				pn = graph.Node{ID: p.id, Kind: p.kind}
			}
			nodes[p.id] = pn
			sg.Depth[p.id] = v.hops + 1
			queue = append(queue, visit{p.kind, p.id, v.hops + 1})
		}
	}

	for _, n := range nodes {
		sg.Nodes = append(sg.Nodes, n)
	}
	slices.SortFunc(sg.Nodes, func(a, b graph.Node) int { return strings.Compare(a.ID, b.ID) })
	slices.SortFunc(sg.Edges, func(a, b Edge) int {
		if c := strings.Compare(a.From, b.From); c != 0 {
			return c
		}
		return strings.Compare(a.To, b.To)
	})
	sg.Edges = slices.Compact(sg.Edges)
	return sg, nil
}

func parents(n graph.Node) []visit {
	var out []visit
	switch n.Kind {
	case graph.KindDAip:
		for _, d := range n.Doms {
			out = append(out, visit{kind: graph.KindDomain, id: d})
		}
		for _, u := range n.Up {
			out = append(out, visit{kind: graph.KindDAip, id: u})
		}
	case graph.KindPAip:
		for _, u := range n.Up {
			out = append(out, visit{kind: graph.KindDAip, id: u})
		}
	}
	return out
}
