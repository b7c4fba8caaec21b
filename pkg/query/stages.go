package query

import (
	"context"
	"slices"

	"github.com/matzehuels/aipgraph/pkg/errors"
	"github.com/matzehuels/aipgraph/pkg/graph"
	"github.com/matzehuels/aipgraph/pkg/nodeid"
	"github.com/matzehuels/aipgraph/pkg/observability"
	"github.com/matzehuels/aipgraph/pkg/result"
	"github.com/matzehuels/aipgraph/pkg/search"
)

const (
	backendGraph    = "graph"
	backendSearch   = "search"
	backendSimulate = "simulate"
)

func (e *Executor) domainStage(ctx context.Context, s Stage) (*result.Result, error) {
	doms, err := e.Graph.Find(ctx, graph.KindDomain, "", nil, s.Filter)
	if err != nil {
		return nil, err
	}
	res := result.New(nodeIDs(doms)...)
	res.Paths = result.RootPaths(res.IDs, 0)
	res.SubNodeCount = sumNB(doms)
	return res, nil
}

// oneHopStage prefers the search index for text predicates and large
// frontiers, and falls back to the graph join when the index cannot serve
// the request.
func (e *Executor) oneHopStage(ctx context.Context, rank int, s Stage, prev *result.Result) (*result.Result, string, error) {
	frontier := lastSegments(prev.IDs)
	useSearch := e.Index != nil &&
		(s.Query != "" || s.SearchOnly || prev.SubNodeCount > e.Options.SearchThreshold)

	if useSearch {
		nodes, err := e.searchChildren(ctx, s, prev, frontier)
		if err == nil {
			res, err := extend(prev, nodes, 1)
			return res, backendSearch, err
		}
		if !errors.IsFallback(err) {
			return nil, backendSearch, err
		}
		observability.Query().OnFallback(ctx, rank, err)
		e.Logger.Warn("search unavailable, using graph join", "stage", rank, "err", err)
		if s.Query != "" || s.PostFilter != "" {
			e.Logger.Warn("graph join ignores search predicates", "stage", rank, "query", s.Query)
		}
	}

	nodes, err := e.joinChildren(ctx, s, prev, frontier)
	if err != nil {
		return nil, backendGraph, err
	}
	res, err := extend(prev, nodes, 1)
	return res, backendGraph, err
}

// viaFields returns the link fields that connect prev to its children.
// Only a frontier reaching level 0 can hold Domains; it can also hold DAips
// placed there by a path stage.
func viaFields(prev *result.Result) []search.Via {
	if prev.MinLevel > 0 {
		return []search.Via{search.ViaUp}
	}
	return []search.Via{search.ViaDoms, search.ViaUp}
}

func (e *Executor) joinChildren(ctx context.Context, s Stage, prev *result.Result, frontier []string) ([]graph.Node, error) {
	var out []graph.Node
	for _, via := range viaFields(prev) {
		nodes, err := e.Graph.Find(ctx, graph.KindDAip, via.String(), frontier, s.Filter)
		if err != nil {
			return nil, err
		}
		out = append(out, nodes...)
	}
	return uniqueNodes(out), nil
}

func (e *Executor) searchChildren(ctx context.Context, s Stage, prev *result.Result, frontier []string) ([]graph.Node, error) {
	var ids []string
	for _, via := range viaFields(prev) {
		hits, err := e.search(ctx, search.Request{
			Frontier:   frontier,
			Via:        via,
			Predicate:  s.Query,
			PostFilter: s.PostFilter,
		})
		if err != nil {
			return nil, err
		}
		ids = append(ids, hits.IDs...)
	}
	return e.verify(ctx, ids, s.Filter)
}

func (e *Executor) depthStage(ctx context.Context, s Stage, prev *result.Result) (*result.Result, error) {
	if e.Index == nil {
		return nil, errors.New(errors.ErrCodeBackendUnavailable, "depth stages need a search index")
	}
	k, err := hops(s, prev)
	if err != nil {
		return nil, err
	}
	hits, err := e.search(ctx, search.Request{
		Frontier:   lastSegments(prev.IDs),
		Via:        search.ViaDistance,
		Depth:      k,
		Predicate:  s.Query,
		PostFilter: s.PostFilter,
	})
	if err != nil {
		return nil, err
	}
	nodes, err := e.verify(ctx, hits.IDs, s.Filter)
	if err != nil {
		return nil, err
	}
	res, err := extend(prev, nodes, k)
	if err != nil || s.ExactDepth == 0 {
		return res, err
	}
	return atLevel(res, s.ExactDepth), nil
}

// atLevel keeps the paths of res whose current node sits at level.
func atLevel(res *result.Result, level int) *result.Result {
	var kept []string
	var paths []result.Path
	for _, p := range res.Paths {
		if id, l := p.Current(); l == level {
			kept = append(kept, id)
			paths = append(paths, p)
		}
	}
	out := res.Filter(func(id string) bool { return slices.Contains(kept, id) })
	out.Paths = paths
	out.MinLevel, out.MaxLevel = level, level
	return out
}

// hops returns the hop count of a depth stage.
func hops(s Stage, prev *result.Result) (int, error) {
	if s.ExactDepth == 0 {
		return s.Depth, nil
	}
	k := s.ExactDepth - prev.MinLevel
	if k < 1 {
		return 0, errors.New(errors.ErrCodeConfig,
			"exact_depth %d is not below the previous level %d", s.ExactDepth, prev.MinLevel)
	}
	return k, nil
}

func (e *Executor) search(ctx context.Context, req search.Request) (search.Hits, error) {
	req.Kind = graph.KindDAip
	req.Limit = e.Options.SearchLimit
	hits, err := e.Index.Search(ctx, req)
	if err != nil {
		return search.Hits{}, err
	}
	if hits.Truncated {
		e.Logger.Warn("search hits truncated", "via", req.Via, "hits", len(hits.IDs))
	}
	return hits, nil
}

// verify loads search hits from the graph store, applying the equality
// filter. Hits the store does not know (a stale index) are dropped.
func (e *Executor) verify(ctx context.Context, ids []string, filter graph.Filter) ([]graph.Node, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	slices.Sort(ids)
	ids = slices.Compact(ids)
	nodes, err := e.Graph.Find(ctx, graph.KindDAip, graph.FieldID, ids, filter)
	if err != nil {
		return nil, err
	}
	if len(nodes) < len(ids) && len(filter) == 0 {
		e.Logger.Debug("search hits missing from store", "hits", len(ids), "found", len(nodes))
	}
	return nodes, nil
}

func (e *Executor) pathStage(ctx context.Context, s Stage, prev *result.Result) (*result.Result, error) {
	next := result.New(s.RefIDs...)
	if prev != nil {
		var err error
		if next, err = result.CheckAncestor(ctx, e.Graph, prev, next); err != nil {
			return nil, err
		}
	}
	res := pathResult(next.IDs, prev)
	if res.IsEmpty() {
		return res, nil
	}
	nodes, err := e.Graph.Find(ctx, graph.KindDAip, graph.FieldID, lastSegments(res.IDs), nil)
	if err != nil {
		return nil, err
	}
	res.SubNodeCount = sumNB(nodes)
	return res, nil
}

// pathResult places explicit ids one level below prev, or at the level
// their segment count implies when there is no previous stage.
func pathResult(ids []string, prev *result.Result) *result.Result {
	res := result.New(ids...)
	if res.IsEmpty() {
		if prev != nil {
			return result.Empty(prev.MinLevel+1, prev.MaxLevel+1)
		}
		return result.Empty(0, 0)
	}
	res.MinLevel, res.MaxLevel = -1, -1
	for _, id := range res.IDs {
		level := nodeid.Level(id) - 1
		if prev != nil {
			level = prev.MinLevel + 1
		}
		res.Paths = append(res.Paths, result.Path{nodeid.Last(id): level})
		if res.MinLevel < 0 || level < res.MinLevel {
			res.MinLevel = level
		}
		res.MaxLevel = max(res.MaxLevel, level)
	}
	if prev != nil {
		res.MaxLevel = prev.MaxLevel + 1
	}
	return res
}

// extend builds the result of a level transition of at most subdepth hops.
// Each node joins every previous path whose current node it descends from
// within subdepth; nodes that join no path are dropped.
func extend(prev *result.Result, nodes []graph.Node, subdepth int) (*result.Result, error) {
	ancestors := make(map[string]graph.Distances, len(nodes))
	ids := make([]string, 0, len(nodes))
	byID := make(map[string]graph.Node, len(nodes))
	for _, n := range nodes {
		a := graph.Ancestry{Kind: n.Kind, Up: n.Up, Doms: n.Doms, DDS: n.DDS}
		ancestors[n.ID] = a.Distances()
		ids = append(ids, n.ID)
		byID[n.ID] = n
	}
	paths, err := result.FinalizeResult(previousPaths(prev), ids, ancestors, subdepth)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return result.Empty(prev.MinLevel+1, prev.MaxLevel+subdepth), nil
	}

	var kept []string
	minLevel, maxLevel := -1, -1
	for _, p := range paths {
		id, level := p.Current()
		kept = append(kept, id)
		if minLevel < 0 || level < minLevel {
			minLevel = level
		}
		maxLevel = max(maxLevel, level)
	}
	res := result.New(kept...)
	res.Paths = paths
	res.MinLevel, res.MaxLevel = minLevel, maxLevel
	for _, id := range res.IDs {
		res.SubNodeCount += byID[id].NB
	}
	return res, nil
}

// previousPaths returns the paths of prev keyed by last segments, or one
// root path per id when prev carries none.
func previousPaths(prev *result.Result) []result.Path {
	if len(prev.Paths) > 0 {
		return prev.Paths
	}
	return result.RootPaths(lastSegments(prev.IDs), prev.MinLevel)
}

func (e *Executor) simulate(rc *Resolved) (*Trace, error) {
	t := &Trace{}
	var prev *result.Result
	for rank, s := range rc.Stages {
		var res *result.Result
		switch s.Kind {
		case StageDomain:
			res = result.New(nodeid.New())
			res.Paths = result.RootPaths(res.IDs, 0)
		case StagePath:
			res = pathResult(s.RefIDs, prev)
		default:
			k := 1
			if s.Kind == StageDepth {
				var err error
				if k, err = hops(s, prev); err != nil {
					return nil, err
				}
			}
			id := nodeid.New()
			res = result.New(id)
			res.MinLevel, res.MaxLevel = prev.MinLevel+k, prev.MaxLevel+k
			if paths := previousPaths(prev); len(paths) > 0 {
				res.Paths = []result.Path{paths[0].Extend(id, res.MinLevel)}
			}
		}
		res.SubNodeCount = int64(res.Len())
		observability.Query().OnStageComplete(context.Background(), rank, string(s.Kind), backendSimulate, res.Len(), 0, nil)
		t.Levels = append(t.Levels, res)
		prev = res
	}
	t.Final = prev
	return t, nil
}

func lastSegments(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, nodeid.Last(id))
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func nodeIDs(nodes []graph.Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.ID
	}
	return out
}

func sumNB(nodes []graph.Node) int64 {
	var n int64
	for _, x := range nodes {
		n += x.NB
	}
	return n
}

func uniqueNodes(nodes []graph.Node) []graph.Node {
	seen := make(map[string]bool, len(nodes))
	out := nodes[:0]
	for _, n := range nodes {
		if !seen[n.ID] {
			seen[n.ID] = true
			out = append(out, n)
		}
	}
	return out
}
