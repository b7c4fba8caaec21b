package result

import (
	"context"
	"fmt"
	"slices"

	"github.com/matzehuels/aipgraph/pkg/errors"
	"github.com/matzehuels/aipgraph/pkg/graph"
	"github.com/matzehuels/aipgraph/pkg/nodeid"
)

// AncestryLookup resolves the ancestry of node ids. Unknown ids are absent
// from the returned map. *graph.Manager implements it.
type AncestryLookup interface {
	Ancestry(ctx context.Context, ids []string) (map[string]graph.Ancestry, error)
}

// FinalizeResult extends previous paths across one level transition.
//
// A new id x joins path p when ancestors[x] records p's current node at a
// distance d <= subdepth; the extended path places x at the current node's
// level plus d. Every id in newIDs must have an entry in ancestors: a
// missing one means ancestry cannot be verified and FinalizeResult fails
// with a CONFIG error.
func FinalizeResult(previous []Path, newIDs []string, ancestors map[string]graph.Distances, subdepth int) ([]Path, error) {
	for _, x := range newIDs {
		if ancestors[x] == nil {
			return nil, errors.New(errors.ErrCodeConfig, "no ancestor map for %s, cannot verify ancestry", x)
		}
	}
	var out []Path
	for _, p := range previous {
		cur, level := p.Current()
		for _, x := range newIDs {
			d, ok := ancestors[x][cur]
			if !ok || d > subdepth {
				continue
			}
			out = append(out, p.Extend(x, level+d))
		}
	}
	return out, nil
}

// CheckAncestor returns the part of next whose ids descend from an id of
// previous.
//
// Ids of next are grouped by their first path segment; a group is kept when
// that segment is itself a last segment of a previous id, or when its
// immediate or recorded ancestors include one. Unknown segments are dropped.
// A nil lookup, or a nil previous result, returns next unchanged.
func CheckAncestor(ctx context.Context, lookup AncestryLookup, previous, next *Result) (*Result, error) {
	if lookup == nil || previous == nil || next.IsEmpty() {
		return next, nil
	}
	if previous.IsEmpty() {
		return next.Filter(func(string) bool { return false }), nil
	}

	lasts := make(map[string]bool, len(previous.IDs))
	for _, id := range previous.IDs {
		lasts[nodeid.Last(id)] = true
	}

	groups := make(map[string][]string)
	for _, id := range next.IDs {
		first := nodeid.First(id)
		groups[first] = append(groups[first], id)
	}
	firsts := make([]string, 0, len(groups))
	for f := range groups {
		if !lasts[f] {
			firsts = append(firsts, f)
		}
	}
	slices.Sort(firsts)

	ancestry, err := lookup.Ancestry(ctx, firsts)
	if err != nil {
		return nil, fmt.Errorf("check ancestor: %w", err)
	}

	keep := make(map[string]bool, len(next.IDs))
	for f, ids := range groups {
		ok := lasts[f]
		if !ok {
			if a, found := ancestry[f]; found {
				for last := range lasts {
					if a.HasAncestor(last) {
						ok = true
						break
					}
				}
			}
		}
		if ok {
			for _, id := range ids {
				keep[id] = true
			}
		}
	}
	return next.Filter(func(id string) bool { return keep[id] }), nil
}

// PathsToAncestor returns every parent chain from node up to target, as id
// paths ordered from target (exclusive) down to node (inclusive). Only
// parents whose distance map records target are followed, so every returned
// chain ends at target. A node that is an immediate child of target yields
// the single path made of node itself.
func PathsToAncestor(ctx context.Context, lookup AncestryLookup, node, target string) ([]string, error) {
	memo := make(map[string][]string)
	return pathsTo(ctx, lookup, node, target, memo)
}

func pathsTo(ctx context.Context, lookup AncestryLookup, node, target string, memo map[string][]string) ([]string, error) {
	if paths, ok := memo[node]; ok {
		return paths, nil
	}
	found, err := lookup.Ancestry(ctx, []string{node})
	if err != nil {
		return nil, err
	}
	a, ok := found[node]
	if !ok {
		memo[node] = nil
		return nil, nil
	}

	var out []string
	parents := append(slices.Clone(a.Up), a.Doms...)
	if slices.Contains(parents, target) {
		out = append(out, node)
	}
	for _, p := range a.Up {
		if p == target {
			continue
		}
		pa, err := lookup.Ancestry(ctx, []string{p})
		if err != nil {
			return nil, err
		}
		if !pa[p].HasAncestor(target) {
			continue
		}
		sub, err := pathsTo(ctx, lookup, p, target, memo)
		if err != nil {
			return nil, err
		}
		for _, s := range sub {
			out = append(out, nodeid.Join(s, node))
		}
	}
	memo[node] = out
	return out, nil
}

// BuildFullPaths turns per-level results into full id paths.
//
// Walking from the last level backwards, each final id is connected to an id
// of the previous level through [PathsToAncestor], and the chains are
// concatenated up to the first level. The returned Result holds one
// concatenated path per distinct chain, at the levels of the last result.
func BuildFullPaths(ctx context.Context, lookup AncestryLookup, levels []*Result) (*Result, error) {
	if len(levels) == 0 {
		return Empty(0, 0), nil
	}
	last := levels[len(levels)-1]
	current := make([]string, len(last.IDs))
	copy(current, last.IDs)

	for i := len(levels) - 2; i >= 0 && len(current) > 0; i-- {
		var next []string
		for _, path := range current {
			head := nodeid.First(path)
			for _, anc := range levels[i].IDs {
				target := nodeid.Last(anc)
				chains, err := PathsToAncestor(ctx, lookup, head, target)
				if err != nil {
					return nil, fmt.Errorf("paths from %s to %s: %w", head, target, err)
				}
				for _, c := range chains {
					next = append(next, nodeid.Join(anc, c, path[len(head):]))
				}
			}
		}
		current = next
	}

	out := New(current...)
	out.MinLevel, out.MaxLevel, out.SubNodeCount = last.MinLevel, last.MaxLevel, last.SubNodeCount
	return out, nil
}
