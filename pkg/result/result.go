// Package result holds the value produced by each query stage and the
// algorithms that chain stage results together.
//
// A [Result] is a frontier: a set of node ids, the range of graph levels they
// sit at, the sum of their child counts, and the paths that lead to them.
//
// Two operations decide what survives a level transition:
//   - [FinalizeResult] extends every previous path with each new id whose
//     recorded ancestor distance to the path's current node is within the
//     stage's hop count. It fails closed when an ancestor map is missing.
//   - [CheckAncestor] drops new ids whose ancestors do not include any id of
//     the previous frontier. Search-index stages need it because the index
//     only guarantees "some ancestor within k hops".
package result

import (
	"maps"
	"slices"
	"sort"
)

// Path maps every node visited along one discovered path to its level.
type Path map[string]int

// Current returns the most recently added node of p (the one with the
// highest level) and its level.
func (p Path) Current() (string, int) {
	best, level := "", -1
	for id, l := range p {
		if l > level || (l == level && id < best) {
			best, level = id, l
		}
	}
	return best, level
}

// Extend returns a copy of p with id added at level.
func (p Path) Extend(id string, level int) Path {
	out := maps.Clone(p)
	if out == nil {
		out = make(Path, 1)
	}
	out[id] = level
	return out
}

// Ordered returns the ids of p from the root towards the current node.
func (p Path) Ordered() []string {
	ids := slices.Collect(maps.Keys(p))
	sort.Slice(ids, func(i, j int) bool {
		if p[ids[i]] != p[ids[j]] {
			return p[ids[i]] < p[ids[j]]
		}
		return ids[i] < ids[j]
	})
	return ids
}

// Result is the output of one query stage.
type Result struct {
	Key          string   `json:"key,omitempty"`
	IDs          []string `json:"ids"`
	MinLevel     int      `json:"min_level"`
	MaxLevel     int      `json:"max_level"`
	SubNodeCount int64    `json:"sub_node_count"`
	Paths        []Path   `json:"paths,omitempty"`
}

// New returns a Result holding the distinct ids, sorted.
func New(ids ...string) *Result {
	return &Result{IDs: normalize(ids)}
}

// Empty returns an empty Result at the given levels.
func Empty(minLevel, maxLevel int) *Result {
	return &Result{IDs: []string{}, MinLevel: minLevel, MaxLevel: maxLevel}
}

// RootPaths returns one single-node path per id, at level.
func RootPaths(ids []string, level int) []Path {
	out := make([]Path, len(ids))
	for i, id := range ids {
		out[i] = Path{id: level}
	}
	return out
}

// Len returns the number of ids.
func (r *Result) Len() int {
	if r == nil {
		return 0
	}
	return len(r.IDs)
}

// IsEmpty reports whether r holds no id.
func (r *Result) IsEmpty() bool {
	return r.Len() == 0
}

// Contains reports whether id is in r.
func (r *Result) Contains(id string) bool {
	if r == nil {
		return false
	}
	_, found := slices.BinarySearch(r.IDs, id)
	return found
}

// Clone returns a deep copy of r.
func (r *Result) Clone() *Result {
	if r == nil {
		return nil
	}
	out := *r
	out.IDs = slices.Clone(r.IDs)
	if r.Paths != nil {
		out.Paths = make([]Path, len(r.Paths))
		for i, p := range r.Paths {
			out.Paths[i] = maps.Clone(p)
		}
	}
	return &out
}

// Filter returns a copy of r keeping only the ids for which keep is true.
// Paths whose current node is dropped are dropped too.
func (r *Result) Filter(keep func(id string) bool) *Result {
	out := r.Clone()
	out.IDs = out.IDs[:0]
	for _, id := range r.IDs {
		if keep(id) {
			out.IDs = append(out.IDs, id)
		}
	}
	if r.Paths != nil {
		out.Paths = out.Paths[:0]
		for _, p := range r.Paths {
			if cur, _ := p.Current(); out.Contains(cur) {
				out.Paths = append(out.Paths, p)
			}
		}
	}
	return out
}

func normalize(ids []string) []string {
	out := slices.Clone(ids)
	if out == nil {
		out = []string{}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
