package graph

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
)

// Sentinel errors returned by Store implementations.
var (
	// ErrNotFound is returned when no node matches the lookup.
	ErrNotFound = errors.New("node not found")

	// ErrDuplicate is returned when a unique attribute (domain or retention
	// rule name) is already taken by another node.
	ErrDuplicate = errors.New("duplicate node")
)

// Store is the graph persistence port. Implementations must make
// UpdateLinkSets atomic per node id.
type Store interface {
	// FindByID returns the node with the given id, or ErrNotFound.
	FindByID(ctx context.Context, kind Kind, id string) (Node, error)

	// FindByField returns one node whose field equals value, or ErrNotFound.
	FindByField(ctx context.Context, kind Kind, field, value string) (Node, error)

	// FindManyByFieldIn returns the nodes whose field holds any of values
	// and that match filter. For set-valued fields a node matches when the
	// sets intersect; for FieldDDS when the distance map has any of values as
	// a key. Projection names the attributes the caller needs; stores may
	// return more.
	FindManyByFieldIn(ctx context.Context, kind Kind, field string, values []string, filter Filter, projection ...string) ([]Node, error)

	// Upsert inserts n unless a node with the same id exists, in which case
	// the stored node is left untouched and created is false.
	Upsert(ctx context.Context, n Node) (created bool, err error)

	// UpdateLinkSets applies d atomically and returns the node as it was
	// immediately before the update.
	UpdateLinkSets(ctx context.Context, kind Kind, id string, d Delta) (before Node, err error)

	// Close releases backend resources.
	Close() error
}

// Delta is an additive update. Link sets only grow, distances only move
// down, counters only increase. Single-valued links and business fields are
// overwritten, which is idempotent for equal values.
type Delta struct {
	Add    map[string][]string `json:"add,omitempty"`
	Min    Distances           `json:"min,omitempty"`
	Set    map[string]string   `json:"set,omitempty"`
	Fields Fields              `json:"fields,omitempty"`
	IncNB  int64               `json:"inc_nb,omitempty"`
}

// IsZero reports whether d changes nothing.
func (d Delta) IsZero() bool {
	return len(d.Add) == 0 && len(d.Min) == 0 && len(d.Set) == 0 &&
		len(d.Fields) == 0 && d.IncNB == 0
}

// Validate rejects deltas that name unknown link fields.
func (d Delta) Validate() error {
	var n Node
	for f := range d.Add {
		if n.linkSet(f) == nil {
			return fmt.Errorf("delta: %q is not a link set", f)
		}
	}
	for f := range d.Set {
		if n.linkValue(f) == nil {
			return fmt.Errorf("delta: %q is not a single link", f)
		}
	}
	return nil
}

// ApplyDelta returns a copy of n with d applied. Stores without native
// partial updates use it to compute the new record; the Manager uses it to
// derive the post-image from the pre-image returned by UpdateLinkSets.
func ApplyDelta(n Node, d Delta) Node {
	out := n.Clone()
	for f, vs := range d.Add {
		if set := out.linkSet(f); set != nil {
			*set, _ = addToSet(*set, vs...)
		}
	}
	if len(d.Min) > 0 {
		out.DDS, _ = MergeDistances(out.DDS, d.Min)
	}
	for f, v := range d.Set {
		if p := out.linkValue(f); p != nil {
			*p = v
		}
	}
	if len(d.Fields) > 0 {
		if out.Fields == nil {
			out.Fields = make(Fields, len(d.Fields))
		}
		maps.Copy(out.Fields, d.Fields)
	}
	out.NB += d.IncNB
	return out
}

// Filter is an equality predicate over node attributes and business fields.
// A slice value matches any of its elements. An empty filter matches every
// node.
type Filter map[string]any

// Match reports whether n satisfies every entry of f.
func (f Filter) Match(n Node) bool {
	for field, want := range f {
		if !matchAny(n.Attr(field), want) {
			return false
		}
	}
	return true
}

// Fields returns the filter keys in sorted order.
func (f Filter) Fields() []string {
	keys := slices.Collect(maps.Keys(f))
	slices.Sort(keys)
	return keys
}

func matchAny(have []any, want any) bool {
	wants := expand(want)
	for _, h := range have {
		for _, w := range wants {
			if equalValue(h, w) {
				return true
			}
		}
	}
	return false
}

func expand(v any) []any {
	switch vs := v.(type) {
	case []any:
		return vs
	case []string:
		out := make([]any, len(vs))
		for i, s := range vs {
			out[i] = s
		}
		return out
	}
	return []any{v}
}

// equalValue compares scalars loosely so that values decoded from JSON
// (float64) match integer literals.
func equalValue(a, b any) bool {
	return fmt.Sprint(a) == fmt.Sprint(b)
}
