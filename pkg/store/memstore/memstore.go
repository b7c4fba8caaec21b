// Package memstore is an in-process graph store.
//
// Nodes live in one id-indexed map per kind, guarded by a single RWMutex.
// Name lookups and the "up"/"doms" link fields have secondary indexes so the
// one-hop join does not scan the whole collection. It is used by tests, the
// CLI without a database, and as the reference for the other stores.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/matzehuels/aipgraph/pkg/graph"
)

// indexed fields: field -> value -> ids
var indexedFields = []string{graph.FieldName, graph.FieldUp, graph.FieldDoms}

// Store implements graph.Store in memory.
type Store struct {
	mu    sync.RWMutex
	nodes map[graph.Kind]map[string]graph.Node
	index map[graph.Kind]map[string]map[string]map[string]struct{}
}

// New creates an empty store.
func New() *Store {
	s := &Store{
		nodes: make(map[graph.Kind]map[string]graph.Node),
		index: make(map[graph.Kind]map[string]map[string]map[string]struct{}),
	}
	for _, k := range graph.Kinds {
		s.nodes[k] = make(map[string]graph.Node)
		s.index[k] = make(map[string]map[string]map[string]struct{})
		for _, f := range indexedFields {
			s.index[k][f] = make(map[string]map[string]struct{})
		}
	}
	return s
}

// FindByID returns the node with the given id.
func (s *Store) FindByID(_ context.Context, kind graph.Kind, id string) (graph.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[kind][id]
	if !ok {
		return graph.Node{}, graph.ErrNotFound
	}
	return n.Clone(), nil
}

// FindByField returns the first node (by id) whose field equals value.
func (s *Store) FindByField(ctx context.Context, kind graph.Kind, field, value string) (graph.Node, error) {
	nodes, err := s.FindManyByFieldIn(ctx, kind, field, []string{value}, nil)
	if err != nil {
		return graph.Node{}, err
	}
	if len(nodes) == 0 {
		return graph.Node{}, graph.ErrNotFound
	}
	return nodes[0], nil
}

// FindManyByFieldIn returns matching nodes sorted by id. An empty field
// selects every node of the kind.
func (s *Store) FindManyByFieldIn(ctx context.Context, kind graph.Kind, field string, values []string, filter graph.Filter, _ ...string) ([]graph.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []graph.Node
	add := func(n graph.Node) {
		if filter.Match(n) {
			out = append(out, n.Clone())
		}
	}

	switch {
	case field == "":
		for _, n := range s.nodes[kind] {
			add(n)
		}
	case field == graph.FieldID:
		for _, id := range values {
			if n, ok := s.nodes[kind][id]; ok {
				add(n)
			}
		}
	case s.index[kind][field] != nil:
		seen := make(map[string]bool)
		for _, v := range values {
			for id := range s.index[kind][field][v] {
				if !seen[id] {
					seen[id] = true
					add(s.nodes[kind][id])
				}
			}
		}
	default:
		want := make(graph.Filter, 1)
		want[field] = values
		for _, n := range s.nodes[kind] {
			if want.Match(n) {
				add(n)
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Upsert inserts n unless its id is taken.
func (s *Store) Upsert(_ context.Context, n graph.Node) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.nodes[n.Kind][n.ID]; ok {
		return false, nil
	}
	if n.Name != "" && (n.Kind == graph.KindDomain || n.Kind == graph.KindDua) {
		if len(s.index[n.Kind][graph.FieldName][n.Name]) > 0 {
			return false, graph.ErrDuplicate
		}
	}
	n = n.Clone()
	s.nodes[n.Kind][n.ID] = n
	s.reindex(graph.Node{}, n)
	return true, nil
}

// UpdateLinkSets applies d under the write lock.
func (s *Store) UpdateLinkSets(_ context.Context, kind graph.Kind, id string, d graph.Delta) (graph.Node, error) {
	if err := d.Validate(); err != nil {
		return graph.Node{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	before, ok := s.nodes[kind][id]
	if !ok {
		return graph.Node{}, graph.ErrNotFound
	}
	after := graph.ApplyDelta(before, d)
	s.nodes[kind][id] = after
	s.reindex(before, after)
	return before.Clone(), nil
}

// Len returns the number of stored nodes of kind.
func (s *Store) Len(kind graph.Kind) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes[kind])
}

// Close does nothing.
func (s *Store) Close() error { return nil }

func (s *Store) reindex(before, after graph.Node) {
	idx := s.index[after.Kind]
	for _, f := range indexedFields {
		old := attrStrings(before, f)
		for v := range attrStrings(after, f) {
			if old[v] {
				continue
			}
			if idx[f][v] == nil {
				idx[f][v] = make(map[string]struct{})
			}
			idx[f][v][after.ID] = struct{}{}
		}
	}
}

func attrStrings(n graph.Node, field string) map[string]bool {
	out := make(map[string]bool)
	if n.ID == "" {
		return out
	}
	for _, v := range n.Attr(field) {
		if s, ok := v.(string); ok && s != "" {
			out[s] = true
		}
	}
	return out
}

var _ graph.Store = (*Store)(nil)
