package badgerstore

import (
	"context"
	"errors"
	"io"
	"slices"
	"sync"
	"testing"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/aipgraph/pkg/graph"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open("", log.New(io.Discard))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func ids(nodes []graph.Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.ID
	}
	return out
}

func TestUpsert(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	d := graph.Node{ID: "d1", Kind: graph.KindDomain, Name: "Archives"}
	if created, err := s.Upsert(ctx, d); err != nil || !created {
		t.Fatalf("Upsert = %v, %v", created, err)
	}
	if created, err := s.Upsert(ctx, graph.Node{ID: "d1", Kind: graph.KindDomain, Name: "Other"}); err != nil || created {
		t.Fatalf("re-Upsert = %v, %v; want existing", created, err)
	}
	got, err := s.FindByID(ctx, graph.KindDomain, "d1")
	if err != nil || got.Name != "Archives" {
		t.Errorf("FindByID = %+v, %v; upsert must not overwrite", got, err)
	}
	if _, err := s.Upsert(ctx, graph.Node{ID: "d2", Kind: graph.KindDomain, Name: "Archives"}); !errors.Is(err, graph.ErrDuplicate) {
		t.Errorf("duplicate name: err = %v", err)
	}
	if got, err := s.FindByField(ctx, graph.KindDomain, graph.FieldName, "Archives"); err != nil || got.ID != "d1" {
		t.Errorf("FindByField = %v, %v", got.ID, err)
	}
	if _, err := s.FindByID(ctx, graph.KindDAip, "d1"); !errors.Is(err, graph.ErrNotFound) {
		t.Errorf("kinds must not share keys: err = %v", err)
	}
}

func TestUpdateLinkSets(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	for _, n := range []graph.Node{
		{ID: "a", Kind: graph.KindDAip, Doms: []string{"d"}, DDS: graph.Distances{"d": 1}},
		{ID: "b", Kind: graph.KindDAip, Up: []string{"a"}, DDS: graph.Distances{"a": 1, "d": 5}, Fields: graph.Fields{"title": "x"}},
	} {
		if _, err := s.Upsert(ctx, n); err != nil {
			t.Fatal(err)
		}
	}

	before, err := s.UpdateLinkSets(ctx, graph.KindDAip, "b", graph.Delta{
		Add:   map[string][]string{graph.FieldDoms: {"d"}},
		Min:   graph.Distances{"d": 1, "z": 2},
		IncNB: 1,
	})
	if err != nil {
		t.Fatalf("UpdateLinkSets: %v", err)
	}
	if before.DDS["d"] != 5 || before.NB != 0 {
		t.Errorf("pre-image = %+v", before)
	}
	after, _ := s.FindByID(ctx, graph.KindDAip, "b")
	if after.DDS["d"] != 1 || after.DDS["z"] != 2 || after.NB != 1 || !slices.Equal(after.Doms, []string{"d"}) {
		t.Errorf("after = %+v", after)
	}

	tests := []struct {
		field  string
		values []string
		filter graph.Filter
		want   []string
	}{
		{graph.FieldDoms, []string{"d"}, nil, []string{"a", "b"}},
		{graph.FieldUp, []string{"a"}, nil, []string{"b"}},
		{graph.FieldDDS, []string{"z"}, nil, []string{"b"}},
		{graph.FieldDDS, []string{"d"}, graph.Filter{"title": "x"}, []string{"b"}},
		{graph.FieldID, []string{"b", "a", "b", "missing"}, nil, []string{"a", "b"}},
		{"title", []string{"x"}, nil, []string{"b"}},
		{"", nil, nil, []string{"a", "b"}},
	}
	for _, tt := range tests {
		got, err := s.FindManyByFieldIn(ctx, graph.KindDAip, tt.field, tt.values, tt.filter)
		if err != nil {
			t.Fatalf("FindManyByFieldIn(%s): %v", tt.field, err)
		}
		if !slices.Equal(ids(got), tt.want) {
			t.Errorf("FindManyByFieldIn(%s, %v) = %v, want %v", tt.field, tt.values, ids(got), tt.want)
		}
	}

	if _, err := s.UpdateLinkSets(ctx, graph.KindDAip, "missing", graph.Delta{IncNB: 1}); !errors.Is(err, graph.ErrNotFound) {
		t.Errorf("missing node: err = %v", err)
	}
	if _, err := s.UpdateLinkSets(ctx, graph.KindDAip, "a", graph.Delta{Add: map[string][]string{"title": {"x"}}}); err == nil {
		t.Error("delta on a non-link field should fail")
	}
}

func TestConcurrentUpdatesSerialize(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	if _, err := s.Upsert(ctx, graph.Node{ID: "d", Kind: graph.KindDomain, Name: "D"}); err != nil {
		t.Fatal(err)
	}
	const workers = 8
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			child := string(rune('a' + i))
			if _, err := s.UpdateLinkSets(ctx, graph.KindDomain, "d", graph.Delta{
				Add:   map[string][]string{graph.FieldChildren: {child}},
				IncNB: 1,
			}); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
	got, _ := s.FindByID(ctx, graph.KindDomain, "d")
	if got.NB != workers || len(got.Children) != workers {
		t.Errorf("nb = %d, children = %v; want %d each", got.NB, got.Children, workers)
	}
	if n, err := s.Len(graph.KindDomain); err != nil || n != 1 {
		t.Errorf("Len = %d, %v", n, err)
	}
}

func TestStoreBacksManager(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	m := graph.NewManager(s, log.New(io.Discard))

	d, err := m.EnsureDomain(ctx, "Archives", nil)
	if err != nil {
		t.Fatal(err)
	}
	a, err := m.CreateChild(ctx, d, graph.Fields{"title": "fonds"})
	if err != nil {
		t.Fatal(err)
	}
	b, err := m.CreateChild(ctx, a, nil)
	if err != nil {
		t.Fatal(err)
	}
	stored, err := s.FindByID(ctx, graph.KindDAip, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.DDS[d.ID] != 2 || stored.DDS[a.ID] != 1 {
		t.Errorf("dds(B) = %v", stored.DDS)
	}
}
