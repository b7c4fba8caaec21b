//go:build integration

package mongostore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/matzehuels/aipgraph/pkg/graph"
	"github.com/matzehuels/aipgraph/pkg/nodeid"
)

func connect(t *testing.T) *Store {
	t.Helper()
	uri := os.Getenv("AIPGRAPH_MONGO_URI")
	if uri == "" {
		t.Skip("AIPGRAPH_MONGO_URI not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	s, err := Connect(ctx, Options{URI: uri, Database: fmt.Sprintf("aipgraph_test_%d", time.Now().UnixNano())})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() {
		s.Database().Drop(context.Background())
		s.Close()
	})
	return s
}

func TestStoreIntegration(t *testing.T) {
	s := connect(t)
	ctx := context.Background()

	dom := graph.Node{ID: nodeid.New(), Kind: graph.KindDomain, Name: "Archives"}
	if created, err := s.Upsert(ctx, dom); err != nil || !created {
		t.Fatalf("Upsert domain = %v, %v", created, err)
	}
	if created, err := s.Upsert(ctx, dom); err != nil || created {
		t.Fatalf("second Upsert = %v, %v; want not created", created, err)
	}
	dup := graph.Node{ID: nodeid.New(), Kind: graph.KindDomain, Name: "Archives"}
	if _, err := s.Upsert(ctx, dup); !errors.Is(err, graph.ErrDuplicate) {
		t.Errorf("duplicate name: err = %v, want ErrDuplicate", err)
	}

	a := graph.Node{ID: nodeid.New(), Kind: graph.KindDAip, Doms: []string{dom.ID}, Fields: graph.Fields{"title": "Letters"}}
	if _, err := s.Upsert(ctx, a); err != nil {
		t.Fatal(err)
	}
	b := graph.Node{ID: nodeid.New(), Kind: graph.KindDAip, Up: []string{a.ID}, DDS: graph.Distances{a.ID: 3}}
	if _, err := s.Upsert(ctx, b); err != nil {
		t.Fatal(err)
	}

	before, err := s.UpdateLinkSets(ctx, graph.KindDAip, b.ID, graph.Delta{
		Add: map[string][]string{graph.FieldUp: {a.ID}},
		Min: graph.Distances{a.ID: 1, dom.ID: 2},
	})
	if err != nil {
		t.Fatalf("UpdateLinkSets: %v", err)
	}
	if before.DDS[a.ID] != 3 {
		t.Errorf("pre-image dds = %v", before.DDS)
	}
	after, err := s.FindByID(ctx, graph.KindDAip, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(after.Up) != 1 || after.DDS[a.ID] != 1 || after.DDS[dom.ID] != 2 {
		t.Errorf("after = %+v", after)
	}

	kids, err := s.FindManyByFieldIn(ctx, graph.KindDAip, graph.FieldDDS, []string{dom.ID}, nil)
	if err != nil || len(kids) != 1 || kids[0].ID != b.ID {
		t.Errorf("FindManyByFieldIn(dds) = %v, %v", kids, err)
	}
	got, err := s.FindManyByFieldIn(ctx, graph.KindDAip, graph.FieldDoms, []string{dom.ID}, graph.Filter{"title": "Letters"}, graph.FieldDoms)
	if err != nil || len(got) != 1 || got[0].ID != a.ID {
		t.Errorf("FindManyByFieldIn(doms, filter) = %v, %v", got, err)
	}

	if _, err := s.UpdateLinkSets(ctx, graph.KindDAip, "missing", graph.Delta{IncNB: 1}); !errors.Is(err, graph.ErrNotFound) {
		t.Errorf("update missing: err = %v", err)
	}
}

func TestConcurrentIncrementsIntegration(t *testing.T) {
	s := connect(t)
	ctx := context.Background()
	dom := graph.Node{ID: nodeid.New(), Kind: graph.KindDomain, Name: "Counts"}
	if _, err := s.Upsert(ctx, dom); err != nil {
		t.Fatal(err)
	}
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.UpdateLinkSets(ctx, graph.KindDomain, dom.ID, graph.Delta{IncNB: 1}); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
	got, _ := s.FindByID(ctx, graph.KindDomain, dom.ID)
	if got.NB != 20 {
		t.Errorf("nb = %d, want 20", got.NB)
	}
}
