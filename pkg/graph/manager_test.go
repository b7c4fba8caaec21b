package graph_test

import (
	"context"
	"io"
	"maps"
	"slices"
	"sync"
	"testing"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/aipgraph/pkg/graph"
	"github.com/matzehuels/aipgraph/pkg/store/memstore"
)

func newManager(t *testing.T) (*graph.Manager, *memstore.Store) {
	t.Helper()
	s := memstore.New()
	return graph.NewManager(s, log.New(io.Discard)), s
}

// buildTree creates D -> A -> {B1, B2}.
func buildTree(t *testing.T, m *graph.Manager) (d, a, b1, b2 graph.Node) {
	t.Helper()
	ctx := context.Background()
	var err error
	if d, err = m.EnsureDomain(ctx, "Archives", nil); err != nil {
		t.Fatalf("EnsureDomain: %v", err)
	}
	if a, err = m.CreateChild(ctx, d, graph.Fields{"title": "fonds"}); err != nil {
		t.Fatalf("CreateChild(A): %v", err)
	}
	if b1, err = m.CreateChild(ctx, a, graph.Fields{"title": "b1"}); err != nil {
		t.Fatalf("CreateChild(B1): %v", err)
	}
	if b2, err = m.CreateChild(ctx, a, graph.Fields{"title": "b2"}); err != nil {
		t.Fatalf("CreateChild(B2): %v", err)
	}
	return d, a, b1, b2
}

func TestCreateChild(t *testing.T) {
	m, s := newManager(t)
	ctx := context.Background()
	d, a, b1, _ := buildTree(t, m)

	if want := (graph.Distances{d.ID: 1}); !maps.Equal(a.DDS, want) {
		t.Errorf("dds(A) = %v, want %v", a.DDS, want)
	}
	if want := (graph.Distances{a.ID: 1, d.ID: 2}); !maps.Equal(b1.DDS, want) {
		t.Errorf("dds(B1) = %v, want %v", b1.DDS, want)
	}

	storedD, err := s.FindByID(ctx, graph.KindDomain, d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if storedD.NB != 1 || !slices.Equal(storedD.Children, []string{a.ID}) {
		t.Errorf("domain = nb %d children %v", storedD.NB, storedD.Children)
	}
	storedA, _ := s.FindByID(ctx, graph.KindDAip, a.ID)
	if storedA.NB != 2 {
		t.Errorf("nb(A) = %d, want 2", storedA.NB)
	}
	if !slices.Equal(storedA.Doms, []string{d.ID}) {
		t.Errorf("doms(A) = %v", storedA.Doms)
	}
}

func TestCreateChildRejectsPAipParent(t *testing.T) {
	m, _ := newManager(t)
	if _, err := m.CreateChild(context.Background(), graph.Node{ID: "p", Kind: graph.KindPAip}, nil); err == nil {
		t.Error("CreateChild under a PAip should fail")
	}
}

func TestEnsureDomainIdempotent(t *testing.T) {
	m, s := newManager(t)
	ctx := context.Background()
	d1, err := m.EnsureDomain(ctx, "Archives", nil)
	if err != nil {
		t.Fatal(err)
	}
	d2, err := m.EnsureDomain(ctx, "Archives", nil)
	if err != nil {
		t.Fatal(err)
	}
	if d1.ID != d2.ID {
		t.Errorf("EnsureDomain returned %s then %s", d1.ID, d2.ID)
	}
	if n := s.Len(graph.KindDomain); n != 1 {
		t.Errorf("stored domains = %d, want 1", n)
	}
}

func TestMergeIdempotent(t *testing.T) {
	m, s := newManager(t)
	ctx := context.Background()
	_, a, _, _ := buildTree(t, m)

	in := graph.Node{
		ID:     "resubmitted",
		Kind:   graph.KindDAip,
		Up:     []string{a.ID},
		DDS:    graph.ChildDistances(a.DDS, a.ID),
		Fields: graph.Fields{"title": "dup"},
	}
	first, err := m.Merge(ctx, in)
	if err != nil {
		t.Fatal(err)
	}
	if !first.Created {
		t.Error("first merge should create")
	}
	afterOnce, _ := s.FindByID(ctx, graph.KindDAip, in.ID)
	parentOnce, _ := s.FindByID(ctx, graph.KindDAip, a.ID)

	second, err := m.Merge(ctx, in)
	if err != nil {
		t.Fatal(err)
	}
	if second.Created {
		t.Error("second merge should not create")
	}
	if len(second.Changed) != 0 || len(second.Linked) != 0 {
		t.Errorf("second merge changed %v linked %v", second.Changed, second.Linked)
	}
	afterTwice, _ := s.FindByID(ctx, graph.KindDAip, in.ID)
	parentTwice, _ := s.FindByID(ctx, graph.KindDAip, a.ID)

	if !maps.Equal(afterOnce.DDS, afterTwice.DDS) || !slices.Equal(afterOnce.Up, afterTwice.Up) || afterOnce.NB != afterTwice.NB {
		t.Errorf("node changed: %+v -> %+v", afterOnce, afterTwice)
	}
	if parentOnce.NB != parentTwice.NB {
		t.Errorf("parent nb changed: %d -> %d", parentOnce.NB, parentTwice.NB)
	}
}

func TestMergeMinAndUnion(t *testing.T) {
	m, s := newManager(t)
	ctx := context.Background()

	for _, id := range []string{"A", "B", "C"} {
		if _, err := s.Upsert(ctx, graph.Node{ID: id, Kind: graph.KindDAip}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := s.Upsert(ctx, graph.Node{ID: "N", Kind: graph.KindDAip, Up: []string{"A"}, DDS: graph.Distances{"A": 3, "B": 5}}); err != nil {
		t.Fatal(err)
	}
	res, err := m.Merge(ctx, graph.Node{ID: "N", Kind: graph.KindDAip, Up: []string{"C"}, DDS: graph.Distances{"A": 2, "C": 1}})
	if err != nil {
		t.Fatal(err)
	}
	if want := (graph.Distances{"A": 2, "B": 5, "C": 1}); !maps.Equal(res.Node.DDS, want) {
		t.Errorf("merged dds = %v, want %v", res.Node.DDS, want)
	}
	if !slices.Equal(res.Node.Up, []string{"A", "C"}) {
		t.Errorf("merged up = %v", res.Node.Up)
	}
	if !slices.Equal(res.Linked, []string{"C"}) {
		t.Errorf("linked = %v, want [C]", res.Linked)
	}
	c, _ := s.FindByID(ctx, graph.KindDAip, "C")
	if c.NB != 1 {
		t.Errorf("nb(C) = %d, want 1", c.NB)
	}
}

func TestAddParentTwiceCountsOnce(t *testing.T) {
	m, s := newManager(t)
	ctx := context.Background()
	d, a, b1, _ := buildTree(t, m)

	other, err := m.CreateChild(ctx, d, nil)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if _, err := m.AddParent(ctx, b1.ID, other); err != nil {
			t.Fatalf("AddParent #%d: %v", i, err)
		}
	}
	stored, _ := s.FindByID(ctx, graph.KindDAip, other.ID)
	if stored.NB != 1 {
		t.Errorf("nb(other) = %d, want 1", stored.NB)
	}
	child, _ := s.FindByID(ctx, graph.KindDAip, b1.ID)
	if !slices.Equal(child.Up, []string{a.ID, other.ID}) {
		t.Errorf("up(B1) = %v", child.Up)
	}
}

func TestMergeDomainChildrenCountsOnce(t *testing.T) {
	m, s := newManager(t)
	ctx := context.Background()
	d, a, _, _ := buildTree(t, m)

	for i := 0; i < 2; i++ {
		if _, err := m.Merge(ctx, graph.Node{ID: d.ID, Kind: graph.KindDomain, Children: []string{a.ID}}); err != nil {
			t.Fatal(err)
		}
	}
	stored, _ := s.FindByID(ctx, graph.KindDomain, d.ID)
	if stored.NB != 1 || len(stored.Children) != 1 {
		t.Errorf("domain nb %d children %v", stored.NB, stored.Children)
	}
}

func TestPropagation(t *testing.T) {
	m, s := newManager(t)
	ctx := context.Background()

	// D -> X -> Y -> A -> B, then link A directly under D.
	d, _ := m.EnsureDomain(ctx, "Root", nil)
	x, _ := m.CreateChild(ctx, d, nil)
	y, _ := m.CreateChild(ctx, x, nil)
	a, _ := m.CreateChild(ctx, y, nil)
	b, _ := m.CreateChild(ctx, a, nil)
	if b.DDS[d.ID] != 4 {
		t.Fatalf("dds(B)[D] = %d, want 4", b.DDS[d.ID])
	}

	res, err := m.AddParent(ctx, a.ID, d)
	if err != nil {
		t.Fatal(err)
	}
	if res.Changed[d.ID] != 1 {
		t.Errorf("changed = %v", res.Changed)
	}
	stored, _ := s.FindByID(ctx, graph.KindDAip, b.ID)
	if stored.DDS[d.ID] != 2 {
		t.Errorf("dds(B)[D] after propagation = %d, want 2", stored.DDS[d.ID])
	}
	if stored.DDS[x.ID] != 3 {
		t.Errorf("dds(B)[X] = %d, want 3 (unchanged)", stored.DDS[x.ID])
	}
}

func TestPropagationDisabled(t *testing.T) {
	m, s := newManager(t)
	m.Propagate = false
	ctx := context.Background()

	d, _ := m.EnsureDomain(ctx, "Root", nil)
	x, _ := m.CreateChild(ctx, d, nil)
	a, _ := m.CreateChild(ctx, x, nil)
	b, _ := m.CreateChild(ctx, a, nil)

	if _, err := m.AddParent(ctx, a.ID, d); err != nil {
		t.Fatal(err)
	}
	stored, _ := s.FindByID(ctx, graph.KindDAip, b.ID)
	if stored.DDS[d.ID] != 3 {
		t.Errorf("dds(B)[D] = %d, want stale 3", stored.DDS[d.ID])
	}
}

func TestAttachDua(t *testing.T) {
	m, s := newManager(t)
	ctx := context.Background()
	_, a, _, _ := buildTree(t, m)

	// Unknown rule: skipped, not an error.
	got, err := m.AttachDua(ctx, a, "missing")
	if err != nil {
		t.Fatalf("AttachDua(missing) = %v", err)
	}
	if got.Dua != "" {
		t.Errorf("dua = %q, want empty", got.Dua)
	}

	rule, err := m.EnsureDua(ctx, "DUA-10y", graph.Fields{"years": 10})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if got, err = m.AttachDua(ctx, got, "DUA-10y"); err != nil {
			t.Fatal(err)
		}
	}
	stored, _ := s.FindByID(ctx, graph.KindDAip, a.ID)
	if stored.Dua != rule.ID {
		t.Errorf("dua = %q, want %q", stored.Dua, rule.ID)
	}
}

func TestAttachPAip(t *testing.T) {
	m, s := newManager(t)
	ctx := context.Background()
	_, a, _, _ := buildTree(t, m)

	p, err := m.CreatePAip(ctx, a, graph.Fields{"format": "pdf"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.AttachPAip(ctx, a, p); err != nil {
		t.Fatal(err)
	}
	storedA, _ := s.FindByID(ctx, graph.KindDAip, a.ID)
	if storedA.PAip != p.ID {
		t.Errorf("paip(A) = %q, want %q", storedA.PAip, p.ID)
	}
	storedP, _ := s.FindByID(ctx, graph.KindPAip, p.ID)
	if !slices.Equal(storedP.Up, []string{a.ID}) {
		t.Errorf("up(P) = %v", storedP.Up)
	}
	if storedA.NB != 2 {
		t.Errorf("nb(A) = %d, PAips must not count as children", storedA.NB)
	}
}

func TestAncestry(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()
	d, a, b1, _ := buildTree(t, m)

	got, err := m.Ancestry(ctx, []string{d.ID, b1.ID, "unknown"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("Ancestry() returned %d entries, want 2", len(got))
	}
	if got[d.ID].Kind != graph.KindDomain {
		t.Errorf("kind(D) = %s", got[d.ID].Kind)
	}
	if !got[b1.ID].HasAncestor(d.ID) || !got[b1.ID].HasAncestor(a.ID) {
		t.Errorf("ancestry(B1) = %+v", got[b1.ID])
	}
	if got[b1.ID].HasAncestor(b1.ID) {
		t.Error("a node is not its own ancestor")
	}
}

func TestConcurrentMerge(t *testing.T) {
	m, s := newManager(t)
	ctx := context.Background()
	d, _ := m.EnsureDomain(ctx, "Root", nil)

	parents := make([]graph.Node, 8)
	for i := range parents {
		p, err := m.CreateChild(ctx, d, nil)
		if err != nil {
			t.Fatal(err)
		}
		parents[i] = p
	}

	var wg sync.WaitGroup
	for _, p := range parents {
		wg.Add(1)
		go func() {
			defer wg.Done()
			in := graph.Node{ID: "shared", Kind: graph.KindDAip, Up: []string{p.ID}, DDS: graph.ChildDistances(p.DDS, p.ID)}
			if _, err := m.Merge(ctx, in); err != nil {
				t.Errorf("Merge: %v", err)
			}
		}()
	}
	wg.Wait()

	stored, err := s.FindByID(ctx, graph.KindDAip, "shared")
	if err != nil {
		t.Fatal(err)
	}
	if len(stored.Up) != len(parents) {
		t.Errorf("up = %d parents, want %d", len(stored.Up), len(parents))
	}
	if stored.DDS[d.ID] != 2 {
		t.Errorf("dds[D] = %d, want 2", stored.DDS[d.ID])
	}
	for _, p := range parents {
		got, _ := s.FindByID(ctx, graph.KindDAip, p.ID)
		if got.NB != 1 {
			t.Errorf("nb(%s) = %d, want 1", p.ID, got.NB)
		}
	}
}

// pausingStore holds the first fields-only update of one node right after it
// commits, until release is closed.
type pausingStore struct {
	*memstore.Store
	id      string
	paused  chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *pausingStore) UpdateLinkSets(ctx context.Context, kind graph.Kind, id string, d graph.Delta) (graph.Node, error) {
	before, err := s.Store.UpdateLinkSets(ctx, kind, id, d)
	if err == nil && id == s.id && len(d.Fields) > 0 && len(d.Add) == 0 {
		s.once.Do(func() {
			close(s.paused)
			<-s.release
		})
	}
	return before, err
}

// lastIndexed keeps the last document submitted per node.
type lastIndexed struct {
	mu    sync.Mutex
	nodes map[string]graph.Node
}

func (x *lastIndexed) Submit(_ context.Context, nodes ...graph.Node) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.nodes == nil {
		x.nodes = make(map[string]graph.Node)
	}
	for _, n := range nodes {
		x.nodes[n.ID] = n
	}
	return nil
}

func (x *lastIndexed) get(id string) graph.Node {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.nodes[id]
}

func TestIndexSeesLatestStateAfterInterleavedMerges(t *testing.T) {
	s := &pausingStore{Store: memstore.New(), paused: make(chan struct{}), release: make(chan struct{})}
	m := graph.NewManager(s, log.New(io.Discard))
	idx := &lastIndexed{}
	m.Index = idx
	ctx := context.Background()

	d, _ := m.EnsureDomain(ctx, "Archives", nil)
	p1, err := m.CreateChild(ctx, d, nil)
	if err != nil {
		t.Fatal(err)
	}
	p2, err := m.CreateChild(ctx, d, nil)
	if err != nil {
		t.Fatal(err)
	}
	c, err := m.CreateChild(ctx, p1, graph.Fields{"title": "draft"})
	if err != nil {
		t.Fatal(err)
	}
	s.id = c.ID

	renamed := make(chan error, 1)
	go func() {
		_, err := m.Merge(ctx, graph.Node{ID: c.ID, Kind: graph.KindDAip, Fields: graph.Fields{"title": "final"}})
		renamed <- err
	}()
	<-s.paused

	if _, err := m.AddParent(ctx, c.ID, p2); err != nil {
		t.Fatalf("AddParent: %v", err)
	}
	close(s.release)
	if err := <-renamed; err != nil {
		t.Fatalf("Merge: %v", err)
	}

	got := idx.get(c.ID)
	if !slices.Contains(got.Up, p2.ID) || got.DDS[p2.ID] != 1 {
		t.Errorf("indexed up = %v dds = %v, want parent %s at distance 1", got.Up, got.DDS, p2.ID)
	}
	if got.Fields["title"] != "final" {
		t.Errorf("indexed title = %v, want final", got.Fields["title"])
	}
}
