package query

import (
	"context"
	"io"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/aipgraph/pkg/cache"
	"github.com/matzehuels/aipgraph/pkg/errors"
	"github.com/matzehuels/aipgraph/pkg/graph"
	"github.com/matzehuels/aipgraph/pkg/nodeid"
	"github.com/matzehuels/aipgraph/pkg/result"
	"github.com/matzehuels/aipgraph/pkg/search"
	"github.com/matzehuels/aipgraph/pkg/search/blevesearch"
	"github.com/matzehuels/aipgraph/pkg/store/memstore"
)

// countingStore counts reads that reach the graph store, and can hold them
// at a gate.
type countingStore struct {
	*memstore.Store
	reads atomic.Int64
	hold  atomic.Pointer[gate]
}

type gate struct {
	entered chan struct{}
	once    sync.Once
	release chan struct{}
}

func newGate() *gate {
	return &gate{entered: make(chan struct{}), release: make(chan struct{})}
}

func (s *countingStore) FindManyByFieldIn(ctx context.Context, kind graph.Kind, field string, values []string, filter graph.Filter, projection ...string) ([]graph.Node, error) {
	s.reads.Add(1)
	if g := s.hold.Load(); g != nil {
		g.once.Do(func() { close(g.entered) })
		select {
		case <-g.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.Store.FindManyByFieldIn(ctx, kind, field, values, filter, projection...)
}

// countingIndex counts searches and can be switched off.
type countingIndex struct {
	inner    search.Index
	searches atomic.Int64
	down     atomic.Bool
}

func (x *countingIndex) Search(ctx context.Context, req search.Request) (search.Hits, error) {
	x.searches.Add(1)
	if x.down.Load() {
		return search.Hits{}, search.Unavailable(search.ErrUnavailable, "test")
	}
	return x.inner.Search(ctx, req)
}

func (x *countingIndex) Index(ctx context.Context, docs []search.Document) error {
	return x.inner.Index(ctx, docs)
}

func (x *countingIndex) Close() error { return x.inner.Close() }

type fixture struct {
	store  *countingStore
	index  *countingIndex
	exec   *Executor
	d, a   graph.Node
	b1, b2 graph.Node
}

var quiet = log.New(io.Discard)

// newFixture builds D -> A -> {B1, B2} and indexes every DAip.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	bi, err := blevesearch.Open("", quiet)
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	t.Cleanup(func() { bi.Close() })

	f := &fixture{
		store: &countingStore{Store: memstore.New()},
		index: &countingIndex{inner: bi},
	}
	bulk := search.NewBulkIndexer(bi, quiet)
	bulk.Blocking = true
	bulk.BatchSize = 1
	m := graph.NewManager(f.store, quiet)
	m.Index = bulk

	if f.d, err = m.EnsureDomain(ctx, "Archives", nil); err != nil {
		t.Fatal(err)
	}
	if f.a, err = m.CreateChild(ctx, f.d, graph.Fields{"title": "fonds"}); err != nil {
		t.Fatal(err)
	}
	if f.b1, err = m.CreateChild(ctx, f.a, graph.Fields{"title": "letters", "year": 1914}); err != nil {
		t.Fatal(err)
	}
	if f.b2, err = m.CreateChild(ctx, f.a, graph.Fields{"title": "maps", "year": 1920}); err != nil {
		t.Fatal(err)
	}
	if err := bulk.Flush(ctx); err != nil {
		t.Fatal(err)
	}

	opts := DefaultOptions()
	opts.RetryDelay = time.Millisecond
	f.exec = NewExecutor(m, f.index, nil, opts, quiet)
	return f
}

func domainChain(stages ...Stage) Chain {
	return Chain{Stages: append([]Stage{{Kind: StageDomain, Filter: graph.Filter{"name": "Archives"}}}, stages...)}
}

func assertResult(t *testing.T, got *result.Result, ids []string, minLevel, maxLevel int) {
	t.Helper()
	want := slices.Clone(ids)
	slices.Sort(want)
	if !slices.Equal(got.IDs, want) {
		t.Errorf("ids = %v, want %v", got.IDs, want)
	}
	if got.MinLevel != minLevel || got.MaxLevel != maxLevel {
		t.Errorf("levels = %d..%d, want %d..%d", got.MinLevel, got.MaxLevel, minLevel, maxLevel)
	}
}

func TestDomainOneHopDepth(t *testing.T) {
	f := newFixture(t)
	tr, err := f.exec.Run(context.Background(), domainChain(
		Stage{Kind: StageOneHop},
		Stage{Kind: StageDepth, Depth: 1},
	), Bindings{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	assertResult(t, tr.Final, []string{f.b1.ID, f.b2.ID}, 2, 2)
	if len(tr.Levels) != 3 {
		t.Fatalf("levels = %d, want 3", len(tr.Levels))
	}
	assertResult(t, tr.Levels[0], []string{f.d.ID}, 0, 0)
	assertResult(t, tr.Levels[1], []string{f.a.ID}, 1, 1)
	if tr.Final.SubNodeCount != 0 || tr.Levels[1].SubNodeCount != 2 {
		t.Errorf("sub node counts = %d, %d", tr.Levels[1].SubNodeCount, tr.Final.SubNodeCount)
	}
	for _, p := range tr.Final.Paths {
		if p[f.d.ID] != 0 || p[f.a.ID] != 1 {
			t.Errorf("path %v does not run through D and A", p)
		}
	}
}

func TestFullPaths(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tr, err := f.exec.Run(ctx, domainChain(Stage{Kind: StageOneHop}, Stage{Kind: StageDepth, Depth: 1}), Bindings{})
	if err != nil {
		t.Fatal(err)
	}
	full, err := f.exec.FullPaths(ctx, tr)
	if err != nil {
		t.Fatalf("FullPaths: %v", err)
	}
	want := []string{
		nodeid.Join(f.d.ID, f.a.ID, f.b1.ID),
		nodeid.Join(f.d.ID, f.a.ID, f.b2.ID),
	}
	assertResult(t, full, want, 2, 2)
}

func TestOneHopGraphJoin(t *testing.T) {
	f := newFixture(t)
	tr, err := f.exec.Run(context.Background(), domainChain(
		Stage{Kind: StageOneHop},
		Stage{Kind: StageOneHop, Filter: graph.Filter{"year": 1914}},
	), Bindings{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	assertResult(t, tr.Final, []string{f.b1.ID}, 2, 2)
	if n := f.index.searches.Load(); n != 0 {
		t.Errorf("small frontier without query used the index %d times", n)
	}
}

func TestOneHopSearch(t *testing.T) {
	f := newFixture(t)
	tr, err := f.exec.Run(context.Background(), domainChain(
		Stage{Kind: StageOneHop},
		Stage{Kind: StageOneHop, Query: "title:maps"},
	), Bindings{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	assertResult(t, tr.Final, []string{f.b2.ID}, 2, 2)
	if f.index.searches.Load() == 0 {
		t.Error("query predicate did not reach the index")
	}
}

func TestOneHopLargeFrontierUsesSearch(t *testing.T) {
	f := newFixture(t)
	f.exec.Options.SearchThreshold = 1
	tr, err := f.exec.Run(context.Background(), domainChain(
		Stage{Kind: StageOneHop},
		Stage{Kind: StageOneHop},
	), Bindings{})
	if err != nil {
		t.Fatal(err)
	}
	assertResult(t, tr.Final, []string{f.b1.ID, f.b2.ID}, 2, 2)
	if f.index.searches.Load() == 0 {
		t.Error("frontier above threshold did not use the index")
	}
}

func TestOneHopFallsBackToGraph(t *testing.T) {
	f := newFixture(t)
	f.index.down.Store(true)
	tr, err := f.exec.Run(context.Background(), domainChain(
		Stage{Kind: StageOneHop, SearchOnly: true},
	), Bindings{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	assertResult(t, tr.Final, []string{f.a.ID}, 1, 1)
}

func TestDepthStageErrorsPropagate(t *testing.T) {
	f := newFixture(t)
	f.index.down.Store(true)
	_, err := f.exec.Run(context.Background(), domainChain(Stage{Kind: StageDepth, Depth: 2}), Bindings{})
	if !errors.Is(err, errors.ErrCodeBackendUnavailable) {
		t.Errorf("err = %v, want BACKEND_UNAVAILABLE", err)
	}

	f.exec.Index = nil
	_, err = f.exec.Run(context.Background(), domainChain(Stage{Kind: StageDepth, Depth: 2}), Bindings{})
	if !errors.Is(err, errors.ErrCodeBackendUnavailable) {
		t.Errorf("no index: err = %v, want BACKEND_UNAVAILABLE", err)
	}
}

func TestDepthLevels(t *testing.T) {
	f := newFixture(t)
	tr, err := f.exec.Run(context.Background(), domainChain(Stage{Kind: StageDepth, Depth: 2}), Bindings{})
	if err != nil {
		t.Fatal(err)
	}
	assertResult(t, tr.Final, []string{f.a.ID, f.b1.ID, f.b2.ID}, 1, 2)

	tr, err = f.exec.Run(context.Background(), domainChain(Stage{Kind: StageDepth, ExactDepth: 2}), Bindings{})
	if err != nil {
		t.Fatal(err)
	}
	assertResult(t, tr.Final, []string{f.b1.ID, f.b2.ID}, 2, 2)

	_, err = f.exec.Run(context.Background(), domainChain(
		Stage{Kind: StageOneHop},
		Stage{Kind: StageDepth, ExactDepth: 1},
	), Bindings{})
	if !errors.Is(err, errors.ErrCodeConfig) {
		t.Errorf("exact depth above frontier: err = %v, want CONFIG", err)
	}
}

func TestEmptyStageShortCircuits(t *testing.T) {
	f := newFixture(t)
	chain := Chain{Stages: []Stage{
		{Kind: StageDomain, Filter: graph.Filter{"name": "Nowhere"}},
		{Kind: StageOneHop},
		{Kind: StageDepth, Depth: 3},
	}}
	tr, err := f.exec.Run(context.Background(), chain, Bindings{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !tr.Final.IsEmpty() || !tr.Truncated || len(tr.Levels) != 1 {
		t.Errorf("trace = %+v, want empty after one stage", tr)
	}
	if f.index.searches.Load() != 0 {
		t.Error("stages after an empty result ran")
	}
}

func TestConfigErrorBeforeBackend(t *testing.T) {
	f := newFixture(t)
	before := f.store.reads.Load()
	_, err := f.exec.Run(context.Background(), domainChain(
		Stage{Kind: StageOneHop, Query: "title:${missing}"},
	), Bindings{})
	if !errors.Is(err, errors.ErrCodeConfig) {
		t.Fatalf("err = %v, want CONFIG", err)
	}
	if f.store.reads.Load() != before || f.index.searches.Load() != 0 {
		t.Error("backend contacted before the configuration error")
	}
}

func TestCachedChainSkipsBackends(t *testing.T) {
	f := newFixture(t)
	lru, err := cache.NewLRUCache(0)
	if err != nil {
		t.Fatal(err)
	}
	defer lru.Close()
	f.exec.Results = cache.NewResults(lru, time.Minute, quiet)

	ctx := context.Background()
	chain := domainChain(Stage{Kind: StageOneHop}, Stage{Kind: StageDepth, Depth: 1})
	first, err := f.exec.Run(ctx, chain, Bindings{})
	if err != nil {
		t.Fatal(err)
	}
	reads, searches := f.store.reads.Load(), f.index.searches.Load()

	second, err := f.exec.Run(ctx, chain, Bindings{})
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(first.Final.IDs, second.Final.IDs) || first.Final.MinLevel != second.Final.MinLevel {
		t.Errorf("cached final = %+v, want %+v", second.Final, first.Final)
	}
	if second.CachedLevels != 3 {
		t.Errorf("cached levels = %d, want 3", second.CachedLevels)
	}
	if f.store.reads.Load() != reads || f.index.searches.Load() != searches {
		t.Error("second run reached a backend")
	}

	// A longer chain resumes after the cached prefix.
	longer := domainChain(Stage{Kind: StageOneHop}, Stage{Kind: StageDepth, Depth: 1}, Stage{Kind: StageOneHop})
	third, err := f.exec.Run(ctx, longer, Bindings{})
	if err != nil {
		t.Fatal(err)
	}
	if third.CachedLevels != 3 || !third.Final.IsEmpty() {
		t.Errorf("third = cached %d final %v", third.CachedLevels, third.Final.IDs)
	}
}

func TestPathStage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	stray := nodeid.New()

	tr, err := f.exec.Run(ctx, domainChain(
		Stage{Kind: StagePath, RefIDs: []string{f.b1.ID, stray}},
	), Bindings{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	assertResult(t, tr.Final, []string{f.b1.ID}, 1, 1)

	tr, err = f.exec.Run(ctx, Chain{Stages: []Stage{
		{Kind: StagePath, RefIDs: []string{f.a.ID}},
		{Kind: StageOneHop},
	}}, Bindings{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	assertResult(t, tr.Final, []string{f.b1.ID, f.b2.ID}, 1, 1)
}

func TestSimulate(t *testing.T) {
	opts := DefaultOptions()
	opts.Simulate = true
	exec := NewExecutor(nil, nil, nil, opts, quiet)

	tr, err := exec.Run(context.Background(), domainChain(
		Stage{Kind: StageOneHop},
		Stage{Kind: StageDepth, Depth: 2},
	), Bindings{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	wantLevels := []int{0, 1, 3}
	for i, res := range tr.Levels {
		if res.Len() != 1 || res.MinLevel != wantLevels[i] || res.MaxLevel != wantLevels[i] {
			t.Errorf("level %d = %+v", i, res)
		}
	}
	if len(tr.Final.Paths) != 1 || len(tr.Final.Paths[0]) != 3 {
		t.Errorf("final paths = %v", tr.Final.Paths)
	}
}

func TestConcurrentRuns(t *testing.T) {
	f := newFixture(t)
	chain := domainChain(Stage{Kind: StageOneHop}, Stage{Kind: StageDepth, Depth: 1})

	var wg sync.WaitGroup
	results := make([]*Trace, 8)
	errs := make([]error, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = f.exec.Run(context.Background(), chain, Bindings{})
		}()
	}
	wg.Wait()
	for i := range results {
		if errs[i] != nil {
			t.Fatalf("run %d: %v", i, errs[i])
		}
		assertResult(t, results[i].Final, []string{f.b1.ID, f.b2.ID}, 2, 2)
	}
}

func TestSharedRunSurvivesCallerCancel(t *testing.T) {
	f := newFixture(t)
	g := newGate()
	f.store.hold.Store(g)
	chain := domainChain(Stage{Kind: StageOneHop})

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := f.exec.Run(ctx, chain, Bindings{})
		firstErr <- err
	}()
	<-g.entered

	type outcome struct {
		tr  *Trace
		err error
	}
	second := make(chan outcome, 1)
	go func() {
		tr, err := f.exec.Run(context.Background(), chain, Bindings{})
		second <- outcome{tr, err}
	}()

	cancel()
	if err := <-firstErr; err != context.Canceled {
		t.Errorf("cancelled caller err = %v, want context.Canceled", err)
	}
	close(g.release)
	got := <-second
	if got.err != nil {
		t.Fatalf("other caller err = %v", got.err)
	}
	assertResult(t, got.tr.Final, []string{f.a.ID}, 1, 1)
}
