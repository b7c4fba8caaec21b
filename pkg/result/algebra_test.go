package result

import (
	"context"
	"errors"
	"maps"
	"slices"
	"testing"

	aerrors "github.com/matzehuels/aipgraph/pkg/errors"
	"github.com/matzehuels/aipgraph/pkg/graph"
	"github.com/matzehuels/aipgraph/pkg/nodeid"
)

type fakeLookup struct {
	nodes map[string]graph.Ancestry
	calls int
	err   error
}

func (f *fakeLookup) Ancestry(_ context.Context, ids []string) (map[string]graph.Ancestry, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]graph.Ancestry)
	for _, id := range ids {
		if a, ok := f.nodes[id]; ok {
			out[id] = a
		}
	}
	return out, nil
}

func TestFinalizeResultAncestryFilter(t *testing.T) {
	prev := []Path{{"R": 0}}
	ancestors := map[string]graph.Distances{
		"X": {"R": 1},
		"Y": {"Q": 1},
	}
	got, err := FinalizeResult(prev, []string{"X", "Y"}, ancestors, 1)
	if err != nil {
		t.Fatalf("FinalizeResult() error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("FinalizeResult() = %v, want one path", got)
	}
	if want := (Path{"R": 0, "X": 1}); !maps.Equal(got[0], want) {
		t.Errorf("path = %v, want %v", got[0], want)
	}
}

func TestFinalizeResultSubdepth(t *testing.T) {
	prev := []Path{{"D": 0, "A": 1}}
	ancestors := map[string]graph.Distances{
		"B": {"A": 1, "D": 2},
		"C": {"A": 2, "B": 1, "D": 3},
	}
	tests := []struct {
		subdepth int
		want     []Path
	}{
		{1, []Path{{"D": 0, "A": 1, "B": 2}}},
		{2, []Path{{"D": 0, "A": 1, "B": 2}, {"D": 0, "A": 1, "C": 3}}},
	}
	for _, tt := range tests {
		got, err := FinalizeResult(prev, []string{"B", "C"}, ancestors, tt.subdepth)
		if err != nil {
			t.Fatal(err)
		}
		if !slices.EqualFunc(got, tt.want, func(a, b Path) bool { return maps.Equal(a, b) }) {
			t.Errorf("subdepth %d: got %v, want %v", tt.subdepth, got, tt.want)
		}
	}
}

func TestFinalizeResultMissingMapFailsClosed(t *testing.T) {
	prev := []Path{{"R": 0}}
	_, err := FinalizeResult(prev, []string{"X", "Y"}, map[string]graph.Distances{"X": {"R": 1}}, 1)
	if !aerrors.Is(err, aerrors.ErrCodeConfig) {
		t.Errorf("FinalizeResult() error = %v, want CONFIG", err)
	}
}

func TestCheckAncestor(t *testing.T) {
	r, q := nodeid.New(), nodeid.New()
	x := nodeid.Join(r, nodeid.New())
	z := nodeid.Join(q, nodeid.New())
	lookup := &fakeLookup{nodes: map[string]graph.Ancestry{
		q: {Kind: graph.KindDAip, Up: []string{"elsewhere"}},
	}}

	got, err := CheckAncestor(context.Background(), lookup, New(r), New(x, z))
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(got.IDs, []string{x}) {
		t.Errorf("CheckAncestor() = %v, want [%s]", got.IDs, x)
	}
}

func TestCheckAncestorRecordedAncestor(t *testing.T) {
	d, a, b, c := nodeid.New(), nodeid.New(), nodeid.New(), nodeid.New()
	lookup := &fakeLookup{nodes: map[string]graph.Ancestry{
		b: {Kind: graph.KindDAip, Up: []string{a}, DDS: graph.Distances{a: 1, d: 2}},
		c: {Kind: graph.KindDAip, Up: []string{"other"}, DDS: graph.Distances{"other": 1}},
	}}
	prev := New(d)
	prev.MinLevel, prev.MaxLevel = 0, 0
	next := New(b, c, "unknown-node-id-segment!")
	next.Paths = []Path{{d: 0, b: 2}, {d: 0, c: 2}}

	got, err := CheckAncestor(context.Background(), lookup, prev, next)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(got.IDs, []string{b}) {
		t.Errorf("ids = %v, want [%s]", got.IDs, b)
	}
	if len(got.Paths) != 1 {
		t.Errorf("paths = %v, want only the path ending at b", got.Paths)
	}
	if len(next.IDs) != 3 {
		t.Error("input result was modified")
	}
}

func TestCheckAncestorNilLookupIsIdentity(t *testing.T) {
	next := New("X", "Z")
	got, err := CheckAncestor(context.Background(), nil, New("R"), next)
	if err != nil {
		t.Fatal(err)
	}
	if got != next {
		t.Error("nil lookup should return next unchanged")
	}
}

func TestCheckAncestorLookupError(t *testing.T) {
	boom := errors.New("store down")
	_, err := CheckAncestor(context.Background(), &fakeLookup{err: boom}, New("R"), New("X"))
	if !errors.Is(err, boom) {
		t.Errorf("error = %v, want %v", err, boom)
	}
}

// diamond: D -> A -> {B1, B2} -> C
func diamond() (d, a, b1, b2, c string, lookup *fakeLookup) {
	d, a, b1, b2, c = nodeid.New(), nodeid.New(), nodeid.New(), nodeid.New(), nodeid.New()
	lookup = &fakeLookup{nodes: map[string]graph.Ancestry{
		d:  {Kind: graph.KindDomain},
		a:  {Kind: graph.KindDAip, Doms: []string{d}, DDS: graph.Distances{d: 1}},
		b1: {Kind: graph.KindDAip, Up: []string{a}, DDS: graph.Distances{a: 1, d: 2}},
		b2: {Kind: graph.KindDAip, Up: []string{a}, DDS: graph.Distances{a: 1, d: 2}},
		c:  {Kind: graph.KindDAip, Up: []string{b1, b2}, DDS: graph.Distances{b1: 1, b2: 1, a: 2, d: 3}},
	}}
	return
}

func TestPathsToAncestor(t *testing.T) {
	d, a, b1, b2, c, lookup := diamond()
	ctx := context.Background()

	got, err := PathsToAncestor(ctx, lookup, c, a)
	if err != nil {
		t.Fatal(err)
	}
	slices.Sort(got)
	want := []string{nodeid.Join(b1, c), nodeid.Join(b2, c)}
	slices.Sort(want)
	if !slices.Equal(got, want) {
		t.Errorf("PathsToAncestor(c, a) = %v, want %v", got, want)
	}

	got, err = PathsToAncestor(ctx, lookup, a, d)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(got, []string{a}) {
		t.Errorf("PathsToAncestor(a, d) = %v, want [%s]", got, a)
	}

	got, err = PathsToAncestor(ctx, lookup, a, c)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("PathsToAncestor(a, c) = %v, want none", got)
	}
}

func TestBuildFullPaths(t *testing.T) {
	d, a, b1, b2, c, lookup := diamond()
	levels := []*Result{
		{IDs: []string{d}, MinLevel: 0, MaxLevel: 0},
		{IDs: []string{a}, MinLevel: 1, MaxLevel: 1},
		{IDs: []string{c}, MinLevel: 3, MaxLevel: 3, SubNodeCount: 4},
	}
	got, err := BuildFullPaths(context.Background(), lookup, levels)
	if err != nil {
		t.Fatal(err)
	}
	want := New(nodeid.Join(d, a, b1, c), nodeid.Join(d, a, b2, c))
	if !slices.Equal(got.IDs, want.IDs) {
		t.Errorf("BuildFullPaths() = %v, want %v", got.IDs, want.IDs)
	}
	if got.MinLevel != 3 || got.SubNodeCount != 4 {
		t.Errorf("levels = %d/%d subnodes %d", got.MinLevel, got.MaxLevel, got.SubNodeCount)
	}
	for _, p := range got.IDs {
		if nodeid.Level(p) != 4 {
			t.Errorf("path %s has %d segments, want 4", p, nodeid.Level(p))
		}
	}
}
