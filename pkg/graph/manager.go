package graph

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"maps"
	"sync"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/matzehuels/aipgraph/pkg/nodeid"
	"github.com/matzehuels/aipgraph/pkg/observability"
)

// IndexSink receives DAips whose stored state changed, for search indexing.
type IndexSink interface {
	Submit(ctx context.Context, nodes ...Node) error
}

// MergeResult describes the effect of [Manager.Merge].
type MergeResult struct {
	// Created is true when the node did not exist before.
	Created bool
	// Node is the stored state after the merge.
	Node Node
	// Changed holds the ancestor distances that were added or lowered.
	Changed Distances
	// Linked lists parents (DAips, Domains) that gained this node as a child.
	Linked []string
}

// Manager creates and merges nodes and keeps links, child counts and
// ancestor distances consistent.
//
// Every mutation goes through [Store.UpdateLinkSets], whose pre-image tells
// the Manager which links are new. Child counts are only incremented for
// new links, which makes every operation idempotent.
type Manager struct {
	Store     Store
	Index     IndexSink   // optional
	Logger    *log.Logger // defaults to log.Default()
	Propagate bool        // push lowered distances to existing descendants

	indexMu [indexStripes]sync.Mutex
}

const indexStripes = 64

// NewManager creates a Manager with propagation enabled.
func NewManager(store Store, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{Store: store, Logger: logger, Propagate: true}
}

// =============================================================================
// Creation
// =============================================================================

// EnsureDomain returns the Domain called name, creating it on first use.
func (m *Manager) EnsureDomain(ctx context.Context, name string, fields Fields) (Node, error) {
	return m.ensureNamed(ctx, KindDomain, name, fields)
}

// EnsureDua returns the retention rule called name, creating it on first use.
func (m *Manager) EnsureDua(ctx context.Context, name string, fields Fields) (Node, error) {
	return m.ensureNamed(ctx, KindDua, name, fields)
}

func (m *Manager) ensureNamed(ctx context.Context, kind Kind, name string, fields Fields) (Node, error) {
	n, err := m.Store.FindByField(ctx, kind, FieldName, name)
	if err == nil {
		return n, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Node{}, fmt.Errorf("find %s %q: %w", kind, name, err)
	}

	n = Node{ID: nodeid.New(), Kind: kind, Name: name, Fields: fields}
	_, err = m.Store.Upsert(ctx, n)
	if errors.Is(err, ErrDuplicate) {
		// Lost a race with another writer; theirs wins.
		return m.Store.FindByField(ctx, kind, FieldName, name)
	}
	if err != nil {
		return Node{}, fmt.Errorf("create %s %q: %w", kind, name, err)
	}
	m.Logger.Debug("created", "kind", kind, "name", name, "id", n.ID)
	return n, nil
}

// CreateChild creates a DAip under parent (a Domain or a DAip). The child's
// distance map is derived from the parent's, and the parent's child count is
// incremented.
func (m *Manager) CreateChild(ctx context.Context, parent Node, fields Fields) (Node, error) {
	child := Node{ID: nodeid.New(), Kind: KindDAip, Fields: fields}
	if err := linkChild(&child, parent); err != nil {
		return Node{}, err
	}
	res, err := m.Merge(ctx, child)
	if err != nil {
		return Node{}, err
	}
	return res.Node, nil
}

// AddParent links an existing DAip to one more parent.
func (m *Manager) AddParent(ctx context.Context, childID string, parent Node) (MergeResult, error) {
	child := Node{ID: childID, Kind: KindDAip}
	if err := linkChild(&child, parent); err != nil {
		return MergeResult{}, err
	}
	res, err := m.merge(ctx, child, false)
	if err != nil {
		return MergeResult{}, err
	}
	return res, nil
}

func linkChild(child *Node, parent Node) error {
	rel, ok := ParentRelation(parent.Kind, KindDAip)
	if !ok {
		return fmt.Errorf("a %s cannot have DAip children", parent.Kind)
	}
	links := child.linkSet(rel.ToField)
	*links, _ = addToSet(*links, parent.ID)
	child.DDS, _ = MergeDistances(child.DDS, ChildDistances(parent.DDS, parent.ID))
	return nil
}

// CreatePAip creates a PAip under daip and links it.
func (m *Manager) CreatePAip(ctx context.Context, daip Node, fields Fields) (Node, error) {
	return m.AttachPAip(ctx, daip, Node{ID: nodeid.New(), Kind: KindPAip, Fields: fields})
}

// AttachPAip links paip under daip. Re-attaching the same pair is a no-op.
func (m *Manager) AttachPAip(ctx context.Context, daip, paip Node) (Node, error) {
	rel, ok := ParentRelation(daip.Kind, KindPAip)
	if !ok {
		return Node{}, fmt.Errorf("a %s cannot hold a PAip", daip.Kind)
	}
	paip.Kind = KindPAip
	links := paip.linkSet(rel.ToField)
	*links, _ = addToSet(*links, daip.ID)
	res, err := m.Merge(ctx, paip)
	if err != nil {
		return Node{}, err
	}
	return res.Node, nil
}

// AttachDua links n to the retention rule called name. An unknown rule is
// logged and skipped; n is returned unchanged.
func (m *Manager) AttachDua(ctx context.Context, n Node, name string) (Node, error) {
	dua, err := m.Store.FindByField(ctx, KindDua, FieldName, name)
	if errors.Is(err, ErrNotFound) {
		m.Logger.Warn("retention rule not found, link skipped", "dua", name, "node", n.ID)
		return n, nil
	}
	if err != nil {
		return n, fmt.Errorf("find dua %q: %w", name, err)
	}

	var rel Relation
	switch n.Kind {
	case KindDAip:
		rel = DAipDua
		if n.Dua == dua.ID {
			return n, nil
		}
	case KindPAip:
		rel = PAipDua
	default:
		return n, fmt.Errorf("a %s cannot hold a retention rule", n.Kind)
	}
	d := rel.fromDelta(dua.ID)
	before, err := m.Store.UpdateLinkSets(ctx, n.Kind, n.ID, d)
	if err != nil {
		return n, fmt.Errorf("attach dua to %s: %w", n.ID, err)
	}
	m.index(ctx, n.Kind, n.ID)
	return ApplyDelta(before, d), nil
}

// =============================================================================
// Merge
// =============================================================================

// Merge inserts in, or merges it into the stored node with the same id.
//
// Distances are min-merged, link sets are unioned, single links and business
// fields are overwritten, and in.NB only counts when the node is created.
// Merging the same snapshot twice leaves the same stored state as merging it
// once.
func (m *Manager) Merge(ctx context.Context, in Node) (MergeResult, error) {
	return m.merge(ctx, in, true)
}

func (m *Manager) merge(ctx context.Context, in Node, insert bool) (MergeResult, error) {
	if !in.Kind.Valid() {
		return MergeResult{}, fmt.Errorf("merge %s: unknown kind %q", in.ID, in.Kind)
	}
	if in.Kind == KindDAip {
		for _, p := range in.Parents() {
			in.DDS, _ = MergeDistances(in.DDS, Distances{p: 1})
		}
	}

	var res MergeResult
	if insert {
		created, err := m.Store.Upsert(ctx, in)
		if err != nil {
			return MergeResult{}, fmt.Errorf("merge %s: %w", in.ID, err)
		}
		if created {
			res = MergeResult{Created: true, Node: in, Changed: maps.Clone(in.DDS)}
			observability.Ingest().OnNodeMerged(ctx, string(in.Kind), true)
			if err := m.afterMerge(ctx, Node{ID: in.ID, Kind: in.Kind}, in, &res); err != nil {
				return res, err
			}
			return res, nil
		}
	}

	d := mergeDelta(in)
	before, err := m.Store.UpdateLinkSets(ctx, in.Kind, in.ID, d)
	if err != nil {
		return MergeResult{}, fmt.Errorf("merge %s: %w", in.ID, err)
	}
	after := ApplyDelta(before, d)
	_, changed := MergeDistances(before.DDS, in.DDS)
	res = MergeResult{Node: after, Changed: changed}
	observability.Ingest().OnNodeMerged(ctx, string(in.Kind), false)
	if err := m.afterMerge(ctx, before, after, &res); err != nil {
		return res, err
	}
	return res, nil
}

// mergeDelta turns an incoming snapshot into the additive update that
// merges it.
func mergeDelta(in Node) Delta {
	d := Delta{Add: make(map[string][]string)}
	for _, f := range []string{FieldUp, FieldDoms, FieldChildren, FieldDuas} {
		if vs := *in.linkSet(f); len(vs) > 0 {
			d.Add[f] = vs
		}
	}
	if len(d.Add) == 0 {
		d.Add = nil
	}
	if len(in.DDS) > 0 {
		d.Min = in.DDS
	}
	for _, f := range []string{FieldPAip, FieldDua} {
		if v := *in.linkValue(f); v != "" {
			if d.Set == nil {
				d.Set = make(map[string]string)
			}
			d.Set[f] = v
		}
	}
	if len(in.Fields) > 0 {
		d.Fields = in.Fields
	}
	return d
}

// afterMerge updates the other side of every link that before did not have
// and after has, indexes the node, and propagates lowered distances.
func (m *Manager) afterMerge(ctx context.Context, before, after Node, res *MergeResult) error {
	switch after.Kind {
	case KindDomain:
		added := missing(before.Children, after.Children)
		for _, c := range added {
			if err := m.updateChild(ctx, c, DomainDAip.toDelta(after.ID)); err != nil {
				return err
			}
		}
		if n := int64(len(added)); n > 0 {
			if _, err := m.updateSide(ctx, KindDomain, after.ID, Delta{IncNB: n}); err != nil {
				return err
			}
			res.Node.NB += n
		}

	case KindDAip:
		for _, p := range missing(before.Up, after.Up) {
			if _, err := m.updateSide(ctx, KindDAip, p, Delta{IncNB: 1}); err != nil {
				return err
			}
			res.Linked = append(res.Linked, p)
		}
		for _, dom := range missing(before.Doms, after.Doms) {
			pre, err := m.updateSide(ctx, KindDomain, dom, DomainDAip.fromDelta(after.ID))
			if err != nil {
				return err
			}
			if len(missing(pre.Children, []string{after.ID})) > 0 {
				if _, err := m.updateSide(ctx, KindDomain, dom, Delta{IncNB: 1}); err != nil {
					return err
				}
			}
			res.Linked = append(res.Linked, dom)
		}
		if after.PAip != "" && after.PAip != before.PAip {
			if _, err := m.updateSide(ctx, KindPAip, after.PAip, DAipPAip.toDelta(after.ID)); err != nil {
				return err
			}
		}
		m.index(ctx, KindDAip, after.ID)
		if m.Propagate && !res.Created && len(res.Changed) > 0 {
			return m.propagate(ctx, after.ID, res.Changed)
		}

	case KindPAip:
		for _, p := range missing(before.Up, after.Up) {
			if _, err := m.updateSide(ctx, KindDAip, p, DAipPAip.fromDelta(after.ID)); err != nil {
				return err
			}
			res.Linked = append(res.Linked, p)
		}
	}
	return nil
}

// updateSide applies d to the other end of a link and returns its pre-image.
func (m *Manager) updateSide(ctx context.Context, kind Kind, id string, d Delta) (Node, error) {
	before, err := m.Store.UpdateLinkSets(ctx, kind, id, d)
	if err != nil {
		return Node{}, fmt.Errorf("update %s %s: %w", kind, id, err)
	}
	m.index(ctx, kind, id)
	return before, nil
}

// updateChild applies a link update that may lower the child's distances,
// and propagates the change.
func (m *Manager) updateChild(ctx context.Context, id string, d Delta) error {
	before, err := m.updateSide(ctx, KindDAip, id, d)
	if err != nil {
		return err
	}
	_, changed := MergeDistances(before.DDS, d.Min)
	if m.Propagate && len(changed) > 0 {
		return m.propagate(ctx, id, changed)
	}
	return nil
}

// propagate pushes lowered distances breadth-first to existing descendants.
// It stops on every branch where the descendant already knows a distance at
// least as small.
func (m *Manager) propagate(ctx context.Context, id string, changed Distances) error {
	type item struct {
		id      string
		changed Distances
	}
	queue := []item{{id, changed}}
	visited := 0
	for len(queue) > 0 {
		it := queue[0]
		queue = queue[1:]

		children, err := m.Store.FindManyByFieldIn(ctx, KindDAip, FieldUp, []string{it.id}, nil, FieldID)
		if err != nil {
			return fmt.Errorf("propagate from %s: %w", it.id, err)
		}
		cand := it.changed.Shift(1)
		for _, c := range children {
			d := Delta{Min: withoutKey(cand, c.ID)}
			if len(d.Min) == 0 {
				continue
			}
			before, err := m.Store.UpdateLinkSets(ctx, KindDAip, c.ID, d)
			if err != nil {
				return fmt.Errorf("propagate to %s: %w", c.ID, err)
			}
			_, next := MergeDistances(before.DDS, d.Min)
			if len(next) == 0 {
				continue
			}
			visited++
			m.index(ctx, KindDAip, c.ID)
			queue = append(queue, item{c.ID, next})
		}
	}
	if visited > 0 {
		m.Logger.Debug("propagated distances", "from", id, "descendants", visited)
	}
	return nil
}

func withoutKey(d Distances, key string) Distances {
	if _, ok := d[key]; !ok {
		return d
	}
	out := maps.Clone(d)
	delete(out, key)
	return out
}

// index submits the stored state of a DAip. The read and the submission
// share a per-node lock, so the last submission for a node always carries
// state read after its last committed update.
func (m *Manager) index(ctx context.Context, kind Kind, id string) {
	if m.Index == nil || kind != KindDAip {
		return
	}
	h := fnv.New32a()
	h.Write([]byte(id))
	mu := &m.indexMu[h.Sum32()%indexStripes]
	mu.Lock()
	defer mu.Unlock()

	n, err := m.Store.FindByID(ctx, KindDAip, id)
	if err != nil {
		m.Logger.Error("index read failed", "node", id, "err", err)
		return
	}
	if err := m.Index.Submit(ctx, n); err != nil {
		m.Logger.Error("index submit failed", "node", id, "err", err)
	}
}

// =============================================================================
// Reads
// =============================================================================

// Get returns a node by id.
func (m *Manager) Get(ctx context.Context, kind Kind, id string) (Node, error) {
	return m.Store.FindByID(ctx, kind, id)
}

// Find returns nodes of kind whose field holds any of values and that match
// filter. An empty field selects every node of the kind.
func (m *Manager) Find(ctx context.Context, kind Kind, field string, values []string, filter Filter) ([]Node, error) {
	return m.Store.FindManyByFieldIn(ctx, kind, field, values, filter)
}

// Ancestry is the part of a node needed to verify ancestry.
type Ancestry struct {
	Kind Kind      `json:"kind"`
	Up   []string  `json:"up,omitempty"`
	Doms []string  `json:"doms,omitempty"`
	DDS  Distances `json:"dds,omitempty"`
}

// Distances returns the recorded distance map, with immediate parents at
// distance 1 even if the map is missing them.
func (a Ancestry) Distances() Distances {
	out := maps.Clone(a.DDS)
	if out == nil {
		out = make(Distances, len(a.Up)+len(a.Doms))
	}
	for _, p := range a.Up {
		out[p] = 1
	}
	for _, p := range a.Doms {
		out[p] = 1
	}
	return out
}

// HasAncestor reports whether id is an immediate or recorded ancestor.
func (a Ancestry) HasAncestor(id string) bool {
	if _, ok := a.DDS[id]; ok {
		return true
	}
	for _, p := range a.Up {
		if p == id {
			return true
		}
	}
	for _, p := range a.Doms {
		if p == id {
			return true
		}
	}
	return false
}

const ancestryBatch = 500

// Ancestry returns the ancestry of every known id among ids. Ids are looked
// up among DAips first, then Domains; unknown ids are absent from the map.
func (m *Manager) Ancestry(ctx context.Context, ids []string) (map[string]Ancestry, error) {
	out := make(map[string]Ancestry, len(ids))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for start := 0; start < len(ids); start += ancestryBatch {
		batch := ids[start:min(start+ancestryBatch, len(ids))]
		g.Go(func() error {
			found, err := m.ancestryBatch(ctx, batch)
			if err != nil {
				return err
			}
			mu.Lock()
			maps.Copy(out, found)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *Manager) ancestryBatch(ctx context.Context, ids []string) (map[string]Ancestry, error) {
	out := make(map[string]Ancestry, len(ids))
	daips, err := m.Store.FindManyByFieldIn(ctx, KindDAip, FieldID, ids, nil, FieldUp, FieldDoms, FieldDDS)
	if err != nil {
		return nil, fmt.Errorf("ancestry: %w", err)
	}
	for _, n := range daips {
		out[n.ID] = Ancestry{Kind: KindDAip, Up: n.Up, Doms: n.Doms, DDS: n.DDS}
	}
	if len(out) == len(ids) {
		return out, nil
	}

	var rest []string
	for _, id := range ids {
		if _, ok := out[id]; !ok {
			rest = append(rest, id)
		}
	}
	doms, err := m.Store.FindManyByFieldIn(ctx, KindDomain, FieldID, rest, nil, FieldID)
	if err != nil {
		return nil, fmt.Errorf("ancestry: %w", err)
	}
	for _, n := range doms {
		out[n.ID] = Ancestry{Kind: KindDomain}
	}
	return out, nil
}
