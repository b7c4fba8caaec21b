// Package ingest loads archival graphs from JSON lines.
//
// Each line is one record. The "type" field selects what it creates:
//
//	{"type": "counter", "name": "seq", "start": 100}
//	{"type": "domain", "ref": "d", "name": "Archives"}
//	{"type": "dua", "name": "keep-10y", "fields": {"years": 10}}
//	{"type": "daip", "ref": "a", "parents": ["d"], "fields": {"title": "fonds"}, "dua": "keep-10y"}
//	{"type": "daip", "parents": ["a", "b"], "fields": {"title": "letter ${#seq}"}}
//	{"type": "paip", "parents": ["a"], "fields": {"format": "pdf"}}
//
// Parents are file-local refs or stored ids. A record that carries an
// explicit "id" is merged into the stored node of that id, which makes
// resubmitting a file idempotent. String fields may hold ${name} variables
// and ${#name} counters.
package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/aipgraph/pkg/counter"
	"github.com/matzehuels/aipgraph/pkg/errors"
	"github.com/matzehuels/aipgraph/pkg/graph"
	"github.com/matzehuels/aipgraph/pkg/nodeid"
)

// maxLine bounds one record.
const maxLine = 4 << 20

// Record is one input line.
type Record struct {
	Type    string       `json:"type"`
	Ref     string       `json:"ref,omitempty"`
	ID      string       `json:"id,omitempty"`
	Name    string       `json:"name,omitempty"`
	Parents []string     `json:"parents,omitempty"`
	Fields  graph.Fields `json:"fields,omitempty"`
	Dua     string       `json:"dua,omitempty"`
	Start   int64        `json:"start,omitempty"`
}

// Stats counts what a load did.
type Stats struct {
	Lines   int            `json:"lines"`
	Created map[string]int `json:"created"` // per kind
	Merged  map[string]int `json:"merged"`  // per kind
}

func (s *Stats) count(kind graph.Kind, created bool) {
	if s.Created == nil {
		s.Created, s.Merged = make(map[string]int), make(map[string]int)
	}
	if created {
		s.Created[string(kind)]++
	} else {
		s.Merged[string(kind)]++
	}
}

// Loader writes records through a graph Manager. Refs are local to one
// Load call; Submit only accepts stored ids as parents.
type Loader struct {
	Graph  *graph.Manager
	Vars   map[string]string
	Logger *log.Logger
	// Counters is used when the context carries no registry.
	Counters *counter.Registry

	mu   sync.Mutex
	refs map[string]ref
}

type ref struct {
	id   string
	kind graph.Kind
}

// NewLoader creates a Loader.
func NewLoader(g *graph.Manager, vars map[string]string, logger *log.Logger) *Loader {
	if logger == nil {
		logger = log.Default()
	}
	return &Loader{Graph: g, Vars: vars, Logger: logger, Counters: counter.NewRegistry()}
}

func (l *Loader) registry(ctx context.Context) *counter.Registry {
	if reg := counter.FromContext(ctx); reg != nil {
		return reg
	}
	return l.Counters
}

// LoadFile loads the records of the file at path.
func (l *Loader) LoadFile(ctx context.Context, path string) (Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return Stats{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return l.Load(ctx, f)
}

// Load reads records from r until EOF and stops at the first failing line.
// Counters live in the registry carried by ctx, or in l.Counters. Pending
// search documents are flushed before Load returns. Loads on one Loader
// are serialized.
func (l *Loader) Load(ctx context.Context, r io.Reader) (Stats, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	reg := l.registry(ctx)
	l.refs = make(map[string]ref)
	defer func() { l.refs = nil }()

	var stats Stats
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLine)
	for sc.Scan() {
		stats.Lines++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return stats, errors.Wrap(errors.ErrCodeInvalidInput, err, "line %d", stats.Lines)
		}
		n, created, err := l.apply(ctx, reg, rec)
		if err != nil {
			return stats, fmt.Errorf("line %d: %w", stats.Lines, err)
		}
		if n.ID != "" {
			stats.count(n.Kind, created)
		}
		if err := ctx.Err(); err != nil {
			return stats, err
		}
	}
	if err := sc.Err(); err != nil {
		return stats, fmt.Errorf("read: %w", err)
	}
	if err := l.flush(ctx); err != nil {
		return stats, err
	}
	l.Logger.Info("ingest complete", "lines", stats.Lines, "created", stats.Created, "merged", stats.Merged)
	return stats, nil
}

func (l *Loader) flush(ctx context.Context) error {
	f, ok := l.Graph.Index.(interface{ Flush(context.Context) error })
	if !ok {
		return nil
	}
	if err := f.Flush(ctx); err != nil {
		return fmt.Errorf("flush index: %w", err)
	}
	return nil
}

// Submit applies one record outside of a Load, and reports whether it
// created the node. Counter records return a zero Node. Index documents are
// flushed before Submit returns.
func (l *Loader) Submit(ctx context.Context, rec Record) (graph.Node, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n, created, err := l.apply(ctx, l.registry(ctx), rec)
	if err != nil {
		return graph.Node{}, false, err
	}
	return n, created, l.flush(ctx)
}

func (l *Loader) apply(ctx context.Context, reg *counter.Registry, rec Record) (graph.Node, bool, error) {
	if rec.Type == "counter" {
		if rec.Name == "" {
			return graph.Node{}, false, errors.New(errors.ErrCodeInvalidInput, "counter without a name")
		}
		reg.Declare(rec.Name, rec.Start)
		return graph.Node{}, false, nil
	}

	fields, err := l.expandFields(rec.Fields, reg)
	if err != nil {
		return graph.Node{}, false, err
	}
	if rec.Name, err = counter.Expand(rec.Name, l.Vars, reg); err != nil {
		return graph.Node{}, false, err
	}
	if rec.ID != "" {
		if err := errors.ValidateNodeID(rec.ID); err != nil {
			return graph.Node{}, false, err
		}
	}

	var (
		n       graph.Node
		created bool
	)
	switch rec.Type {
	case "domain", "dua":
		n, created, err = l.named(ctx, rec, fields)
	case "daip":
		n, created, err = l.daip(ctx, rec, fields)
	case "paip":
		n, created, err = l.paip(ctx, rec, fields)
	default:
		return graph.Node{}, false, errors.New(errors.ErrCodeInvalidInput, "unknown record type %q", rec.Type)
	}
	if err != nil {
		return graph.Node{}, false, err
	}
	if rec.Dua != "" {
		if n, err = l.Graph.AttachDua(ctx, n, rec.Dua); err != nil {
			return graph.Node{}, false, err
		}
	}
	if rec.Ref != "" && l.refs != nil {
		l.refs[rec.Ref] = ref{id: n.ID, kind: n.Kind}
	}
	return n, created, nil
}

func (l *Loader) expandFields(fields graph.Fields, reg *counter.Registry) (graph.Fields, error) {
	if len(fields) == 0 {
		return nil, nil
	}
	out := make(graph.Fields, len(fields))
	for k, v := range fields {
		if err := errors.ValidateFieldName(k); err != nil {
			return nil, err
		}
		ev, err := counter.ExpandValue(v, l.Vars, reg)
		if err != nil {
			return nil, err
		}
		out[k] = ev
	}
	return out, nil
}

func (l *Loader) named(ctx context.Context, rec Record, fields graph.Fields) (graph.Node, bool, error) {
	if err := errors.ValidateName(rec.Name); err != nil {
		return graph.Node{}, false, err
	}
	kind := graph.KindDomain
	if rec.Type == "dua" {
		kind = graph.KindDua
	}
	_, err := l.Graph.Store.FindByField(ctx, kind, graph.FieldName, rec.Name)
	created := stderrors.Is(err, graph.ErrNotFound)
	if kind == graph.KindDua {
		n, err := l.Graph.EnsureDua(ctx, rec.Name, fields)
		return n, created, err
	}
	n, err := l.Graph.EnsureDomain(ctx, rec.Name, fields)
	return n, created, err
}

func (l *Loader) daip(ctx context.Context, rec Record, fields graph.Fields) (graph.Node, bool, error) {
	if len(rec.Parents) == 0 && rec.ID == "" {
		return graph.Node{}, false, errors.New(errors.ErrCodeInvalidInput, "daip without parents")
	}
	if len(rec.Parents) == 0 {
		// Without parents a record may only update a stored DAip.
		_, err := l.Graph.Store.FindByID(ctx, graph.KindDAip, rec.ID)
		if stderrors.Is(err, graph.ErrNotFound) {
			return graph.Node{}, false, errors.New(errors.ErrCodeInvalidInput, "daip %s is not stored and has no parents", rec.ID)
		}
		if err != nil {
			return graph.Node{}, false, err
		}
	}
	parents := make([]graph.Node, 0, len(rec.Parents))
	for _, p := range rec.Parents {
		n, err := l.parent(ctx, p, graph.KindDomain, graph.KindDAip)
		if err != nil {
			return graph.Node{}, false, err
		}
		parents = append(parents, n)
	}

	var (
		n       graph.Node
		created bool
	)
	if rec.ID == "" {
		child, err := l.Graph.CreateChild(ctx, parents[0], fields)
		if err != nil {
			return graph.Node{}, false, err
		}
		n, created, parents = child, true, parents[1:]
	} else {
		res, err := l.Graph.Merge(ctx, graph.Node{ID: rec.ID, Kind: graph.KindDAip, Fields: fields})
		if err != nil {
			return graph.Node{}, false, err
		}
		n, created = res.Node, res.Created
	}
	for _, p := range parents {
		res, err := l.Graph.AddParent(ctx, n.ID, p)
		if err != nil {
			return graph.Node{}, false, err
		}
		n = res.Node
	}
	return n, created, nil
}

func (l *Loader) paip(ctx context.Context, rec Record, fields graph.Fields) (graph.Node, bool, error) {
	if len(rec.Parents) != 1 {
		return graph.Node{}, false, errors.New(errors.ErrCodeInvalidInput, "a paip needs exactly one parent, got %d", len(rec.Parents))
	}
	daip, err := l.parent(ctx, rec.Parents[0], graph.KindDAip)
	if err != nil {
		return graph.Node{}, false, err
	}
	if rec.ID == "" {
		n, err := l.Graph.CreatePAip(ctx, daip, fields)
		return n, true, err
	}
	_, err = l.Graph.Get(ctx, graph.KindPAip, rec.ID)
	created := stderrors.Is(err, graph.ErrNotFound)
	n, err := l.Graph.AttachPAip(ctx, daip, graph.Node{ID: rec.ID, Fields: fields})
	return n, created, err
}

// parent returns the current stored state of a ref or id, trying kinds in
// order for ids.
func (l *Loader) parent(ctx context.Context, name string, kinds ...graph.Kind) (graph.Node, error) {
	if r, ok := l.refs[name]; ok {
		return l.Graph.Get(ctx, r.kind, r.id)
	}
	if err := nodeid.Validate(name); err != nil {
		return graph.Node{}, errors.New(errors.ErrCodeInvalidInput, "unknown parent %q", name)
	}
	for _, k := range kinds {
		n, err := l.Graph.Get(ctx, k, name)
		if err == nil {
			return n, nil
		}
		if !stderrors.Is(err, graph.ErrNotFound) {
			return graph.Node{}, err
		}
	}
	return graph.Node{}, errors.New(errors.ErrCodeNotFound, "parent %s not found", name)
}
