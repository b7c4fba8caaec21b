// Package blevesearch implements search.Index on a bleve index.
//
// Link fields and the denormalized ancestor list are keyword fields. The
// distance map is indexed as one numeric field per ancestor ("dds.<id>"), so
// "within k hops of f" is a numeric range query on dds.<f>. Business fields
// are indexed at the top level with the standard analyzer and are addressed
// by predicates in bleve query string syntax, for example:
//
//	title:letters +year:>=1914
package blevesearch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/charmbracelet/log"

	"github.com/matzehuels/aipgraph/pkg/graph"
	"github.com/matzehuels/aipgraph/pkg/search"
)

const (
	// DefaultLimit caps the hits returned by one Search.
	DefaultLimit = 100_000

	pageSize = 10_000

	fieldAncestors = "ancestors"
)

var reserved = map[string]bool{
	graph.FieldID: true, graph.FieldKind: true, graph.FieldUp: true, graph.FieldDoms: true,
	graph.FieldDDS: true, graph.FieldNB: true, fieldAncestors: true, graph.FieldFields: true,
}

// Index is a bleve-backed search.Index.
type Index struct {
	logger *log.Logger

	mu     sync.RWMutex
	bi     bleve.Index
	closed bool
}

func buildMapping() mapping.IndexMapping {
	keyword := bleve.NewKeywordFieldMapping()
	count := bleve.NewNumericFieldMapping()

	doc := bleve.NewDocumentMapping()
	for _, f := range []string{graph.FieldKind, graph.FieldUp, graph.FieldDoms, fieldAncestors} {
		doc.AddFieldMappingsAt(f, keyword)
	}
	doc.AddFieldMappingsAt(graph.FieldNB, count)
	doc.AddSubDocumentMapping(graph.FieldDDS, bleve.NewDocumentMapping())

	im := bleve.NewIndexMapping()
	im.DefaultMapping = doc
	return im
}

// Open opens the index at path, creating it if needed. An empty path
// creates an in-memory index.
func Open(path string, logger *log.Logger) (*Index, error) {
	if logger == nil {
		logger = log.Default()
	}
	var (
		bi  bleve.Index
		err error
	)
	switch {
	case path == "":
		bi, err = bleve.NewMemOnly(buildMapping())
	case exists(path):
		bi, err = bleve.Open(path)
	default:
		bi, err = bleve.New(path, buildMapping())
	}
	if err != nil {
		return nil, fmt.Errorf("open bleve index %q: %w", path, err)
	}
	return &Index{logger: logger, bi: bi}, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Index adds or replaces docs in one batch.
func (x *Index) Index(ctx context.Context, docs []search.Document) error {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.closed {
		return search.Unavailable(search.ErrUnavailable, "index %d docs", len(docs))
	}
	batch := x.bi.NewBatch()
	for _, d := range docs {
		if err := batch.Index(d.ID, toMap(d)); err != nil {
			return fmt.Errorf("index %s: %w", d.ID, err)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := x.bi.Batch(batch); err != nil {
		return search.Unavailable(err, "bulk index %d docs", len(docs))
	}
	return nil
}

func toMap(d search.Document) map[string]any {
	m := map[string]any{
		graph.FieldKind: string(d.Kind),
		graph.FieldNB:   float64(d.NB),
	}
	if len(d.Up) > 0 {
		m[graph.FieldUp] = d.Up
	}
	if len(d.Doms) > 0 {
		m[graph.FieldDoms] = d.Doms
	}
	if len(d.Ancestors) > 0 {
		m[fieldAncestors] = d.Ancestors
	}
	if len(d.DDS) > 0 {
		dds := make(map[string]any, len(d.DDS))
		for a, v := range d.DDS {
			dds[a] = float64(v)
		}
		m[graph.FieldDDS] = dds
	}
	var shadowed map[string]any
	for k, v := range d.Fields {
		if reserved[k] {
			if shadowed == nil {
				shadowed = make(map[string]any)
			}
			shadowed[k] = v
			continue
		}
		m[k] = v
	}
	if shadowed != nil {
		m[graph.FieldFields] = shadowed
	}
	return m
}

// Search runs req and pages through every hit up to req.Limit.
func (x *Index) Search(ctx context.Context, req search.Request) (search.Hits, error) {
	q, err := buildQuery(req)
	if err != nil {
		return search.Hits{}, err
	}

	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.closed {
		return search.Hits{}, search.Unavailable(search.ErrUnavailable, "search")
	}

	limit := req.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	var hits search.Hits
	for from := 0; from < limit; from += pageSize {
		size := min(pageSize, limit-from)
		sr := bleve.NewSearchRequestOptions(q, size, from, false)
		sr.Fields = []string{graph.FieldNB}
		res, err := x.bi.SearchInContext(ctx, sr)
		if err != nil {
			if errors.Is(err, bleve.ErrorIndexClosed) {
				return search.Hits{}, search.Unavailable(err, "search")
			}
			return search.Hits{}, fmt.Errorf("bleve search: %w", err)
		}
		for _, h := range res.Hits {
			hits.IDs = append(hits.IDs, h.ID)
			if nb, ok := h.Fields[graph.FieldNB].(float64); ok {
				hits.SubNodeCount += int64(nb)
			}
		}
		if uint64(from+len(res.Hits)) >= res.Total || len(res.Hits) == 0 {
			return hits, nil
		}
	}
	hits.Truncated = true
	x.logger.Warn("search truncated", "limit", limit, "via", req.Via)
	return hits, nil
}

func buildQuery(req search.Request) (query.Query, error) {
	kind := req.Kind
	if kind == "" {
		kind = graph.KindDAip
	}
	kindQ := bleve.NewTermQuery(string(kind))
	kindQ.SetField(graph.FieldKind)

	frontier, err := frontierQuery(req)
	if err != nil {
		return nil, err
	}
	parts := []query.Query{kindQ, frontier}
	for _, pred := range []string{req.Predicate, req.PostFilter} {
		if pred == "" || pred == "*" {
			continue
		}
		pq, err := bleve.NewQueryStringQuery(pred).Parse()
		if err != nil {
			return nil, search.Unsupported(err, "predicate %q", pred)
		}
		parts = append(parts, pq)
	}
	return bleve.NewConjunctionQuery(parts...), nil
}

func frontierQuery(req search.Request) (query.Query, error) {
	if len(req.Frontier) == 0 {
		return nil, search.Unsupported(nil, "empty frontier")
	}
	clauses := make([]query.Query, 0, len(req.Frontier))
	switch req.Via {
	case search.ViaUp, search.ViaDoms:
		for _, f := range req.Frontier {
			tq := bleve.NewTermQuery(f)
			tq.SetField(req.Via.String())
			clauses = append(clauses, tq)
		}
	case search.ViaDistance:
		if req.Depth < 1 {
			return nil, search.Unsupported(nil, "depth %d", req.Depth)
		}
		lo, hi := float64(1), float64(req.Depth)
		incl := true
		for _, f := range req.Frontier {
			rq := bleve.NewNumericRangeInclusiveQuery(&lo, &hi, &incl, &incl)
			rq.SetField(graph.FieldDDS + "." + f)
			clauses = append(clauses, rq)
		}
	default:
		return nil, search.Unsupported(nil, "frontier filter %v", req.Via)
	}
	return bleve.NewDisjunctionQuery(clauses...), nil
}

// Count returns the number of indexed documents.
func (x *Index) Count() (uint64, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.closed {
		return 0, search.Unavailable(search.ErrUnavailable, "count")
	}
	return x.bi.DocCount()
}

// Close closes the index. Later calls fail with BACKEND_UNAVAILABLE.
func (x *Index) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return nil
	}
	x.closed = true
	return x.bi.Close()
}

var _ search.Index = (*Index)(nil)
