// Package search defines the search index port used by the query executor,
// the document shape DAips are indexed with, and a bulk indexer that keeps at
// most one batch in flight.
//
// A search backend answers two kinds of frontier filters:
//   - terms in a link field ("up" or "doms"): immediate children of the frontier
//   - distance map contains a frontier id with value <= k: descendants within k hops
//
// both intersected with an opaque predicate string whose syntax belongs to
// the backend. Backends report a predicate they cannot parse as
// UNSUPPORTED_PREDICATE and a closed or unreachable index as
// BACKEND_UNAVAILABLE; the executor treats both as a reason to fall back to
// the graph join on one-hop stages.
package search

import (
	"context"
	stderrors "errors"

	"github.com/matzehuels/aipgraph/pkg/errors"
	"github.com/matzehuels/aipgraph/pkg/graph"
)

// ErrUnavailable is the cause attached to BACKEND_UNAVAILABLE errors
// raised by a closed index.
var ErrUnavailable = stderrors.New("search index unavailable")

// Via selects how a request relates candidates to the frontier.
type Via int

const (
	// ViaUp matches DAips whose "up" set intersects the frontier.
	ViaUp Via = iota
	// ViaDoms matches DAips whose "doms" set intersects the frontier.
	ViaDoms
	// ViaDistance matches DAips whose distance map holds a frontier id with
	// a value <= Depth.
	ViaDistance
)

func (v Via) String() string {
	switch v {
	case ViaUp:
		return "up"
	case ViaDoms:
		return "doms"
	case ViaDistance:
		return "dds"
	}
	return "unknown"
}

// Request is one frontier query.
type Request struct {
	Kind       graph.Kind // collection; defaults to DAip
	Frontier   []string
	Via        Via
	Depth      int    // for ViaDistance
	Predicate  string // backend query syntax; empty matches all
	PostFilter string // applied after the frontier filter; empty is a no-op
	Limit      int    // maximum hits; 0 means the backend default
}

// Hits is the answer to a Request.
type Hits struct {
	IDs          []string
	SubNodeCount int64 // sum of "nb" over the hits
	Truncated    bool  // more hits matched than Limit
}

// Index is the search index port.
type Index interface {
	// Search runs a frontier query.
	Search(ctx context.Context, req Request) (Hits, error)

	// Index adds or replaces documents.
	Index(ctx context.Context, docs []Document) error

	// Close releases the index.
	Close() error
}

// Document is the indexed form of a DAip. Ancestors denormalizes the keys
// of DDS so that "any depth" filters are a single terms query.
type Document struct {
	ID        string          `json:"id"`
	Kind      graph.Kind      `json:"kind"`
	Up        []string        `json:"up,omitempty"`
	Doms      []string        `json:"doms,omitempty"`
	Ancestors []string        `json:"ancestors,omitempty"`
	DDS       graph.Distances `json:"dds,omitempty"`
	NB        int64           `json:"nb"`
	Fields    graph.Fields    `json:"fields,omitempty"`
}

// DocumentFromNode builds the document for n.
func DocumentFromNode(n graph.Node) Document {
	return Document{
		ID:        n.ID,
		Kind:      n.Kind,
		Up:        n.Up,
		Doms:      n.Doms,
		Ancestors: n.DDS.Keys(),
		DDS:       n.DDS,
		NB:        n.NB,
		Fields:    n.Fields,
	}
}

// Unavailable wraps err as BACKEND_UNAVAILABLE.
func Unavailable(err error, format string, args ...any) error {
	return errors.Wrap(errors.ErrCodeBackendUnavailable, err, format, args...)
}

// Unsupported wraps err as UNSUPPORTED_PREDICATE.
func Unsupported(err error, format string, args ...any) error {
	return errors.Wrap(errors.ErrCodeUnsupportedPredicate, err, format, args...)
}
