// Package pkg provides the libraries behind aipgraph, a store for archival
// information packages arranged as a multi-parent DAG.
//
// # Overview
//
// Domains are roots. Dissemination packages (DAips) hang below domains and
// other DAips, each recording the hop distance to every ancestor it has.
// Preservation packages (PAips) attach to exactly one DAip. Retention rules
// (Duas) are named records that nodes point to.
//
// # Architecture
//
//	JSON-lines records / HTTP writes
//	         ↓
//	    [ingest] (refs, counters, placeholders)
//	         ↓
//	    [graph] Manager (links, child counts, distances)
//	         ↓                      ↘
//	    [store] memstore | mongostore | badgerstore   [search] BulkIndexer → blevesearch
//
//	Chain of stages
//	         ↓
//	    [query] Executor ← [cache] Results (longest cached prefix)
//	         ↓
//	    [result] paths and levels
//
// # Main Packages
//
// [graph] holds the node model, the store port and the Manager that keeps
// links, child counts and ancestor distances consistent across merges.
//
// [query] resolves placeholders and runs stage chains over the graph store
// and the search index, falling back from search to the graph join for
// one-hop stages.
//
// [result] implements the path algebra: level bookkeeping, ancestor checks
// and full-path reconstruction.
//
// [cache] stores stage results in ristretto, Redis, MongoDB or files.
//
// [server] and [render] expose the graph over HTTP and as Graphviz
// drawings.
//
// [graph]: https://pkg.go.dev/github.com/matzehuels/aipgraph/pkg/graph
// [query]: https://pkg.go.dev/github.com/matzehuels/aipgraph/pkg/query
// [result]: https://pkg.go.dev/github.com/matzehuels/aipgraph/pkg/result
// [cache]: https://pkg.go.dev/github.com/matzehuels/aipgraph/pkg/cache
// [server]: https://pkg.go.dev/github.com/matzehuels/aipgraph/pkg/server
// [render]: https://pkg.go.dev/github.com/matzehuels/aipgraph/pkg/render
// [ingest]: https://pkg.go.dev/github.com/matzehuels/aipgraph/pkg/ingest
// [store]: https://pkg.go.dev/github.com/matzehuels/aipgraph/pkg/store
// [search]: https://pkg.go.dev/github.com/matzehuels/aipgraph/pkg/search
package pkg
