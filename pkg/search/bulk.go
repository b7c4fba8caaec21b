package search

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/aipgraph/pkg/graph"
	"github.com/matzehuels/aipgraph/pkg/observability"
)

// DefaultBatchSize is the number of documents buffered before a bulk
// submission.
const DefaultBatchSize = 1000

// BulkIndexer buffers documents and submits them to an Index in batches.
//
// In non-blocking mode a batch is submitted in the background and its
// outcome is collected before the next batch is submitted, so at most one
// batch is in flight. A failed batch is logged and not retried; the graph
// store writes it mirrors are already committed.
//
// BulkIndexer implements graph.IndexSink.
type BulkIndexer struct {
	Index     Index
	BatchSize int
	Blocking  bool
	Logger    *log.Logger

	mu      sync.Mutex
	pending map[string]Document
	order   []string
	future  chan error
	failed  int
}

// NewBulkIndexer creates a non-blocking indexer with the default batch size.
func NewBulkIndexer(idx Index, logger *log.Logger) *BulkIndexer {
	if logger == nil {
		logger = log.Default()
	}
	return &BulkIndexer{Index: idx, BatchSize: DefaultBatchSize, Logger: logger}
}

// Submit buffers the documents of nodes, replacing earlier versions of the
// same id, and submits a batch once BatchSize documents are pending.
func (b *BulkIndexer) Submit(ctx context.Context, nodes ...graph.Node) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pending == nil {
		b.pending = make(map[string]Document)
	}
	for _, n := range nodes {
		if _, ok := b.pending[n.ID]; !ok {
			b.order = append(b.order, n.ID)
		}
		b.pending[n.ID] = DocumentFromNode(n)
	}
	size := b.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}
	if len(b.order) < size {
		return nil
	}
	return b.submitLocked(ctx)
}

// Flush submits pending documents and waits for the outstanding batch.
func (b *BulkIndexer) Flush(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.order) > 0 {
		if err := b.submitLocked(ctx); err != nil {
			return err
		}
	}
	return b.waitLocked(ctx)
}

// Failed returns the number of batches that failed.
func (b *BulkIndexer) Failed() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failed
}

func (b *BulkIndexer) submitLocked(ctx context.Context) error {
	// Consume the previous batch before issuing a new one.
	if err := b.waitLocked(ctx); err != nil {
		return err
	}

	docs := make([]Document, 0, len(b.order))
	for _, id := range b.order {
		docs = append(docs, b.pending[id])
	}
	b.pending = make(map[string]Document)
	b.order = nil

	if b.Blocking {
		b.report(len(docs), b.run(ctx, docs))
		return nil
	}
	future := make(chan error, 1)
	b.future = future
	go func() {
		// The batch outlives the submitting request.
		future <- b.run(context.WithoutCancel(ctx), docs)
		close(future)
	}()
	b.Logger.Debug("bulk index submitted", "docs", len(docs))
	return nil
}

func (b *BulkIndexer) waitLocked(ctx context.Context) error {
	if b.future == nil {
		return nil
	}
	select {
	case err := <-b.future:
		b.future = nil
		b.report(-1, err)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *BulkIndexer) run(ctx context.Context, docs []Document) error {
	start := time.Now()
	err := b.Index.Index(ctx, docs)
	observability.Ingest().OnBulkIndex(ctx, len(docs), time.Since(start), err)
	return err
}

func (b *BulkIndexer) report(docs int, err error) {
	if err == nil {
		return
	}
	b.failed++
	if docs >= 0 {
		b.Logger.Error("bulk index failed", "docs", docs, "err", err)
		return
	}
	b.Logger.Error("bulk index failed", "err", err)
}

var _ graph.IndexSink = (*BulkIndexer)(nil)
