// Package badgerstore implements graph.Store on an embedded Badger
// database, for single-process deployments that need persistence without a
// MongoDB server.
//
// Key layout (\x00 separates components):
//
//	n <kind> <id>                  JSON-encoded node
//	i <kind> <field> <value> <id>  secondary index entry, empty value
//
// Indexed fields are name, up, doms and the keys of dds. Updates run in
// optimistic transactions and are retried on conflict, which makes
// UpdateLinkSets atomic per node.
package badgerstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/charmbracelet/log"
	"github.com/dgraph-io/badger/v4"

	"github.com/matzehuels/aipgraph/pkg/graph"
)

const (
	sep = "\x00"

	maxConflictRetries = 64
)

var indexedFields = []string{graph.FieldName, graph.FieldUp, graph.FieldDoms, graph.FieldDDS}

// Store implements graph.Store on Badger.
type Store struct {
	db     *badger.DB
	logger *log.Logger
}

// Open opens the database in dir. An empty dir opens an in-memory database.
func Open(dir string, logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.Default()
	}
	opts := badger.DefaultOptions(dir).WithLogger(badgerLogger{logger.WithPrefix("badger")})
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger %q: %w", dir, err)
	}
	return &Store{db: db, logger: logger}, nil
}

func nodeKey(kind graph.Kind, id string) []byte {
	return []byte("n" + sep + string(kind) + sep + id)
}

func nodePrefix(kind graph.Kind) []byte {
	return []byte("n" + sep + string(kind) + sep)
}

func indexPrefix(kind graph.Kind, field, value string) []byte {
	return []byte("i" + sep + string(kind) + sep + field + sep + value + sep)
}

func indexKey(kind graph.Kind, field, value, id string) []byte {
	return append(indexPrefix(kind, field, value), id...)
}

func getNode(txn *badger.Txn, kind graph.Kind, id string) (graph.Node, error) {
	item, err := txn.Get(nodeKey(kind, id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return graph.Node{}, graph.ErrNotFound
	}
	if err != nil {
		return graph.Node{}, err
	}
	var n graph.Node
	err = item.Value(func(v []byte) error { return json.Unmarshal(v, &n) })
	return n, err
}

func putNode(txn *badger.Txn, before, after graph.Node) error {
	raw, err := json.Marshal(after)
	if err != nil {
		return err
	}
	if err := txn.Set(nodeKey(after.Kind, after.ID), raw); err != nil {
		return err
	}
	for _, f := range indexedFields {
		old := indexValues(before, f)
		for v := range indexValues(after, f) {
			if old[v] {
				continue
			}
			if err := txn.Set(indexKey(after.Kind, f, v, after.ID), nil); err != nil {
				return err
			}
		}
	}
	return nil
}

func indexValues(n graph.Node, field string) map[string]bool {
	out := make(map[string]bool)
	if n.ID == "" {
		return out
	}
	for _, v := range n.Attr(field) {
		if s, ok := v.(string); ok && s != "" {
			out[s] = true
		}
	}
	return out
}

// update runs fn in a read-write transaction, retrying on conflict.
func (s *Store) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) || attempt == maxConflictRetries {
			return err
		}
		s.logger.Debug("transaction conflict, retrying", "attempt", attempt+1)
	}
}

func (s *Store) FindByID(_ context.Context, kind graph.Kind, id string) (graph.Node, error) {
	var n graph.Node
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		n, err = getNode(txn, kind, id)
		return err
	})
	return n, err
}

func (s *Store) FindByField(ctx context.Context, kind graph.Kind, field, value string) (graph.Node, error) {
	nodes, err := s.FindManyByFieldIn(ctx, kind, field, []string{value}, nil)
	if err != nil {
		return graph.Node{}, err
	}
	if len(nodes) == 0 {
		return graph.Node{}, graph.ErrNotFound
	}
	return nodes[0], nil
}

// FindManyByFieldIn uses the secondary index for indexed fields and scans
// the kind otherwise. Results are sorted by id.
func (s *Store) FindManyByFieldIn(ctx context.Context, kind graph.Kind, field string, values []string, filter graph.Filter, _ ...string) ([]graph.Node, error) {
	var out []graph.Node
	err := s.db.View(func(txn *badger.Txn) error {
		keep := func(n graph.Node) {
			if filter.Match(n) {
				out = append(out, n)
			}
		}
		switch {
		case field == graph.FieldID:
			for _, id := range uniq(values) {
				n, err := getNode(txn, kind, id)
				if errors.Is(err, graph.ErrNotFound) {
					continue
				}
				if err != nil {
					return err
				}
				keep(n)
			}
		case isIndexed(field):
			ids := make(map[string]bool)
			for _, v := range values {
				if err := scanIndex(txn, indexPrefix(kind, field, v), ids); err != nil {
					return err
				}
			}
			for id := range ids {
				n, err := getNode(txn, kind, id)
				if err != nil {
					return fmt.Errorf("index points at %s: %w", id, err)
				}
				keep(n)
			}
		default:
			var want graph.Filter
			if field != "" {
				want = graph.Filter{field: values}
			}
			return scanNodes(ctx, txn, kind, func(n graph.Node) {
				if want.Match(n) {
					keep(n)
				}
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func isIndexed(field string) bool {
	for _, f := range indexedFields {
		if f == field {
			return true
		}
	}
	return false
}

func uniq(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := values[:0:0]
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

func scanIndex(txn *badger.Txn, prefix []byte, ids map[string]bool) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		key := it.Item().Key()
		ids[string(bytes.TrimPrefix(key, prefix))] = true
	}
	return nil
}

func scanNodes(ctx context.Context, txn *badger.Txn, kind graph.Kind, fn func(graph.Node)) error {
	prefix := nodePrefix(kind)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		var n graph.Node
		if err := it.Item().Value(func(v []byte) error { return json.Unmarshal(v, &n) }); err != nil {
			return err
		}
		fn(n)
	}
	return nil
}

// Upsert inserts n unless its id is taken. Domain and retention rule names
// are unique.
func (s *Store) Upsert(ctx context.Context, n graph.Node) (bool, error) {
	var created bool
	err := s.update(ctx, func(txn *badger.Txn) error {
		created = false
		if _, err := getNode(txn, n.Kind, n.ID); err == nil {
			return nil
		} else if !errors.Is(err, graph.ErrNotFound) {
			return err
		}
		if n.Name != "" && (n.Kind == graph.KindDomain || n.Kind == graph.KindDua) {
			taken := make(map[string]bool)
			if err := scanIndex(txn, indexPrefix(n.Kind, graph.FieldName, n.Name), taken); err != nil {
				return err
			}
			if len(taken) > 0 {
				return graph.ErrDuplicate
			}
		}
		created = true
		return putNode(txn, graph.Node{}, n)
	})
	return created, err
}

// UpdateLinkSets reads, applies and writes d in one transaction.
func (s *Store) UpdateLinkSets(ctx context.Context, kind graph.Kind, id string, d graph.Delta) (graph.Node, error) {
	if err := d.Validate(); err != nil {
		return graph.Node{}, err
	}
	var before graph.Node
	err := s.update(ctx, func(txn *badger.Txn) error {
		var err error
		before, err = getNode(txn, kind, id)
		if err != nil {
			return err
		}
		if d.IsZero() {
			return nil
		}
		return putNode(txn, before, graph.ApplyDelta(before, d))
	})
	return before, err
}

// Len counts the nodes of kind.
func (s *Store) Len(kind graph.Kind) (int, error) {
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := nodePrefix(kind)
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

func (s *Store) Close() error {
	return s.db.Close()
}

// badgerLogger routes Badger's logging through charmbracelet/log.
type badgerLogger struct{ l *log.Logger }

func (b badgerLogger) Errorf(f string, args ...any)   { b.l.Errorf(f, args...) }
func (b badgerLogger) Warningf(f string, args ...any) { b.l.Warnf(f, args...) }
func (b badgerLogger) Infof(f string, args ...any)    { b.l.Debugf(f, args...) }
func (b badgerLogger) Debugf(f string, args ...any)   { b.l.Debugf(f, args...) }

var _ graph.Store = (*Store)(nil)
