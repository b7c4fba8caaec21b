// Package mongostore implements graph.Store on MongoDB.
//
// Each node kind lives in its own collection (domains, daips, paips, duas).
// Link updates use a single FindOneAndUpdate with $addToSet, $min, $set and
// $inc, returning the document as it was before the update, so merges of
// the same id serialize on the server without client-side locking.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/matzehuels/aipgraph/pkg/graph"
)

// DefaultDatabase is used when Options.Database is empty.
const DefaultDatabase = "aipgraph"

// Options configures Connect.
type Options struct {
	URI      string
	Database string
	Timeout  time.Duration // connect and ping timeout
	Logger   *log.Logger
}

// Store implements graph.Store on a MongoDB database.
type Store struct {
	db     *mongo.Database
	client *mongo.Client // owned, disconnected on Close
	logger *log.Logger
}

// Connect dials MongoDB, pings it and ensures indexes.
func Connect(ctx context.Context, opts Options) (*Store, error) {
	if opts.Database == "" {
		opts.Database = DefaultDatabase
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	clientOpts := options.Client().
		ApplyURI(opts.URI).
		SetBSONOptions(&options.BSONOptions{DefaultDocumentM: true})
	client, err := mongo.Connect(cctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(cctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	s := New(client.Database(opts.Database), opts.Logger)
	s.client = client
	if err := s.EnsureIndexes(cctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing database. The caller keeps ownership of its client.
func New(db *mongo.Database, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.Default()
	}
	return &Store{db: db, logger: logger}
}

// Database returns the underlying database.
func (s *Store) Database() *mongo.Database { return s.db }

func (s *Store) coll(kind graph.Kind) *mongo.Collection {
	return s.db.Collection(kind.Collection())
}

// EnsureIndexes creates the unique name indexes, the link indexes used by
// the one-hop join, and a wildcard index over the distance map.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	asc := func(field string) mongo.IndexModel {
		return mongo.IndexModel{Keys: bson.D{{Key: field, Value: 1}}}
	}
	unique := mongo.IndexModel{
		Keys:    bson.D{{Key: graph.FieldName, Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	wanted := map[graph.Kind][]mongo.IndexModel{
		graph.KindDomain: {unique},
		graph.KindDua:    {unique},
		graph.KindDAip: {
			asc(graph.FieldUp),
			asc(graph.FieldDoms),
			{Keys: bson.D{{Key: graph.FieldDDS + ".$**", Value: 1}}},
		},
		graph.KindPAip: {asc(graph.FieldUp)},
	}
	for _, kind := range graph.Kinds {
		if _, err := s.coll(kind).Indexes().CreateMany(ctx, wanted[kind]); err != nil {
			return fmt.Errorf("create indexes on %s: %w", kind.Collection(), err)
		}
	}
	return nil
}

func (s *Store) FindByID(ctx context.Context, kind graph.Kind, id string) (graph.Node, error) {
	return s.findOne(ctx, kind, bson.D{{Key: "_id", Value: id}})
}

func (s *Store) FindByField(ctx context.Context, kind graph.Kind, field, value string) (graph.Node, error) {
	return s.findOne(ctx, kind, bson.D{{Key: fieldPath(field), Value: value}})
}

func (s *Store) findOne(ctx context.Context, kind graph.Kind, filter bson.D) (graph.Node, error) {
	var n graph.Node
	err := s.coll(kind).FindOne(ctx, filter).Decode(&n)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return graph.Node{}, graph.ErrNotFound
	}
	if err != nil {
		return graph.Node{}, fmt.Errorf("find %s: %w", kind, err)
	}
	return n, nil
}

func (s *Store) FindManyByFieldIn(ctx context.Context, kind graph.Kind, field string, values []string, filter graph.Filter, projection ...string) ([]graph.Node, error) {
	if field != "" && len(values) == 0 {
		return nil, nil
	}
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	if p := projectionDoc(projection); p != nil {
		opts.SetProjection(p)
	}
	cur, err := s.coll(kind).Find(ctx, selector(field, values, filter), opts)
	if err != nil {
		return nil, fmt.Errorf("find %s by %s: %w", kind, field, err)
	}
	var out []graph.Node
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode %s: %w", kind, err)
	}
	return out, nil
}

// Upsert inserts n with $setOnInsert, leaving an existing document as is.
func (s *Store) Upsert(ctx context.Context, n graph.Node) (bool, error) {
	doc, err := insertDoc(n)
	if err != nil {
		return false, err
	}
	res, err := s.coll(n.Kind).UpdateOne(ctx,
		bson.D{{Key: "_id", Value: n.ID}},
		bson.D{{Key: "$setOnInsert", Value: doc}},
		options.Update().SetUpsert(true),
	)
	if mongo.IsDuplicateKeyError(err) {
		// Either a concurrent insert of the same id won, or the name
		// index rejected us.
		if _, ferr := s.FindByID(ctx, n.Kind, n.ID); ferr == nil {
			return false, nil
		}
		return false, graph.ErrDuplicate
	}
	if err != nil {
		return false, fmt.Errorf("upsert %s %s: %w", n.Kind, n.ID, err)
	}
	return res.UpsertedCount == 1, nil
}

func insertDoc(n graph.Node) (bson.M, error) {
	raw, err := bson.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", n.ID, err)
	}
	var doc bson.M
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	delete(doc, "_id")
	return doc, nil
}

// UpdateLinkSets applies d with one FindOneAndUpdate and returns the
// pre-image.
func (s *Store) UpdateLinkSets(ctx context.Context, kind graph.Kind, id string, d graph.Delta) (graph.Node, error) {
	if err := d.Validate(); err != nil {
		return graph.Node{}, err
	}
	if d.IsZero() {
		return s.FindByID(ctx, kind, id)
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.Before)
	var before graph.Node
	err := s.coll(kind).FindOneAndUpdate(ctx, bson.D{{Key: "_id", Value: id}}, updateDoc(d), opts).Decode(&before)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return graph.Node{}, graph.ErrNotFound
	}
	if err != nil {
		return graph.Node{}, fmt.Errorf("update %s %s: %w", kind, id, err)
	}
	return before, nil
}

// Drop removes every collection. Used by tests and `aipgraph ingest --reset`.
func (s *Store) Drop(ctx context.Context) error {
	for _, kind := range graph.Kinds {
		if err := s.coll(kind).Drop(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Close disconnects the client when the store owns it.
func (s *Store) Close() error {
	if s.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

var _ graph.Store = (*Store)(nil)
