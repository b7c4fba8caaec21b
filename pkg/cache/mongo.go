package cache

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// DefaultMongoCollection is the collection MongoCache uses by default.
const DefaultMongoCollection = "result_cache"

// MongoCache stores entries in a collection with a TTL index on expireAt.
//
// The server purges expired documents in the background about once a
// minute, so Get also checks expireAt itself.
type MongoCache struct {
	coll *mongo.Collection
}

type mongoEntry struct {
	Key      string     `bson:"_id"`
	Data     []byte     `bson:"data"`
	ExpireAt *time.Time `bson:"expireAt,omitempty"`
}

// NewMongoCache uses coll and ensures its TTL index.
func NewMongoCache(ctx context.Context, coll *mongo.Collection) (*MongoCache, error) {
	_, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "expireAt", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0).SetName("expireAt_ttl"),
	})
	if err != nil {
		return nil, fmt.Errorf("create ttl index on %s: %w", coll.Name(), err)
	}
	return &MongoCache{coll: coll}, nil
}

func expiry(ttl time.Duration) *time.Time {
	if ttl <= 0 {
		return nil
	}
	t := time.Now().Add(ttl).UTC()
	return &t
}

func (m *MongoCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var e mongoEntry
	err := m.coll.FindOne(ctx, bson.M{"_id": key}).Decode(&e)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, Retryable(err)
	}
	if e.ExpireAt != nil && time.Now().After(*e.ExpireAt) {
		return nil, false, nil
	}
	return e.Data, true, nil
}

func (m *MongoCache) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	e := mongoEntry{Key: key, Data: data, ExpireAt: expiry(ttl)}
	_, err := m.coll.ReplaceOne(ctx, bson.M{"_id": key}, e, options.Replace().SetUpsert(true))
	return Retryable(err)
}

func (m *MongoCache) Touch(ctx context.Context, key string, ttl time.Duration) error {
	update := bson.M{"$unset": bson.M{"expireAt": ""}}
	if at := expiry(ttl); at != nil {
		update = bson.M{"$set": bson.M{"expireAt": *at}}
	}
	_, err := m.coll.UpdateOne(ctx, bson.M{"_id": key}, update)
	return Retryable(err)
}

func (m *MongoCache) Delete(ctx context.Context, key string) error {
	_, err := m.coll.DeleteOne(ctx, bson.M{"_id": key})
	return Retryable(err)
}

// Clear deletes every entry whose key starts with prefix.
func (m *MongoCache) Clear(ctx context.Context, prefix string) (int, error) {
	res, err := m.coll.DeleteMany(ctx, bson.M{"_id": bson.M{"$regex": "^" + regexp.QuoteMeta(prefix)}})
	if err != nil {
		return 0, err
	}
	return int(res.DeletedCount), nil
}

// Close is a no-op; the owner of the client disconnects it.
func (m *MongoCache) Close() error { return nil }

var _ Cache = (*MongoCache)(nil)
