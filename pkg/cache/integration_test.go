//go:build integration

package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func TestRedisCacheIntegration(t *testing.T) {
	addr := os.Getenv("AIPGRAPH_REDIS_ADDR")
	if addr == "" {
		t.Skip("AIPGRAPH_REDIS_ADDR not set")
	}
	ctx := context.Background()
	c, err := NewRedisCache(ctx, RedisOptions{Addr: addr})
	if err != nil {
		t.Fatalf("NewRedisCache: %v", err)
	}
	defer c.Close()
	t.Cleanup(func() { c.Clear(ctx, "k") })

	exerciseCache(t, c)
}

func TestMongoCacheIntegration(t *testing.T) {
	uri := os.Getenv("AIPGRAPH_MONGO_URI")
	if uri == "" {
		t.Skip("AIPGRAPH_MONGO_URI not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Disconnect(context.Background())

	coll := client.Database("aipgraph_test").Collection(DefaultMongoCollection)
	defer coll.Drop(context.Background())

	c, err := NewMongoCache(ctx, coll)
	if err != nil {
		t.Fatalf("NewMongoCache: %v", err)
	}
	exerciseCache(t, c)
}
