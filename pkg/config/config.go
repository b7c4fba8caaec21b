// Package config loads aipgraph settings from TOML.
//
// A missing section keeps its defaults:
//
//	[store]
//	backend = "mongo"
//	mongo_uri = "mongodb://localhost:27017"
//	database = "aipgraph"
//
//	[search]
//	backend = "bleve"
//	path = "/var/lib/aipgraph/index.bleve"
//	one_hop_threshold = 1000
//
//	[cache]
//	backend = "redis"
//	ttl = "1h"
//	redis_addr = "localhost:6379"
//
//	[query]
//	stage_timeout = "30s"
//	retries = 2
package config

import (
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/matzehuels/aipgraph/pkg/errors"
)

// Backend names.
const (
	StoreMemory = "memory"
	StoreMongo  = "mongo"
	StoreBadger = "badger"

	SearchBleve = "bleve"
	SearchNone  = "none"

	CacheLRU   = "lru"
	CacheRedis = "redis"
	CacheMongo = "mongo"
	CacheFile  = "file"
	CacheNone  = "none"
)

// Duration is a time.Duration written as a string such as "30s".
type Duration time.Duration

// UnmarshalText parses a duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText formats the duration.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full configuration.
type Config struct {
	Store  Store  `toml:"store"`
	Search Search `toml:"search"`
	Cache  Cache  `toml:"cache"`
	Query  Query  `toml:"query"`
	Graph  Graph  `toml:"graph"`
	Log    Log    `toml:"log"`
	Server Server `toml:"server"`
}

// Store selects the graph store.
type Store struct {
	Backend  string   `toml:"backend"`
	MongoURI string   `toml:"mongo_uri"`
	Database string   `toml:"database"`
	Timeout  Duration `toml:"timeout"`
	Dir      string   `toml:"dir"` // badger; empty keeps it in memory
}

// Search selects the search index.
type Search struct {
	Backend         string `toml:"backend"`
	Path            string `toml:"path"` // empty keeps the index in memory
	OneHopThreshold int64  `toml:"one_hop_threshold"`
	Limit           int    `toml:"limit"`
	BatchSize       int    `toml:"batch_size"`
	Blocking        bool   `toml:"blocking"`
}

// Cache selects the result cache.
type Cache struct {
	Backend    string   `toml:"backend"`
	TTL        Duration `toml:"ttl"`
	Capacity   int64    `toml:"capacity"` // lru, bytes
	Dir        string   `toml:"dir"`      // file
	RedisAddr  string   `toml:"redis_addr"`
	RedisDB    int      `toml:"redis_db"`
	Collection string   `toml:"collection"` // mongo, in the store database
	Namespace  string   `toml:"namespace"`  // key prefix for shared backends
}

// Query tunes the executor.
type Query struct {
	StageTimeout Duration `toml:"stage_timeout"`
	Retries      int      `toml:"retries"`
	RetryDelay   Duration `toml:"retry_delay"`
}

// Graph tunes the link manager.
type Graph struct {
	Propagate bool `toml:"propagate"`
}

// Log sets the log level.
type Log struct {
	Level string `toml:"level"`
}

// Server configures the HTTP API.
type Server struct {
	Addr string `toml:"addr"`
}

// Default returns the built-in configuration: everything in process.
func Default() Config {
	return Config{
		Store: Store{
			Backend:  StoreMemory,
			MongoURI: "mongodb://localhost:27017",
			Database: "aipgraph",
			Timeout:  Duration(10 * time.Second),
		},
		Search: Search{
			Backend:         SearchBleve,
			OneHopThreshold: 1000,
			BatchSize:       1000,
		},
		Cache: Cache{
			Backend:    CacheLRU,
			TTL:        Duration(time.Hour),
			RedisAddr:  "localhost:6379",
			Collection: "result_cache",
		},
		Query: Query{
			StageTimeout: Duration(30 * time.Second),
			Retries:      2,
			RetryDelay:   Duration(200 * time.Millisecond),
		},
		Graph:  Graph{Propagate: true},
		Log:    Log{Level: "info"},
		Server: Server{Addr: ":8080"},
	}
}

// Load reads the file at path over the defaults. An empty path returns the
// defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := Parse(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes TOML into cfg and validates the result. Keys absent from
// data keep the values already in cfg.
func Parse(data []byte, cfg *Config) error {
	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return errors.Wrap(errors.ErrCodeConfig, err, "decode")
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return errors.New(errors.ErrCodeConfig, "unknown key %s", undecoded[0])
	}
	return cfg.Validate()
}

// Validate checks backend names and limits.
func (c Config) Validate() error {
	oneOf := func(section, v string, allowed ...string) error {
		if slices.Contains(allowed, v) {
			return nil
		}
		return errors.New(errors.ErrCodeConfig, "[%s] backend %q, want one of %v", section, v, allowed)
	}
	if err := oneOf("store", c.Store.Backend, StoreMemory, StoreMongo, StoreBadger); err != nil {
		return err
	}
	if err := oneOf("search", c.Search.Backend, SearchBleve, SearchNone); err != nil {
		return err
	}
	if err := oneOf("cache", c.Cache.Backend, CacheLRU, CacheRedis, CacheMongo, CacheFile, CacheNone); err != nil {
		return err
	}
	switch {
	case c.Cache.Backend == CacheMongo && c.Store.Backend != StoreMongo:
		return errors.New(errors.ErrCodeConfig, "[cache] backend mongo needs [store] backend mongo")
	case c.Search.OneHopThreshold < 0:
		return errors.New(errors.ErrCodeConfig, "[search] one_hop_threshold must not be negative")
	case c.Search.Limit < 0, c.Search.BatchSize < 0:
		return errors.New(errors.ErrCodeConfig, "[search] limit and batch_size must not be negative")
	case c.Cache.TTL < 0:
		return errors.New(errors.ErrCodeConfig, "[cache] ttl must not be negative")
	case c.Query.StageTimeout < 0, c.Query.Retries < 0, c.Query.RetryDelay < 0:
		return errors.New(errors.ErrCodeConfig, "[query] timeouts and retries must not be negative")
	}
	return nil
}
