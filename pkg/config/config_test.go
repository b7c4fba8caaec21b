package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/matzehuels/aipgraph/pkg/errors"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Store.Backend != StoreMemory || cfg.Cache.Backend != CacheLRU || !cfg.Graph.Propagate {
		t.Errorf("defaults = %+v", cfg)
	}
	if err := Default().Validate(); err != nil {
		t.Errorf("defaults invalid: %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aipgraph.toml")
	data := `
[store]
backend = "badger"
dir = "/tmp/graph"

[cache]
backend = "redis"
ttl = "15m"

[query]
stage_timeout = "5s"

[graph]
propagate = false
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.Backend != StoreBadger || cfg.Store.Dir != "/tmp/graph" {
		t.Errorf("store = %+v", cfg.Store)
	}
	if cfg.Cache.TTL.Std() != 15*time.Minute || cfg.Cache.RedisAddr != "localhost:6379" {
		t.Errorf("cache = %+v", cfg.Cache)
	}
	if cfg.Query.StageTimeout.Std() != 5*time.Second || cfg.Query.Retries != 2 {
		t.Errorf("query = %+v", cfg.Query)
	}
	if cfg.Graph.Propagate {
		t.Error("propagate not overridden")
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"syntax", `[store`},
		{"bad duration", "[cache]\nttl = \"soon\""},
		{"unknown key", "[store]\nengine = \"mongo\""},
		{"unknown store", "[store]\nbackend = \"cassandra\""},
		{"unknown cache", "[cache]\nbackend = \"memcached\""},
		{"mongo cache without mongo store", "[cache]\nbackend = \"mongo\""},
		{"negative threshold", "[search]\none_hop_threshold = -1"},
		{"negative retries", "[query]\nretries = -1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			err := Parse([]byte(tt.data), &cfg)
			if !errors.Is(err, errors.ErrCodeConfig) {
				t.Errorf("err = %v, want CONFIG", err)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Error("expected error")
	}
}
