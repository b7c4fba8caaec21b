package cli

import (
	"context"
	stderrors "errors"
	"io"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/aipgraph/pkg/cache"
	"github.com/matzehuels/aipgraph/pkg/config"
	"github.com/matzehuels/aipgraph/pkg/errors"
	"github.com/matzehuels/aipgraph/pkg/graph"
	"github.com/matzehuels/aipgraph/pkg/ingest"
	"github.com/matzehuels/aipgraph/pkg/query"
	"github.com/matzehuels/aipgraph/pkg/search"
	"github.com/matzehuels/aipgraph/pkg/search/blevesearch"
	"github.com/matzehuels/aipgraph/pkg/store/badgerstore"
	"github.com/matzehuels/aipgraph/pkg/store/memstore"
	"github.com/matzehuels/aipgraph/pkg/store/mongostore"
)

// backends is everything a command needs, opened from one Config.
type backends struct {
	cfg     config.Config
	logger  *log.Logger
	graph   *graph.Manager
	index   search.Index // nil when search is disabled
	bulk    *search.BulkIndexer
	cache   cache.Cache
	results *cache.Results

	closers []io.Closer
}

// openBackends connects the store, search index and cache named by cfg.
// On error, anything already opened is closed.
func openBackends(ctx context.Context, cfg config.Config, logger *log.Logger) (_ *backends, err error) {
	b := &backends{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			b.Close()
		}
	}()

	store, mongo, err := b.openStore(ctx)
	if err != nil {
		return nil, err
	}
	b.graph = graph.NewManager(store, logger)
	b.graph.Propagate = cfg.Graph.Propagate

	if cfg.Search.Backend == config.SearchBleve {
		idx, err := blevesearch.Open(cfg.Search.Path, logger)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeBackendUnavailable, err, "search index")
		}
		b.index = idx
		b.closers = append(b.closers, idx)

		b.bulk = search.NewBulkIndexer(idx, logger)
		b.bulk.Blocking = cfg.Search.Blocking
		if cfg.Search.BatchSize > 0 {
			b.bulk.BatchSize = cfg.Search.BatchSize
		}
		b.graph.Index = b.bulk
	}

	if b.cache, err = b.openCache(ctx, mongo); err != nil {
		return nil, err
	}
	b.closers = append(b.closers, b.cache)
	b.results = cache.NewResults(b.cache, cfg.Cache.TTL.Std(), logger)
	if cfg.Cache.Namespace != "" {
		b.results.Keyer = cache.NewScopedKeyer(nil, cfg.Cache.Namespace)
	}
	return b, nil
}

func (b *backends) openStore(ctx context.Context) (graph.Store, *mongostore.Store, error) {
	cfg := b.cfg.Store
	switch cfg.Backend {
	case config.StoreMongo:
		s, err := mongostore.Connect(ctx, mongostore.Options{
			URI:      cfg.MongoURI,
			Database: cfg.Database,
			Timeout:  cfg.Timeout.Std(),
			Logger:   b.logger,
		})
		if err != nil {
			return nil, nil, errors.Wrap(errors.ErrCodeBackendUnavailable, err, "graph store")
		}
		b.closers = append(b.closers, s)
		return s, s, nil
	case config.StoreBadger:
		s, err := badgerstore.Open(cfg.Dir, b.logger)
		if err != nil {
			return nil, nil, errors.Wrap(errors.ErrCodeBackendUnavailable, err, "graph store")
		}
		b.closers = append(b.closers, s)
		return s, nil, nil
	}
	return memstore.New(), nil, nil
}

func (b *backends) openCache(ctx context.Context, mongo *mongostore.Store) (cache.Cache, error) {
	cfg := b.cfg.Cache
	switch cfg.Backend {
	case config.CacheLRU:
		return cache.NewLRUCache(cfg.Capacity)
	case config.CacheRedis:
		c, err := cache.NewRedisCache(ctx, cache.RedisOptions{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeBackendUnavailable, err, "result cache")
		}
		return c, nil
	case config.CacheMongo:
		if mongo == nil {
			return nil, errors.New(errors.ErrCodeConfig, "mongo cache without mongo store")
		}
		return cache.NewMongoCache(ctx, mongo.Database().Collection(cfg.Collection))
	case config.CacheFile:
		dir := cfg.Dir
		if dir == "" {
			var err error
			if dir, err = cacheDir(); err != nil {
				return nil, err
			}
		}
		return cache.NewFileCache(dir)
	}
	return cache.NewNullCache(), nil
}

// executor builds a query executor over the backends.
func (b *backends) executor(simulate bool) *query.Executor {
	opts := query.Options{
		SearchThreshold: b.cfg.Search.OneHopThreshold,
		StageTimeout:    b.cfg.Query.StageTimeout.Std(),
		Retries:         b.cfg.Query.Retries,
		RetryDelay:      b.cfg.Query.RetryDelay.Std(),
		SearchLimit:     b.cfg.Search.Limit,
		Simulate:        simulate,
	}
	return query.NewExecutor(b.graph, b.index, b.results, opts, b.logger)
}

// loader builds an ingest loader with the given variables.
func (b *backends) loader(vars map[string]string) *ingest.Loader {
	return ingest.NewLoader(b.graph, vars, b.logger)
}

// Close flushes pending index documents and closes backends in reverse
// order of opening.
func (b *backends) Close() error {
	var errs []error
	if b.bulk != nil {
		errs = append(errs, b.bulk.Flush(context.Background()))
		b.bulk = nil
	}
	for i := len(b.closers) - 1; i >= 0; i-- {
		errs = append(errs, b.closers[i].Close())
	}
	b.closers = nil
	return stderrors.Join(errs...)
}
