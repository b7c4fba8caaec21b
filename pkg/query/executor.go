package query

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"

	"github.com/matzehuels/aipgraph/pkg/cache"
	"github.com/matzehuels/aipgraph/pkg/errors"
	"github.com/matzehuels/aipgraph/pkg/graph"
	"github.com/matzehuels/aipgraph/pkg/observability"
	"github.com/matzehuels/aipgraph/pkg/result"
	"github.com/matzehuels/aipgraph/pkg/search"
)

// Defaults for Options.
const (
	DefaultSearchThreshold = 1000
	DefaultStageTimeout    = 30 * time.Second
	DefaultRetries         = 2
	DefaultRetryDelay      = 200 * time.Millisecond
)

// Options tunes an Executor.
type Options struct {
	// SearchThreshold is the frontier child count above which a one-hop
	// stage prefers the search index over the graph join.
	SearchThreshold int64
	// StageTimeout bounds each attempt of one stage.
	StageTimeout time.Duration
	// Retries is the number of extra attempts after a stage timeout.
	Retries    int
	RetryDelay time.Duration
	// SearchLimit caps the hits of one search request; 0 uses the
	// backend default.
	SearchLimit int
	// Simulate builds synthetic one-id results without touching any
	// backend.
	Simulate bool
}

// DefaultOptions returns the default tuning.
func DefaultOptions() Options {
	return Options{
		SearchThreshold: DefaultSearchThreshold,
		StageTimeout:    DefaultStageTimeout,
		Retries:         DefaultRetries,
		RetryDelay:      DefaultRetryDelay,
	}
}

// Executor runs chains. It is safe for concurrent use; identical resolved
// chains running at the same time share one execution.
type Executor struct {
	Graph   *graph.Manager
	Index   search.Index   // nil disables search; depth stages then fail
	Results *cache.Results // nil disables caching
	Options Options
	Logger  *log.Logger

	flight singleflight.Group
}

// NewExecutor creates an Executor.
func NewExecutor(g *graph.Manager, idx search.Index, results *cache.Results, opts Options, logger *log.Logger) *Executor {
	if logger == nil {
		logger = log.Default()
	}
	return &Executor{Graph: g, Index: idx, Results: results, Options: opts, Logger: logger}
}

// Trace is the outcome of a chain. Levels holds the result of every stage
// that ran (or was read from the cache), in order. A trace may be shared
// between concurrent callers and must not be modified.
type Trace struct {
	Final        *result.Result   `json:"final"`
	Levels       []*result.Result `json:"levels"`
	CachedLevels int              `json:"cached_levels"`
	Truncated    bool             `json:"truncated,omitempty"` // ended early on an empty stage
}

// Run resolves and executes c.
func (e *Executor) Run(ctx context.Context, c Chain, b Bindings) (*Trace, error) {
	rc, err := Resolve(ctx, c, b)
	if err != nil {
		return nil, err
	}
	if e.Options.Simulate {
		return e.simulate(rc)
	}
	key := cache.NewDefaultKeyer().ChainKey(rc.Sources, rc.OrderBy)
	// The shared execution is detached from any one caller; stage
	// deadlines still bound it.
	ch := e.flight.DoChan(key, func() (any, error) {
		return e.run(context.WithoutCancel(ctx), rc)
	})
	select {
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		if r.Shared {
			e.Logger.Debug("shared chain execution", "stages", len(rc.Stages))
		}
		return r.Val.(*Trace), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *Executor) cacheKey(rc *Resolved, n int) string {
	orderBy := ""
	if n == len(rc.Stages) {
		orderBy = rc.OrderBy
	}
	return e.Results.Key(rc.Sources[:n], orderBy)
}

// cachedPrefix loads the longest run of cached stage results from the
// start of the chain.
func (e *Executor) cachedPrefix(ctx context.Context, rc *Resolved) []*result.Result {
	if e.Results == nil {
		return nil
	}
	var levels []*result.Result
	for n := 1; n <= len(rc.Stages); n++ {
		res, ok, err := e.Results.Get(ctx, e.cacheKey(rc, n))
		if err != nil {
			e.Logger.Warn("cache read failed", "err", err)
			break
		}
		if !ok {
			break
		}
		levels = append(levels, res)
		if res.IsEmpty() {
			break
		}
	}
	return levels
}

func (e *Executor) run(ctx context.Context, rc *Resolved) (*Trace, error) {
	t := &Trace{}
	t.Levels = e.cachedPrefix(ctx, rc)
	t.CachedLevels = len(t.Levels)

	var prev *result.Result
	if n := len(t.Levels); n > 0 {
		prev = t.Levels[n-1]
		for i := range n {
			observability.Query().OnStageComplete(ctx, i, string(rc.Stages[i].Kind), "cache", t.Levels[i].Len(), 0, nil)
		}
		e.Logger.Debug("resuming from cache", "stages", n)
	}

	for rank := len(t.Levels); rank < len(rc.Stages) && (prev == nil || !prev.IsEmpty()); rank++ {
		s := rc.Stages[rank]
		res, err := e.runStage(ctx, rank, s, prev)
		if err != nil {
			return nil, err
		}
		if e.Results != nil {
			if err := e.Results.Put(ctx, e.cacheKey(rc, rank+1), res); err != nil {
				e.Logger.Warn("cache write failed", "stage", rank, "err", err)
			}
		}
		t.Levels = append(t.Levels, res)
		prev = res
	}

	t.Final = prev
	if prev.IsEmpty() {
		t.Truncated = len(t.Levels) < len(rc.Stages)
		t.Final = result.Empty(prev.MinLevel, prev.MaxLevel)
	}
	return t, nil
}

// runStage runs one stage with a deadline per attempt, retrying timeouts.
func (e *Executor) runStage(ctx context.Context, rank int, s Stage, prev *result.Result) (*result.Result, error) {
	observability.Query().OnStageStart(ctx, rank, string(s.Kind))
	start := time.Now()

	var (
		res     *result.Result
		backend string
	)
	backoff := cache.Backoff{Attempts: e.Options.Retries + 1, Delay: e.Options.RetryDelay}
	err := cache.RetryWithBackoff(ctx, backoff, func() error {
		sctx, cancel := e.stageContext(ctx)
		defer cancel()
		var err error
		res, backend, err = e.dispatch(sctx, rank, s, prev)
		if err != nil && stderrors.Is(sctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			e.Logger.Warn("stage timed out", "stage", rank, "kind", s.Kind, "timeout", e.Options.StageTimeout)
			return cache.Retryable(errors.Wrap(errors.ErrCodeTimeout, err, "stage %d (%s)", rank, s.Kind))
		}
		return err
	})

	n := 0
	if res != nil {
		n = res.Len()
	}
	observability.Query().OnStageComplete(ctx, rank, string(s.Kind), backend, n, time.Since(start), err)
	if err != nil {
		return nil, err
	}
	e.Logger.Debug("stage complete", "stage", rank, "kind", s.Kind, "backend", backend,
		"ids", n, "min_level", res.MinLevel, "max_level", res.MaxLevel)
	return res, nil
}

func (e *Executor) stageContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.Options.StageTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.Options.StageTimeout)
}

func (e *Executor) dispatch(ctx context.Context, rank int, s Stage, prev *result.Result) (*result.Result, string, error) {
	switch s.Kind {
	case StageDomain:
		res, err := e.domainStage(ctx, s)
		return res, backendGraph, err
	case StageOneHop:
		return e.oneHopStage(ctx, rank, s, prev)
	case StageDepth:
		res, err := e.depthStage(ctx, s, prev)
		return res, backendSearch, err
	case StagePath:
		res, err := e.pathStage(ctx, s, prev)
		return res, backendGraph, err
	}
	return nil, "", errors.New(errors.ErrCodeConfig, "unknown stage kind %q", s.Kind)
}

// FullPaths reconstructs concatenated id paths from the first level of t to
// each final id.
func (e *Executor) FullPaths(ctx context.Context, t *Trace) (*result.Result, error) {
	if t.Final.IsEmpty() {
		return result.Empty(t.Final.MinLevel, t.Final.MaxLevel), nil
	}
	if e.Options.Simulate {
		return t.Final, nil
	}
	return result.BuildFullPaths(ctx, e.Graph, t.Levels)
}
