// Package query runs stage chains over the archival graph.
//
// A chain is an ordered list of stages. Each stage consumes the frontier
// produced by the previous one and produces a new [result.Result]:
//
//	domain   Domains matching an equality filter, level 0
//	onehop   DAips whose immediate parents are in the frontier
//	depth    DAips with a frontier ancestor within k hops (search index only)
//	path     explicit ids, validated against the frontier
//
// An empty stage result ends the chain with an empty final result. A stage
// that references an undefined variable or counter fails the whole chain
// with a CONFIG error before any backend is contacted.
package query

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"

	"github.com/matzehuels/aipgraph/pkg/counter"
	"github.com/matzehuels/aipgraph/pkg/errors"
	"github.com/matzehuels/aipgraph/pkg/graph"
	"github.com/matzehuels/aipgraph/pkg/nodeid"
)

// StageKind selects what a stage does.
type StageKind string

// Stage kinds.
const (
	StageDomain StageKind = "domain"
	StageOneHop StageKind = "onehop"
	StageDepth  StageKind = "depth"
	StagePath   StageKind = "path"
)

// Stage is one step of a chain.
//
// Filter is an equality filter that both the graph store and the search
// path honor. Query is a predicate in the search backend's syntax; a
// one-hop stage with a Query always tries the search index first.
type Stage struct {
	Kind       StageKind    `json:"kind" toml:"kind"`
	Filter     graph.Filter `json:"filter,omitempty" toml:"filter"`
	Query      string       `json:"query,omitempty" toml:"query"`
	PostFilter string       `json:"post_filter,omitempty" toml:"post_filter"`
	SearchOnly bool         `json:"search_only,omitempty" toml:"search_only"`
	Depth      int          `json:"depth,omitempty" toml:"depth"`
	ExactDepth int          `json:"exact_depth,omitempty" toml:"exact_depth"`
	RefIDs     []string     `json:"ref_ids,omitempty" toml:"ref_ids"`
}

// Chain is an ordered list of stages. OrderBy names a business field the
// final ids are sorted by; it only takes part in the cache key of the full
// chain.
type Chain struct {
	Stages  []Stage `json:"stages" toml:"stages"`
	OrderBy string  `json:"order_by,omitempty" toml:"order_by"`
}

// Bindings supplies placeholder values: Vars for ${name}, Counters (start
// values) for ${#name}.
type Bindings struct {
	Vars     map[string]string `json:"vars,omitempty" toml:"vars"`
	Counters map[string]int64  `json:"counters,omitempty" toml:"counters"`
}

// Validate checks the shape of the chain without expanding placeholders.
func (c Chain) Validate() error {
	if len(c.Stages) == 0 {
		return errors.New(errors.ErrCodeConfig, "empty stage chain")
	}
	for i, s := range c.Stages {
		if err := s.validate(i); err != nil {
			return err
		}
	}
	return nil
}

func (s Stage) validate(rank int) error {
	bad := func(format string, args ...any) error {
		return errors.New(errors.ErrCodeConfig, "stage %d (%s): %s", rank, s.Kind, fmt.Sprintf(format, args...))
	}
	for f := range s.Filter {
		if err := errors.ValidateFieldName(f); err != nil {
			return bad("%v", err)
		}
	}
	switch s.Kind {
	case StageDomain:
		if rank != 0 {
			return bad("domain stages must come first")
		}
		if s.Query != "" || s.PostFilter != "" {
			return bad("domains are not indexed for search, use filter")
		}
	case StageOneHop:
		if rank == 0 {
			return bad("needs a previous stage")
		}
	case StageDepth:
		if rank == 0 {
			return bad("needs a previous stage")
		}
		if (s.Depth > 0) == (s.ExactDepth > 0) {
			return bad("exactly one of depth and exact_depth must be positive")
		}
	case StagePath:
		if len(s.RefIDs) == 0 {
			return bad("no ref_ids")
		}
	default:
		return errors.New(errors.ErrCodeConfig, "stage %d: unknown kind %q", rank, s.Kind)
	}
	if s.Depth < 0 || s.ExactDepth < 0 {
		return bad("negative depth")
	}
	return nil
}

// Resolved is a validated chain with every placeholder expanded.
type Resolved struct {
	Stages  []Stage
	OrderBy string
	// Sources holds one canonical description per stage, used for cache
	// keys.
	Sources []string
}

// Resolve validates c and expands placeholders. Counters are taken from the
// registry carried by ctx, or a fresh one; b.Counters declares their start
// values. Any undefined name fails with a CONFIG error.
func Resolve(ctx context.Context, c Chain, b Bindings) (*Resolved, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	reg := counter.FromContext(ctx)
	if reg == nil {
		reg = counter.NewRegistry()
	}
	for name, start := range b.Counters {
		reg.Declare(name, start)
	}

	out := &Resolved{OrderBy: c.OrderBy}
	for i, s := range c.Stages {
		rs, err := resolveStage(s, b.Vars, reg)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeConfig, err, "stage %d", i)
		}
		src, err := json.Marshal(rs)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeConfig, err, "stage %d", i)
		}
		out.Stages = append(out.Stages, rs)
		out.Sources = append(out.Sources, string(src))
	}
	return out, nil
}

func resolveStage(s Stage, vars map[string]string, reg *counter.Registry) (Stage, error) {
	out := s
	var err error
	if out.Query, err = counter.Expand(s.Query, vars, reg); err != nil {
		return Stage{}, err
	}
	if out.PostFilter, err = counter.Expand(s.PostFilter, vars, reg); err != nil {
		return Stage{}, err
	}
	if len(s.Filter) > 0 {
		out.Filter = make(graph.Filter, len(s.Filter))
		for _, k := range s.Filter.Fields() {
			v, err := counter.ExpandValue(s.Filter[k], vars, reg)
			if err != nil {
				return Stage{}, err
			}
			out.Filter[k] = v
		}
	} else {
		out.Filter = maps.Clone(s.Filter)
	}
	if len(s.RefIDs) > 0 {
		out.RefIDs = make([]string, len(s.RefIDs))
		for i, id := range s.RefIDs {
			if out.RefIDs[i], err = counter.Expand(id, vars, reg); err != nil {
				return Stage{}, err
			}
			if err := nodeid.Validate(out.RefIDs[i]); err != nil {
				return Stage{}, fmt.Errorf("ref id %q: %w", out.RefIDs[i], err)
			}
		}
	}
	return out, nil
}
