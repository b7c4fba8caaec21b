// Package counter provides request-scoped registries of named atomic
// counters, and the placeholder expansion that consumes them.
//
// A registry is created per request (or per ingest run) and carried in the
// context, so concurrent requests never share cursors:
//
//	reg := counter.NewRegistry()
//	reg.Declare("rank", 0)
//	ctx = counter.WithRegistry(ctx, reg)
//
// Placeholders use ${name} for variables and ${#name} for the next value of
// a counter. Expansion fails with a CONFIG error when a name is undefined.
package counter

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
)

// ErrUndefined is returned for counters that were never declared.
var ErrUndefined = errors.New("undefined counter")

// Registry holds named counters. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	counters map[string]*atomic.Int64
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{counters: make(map[string]*atomic.Int64)}
}

// Declare creates counter name with the given start value. Declaring an
// existing counter keeps its current value.
func (r *Registry) Declare(name string, start int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.counters[name]; ok {
		return
	}
	c := new(atomic.Int64)
	c.Store(start)
	r.counters[name] = c
}

// Next increments counter name and returns its new value. Concurrent callers
// each observe a distinct value.
func (r *Registry) Next(name string) (int64, error) {
	c, err := r.get(name)
	if err != nil {
		return 0, err
	}
	return c.Add(1), nil
}

// Current returns the value of counter name without changing it.
func (r *Registry) Current(name string) (int64, error) {
	c, err := r.get(name)
	if err != nil {
		return 0, err
	}
	return c.Load(), nil
}

// Has reports whether counter name is declared.
func (r *Registry) Has(name string) bool {
	_, err := r.get(name)
	return err == nil
}

// Names returns the declared counter names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := slices.Collect(maps.Keys(r.counters))
	slices.Sort(names)
	return names
}

func (r *Registry) get(name string) (*atomic.Int64, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: %q", ErrUndefined, name)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.counters[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUndefined, name)
	}
	return c, nil
}

type ctxKey int

const registryKey ctxKey = 0

// WithRegistry returns a context carrying r.
func WithRegistry(ctx context.Context, r *Registry) context.Context {
	return context.WithValue(ctx, registryKey, r)
}

// FromContext returns the registry carried by ctx, or nil.
func FromContext(ctx context.Context) *Registry {
	r, _ := ctx.Value(registryKey).(*Registry)
	return r
}
