// Copyright 2024-2026 Aiku AI

// Package resolver turns Slack ids that are not yet known locally into
// entities, issuing at most one outstanding network lookup per id and fanning
// the result out to every caller that asked while it was in flight.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	// ErrResolutionFailed wraps the error returned by a failed lookup.
	ErrResolutionFailed = errors.New("resolution failed")
	// ErrNotFound is delivered to callbacks whose lookup was aborted or
	// whose resolver was closed.
	ErrNotFound = errors.New("not found")
)

// LookupFunc fetches id from the network. It is expected to merge the result
// into whatever store the cached function reads from.
type LookupFunc[T any] func(ctx context.Context, id string) (T, error)

// Callback receives the outcome of a resolution. Exactly one of value and
// err is meaningful.
type Callback[T any] func(value T, err error)

// Option configures a Resolver.
type Option func(*options)

type options struct {
	log    zerolog.Logger
	negTTL time.Duration
	now    func() time.Time
}

// WithLogger sets the logger used for lookup diagnostics.
func WithLogger(log zerolog.Logger) Option {
	return func(o *options) {
		o.log = log
	}
}

// WithNegativeCache remembers failed lookups for ttl. While a failure is
// remembered, Resolve fails immediately with ErrResolutionFailed instead of
// issuing another request. A zero ttl disables the cache.
func WithNegativeCache(ttl time.Duration, now func() time.Time) Option {
	return func(o *options) {
		o.negTTL = ttl
		if now != nil {
			o.now = now
		}
	}
}

type pending[T any] struct {
	callbacks []Callback[T]
	cancel    context.CancelFunc
}

// Resolver deduplicates lookups of a single id namespace.
type Resolver[T any] struct {
	cached func(id string) (T, bool)
	lookup LookupFunc[T]
	opts   options

	mu       sync.Mutex
	pending  map[string]*pending[T]
	failures map[string]time.Time
	closed   bool
}

// New creates a resolver. cached is consulted first and must not block;
// lookup is only called for ids cached does not know.
func New[T any](cached func(id string) (T, bool), lookup LookupFunc[T], opts ...Option) *Resolver[T] {
	o := options{
		log: zerolog.Nop(),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Resolver[T]{
		cached:   cached,
		lookup:   lookup,
		opts:     o,
		pending:  make(map[string]*pending[T]),
		failures: make(map[string]time.Time),
	}
}

// Resolve delivers the entity for id to cb. A cached entity is delivered
// before Resolve returns. Otherwise cb is queued behind any lookup already
// running for id, or a new lookup is started, and cb is called from the
// lookup's goroutine once it completes.
func (r *Resolver[T]) Resolve(ctx context.Context, id string, cb Callback[T]) {
	if v, ok := r.cached(id); ok {
		cb(v, nil)
		return
	}

	var zero T
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		cb(zero, ErrNotFound)
		return
	}
	if until, ok := r.failures[id]; ok {
		if r.opts.now().Before(until) {
			r.mu.Unlock()
			cb(zero, fmt.Errorf("%w: %s failed recently", ErrResolutionFailed, id))
			return
		}
		delete(r.failures, id)
	}
	if p, ok := r.pending[id]; ok {
		p.callbacks = append(p.callbacks, cb)
		r.mu.Unlock()
		return
	}
	lookupCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p := &pending[T]{callbacks: []Callback[T]{cb}, cancel: cancel}
	r.pending[id] = p
	r.mu.Unlock()

	go r.run(lookupCtx, id, p)
}

func (r *Resolver[T]) run(ctx context.Context, id string, p *pending[T]) {
	defer p.cancel()
	v, err := r.lookup(ctx, id)

	r.mu.Lock()
	if r.pending[id] != p {
		// Aborted while in flight; the callbacks already got ErrNotFound.
		r.mu.Unlock()
		return
	}
	delete(r.pending, id)
	if err != nil && r.opts.negTTL > 0 {
		r.failures[id] = r.opts.now().Add(r.opts.negTTL)
	}
	callbacks := p.callbacks
	r.mu.Unlock()

	if err != nil {
		r.opts.log.Debug().Err(err).Str("id", id).Int("waiters", len(callbacks)).Msg("Lookup failed")
		err = fmt.Errorf("%w: %w", ErrResolutionFailed, err)
	}
	for _, cb := range callbacks {
		cb(v, err)
	}
}

// Wait resolves id and blocks until the result is available or ctx is done.
func (r *Resolver[T]) Wait(ctx context.Context, id string) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	r.Resolve(ctx, id, func(v T, err error) {
		ch <- result{v, err}
	})
	select {
	case res := <-ch:
		return res.v, res.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Pending reports whether a lookup for id is outstanding.
func (r *Resolver[T]) Pending(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pending[id]
	return ok
}

// Abort cancels the lookup for id and delivers ErrNotFound to everything
// queued on it. The lookup's eventual result is discarded.
func (r *Resolver[T]) Abort(id string) {
	r.mu.Lock()
	p, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	r.mu.Unlock()
	if ok {
		r.fail(p)
	}
}

// Close aborts every outstanding lookup. Later calls to Resolve that miss
// the cache fail with ErrNotFound.
func (r *Resolver[T]) Close() {
	r.mu.Lock()
	r.closed = true
	all := r.pending
	r.pending = make(map[string]*pending[T])
	r.mu.Unlock()
	for _, p := range all {
		r.fail(p)
	}
}

func (r *Resolver[T]) fail(p *pending[T]) {
	p.cancel()
	var zero T
	for _, cb := range p.callbacks {
		cb(zero, ErrNotFound)
	}
}
