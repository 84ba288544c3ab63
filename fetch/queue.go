// Package fetch turns tile requests into at most one resilient upstream call
// per tile key: concurrent requesters share a pending future, a semaphore
// bounds simultaneous upstream calls, failures are retried with exponential
// backoff and jitter across rotating endpoints, and a 429 arms a global
// cooldown shared by every pending request.
package fetch

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/Bettyyy666/AtlasRoute-planner-sub001/graph"
)

// TileSource fetches one tile from one upstream endpoint.
type TileSource interface {
	FetchTile(ctx context.Context, endpoint, key string, detail graph.DetailLevel) (*graph.Tile, error)
}

// Future is the shared handle for a pending tile fetch.
type Future struct {
	done chan struct{}
	tile *graph.Tile
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Wait blocks until the fetch resolves or ctx expires. A ctx expiry abandons
// the wait only; the fetch itself keeps running and will still populate the
// store for later searches.
func (f *Future) Wait(ctx context.Context) (*graph.Tile, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-f.done:
		return f.tile, f.err
	}
}

// Done exposes the completion channel for select loops.
func (f *Future) Done() <-chan struct{} { return f.done }

func (f *Future) resolve(tile *graph.Tile) {
	f.tile = tile
	close(f.done)
}

func (f *Future) reject(err error) {
	f.err = err
	close(f.done)
}

// Options tunes the queue's resilience policy.
type Options struct {
	Endpoints         []string
	Concurrency       int64
	MaxRetries        int
	BaseBackoff       time.Duration
	MaxBackoff        time.Duration
	RateLimitCooldown time.Duration
	EndpointCooldown  time.Duration
}

// DefaultOptions returns the policy used in production: three simultaneous
// upstream calls, four retries, backoff from 250ms capped at 4s.
func DefaultOptions(endpoints []string) Options {
	return Options{
		Endpoints:         endpoints,
		Concurrency:       3,
		MaxRetries:        4,
		BaseBackoff:       250 * time.Millisecond,
		MaxBackoff:        4 * time.Second,
		RateLimitCooldown: 5 * time.Second,
		EndpointCooldown:  10 * time.Second,
	}
}

type endpointState struct {
	url      string
	failedAt time.Time
}

// Queue deduplicates and executes tile fetches.
type Queue struct {
	source TileSource
	opts   Options
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	sem *semaphore.Weighted

	mu            sync.Mutex
	pending       map[string]*Future
	endpoints     []*endpointState
	nextEndpoint  int
	cooldownUntil time.Time

	fetchCalls int64 // upstream attempts, for stats and tests

	// now and sleep are swappable for tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration)
}

// NewQueue builds a queue over the given source. Close must be called to
// release the background context.
func NewQueue(source TileSource, opts Options, logger *zap.Logger) *Queue {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		source:  source,
		opts:    opts,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		sem:     semaphore.NewWeighted(opts.Concurrency),
		pending: make(map[string]*Future),
		now:     time.Now,
		sleep: func(ctx context.Context, d time.Duration) {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
			case <-t.C:
			}
		},
	}
	for _, url := range opts.Endpoints {
		q.endpoints = append(q.endpoints, &endpointState{url: url})
	}
	return q
}

// Close stops background fetch processing. Pending futures are rejected by
// their own retry loops observing the cancelled context.
func (q *Queue) Close() {
	q.cancel()
}

// Request returns the future for key's tile, starting a fetch if none is
// pending. This is the single-flight point: the forward and backward search
// asking for the same tile share one upstream call.
func (q *Queue) Request(key string, detail graph.DetailLevel) *Future {
	q.mu.Lock()
	if f, ok := q.pending[key]; ok {
		q.mu.Unlock()
		return f
	}
	f := newFuture()
	q.pending[key] = f
	q.mu.Unlock()

	go q.process(key, detail, f)
	return f
}

// FetchCalls reports the number of upstream attempts made so far.
func (q *Queue) FetchCalls() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.fetchCalls
}

func (q *Queue) process(key string, detail graph.DetailLevel, f *Future) {
	defer func() {
		q.mu.Lock()
		delete(q.pending, key)
		q.mu.Unlock()
	}()

	backoff := q.opts.BaseBackoff
	var lastErr error

	for attempt := 0; attempt <= q.opts.MaxRetries; attempt++ {
		if err := q.awaitCooldown(); err != nil {
			f.reject(err)
			return
		}
		ep := q.pickEndpoint()
		if ep == "" {
			lastErr = ErrFetchExhausted
			q.sleep(q.ctx, backoff)
			backoff = q.nextBackoff(backoff)
			continue
		}

		if err := q.sem.Acquire(q.ctx, 1); err != nil {
			f.reject(err)
			return
		}
		q.mu.Lock()
		q.fetchCalls++
		q.mu.Unlock()
		tile, err := q.source.FetchTile(q.ctx, ep, key, detail)
		q.sem.Release(1)

		if err == nil {
			f.resolve(tile)
			return
		}
		lastErr = err

		switch classify(err) {
		case classFatal:
			q.logger.Warn("tile fetch failed permanently",
				zap.String("tile", key), zap.String("endpoint", ep), zap.Error(err))
			f.reject(err)
			return
		case classRateLimited:
			q.armCooldown()
			q.markEndpointFailed(ep)
			q.logger.Info("upstream rate limited, cooling down",
				zap.String("tile", key), zap.String("endpoint", ep),
				zap.Duration("cooldown", q.opts.RateLimitCooldown))
		case classTransient:
			q.markEndpointFailed(ep)
			q.logger.Debug("transient tile fetch failure",
				zap.String("tile", key), zap.String("endpoint", ep),
				zap.Int("attempt", attempt), zap.Error(err))
		}

		if attempt < q.opts.MaxRetries {
			q.sleep(q.ctx, jitter(backoff))
			backoff = q.nextBackoff(backoff)
		}
	}

	q.logger.Warn("tile fetch exhausted retry budget",
		zap.String("tile", key), zap.Error(lastErr))
	f.reject(ErrFetchExhausted)
}

// armCooldown pushes the shared cooldown end forward; it never moves back.
func (q *Queue) armCooldown() {
	q.mu.Lock()
	defer q.mu.Unlock()
	until := q.now().Add(q.opts.RateLimitCooldown)
	if until.After(q.cooldownUntil) {
		q.cooldownUntil = until
	}
}

func (q *Queue) awaitCooldown() error {
	for {
		q.mu.Lock()
		wait := q.cooldownUntil.Sub(q.now())
		q.mu.Unlock()
		if wait <= 0 {
			return nil
		}
		q.sleep(q.ctx, wait)
		if q.ctx.Err() != nil {
			return q.ctx.Err()
		}
	}
}

// pickEndpoint rotates through endpoints, skipping any that failed within the
// endpoint cooldown window. If all are cooling down the least recently failed
// one is used anyway rather than stalling forever.
func (q *Queue) pickEndpoint() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.endpoints) == 0 {
		return ""
	}
	now := q.now()
	var fallback *endpointState
	for i := 0; i < len(q.endpoints); i++ {
		ep := q.endpoints[q.nextEndpoint]
		q.nextEndpoint = (q.nextEndpoint + 1) % len(q.endpoints)
		if ep.failedAt.IsZero() || now.Sub(ep.failedAt) >= q.opts.EndpointCooldown {
			return ep.url
		}
		if fallback == nil || ep.failedAt.Before(fallback.failedAt) {
			fallback = ep
		}
	}
	return fallback.url
}

func (q *Queue) markEndpointFailed(url string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, ep := range q.endpoints {
		if ep.url == url {
			ep.failedAt = q.now()
			return
		}
	}
}

func (q *Queue) nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if q.opts.MaxBackoff > 0 && d > q.opts.MaxBackoff {
		d = q.opts.MaxBackoff
	}
	return d
}

// jitter spreads a delay uniformly over [d/2, d) so retries from many keys do
// not synchronize against the upstream.
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	half := d / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}
