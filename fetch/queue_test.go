package fetch

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/Bettyyy666/AtlasRoute-planner-sub001/graph"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// scriptedSource fails with the scripted errors in order, then succeeds.
type scriptedSource struct {
	mu      sync.Mutex
	script  []error
	calls   int64
	perEp   map[string]int
	latency time.Duration
}

func (s *scriptedSource) FetchTile(ctx context.Context, endpoint, key string, detail graph.DetailLevel) (*graph.Tile, error) {
	atomic.AddInt64(&s.calls, 1)
	if s.latency > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.latency):
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.perEp == nil {
		s.perEp = make(map[string]int)
	}
	s.perEp[endpoint]++
	if len(s.script) > 0 {
		err := s.script[0]
		s.script = s.script[1:]
		if err != nil {
			return nil, err
		}
	}
	return &graph.Tile{Key: key, Detail: detail, Neighbors: map[string][]graph.Neighbor{}}, nil
}

func fastOptions(endpoints ...string) Options {
	return Options{
		Endpoints:         endpoints,
		Concurrency:       3,
		MaxRetries:        3,
		BaseBackoff:       time.Millisecond,
		MaxBackoff:        4 * time.Millisecond,
		RateLimitCooldown: 5 * time.Millisecond,
		EndpointCooldown:  10 * time.Millisecond,
	}
}

func TestDeduplicationSingleUpstreamCall(t *testing.T) {
	src := &scriptedSource{latency: 20 * time.Millisecond}
	q := NewQueue(src, fastOptions("http://a"), zap.NewNop())
	defer q.Close()

	const n = 16
	var wg sync.WaitGroup
	tiles := make([]*graph.Tile, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			f := q.Request("3,4", graph.Detailed)
			tile, err := f.Wait(context.Background())
			require.NoError(t, err)
			tiles[i] = tile
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt64(&src.calls),
		"concurrent requests for one key must share a single upstream call")
	for i := 1; i < n; i++ {
		assert.Same(t, tiles[0], tiles[i])
	}
}

func TestRateLimitedThenSuccess(t *testing.T) {
	src := &scriptedSource{script: []error{&StatusError{Code: 429, Endpoint: "http://a"}}}
	q := NewQueue(src, fastOptions("http://a"), zap.NewNop())
	defer q.Close()

	start := time.Now()
	f := q.Request("0,0", graph.Express)
	tile, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "0,0", tile.Key)
	assert.Equal(t, graph.Express, tile.Detail)
	assert.EqualValues(t, 2, q.FetchCalls())
	assert.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond,
		"second attempt must wait out the rate-limit cooldown")
}

func TestGlobalCooldownCoversOtherKeys(t *testing.T) {
	opts := fastOptions("http://a")
	opts.RateLimitCooldown = 60 * time.Millisecond
	src := &scriptedSource{script: []error{&StatusError{Code: 429, Endpoint: "http://a"}}}
	q := NewQueue(src, opts, zap.NewNop())
	defer q.Close()

	// First request trips the 429 and arms the shared cooldown.
	_, err := q.Request("0,0", graph.Backbone).Wait(context.Background())
	require.NoError(t, err)

	// A different key requested immediately after must also respect it.
	start := time.Now()
	_, err = q.Request("9,9", graph.Backbone).Wait(context.Background())
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 200*time.Millisecond)
}

func TestRetriesExhausted(t *testing.T) {
	src := &scriptedSource{script: []error{
		&StatusError{Code: 503, Endpoint: "http://a"},
		&StatusError{Code: 503, Endpoint: "http://a"},
		&StatusError{Code: 503, Endpoint: "http://a"},
		&StatusError{Code: 503, Endpoint: "http://a"},
	}}
	q := NewQueue(src, fastOptions("http://a"), zap.NewNop())
	defer q.Close()

	_, err := q.Request("0,0", graph.Detailed).Wait(context.Background())
	assert.ErrorIs(t, err, ErrFetchExhausted)
	assert.EqualValues(t, 4, q.FetchCalls(), "MaxRetries=3 means four attempts")

	// The key is requestable again after rejection.
	tile, err := q.Request("0,0", graph.Detailed).Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "0,0", tile.Key)
}

func TestFatalStatusRejectsImmediately(t *testing.T) {
	src := &scriptedSource{script: []error{&StatusError{Code: 400, Endpoint: "http://a"}}}
	q := NewQueue(src, fastOptions("http://a"), zap.NewNop())
	defer q.Close()

	_, err := q.Request("0,0", graph.Detailed).Wait(context.Background())
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 400, se.Code)
	assert.EqualValues(t, 1, q.FetchCalls(), "4xx must not be retried")
}

func TestEndpointFailover(t *testing.T) {
	src := &scriptedSource{script: []error{&StatusError{Code: 502, Endpoint: "http://a"}}}
	q := NewQueue(src, fastOptions("http://a", "http://b"), zap.NewNop())
	defer q.Close()

	_, err := q.Request("0,0", graph.Detailed).Wait(context.Background())
	require.NoError(t, err)

	src.mu.Lock()
	defer src.mu.Unlock()
	assert.Equal(t, 1, src.perEp["http://a"])
	assert.Equal(t, 1, src.perEp["http://b"], "retry must rotate to the healthy endpoint")
}

func TestWaitHonorsCallerContext(t *testing.T) {
	src := &scriptedSource{latency: 200 * time.Millisecond}
	q := NewQueue(src, fastOptions("http://a"), zap.NewNop())
	defer q.Close()

	f := q.Request("0,0", graph.Detailed)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := f.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// The fetch itself was not cancelled; it still resolves for later callers.
	tile, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "0,0", tile.Key)
}
