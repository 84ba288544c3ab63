// Package search implements the bidirectional A* engine over the lazily
// materialized tile graph. A Session owns the mutable collaborators (tile
// store, fetch queue, corridor planner, fetch-mode controller) so concurrent
// independent searches never share ambient state by accident.
package search

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Bettyyy666/AtlasRoute-planner-sub001/corridor"
	"github.com/Bettyyy666/AtlasRoute-planner-sub001/fetch"
	"github.com/Bettyyy666/AtlasRoute-planner-sub001/fetchmode"
	"github.com/Bettyyy666/AtlasRoute-planner-sub001/geo"
	"github.com/Bettyyy666/AtlasRoute-planner-sub001/graph"
)

// Status classifies a search result for the API layer. A missing start or
// goal is a search outcome, not an abort: callers get an empty path.
type Status string

const (
	StatusOK           Status = "ok"
	StatusNoPath       Status = "no_path"
	StatusTimeout      Status = "timeout"
	StatusNodeNotFound Status = "node_not_found"
)

// Config bounds a session's searches.
type Config struct {
	TileSizeDeg float64
	// EdgeMarginFrac is the fraction of the tile edge within which a node
	// counts as near the boundary, triggering adjacent-tile prefetch.
	EdgeMarginFrac float64
	// BaseIterations and IterationsPerKm scale the iteration cap with the
	// straight-line start-goal distance, as does the timeout.
	BaseIterations  int
	IterationsPerKm int
	BaseTimeout     time.Duration
	TimeoutPerKm    time.Duration
	// HousekeepEvery controls how often eviction, progress events and the
	// fetch-mode controller run, in iterations.
	HousekeepEvery int
	PreloadBatch   int
	WarmupFreeze   time.Duration
}

// DefaultConfig mirrors production tuning for city-scale driving routes.
func DefaultConfig(tileSizeDeg float64) Config {
	return Config{
		TileSizeDeg:     tileSizeDeg,
		EdgeMarginFrac:  0.1,
		BaseIterations:  20000,
		IterationsPerKm: 4000,
		BaseTimeout:     5 * time.Second,
		TimeoutPerKm:    150 * time.Millisecond,
		HousekeepEvery:  256,
		PreloadBatch:    4,
		WarmupFreeze:    2 * time.Second,
	}
}

// ProgressEvent is one housekeeping snapshot of a running search.
type ProgressEvent struct {
	Iteration   int     `json:"iteration"`
	OpenForward int     `json:"open_forward"`
	OpenBack    int     `json:"open_backward"`
	BestCost    float64 `json:"best_cost"`
	TilesLoaded int     `json:"tiles_loaded"`
}

// Result is the outcome of one start-goal search.
type Result struct {
	Path       []graph.Node
	Cost       float64
	Status     Status
	Iterations int
}

// Session ties one routing workload to its tile store, fetch queue and
// detail controller. Safe for use by one search at a time; build one session
// per concurrent search over a shared store and queue if needed.
type Session struct {
	Store   *graph.TileStore
	Queue   *fetch.Queue
	Planner *corridor.Planner
	Modes   *fetchmode.Controller
	Cfg     Config

	// Heuristic estimates remaining cost in meters between two coordinates.
	// It must never overestimate or the optimality guarantee is void.
	// Defaults to great-circle distance.
	Heuristic HeuristicFunc

	logger *zap.Logger

	mu          sync.Mutex
	unavailable map[string]struct{}
	tilesLoaded int

	progress chan ProgressEvent
}

// NewSession wires a session around shared store and queue.
func NewSession(store *graph.TileStore, queue *fetch.Queue, planner *corridor.Planner,
	modes *fetchmode.Controller, cfg Config, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		Store:       store,
		Queue:       queue,
		Planner:     planner,
		Modes:       modes,
		Cfg:         cfg,
		Heuristic:   geo.Haversine,
		logger:      logger,
		unavailable: make(map[string]struct{}),
		progress:    make(chan ProgressEvent, 16),
	}
}

// Progress exposes the search progress stream. Events are dropped, never
// blocked on, when the consumer lags.
func (s *Session) Progress() <-chan ProgressEvent { return s.progress }

// TilesLoaded reports tiles materialized through this session.
func (s *Session) TilesLoaded() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tilesLoaded
}

// PreloadCorridor plans and prefetches the corridor between two coordinates,
// pinning its tiles, then freezes detail transitions for the warmup window.
func (s *Session) PreloadCorridor(ctx context.Context, startLat, startLon, goalLat, goalLon float64) []string {
	buffer := corridor.BufferFor(geo.Haversine(startLat, startLon, goalLat, goalLon))
	keys := s.Planner.Tiles(startLat, startLon, goalLat, goalLon, buffer)
	detail := graph.Detailed
	if s.Modes != nil {
		detail = s.Modes.Mode()
	}
	loaded := s.Planner.Preload(ctx, s.Queue, s.Store, keys, detail, s.Cfg.PreloadBatch, nil)
	if s.Modes != nil && s.Cfg.WarmupFreeze > 0 {
		s.Modes.Freeze(s.Cfg.WarmupFreeze)
	}
	s.mu.Lock()
	s.tilesLoaded += loaded
	s.mu.Unlock()
	return keys
}

// ensureTile blocks until the tile for key is materialized at the currently
// demanded detail level, or records it as unavailable for the rest of this
// session when the fetch policy gives up. A tile held at a lower detail than
// demanded counts as a miss and is refetched whole, so controller upgrades
// reach tiles that are already cached. Unavailable tiles read as empty: the
// search degrades instead of failing.
func (s *Session) ensureTile(ctx context.Context, key string) bool {
	detail := graph.Detailed
	if s.Modes != nil {
		detail = s.Modes.Mode()
	}
	if have, ok := s.Store.Detail(key); ok && have >= detail {
		return true
	}
	s.mu.Lock()
	_, dead := s.unavailable[key]
	s.mu.Unlock()
	if dead {
		return s.Store.Has(key)
	}

	tile, err := s.Queue.Request(key, detail).Wait(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return false
		}
		s.mu.Lock()
		s.unavailable[key] = struct{}{}
		s.mu.Unlock()
		s.logger.Debug("tile unavailable for this search", zap.String("tile", key), zap.Error(err))
		return false
	}
	s.Store.Put(tile)
	s.mu.Lock()
	s.tilesLoaded++
	s.mu.Unlock()
	return true
}

// prefetchAdjacent fires non-blocking fetches for the tiles around key when a
// frontier node sits near the tile boundary, so the next expansion step does
// not stall on the edge.
func (s *Session) prefetchAdjacent(key string) {
	neighbors, err := geo.Neighbors8(key)
	if err != nil {
		return
	}
	detail := graph.Detailed
	if s.Modes != nil {
		detail = s.Modes.Mode()
	}
	for _, nk := range neighbors {
		if have, ok := s.Store.Detail(nk); ok && have >= detail {
			continue
		}
		s.mu.Lock()
		_, dead := s.unavailable[nk]
		s.mu.Unlock()
		if dead {
			continue
		}
		f := s.Queue.Request(nk, detail)
		go func(nk string, f *fetch.Future) {
			tile, err := f.Wait(context.Background())
			if err != nil {
				return
			}
			s.Store.Put(tile)
			s.mu.Lock()
			s.tilesLoaded++
			s.mu.Unlock()
		}(nk, f)
	}
}

// nearTileEdge reports whether the node sits within the configured margin of
// its tile's boundary.
func (s *Session) nearTileEdge(n graph.Node) bool {
	key := geo.TileKey(n.Lat, n.Lon, s.Cfg.TileSizeDeg)
	minLat, minLon, maxLat, maxLon, err := geo.TileBounds(key, s.Cfg.TileSizeDeg)
	if err != nil {
		return false
	}
	margin := s.Cfg.TileSizeDeg * s.Cfg.EdgeMarginFrac
	return n.Lat-minLat < margin || maxLat-n.Lat < margin ||
		n.Lon-minLon < margin || maxLon-n.Lon < margin
}

func (s *Session) emitProgress(ev ProgressEvent) {
	select {
	case s.progress <- ev:
	default:
	}
}
