// Package corridor enumerates the tiles a route between two points is likely
// to cross and prefetches them ahead of the search.
package corridor

import (
	"context"
	"math"
	"sort"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Bettyyy666/AtlasRoute-planner-sub001/fetch"
	"github.com/Bettyyy666/AtlasRoute-planner-sub001/geo"
	"github.com/Bettyyy666/AtlasRoute-planner-sub001/graph"
)

// Planner computes corridor tile sets over a fixed tile grid.
type Planner struct {
	sizeDeg float64
	logger  *zap.Logger
}

func NewPlanner(sizeDeg float64, logger *zap.Logger) *Planner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{sizeDeg: sizeDeg, logger: logger}
}

// BufferFor scales the corridor width with route length: short hops keep the
// fetch volume tight, long routes get slack to survive detours around water
// and terrain.
func BufferFor(straightLineMeters float64) float64 {
	buffer := 1.0 + straightLineMeters/25000.0
	if buffer > 4.0 {
		buffer = 4.0
	}
	return buffer
}

// Tiles returns the tile keys within bufferTiles of the straight line from
// start to goal, ordered by progress along that line so prefetching proceeds
// start to goal. When both endpoints share a tile only that tile is returned.
func (p *Planner) Tiles(startLat, startLon, goalLat, goalLon, bufferTiles float64) []string {
	// Work in continuous tile-index space.
	sy := startLat / p.sizeDeg
	sx := startLon / p.sizeDeg
	gy := goalLat / p.sizeDeg
	gx := goalLon / p.sizeDeg

	startKey := geo.TileKey(startLat, startLon, p.sizeDeg)
	goalKey := geo.TileKey(goalLat, goalLon, p.sizeDeg)
	if startKey == goalKey {
		return []string{startKey}
	}

	dy := gy - sy
	dx := gx - sx
	lineLen := math.Hypot(dx, dy)

	margin := int(math.Ceil(bufferTiles)) + 1
	minLatIdx := int(math.Floor(math.Min(sy, gy))) - margin
	maxLatIdx := int(math.Floor(math.Max(sy, gy))) + margin
	minLonIdx := int(math.Floor(math.Min(sx, gx))) - margin
	maxLonIdx := int(math.Floor(math.Max(sx, gx))) + margin

	type candidate struct {
		key   string
		along float64
	}
	var kept []candidate
	for latIdx := minLatIdx; latIdx <= maxLatIdx; latIdx++ {
		for lonIdx := minLonIdx; lonIdx <= maxLonIdx; lonIdx++ {
			cy := float64(latIdx) + 0.5
			cx := float64(lonIdx) + 0.5
			// Projection of the tile center onto the start-goal line.
			t := ((cy-sy)*dy + (cx-sx)*dx) / (lineLen * lineLen)
			perp := math.Abs((cy-sy)*dx-(cx-sx)*dy) / lineLen
			if perp > bufferTiles+0.5 {
				continue
			}
			if t < -(bufferTiles+0.5)/lineLen || t > 1+(bufferTiles+0.5)/lineLen {
				continue
			}
			kept = append(kept, candidate{key: geo.KeyOf(latIdx, lonIdx), along: t})
		}
	}

	sort.Slice(kept, func(i, j int) bool { return kept[i].along < kept[j].along })

	keys := make([]string, len(kept))
	for i, c := range kept {
		keys[i] = c.key
	}
	return keys
}

// Preload fetches corridor tiles in fixed-size batches, pinning them in the
// store as they land. A tile already held at the demanded detail or higher is
// skipped; one held at a lower detail is refetched and replaced whole.
// Prefetching is best-effort: a tile that cannot be fetched is logged and
// skipped, it only slows the search down later. Returns the number of tiles
// actually materialized.
func (p *Planner) Preload(ctx context.Context, queue *fetch.Queue, store *graph.TileStore,
	keys []string, detail graph.DetailLevel, batchSize int, onProgress func(done, total int)) int {

	if batchSize <= 0 {
		batchSize = 4
	}
	store.Pin(keys)

	var loaded int64
	for start := 0; start < len(keys); start += batchSize {
		end := start + batchSize
		if end > len(keys) {
			end = len(keys)
		}

		g, batchCtx := errgroup.WithContext(ctx)
		for _, key := range keys[start:end] {
			key := key
			if have, ok := store.Detail(key); ok && have >= detail {
				continue
			}
			g.Go(func() error {
				tile, err := queue.Request(key, detail).Wait(batchCtx)
				if err != nil {
					p.logger.Debug("corridor prefetch miss",
						zap.String("tile", key), zap.Error(err))
					return nil
				}
				store.Put(tile)
				atomic.AddInt64(&loaded, 1)
				return nil
			})
		}
		_ = g.Wait()

		if onProgress != nil {
			onProgress(end, len(keys))
		}
		if ctx.Err() != nil {
			break
		}
	}
	return int(loaded)
}
