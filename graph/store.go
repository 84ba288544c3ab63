package graph

import (
	"sync"

	"github.com/Bettyyy666/AtlasRoute-planner-sub001/geo"
)

// StoreStats is a snapshot of the tile store for logging and the health endpoint.
type StoreStats struct {
	Tiles  int `json:"tiles"`
	Nodes  int `json:"nodes"`
	Pinned int `json:"pinned"`
}

// TileStore caches materialized tiles and the flat node index built from them.
// Tiles on the active search corridor can be pinned to exempt them from
// eviction. All methods are safe for concurrent use; a tile is either absent
// or fully present, readers never observe a partial tile.
type TileStore struct {
	mu     sync.RWMutex
	tiles  map[string]*Tile
	clock  int64
	access map[string]int64
	pinned map[string]struct{}

	// nodes indexes every node of every materialized tile by id, updated
	// incrementally on Put and eviction rather than rebuilt per load.
	nodes    map[string]Node
	nodeTile map[string]string

	budget  int
	sizeDeg float64
}

// NewTileStore creates an empty store over a grid of sizeDeg-degree tiles
// that evicts down to budget tiles when EvictIfOverBudget is called. A budget
// of zero or less disables eviction.
func NewTileStore(budget int, sizeDeg float64) *TileStore {
	return &TileStore{
		tiles:    make(map[string]*Tile),
		access:   make(map[string]int64),
		pinned:   make(map[string]struct{}),
		nodes:    make(map[string]Node),
		nodeTile: make(map[string]string),
		budget:   budget,
		sizeDeg:  sizeDeg,
	}
}

// Get returns the tile for key if materialized, touching its recency.
func (s *TileStore) Get(key string) (*Tile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tiles[key]
	if !ok {
		return nil, false
	}
	s.clock++
	s.access[key] = s.clock
	return t, true
}

// Has reports whether a tile is materialized without touching recency.
func (s *TileStore) Has(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tiles[key]
	return ok
}

// Detail returns the detail level of a materialized tile.
func (s *TileStore) Detail(key string) (DetailLevel, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tiles[key]
	if !ok {
		return Backbone, false
	}
	return t.Detail, true
}

// Put inserts or replaces the tile under its key and folds its nodes into the
// node index. Replacement is whole-tile: the previous tile's nodes are removed
// first so a detail upgrade never leaves mixed adjacency behind.
//
// A tile may carry nodes that geographically belong to a neighboring cell
// (endpoints of ways crossing the boundary). The geographic owner wins the
// index entry; a foreign tile only fills it while the owner is absent.
func (s *TileStore) Put(tile *Tile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.tiles[tile.Key]; ok {
		s.dropNodesLocked(old)
	}
	s.tiles[tile.Key] = tile
	s.clock++
	s.access[tile.Key] = s.clock
	for _, n := range tile.Nodes {
		owner := geo.TileKey(n.Lat, n.Lon, s.sizeDeg)
		if owner != tile.Key {
			if _, exists := s.nodes[n.ID]; exists {
				continue
			}
		}
		s.nodes[n.ID] = n
		s.nodeTile[n.ID] = tile.Key
	}
}

// Pin marks keys as eviction-exempt for the duration of a search.
func (s *TileStore) Pin(keys []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		s.pinned[k] = struct{}{}
	}
}

// Unpin removes keys from the pinned set.
func (s *TileStore) Unpin(keys []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.pinned, k)
	}
}

// UnpinAll clears the pinned set, typically at the end of a search.
func (s *TileStore) UnpinAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pinned = make(map[string]struct{})
}

// EvictIfOverBudget removes least-recently-touched unpinned tiles until the
// store is back under budget. Pinned tiles are never evicted; if everything
// is pinned the store stays over budget rather than corrupting an in-flight
// search. Returns the number of tiles evicted.
func (s *TileStore) EvictIfOverBudget() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.budget <= 0 {
		return 0
	}
	evicted := 0
	for len(s.tiles) > s.budget {
		victim := ""
		var oldest int64
		for k := range s.tiles {
			if _, isPinned := s.pinned[k]; isPinned {
				continue
			}
			if victim == "" || s.access[k] < oldest {
				victim = k
				oldest = s.access[k]
			}
		}
		if victim == "" {
			break // everything pinned
		}
		s.dropNodesLocked(s.tiles[victim])
		delete(s.tiles, victim)
		delete(s.access, victim)
		evicted++
	}
	return evicted
}

// Node looks up a node by id across all materialized tiles.
func (s *TileStore) Node(id string) (Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	return n, ok
}

// NodeTile returns the key of the tile that materialized the node.
func (s *TileStore) NodeTile(id string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.nodeTile[id]
	return k, ok
}

// Neighbors returns the adjacency list of a node, or nil when no tile
// carrying it is materialized. The geographic owner tile is consulted first:
// its adjacency for the node is complete, while a neighboring tile that
// merely references a boundary node may hold only the crossing edges.
// The returned slice must not be mutated.
func (s *TileStore) Neighbors(id string) []Neighbor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	if ok {
		owner := geo.TileKey(n.Lat, n.Lon, s.sizeDeg)
		if t, live := s.tiles[owner]; live {
			if adj, has := t.Neighbors[id]; has {
				return adj
			}
		}
	}
	key, ok := s.nodeTile[id]
	if !ok {
		return nil
	}
	t, ok := s.tiles[key]
	if !ok {
		return nil
	}
	return t.Neighbors[id]
}

// NearestNode scans the node index for the node closest to the coordinate.
// Linear over all materialized nodes, which is acceptable at corridor scale;
// a spatial index would be the fix if stores grow past a few hundred tiles.
func (s *TileStore) NearestNode(lat, lon float64, dist func(aLat, aLon, bLat, bLon float64) float64) (Node, float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best Node
	bestDist := -1.0
	for _, n := range s.nodes {
		d := dist(lat, lon, n.Lat, n.Lon)
		if bestDist < 0 || d < bestDist {
			best = n
			bestDist = d
		}
	}
	if bestDist < 0 {
		return Node{}, 0, false
	}
	return best, bestDist, true
}

// Stats snapshots the store size counters.
func (s *TileStore) Stats() StoreStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return StoreStats{
		Tiles:  len(s.tiles),
		Nodes:  len(s.nodes),
		Pinned: len(s.pinned),
	}
}

func (s *TileStore) dropNodesLocked(t *Tile) {
	for _, n := range t.Nodes {
		// A node can be referenced by more than one tile; only drop the
		// index entry if this tile owns it.
		if s.nodeTile[n.ID] == t.Key {
			delete(s.nodes, n.ID)
			delete(s.nodeTile, n.ID)
		}
	}
}
