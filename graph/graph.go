// Package graph holds the road-network model and the in-memory tile store the
// search runs against. The graph is never loaded whole; it is materialized
// tile by tile as the search reaches new territory.
package graph

import (
	"github.com/Bettyyy666/AtlasRoute-planner-sub001/geo"
)

// DetailLevel selects how much of the road network a tile fetch requests.
type DetailLevel int

const (
	// Backbone carries only trunk and motorway class roads.
	Backbone DetailLevel = iota
	// Express adds primary and secondary roads.
	Express
	// Detailed is the full street graph down to residential roads.
	Detailed
)

func (d DetailLevel) String() string {
	switch d {
	case Backbone:
		return "backbone"
	case Express:
		return "express"
	case Detailed:
		return "detailed"
	default:
		return "unknown"
	}
}

// Node represents an intersection in the road network. The ID is the upstream
// road-network node id and is stable across tiles that reference it.
type Node struct {
	ID  string  `json:"id"`
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Neighbor is a directed edge to another node with a non-negative weight in
// meters. Undirected roads appear once in each direction.
type Neighbor struct {
	To     string  `json:"to"`
	Weight float64 `json:"weight"`
}

// Tile is the unit of fetch, cache and eviction: the graph fragment for one
// grid cell at one detail level. A tile is replaced whole when re-fetched at
// a different detail level, never merged.
type Tile struct {
	Key       string                `json:"key"`
	Nodes     []Node                `json:"nodes"`
	Neighbors map[string][]Neighbor `json:"neighbors"`
	Detail    DetailLevel           `json:"detail"`
}

// NodeCount reports the number of nodes materialized in the tile.
func (t *Tile) NodeCount() int {
	return len(t.Nodes)
}

// Contains reports whether the coordinate falls inside the tile for the given
// tile edge size.
func (t *Tile) Contains(lat, lon, sizeDeg float64) bool {
	return geo.TileKey(lat, lon, sizeDeg) == t.Key
}
