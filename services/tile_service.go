// Package services holds the clients for external collaborators: the
// upstream map-data provider and the optional warm-start bundle loader.
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/Bettyyy666/AtlasRoute-planner-sub001/fetch"
	"github.com/Bettyyy666/AtlasRoute-planner-sub001/geo"
	"github.com/Bettyyy666/AtlasRoute-planner-sub001/graph"
)

// tileQuery is the upstream request body: a bounding box plus the road
// classes wanted at the current detail level.
type tileQuery struct {
	BBox struct {
		MinLat float64 `json:"min_lat"`
		MinLon float64 `json:"min_lon"`
		MaxLat float64 `json:"max_lat"`
		MaxLon float64 `json:"max_lon"`
	} `json:"bbox"`
	RoadClasses []string `json:"road_classes"`
	Detail      string   `json:"detail"`
}

// tileElement is one entry of the upstream response, OSM-style: nodes carry
// coordinates, ways carry an ordered node id list.
type tileElement struct {
	Type  string  `json:"type"`
	ID    int64   `json:"id"`
	Lat   float64 `json:"lat,omitempty"`
	Lon   float64 `json:"lon,omitempty"`
	Nodes []int64 `json:"nodes,omitempty"`
}

type tileResponse struct {
	Elements []tileElement `json:"elements"`
}

// TileService fetches tiles from the upstream map-data provider over HTTP.
// It implements fetch.TileSource; retry and failover policy live in the
// fetch queue, this client does a single attempt per call.
type TileService struct {
	httpClient *http.Client
	sizeDeg    float64
	logger     *zap.Logger
}

func NewTileService(sizeDeg float64, logger *zap.Logger) *TileService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TileService{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		sizeDeg: sizeDeg,
		logger:  logger,
	}
}

// roadClassesFor maps a detail level to the highway classes requested.
func roadClassesFor(detail graph.DetailLevel) []string {
	backbone := []string{"motorway", "motorway_link", "trunk", "trunk_link"}
	express := append(backbone, "primary", "primary_link", "secondary", "secondary_link", "tertiary")
	detailed := append(express, "unclassified", "residential", "living_street", "service")
	switch detail {
	case graph.Backbone:
		return backbone
	case graph.Express:
		return express
	default:
		return detailed
	}
}

// FetchTile requests one tile's road network from one endpoint and converts
// the payload to the graph model.
func (ts *TileService) FetchTile(ctx context.Context, endpoint, key string, detail graph.DetailLevel) (*graph.Tile, error) {
	minLat, minLon, maxLat, maxLon, err := geo.TileBounds(key, ts.sizeDeg)
	if err != nil {
		return nil, err
	}

	var query tileQuery
	query.BBox.MinLat = minLat
	query.BBox.MinLon = minLon
	query.BBox.MaxLat = maxLat
	query.BBox.MaxLon = maxLon
	query.RoadClasses = roadClassesFor(detail)
	query.Detail = detail.String()

	body, err := json.Marshal(query)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := ts.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tile request to %s failed: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, &fetch.StatusError{Code: resp.StatusCode, Endpoint: endpoint}
	}

	var payload tileResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("malformed tile payload from %s: %w", endpoint, err)
	}

	tile := ts.buildTile(key, detail, payload)
	ts.logger.Debug("tile fetched",
		zap.String("tile", key),
		zap.String("detail", detail.String()),
		zap.Int("nodes", tile.NodeCount()))
	return tile, nil
}

// buildTile converts the node/way payload into the tile's node list and
// symmetric adjacency. Edge weights are haversine meters between consecutive
// way nodes; ways referencing unknown nodes contribute nothing for those
// segments.
func (ts *TileService) buildTile(key string, detail graph.DetailLevel, payload tileResponse) *graph.Tile {
	nodes := make(map[string]graph.Node)
	for _, el := range payload.Elements {
		if el.Type != "node" {
			continue
		}
		id := strconv.FormatInt(el.ID, 10)
		nodes[id] = graph.Node{ID: id, Lat: el.Lat, Lon: el.Lon}
	}

	tile := &graph.Tile{Key: key, Detail: detail, Neighbors: make(map[string][]graph.Neighbor)}
	for _, el := range payload.Elements {
		if el.Type != "way" || len(el.Nodes) < 2 {
			continue
		}
		for i := 0; i+1 < len(el.Nodes); i++ {
			fromID := strconv.FormatInt(el.Nodes[i], 10)
			toID := strconv.FormatInt(el.Nodes[i+1], 10)
			from, okFrom := nodes[fromID]
			to, okTo := nodes[toID]
			if !okFrom || !okTo {
				continue
			}
			w := geo.Haversine(from.Lat, from.Lon, to.Lat, to.Lon)
			tile.Neighbors[fromID] = append(tile.Neighbors[fromID], graph.Neighbor{To: toID, Weight: w})
			tile.Neighbors[toID] = append(tile.Neighbors[toID], graph.Neighbor{To: fromID, Weight: w})
		}
	}
	for _, n := range nodes {
		tile.Nodes = append(tile.Nodes, n)
	}
	return tile
}
