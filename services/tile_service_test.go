package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Bettyyy666/AtlasRoute-planner-sub001/fetch"
	"github.com/Bettyyy666/AtlasRoute-planner-sub001/graph"
)

func TestFetchTileBuildsGraphFragment(t *testing.T) {
	var gotQuery tileQuery
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotQuery))

		resp := tileResponse{Elements: []tileElement{
			{Type: "node", ID: 100, Lat: 45.5010, Lon: -73.5670},
			{Type: "node", ID: 101, Lat: 45.5020, Lon: -73.5670},
			{Type: "node", ID: 102, Lat: 45.5030, Lon: -73.5670},
			{Type: "way", ID: 7, Nodes: []int64{100, 101, 102}},
			{Type: "way", ID: 8, Nodes: []int64{100, 999}}, // unknown endpoint dropped
		}}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	ts := NewTileService(0.01, zap.NewNop())
	tile, err := ts.FetchTile(context.Background(), srv.URL, "4550,-7357", graph.Express)
	require.NoError(t, err)

	assert.Equal(t, "4550,-7357", tile.Key)
	assert.Equal(t, graph.Express, tile.Detail)
	assert.Equal(t, 3, tile.NodeCount())

	// The query carried the tile's bbox and the express road classes.
	assert.InDelta(t, 45.50, gotQuery.BBox.MinLat, 1e-9)
	assert.InDelta(t, 45.51, gotQuery.BBox.MaxLat, 1e-9)
	assert.Contains(t, gotQuery.RoadClasses, "primary")
	assert.NotContains(t, gotQuery.RoadClasses, "residential")
	assert.Equal(t, "express", gotQuery.Detail)

	// Way 7 yields symmetric adjacency with haversine weights.
	fwd := tile.Neighbors["100"]
	require.Len(t, fwd, 1)
	assert.Equal(t, "101", fwd[0].To)
	assert.InDelta(t, 111.2, fwd[0].Weight, 2.0) // ~0.001 deg of latitude

	back := tile.Neighbors["101"]
	require.Len(t, back, 2)

	// The dangling way segment to the unknown node contributes nothing.
	for _, nb := range tile.Neighbors["100"] {
		assert.NotEqual(t, "999", nb.To)
	}
}

func TestFetchTileSurfacesStatusCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	ts := NewTileService(0.01, zap.NewNop())
	_, err := ts.FetchTile(context.Background(), srv.URL, "0,0", graph.Backbone)

	var se *fetch.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusTooManyRequests, se.Code)
}

func TestFetchTileMalformedPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json at all"))
	}))
	defer srv.Close()

	ts := NewTileService(0.01, zap.NewNop())
	_, err := ts.FetchTile(context.Background(), srv.URL, "0,0", graph.Detailed)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed tile payload")
}

func TestFetchTileInvalidKey(t *testing.T) {
	ts := NewTileService(0.01, zap.NewNop())
	_, err := ts.FetchTile(context.Background(), "http://unused", "garbage", graph.Detailed)
	require.Error(t, err)
}
