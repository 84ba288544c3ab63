package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTileKey(t *testing.T) {
	tests := []struct {
		name string
		lat  float64
		lon  float64
		size float64
		want string
	}{
		{"origin", 0, 0, 0.01, "0,0"},
		{"montreal", 45.5017, -73.5673, 0.01, "4550,-7357"},
		{"negative floors down", -0.001, -0.001, 0.01, "-1,-1"},
		{"exact boundary", 0.02, 0.03, 0.01, "2,3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TileKey(tt.lat, tt.lon, tt.size))
		})
	}
}

func TestTileBoundsRoundTrip(t *testing.T) {
	size := 0.01
	key := TileKey(45.5017, -73.5673, size)

	minLat, minLon, maxLat, maxLon, err := TileBounds(key, size)
	require.NoError(t, err)

	assert.LessOrEqual(t, minLat, 45.5017)
	assert.Greater(t, maxLat, 45.5017)
	assert.LessOrEqual(t, minLon, -73.5673)
	assert.Greater(t, maxLon, -73.5673)
	assert.InDelta(t, size, maxLat-minLat, 1e-12)
	assert.InDelta(t, size, maxLon-minLon, 1e-12)
}

func TestTileBoundsInvalidKey(t *testing.T) {
	for _, key := range []string{"", "12", "a,b", "1,2,3", "1.5,2"} {
		_, _, _, _, err := TileBounds(key, 0.01)
		assert.ErrorIs(t, err, ErrInvalidKey, "key %q", key)
	}
}

func TestNeighbors8(t *testing.T) {
	keys, err := Neighbors8("0,0")
	require.NoError(t, err)
	require.Len(t, keys, 8)

	seen := make(map[string]bool)
	for _, k := range keys {
		seen[k] = true
	}
	assert.False(t, seen["0,0"], "tile must not be its own neighbor")
	assert.True(t, seen["-1,-1"])
	assert.True(t, seen["1,1"])
	assert.True(t, seen["0,1"])
}

func TestHaversine(t *testing.T) {
	// Montreal to Quebec City, roughly 233 km great-circle.
	d := Haversine(45.5017, -73.5673, 46.8139, -71.2080)
	assert.InDelta(t, 233000, d, 3000)

	assert.Zero(t, Haversine(45.0, -73.0, 45.0, -73.0))

	// Symmetry.
	a := Haversine(45.5, -73.5, 46.8, -71.2)
	b := Haversine(46.8, -71.2, 45.5, -73.5)
	assert.InDelta(t, a, b, 1e-9)

	// One degree of latitude is about 111 km everywhere.
	d = Haversine(10.0, 20.0, 11.0, 20.0)
	assert.InDelta(t, 111195, d, 200)
	assert.False(t, math.IsNaN(d))
}
