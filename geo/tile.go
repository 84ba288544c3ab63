// Package geo provides tile indexing over a fixed lat/lon grid and the
// geographic distance helpers shared by the rest of the planner.
package geo

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const EARTH_RADIUS_KM = 6371.0

// ErrInvalidKey is returned when a tile key string cannot be parsed.
var ErrInvalidKey = errors.New("invalid tile key")

// TileKey maps a coordinate to the key of its containing grid cell.
// Keys have the form "latIdx,lonIdx" where each index is the floor of the
// coordinate divided by the tile edge length in degrees.
func TileKey(lat, lon, sizeDeg float64) string {
	latIdx := int(math.Floor(lat / sizeDeg))
	lonIdx := int(math.Floor(lon / sizeDeg))
	return fmt.Sprintf("%d,%d", latIdx, lonIdx)
}

// ParseKey splits a tile key into its integer grid indices.
func ParseKey(key string) (latIdx, lonIdx int, err error) {
	parts := strings.Split(key, ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	latIdx, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	lonIdx, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return latIdx, lonIdx, nil
}

// TileBounds returns the bounding box covered by a tile key.
func TileBounds(key string, sizeDeg float64) (minLat, minLon, maxLat, maxLon float64, err error) {
	latIdx, lonIdx, err := ParseKey(key)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	minLat = float64(latIdx) * sizeDeg
	minLon = float64(lonIdx) * sizeDeg
	return minLat, minLon, minLat + sizeDeg, minLon + sizeDeg, nil
}

// KeyOf builds a key directly from grid indices.
func KeyOf(latIdx, lonIdx int) string {
	return fmt.Sprintf("%d,%d", latIdx, lonIdx)
}

// Neighbors8 returns the keys of the eight tiles surrounding key.
func Neighbors8(key string) ([]string, error) {
	latIdx, lonIdx, err := ParseKey(key)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, 8)
	for dLat := -1; dLat <= 1; dLat++ {
		for dLon := -1; dLon <= 1; dLon++ {
			if dLat == 0 && dLon == 0 {
				continue
			}
			out = append(out, KeyOf(latIdx+dLat, lonIdx+dLon))
		}
	}
	return out, nil
}

func toRadians(degrees float64) float64 {
	return degrees * math.Pi / 180
}

// Haversine returns the great-circle distance between two coordinates in meters.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := toRadians(lat1)
	phi2 := toRadians(lat2)
	deltaPhi := toRadians(lat2 - lat1)
	deltaLambda := toRadians(lon2 - lon1)

	a := math.Sin(deltaPhi/2)*math.Sin(deltaPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*
			math.Sin(deltaLambda/2)*math.Sin(deltaLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EARTH_RADIUS_KM * c * 1000
}
