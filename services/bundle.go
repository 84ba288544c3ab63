package services

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/Bettyyy666/AtlasRoute-planner-sub001/graph"
)

// BundleMeta describes a persisted tile bundle.
type BundleMeta struct {
	Region     string    `json:"region"`
	BBox       []float64 `json:"bbox"`
	CreatedAt  string    `json:"createdAt"`
	TargetWays int       `json:"targetWays"`
}

type bundle struct {
	Meta  BundleMeta    `json:"meta"`
	Tiles []*graph.Tile `json:"tiles"`
}

// LoadBundle warm-starts the tile store from a persisted bundle, avoiding
// upstream calls for the covered region. Files ending in .gz are
// decompressed transparently.
func LoadBundle(path string, store *graph.TileStore, logger *zap.Logger) (BundleMeta, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	f, err := os.Open(path)
	if err != nil {
		return BundleMeta{}, fmt.Errorf("could not open bundle file: %w", err)
	}
	defer f.Close()

	var reader io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return BundleMeta{}, fmt.Errorf("could not read gzip bundle: %w", err)
		}
		defer gz.Close()
		reader = gz
	}

	var b bundle
	if err := json.NewDecoder(reader).Decode(&b); err != nil {
		return BundleMeta{}, fmt.Errorf("could not parse bundle: %w", err)
	}

	for _, tile := range b.Tiles {
		if tile == nil || tile.Key == "" {
			continue
		}
		if tile.Neighbors == nil {
			tile.Neighbors = make(map[string][]graph.Neighbor)
		}
		store.Put(tile)
	}

	logger.Info("tile bundle loaded",
		zap.String("path", path),
		zap.String("region", b.Meta.Region),
		zap.Int("tiles", len(b.Tiles)))
	return b.Meta, nil
}
