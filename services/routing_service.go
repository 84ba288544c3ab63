package services

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Bettyyy666/AtlasRoute-planner-sub001/corridor"
	"github.com/Bettyyy666/AtlasRoute-planner-sub001/fetch"
	"github.com/Bettyyy666/AtlasRoute-planner-sub001/fetchmode"
	"github.com/Bettyyy666/AtlasRoute-planner-sub001/geo"
	"github.com/Bettyyy666/AtlasRoute-planner-sub001/graph"
	"github.com/Bettyyy666/AtlasRoute-planner-sub001/models"
	"github.com/Bettyyy666/AtlasRoute-planner-sub001/search"
)

// ErrInvalidInput flags a malformed request: too few waypoints or
// out-of-range coordinates. Surfaced to clients as a 400, never retried.
var ErrInvalidInput = errors.New("invalid routing input")

// RouteResult is the domain-level outcome of a multi-waypoint route.
type RouteResult struct {
	Path       []graph.Node
	CostMeters float64
	Status     search.Status
}

// RoutingService owns the long-lived routing state: the shared tile store and
// fetch queue. Each request runs in its own search session over them.
type RoutingService struct {
	store   *graph.TileStore
	queue   *fetch.Queue
	planner *corridor.Planner

	searchCfg search.Config
	modeCfg   fetchmode.Config
	logger    *zap.Logger
}

// RoutingOptions sizes the routing service.
type RoutingOptions struct {
	TileSizeDeg float64
	TileBudget  int
	Queue       fetch.Options
}

// NewRoutingService wires store, queue and planner around the tile source.
func NewRoutingService(source fetch.TileSource, opts RoutingOptions, logger *zap.Logger) *RoutingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RoutingService{
		store:     graph.NewTileStore(opts.TileBudget, opts.TileSizeDeg),
		queue:     fetch.NewQueue(source, opts.Queue, logger),
		planner:   corridor.NewPlanner(opts.TileSizeDeg, logger),
		searchCfg: search.DefaultConfig(opts.TileSizeDeg),
		modeCfg:   fetchmode.DefaultConfig(),
		logger:    logger,
	}
}

// Store exposes the shared tile store for warm-start loading and health
// reporting.
func (rs *RoutingService) Store() *graph.TileStore { return rs.store }

// Close releases the fetch queue.
func (rs *RoutingService) Close() { rs.queue.Close() }

// CalculateRoute routes through the ordered waypoints, one search per
// consecutive pair, and concatenates the legs. A leg that cannot be routed
// degrades the overall status instead of failing the request.
func (rs *RoutingService) CalculateRoute(ctx context.Context, points []models.LatLng) (RouteResult, error) {
	if err := validatePoints(points); err != nil {
		return RouteResult{}, err
	}

	result := RouteResult{Status: search.StatusOK}
	defer rs.store.UnpinAll()

	for i := 0; i+1 < len(points); i++ {
		from, to := points[i], points[i+1]
		leg := rs.routeLeg(ctx, from, to)
		result.Status = worseStatus(result.Status, leg.Status)
		result.CostMeters += leg.CostMeters

		if len(leg.Path) == 0 {
			continue
		}
		if len(result.Path) > 0 && result.Path[len(result.Path)-1].ID == leg.Path[0].ID {
			leg.Path = leg.Path[1:]
		}
		result.Path = append(result.Path, leg.Path...)
	}

	rs.logger.Info("route calculated",
		zap.Int("waypoints", len(points)),
		zap.Int("path_nodes", len(result.Path)),
		zap.Float64("cost_meters", result.CostMeters),
		zap.String("status", string(result.Status)))
	return result, nil
}

func (rs *RoutingService) routeLeg(ctx context.Context, from, to models.LatLng) RouteResult {
	modes := fetchmode.New(initialDetail(from, to), rs.modeCfg)
	session := search.NewSession(rs.store, rs.queue, rs.planner, modes, rs.searchCfg, rs.logger)

	session.PreloadCorridor(ctx, from.Lat, from.Lng, to.Lat, to.Lng)

	startNode, _, okStart := rs.store.NearestNode(from.Lat, from.Lng, geo.Haversine)
	goalNode, _, okGoal := rs.store.NearestNode(to.Lat, to.Lng, geo.Haversine)
	if !okStart || !okGoal {
		return RouteResult{Status: search.StatusNodeNotFound}
	}

	res := session.FindPath(ctx, startNode.ID, goalNode.ID)
	return RouteResult{Path: res.Path, CostMeters: res.Cost, Status: res.Status}
}

// initialDetail picks the starting fetch detail from the leg length: short
// hops go straight to the full street graph, long ones start on the backbone
// and let the controller upgrade near the endpoints.
func initialDetail(from, to models.LatLng) graph.DetailLevel {
	d := geo.Haversine(from.Lat, from.Lng, to.Lat, to.Lng)
	switch {
	case d < 10000:
		return graph.Detailed
	case d < 60000:
		return graph.Express
	default:
		return graph.Backbone
	}
}

func validatePoints(points []models.LatLng) error {
	if len(points) < 2 {
		return fmt.Errorf("%w: need at least 2 waypoints, got %d", ErrInvalidInput, len(points))
	}
	for i, p := range points {
		if p.Lat < -90 || p.Lat > 90 || p.Lng < -180 || p.Lng > 180 {
			return fmt.Errorf("%w: waypoint %d out of range (%f, %f)", ErrInvalidInput, i, p.Lat, p.Lng)
		}
	}
	return nil
}

// worseStatus merges leg statuses, keeping the most degraded one.
func worseStatus(a, b search.Status) search.Status {
	rank := func(s search.Status) int {
		switch s {
		case search.StatusOK:
			return 0
		case search.StatusTimeout:
			return 1
		case search.StatusNodeNotFound:
			return 2
		case search.StatusNoPath:
			return 3
		default:
			return 4
		}
	}
	if rank(b) > rank(a) {
		return b
	}
	return a
}
