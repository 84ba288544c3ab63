// Package handlers exposes the routing API over gin.
package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Bettyyy666/AtlasRoute-planner-sub001/models"
	"github.com/Bettyyy666/AtlasRoute-planner-sub001/services"
)

type RoutingHandler struct {
	routingService *services.RoutingService
	logger         *zap.Logger
}

func NewRoutingHandler(routingService *services.RoutingService, logger *zap.Logger) *RoutingHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RoutingHandler{
		routingService: routingService,
		logger:         logger,
	}
}

func (h *RoutingHandler) RegisterRoutes(router *gin.Engine) {
	router.POST("/api/routes", h.CalculateRoute)
	router.GET("/health", h.Health)
}

// CalculateRoute resolves the request's waypoints and runs the search. An
// unroutable request answers 200 with a degraded status; only malformed
// input is a client error.
func (h *RoutingHandler) CalculateRoute(c *gin.Context) {
	started := time.Now()
	requestID := uuid.NewString()

	var req models.RouteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ApiError{
			Code:    "invalid_input",
			Message: "request body must be JSON with a points array",
		})
		return
	}

	result, err := h.routingService.CalculateRoute(c.Request.Context(), req.Points)
	if err != nil {
		if errors.Is(err, services.ErrInvalidInput) {
			c.JSON(http.StatusBadRequest, models.ApiError{
				Code:    "invalid_input",
				Message: err.Error(),
			})
			return
		}
		h.logger.Error("route calculation failed", zap.String("request_id", requestID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, models.ApiError{
			Code:    "internal",
			Message: "route calculation failed",
		})
		return
	}

	path := make([]models.LatLng, 0, len(result.Path))
	for _, n := range result.Path {
		path = append(path, models.LatLng{Lat: n.Lat, Lng: n.Lon})
	}

	c.JSON(http.StatusOK, models.RouteResponse{
		Path:          path,
		Status:        string(result.Status),
		CostMeters:    result.CostMeters,
		RequestID:     requestID,
		ProcessTimeMs: time.Since(started).Milliseconds(),
	})
}

func (h *RoutingHandler) Health(c *gin.Context) {
	stats := h.routingService.Store().Stats()
	c.JSON(http.StatusOK, models.HealthResponse{
		Status: "ok",
		Tiles:  stats.Tiles,
		Nodes:  stats.Nodes,
		Pinned: stats.Pinned,
	})
}
