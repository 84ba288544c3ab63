package main

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Bettyyy666/AtlasRoute-planner-sub001/config"
	"github.com/Bettyyy666/AtlasRoute-planner-sub001/fetch"
	"github.com/Bettyyy666/AtlasRoute-planner-sub001/handlers"
	"github.com/Bettyyy666/AtlasRoute-planner-sub001/services"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg := config.Load()

	queueOpts := fetch.DefaultOptions(cfg.TileEndpoints)
	queueOpts.Concurrency = cfg.FetchConcurrency
	queueOpts.MaxRetries = cfg.FetchMaxRetries
	queueOpts.BaseBackoff = cfg.FetchBaseBackoff
	queueOpts.MaxBackoff = cfg.FetchMaxBackoff
	queueOpts.RateLimitCooldown = cfg.RateLimitCooldown
	queueOpts.EndpointCooldown = cfg.EndpointCooldown

	tileService := services.NewTileService(cfg.TileSizeDeg, logger)
	routingService := services.NewRoutingService(tileService, services.RoutingOptions{
		TileSizeDeg: cfg.TileSizeDeg,
		TileBudget:  cfg.TileBudget,
		Queue:       queueOpts,
	}, logger)
	defer routingService.Close()

	if cfg.BundlePath != "" {
		meta, err := services.LoadBundle(cfg.BundlePath, routingService.Store(), logger)
		if err != nil {
			logger.Warn("bundle warm-start skipped", zap.String("path", cfg.BundlePath), zap.Error(err))
		} else {
			logger.Info("warm-started from bundle", zap.String("region", meta.Region))
		}
	}

	router := gin.Default()
	router.Use(cors.Default())

	routingHandler := handlers.NewRoutingHandler(routingService, logger)
	routingHandler.RegisterRoutes(router)

	logger.Info("routing server listening",
		zap.String("addr", cfg.ListenAddr),
		zap.Strings("tile_endpoints", cfg.TileEndpoints))
	if err := router.Run(cfg.ListenAddr); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}
