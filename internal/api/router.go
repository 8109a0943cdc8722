package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/pulseboard/pulseboard/internal/api/handlers"
	"github.com/pulseboard/pulseboard/internal/api/middleware"
	"github.com/pulseboard/pulseboard/internal/cache"
	"github.com/pulseboard/pulseboard/internal/config"
	"github.com/pulseboard/pulseboard/internal/engine"
	"go.uber.org/zap"
)

type Server struct {
	Router *gin.Engine
}

// NewServer builds the trigger/read surface consumed by the dashboard. It
// deliberately has no auth and no rendering; the dashboard owns both.
func NewServer(cfg *config.Config, store cache.Store, scheduler *engine.Scheduler, logger *zap.Logger) *Server {
	gin.SetMode(cfg.Server.Mode)
	router := gin.New()

	router.Use(middleware.Logger(logger))
	router.Use(gin.Recovery())

	handler := handlers.NewHandler(store, scheduler, logger)

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/regenerate", handler.TriggerFull)
		v1.POST("/tenants/:id/regenerate", handler.TriggerSelective)
		v1.GET("/tenants/:tenant/subjects/:subject/ranges/:range", handler.GetEntry)
	}

	return &Server{Router: router}
}
