package app

import (
	"net/http"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"tollgate.io/tollgate/internal/api/handlers"
	"tollgate.io/tollgate/internal/api/middleware"
	"tollgate.io/tollgate/internal/config"
	"tollgate.io/tollgate/internal/pkg/logger"
	"tollgate.io/tollgate/internal/pkg/metrics"
)

// APIBasePath is the mount point of the versioned API.
const APIBasePath = "/api/v1"

func newRouter(cfg *config.Config, server *handlers.Server, jwtCfg middleware.JWTConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestID(), middleware.Metrics(), middleware.ErrorHandler())
	if len(cfg.Server.CORSAllowedOrigins) > 0 {
		router.Use(cors.New(buildCORSConfig(cfg)))
	}

	// Probes and scraping stay unauthenticated.
	router.GET("/healthz", server.GetLiveness)
	router.GET("/readyz", server.GetReadiness)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	logLevel := router.Group("/log", middleware.JWTAuth(jwtCfg), middleware.RequirePermission(middleware.PermAdmin))
	logLevel.GET("/level", gin.WrapH(logger.LevelHandler()))
	logLevel.PUT("/level", gin.WrapH(logger.LevelHandler()))

	api := router.Group(APIBasePath,
		middleware.JWTAuth(jwtCfg),
		middleware.MustOpenAPIValidator(middleware.OpenAPIOptions{BasePath: APIBasePath}),
	)
	server.RegisterRoutes(api)
	return router
}

func buildCORSConfig(cfg *config.Config) cors.Config {
	corsCfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:  []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
		ExposeHeaders: []string{middleware.RequestIDHeader},
		MaxAge:        12 * time.Hour,
	}
	if slices.Contains(cfg.Server.CORSAllowedOrigins, "*") {
		corsCfg.AllowAllOrigins = true
		return corsCfg
	}
	corsCfg.AllowOrigins = cfg.Server.CORSAllowedOrigins
	corsCfg.AllowCredentials = true
	return corsCfg
}
