package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/lanewatch/internal/api/handlers"
	"github.com/your-org/lanewatch/internal/api/ws"
	"github.com/your-org/lanewatch/internal/auth"
)

// Store is the persistence the REST API needs.
type Store interface {
	handlers.StreamStore
	handlers.IntrusionStore
}

type RouterConfig struct {
	APIKey     string
	DB         Store
	MinIO      handlers.ObjectStore
	Producer   handlers.ControlPublisher
	Hub        *ws.Hub
	Checks     map[string]handlers.Check
	DefaultFPS int
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.Default())

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.Checks)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 (with auth)
	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.APIKey))

	if cfg.Hub != nil {
		v1.GET("/ws", cfg.Hub.HandleWS)
	}

	// Streams
	streamH := handlers.NewStreamHandler(cfg.DB, cfg.Producer, cfg.DefaultFPS)
	v1.POST("/streams", streamH.Create)
	v1.GET("/streams", streamH.List)
	v1.GET("/streams/:id", streamH.Get)
	v1.POST("/streams/:id/start", streamH.Start)
	v1.POST("/streams/:id/stop", streamH.Stop)
	v1.DELETE("/streams/:id", streamH.Delete)
	v1.GET("/streams/:id/lanes", streamH.Lanes)
	v1.POST("/streams/:id/lanes/rebuild", streamH.RebuildLanes)

	// Intrusions
	intrusionH := handlers.NewIntrusionHandler(cfg.DB, cfg.MinIO)
	v1.GET("/streams/:id/intrusions", intrusionH.List)
	v1.GET("/intrusions/:id", intrusionH.Get)
	v1.GET("/intrusions/:id/frame", intrusionH.Frame)

	return r
}
