package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/vidrelay/vidrelay/api/handlers"
	"github.com/vidrelay/vidrelay/api/middleware"
	"github.com/vidrelay/vidrelay/internal/domain"
	"github.com/vidrelay/vidrelay/internal/registry"
	"github.com/vidrelay/vidrelay/internal/relay"
)

// Version is stamped at build time
var Version = "1.0.0"

// SetupRouter wires the HTTP surface: extraction and session endpoints, the
// streaming relay, and the progress websocket.
func SetupRouter(
	extractor domain.Extractor,
	reg *registry.Registry,
	rly *relay.Relay,
	hub *handlers.ProgressHub,
	archive handlers.SessionArchive,
	log *zap.Logger,
) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	router.Use(middleware.Logger(log))
	router.Use(middleware.Recovery(log))
	router.Use(middleware.CORS())

	healthHandler := handlers.NewHealthHandler(reg, Version)
	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)

	sessionHandler := handlers.NewSessionHandler(extractor, reg, archive, log)
	streamHandler := handlers.NewStreamHandler(reg, rly, log)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/extract", sessionHandler.Extract)

		sessions := v1.Group("/sessions")
		{
			sessions.POST("", sessionHandler.CreateSession)
			sessions.GET("", sessionHandler.ListSessions)
			sessions.GET("/stats", sessionHandler.Stats)
			sessions.GET("/history", sessionHandler.History)
			sessions.POST("/clear", sessionHandler.ClearSessions)
			sessions.GET("/:id", sessionHandler.GetSession)
		}

		v1.GET("/stream/:id", streamHandler.Stream)
	}

	router.GET("/ws/progress", hub.HandleWebSocket)

	return router
}
