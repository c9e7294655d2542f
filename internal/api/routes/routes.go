package routes

import (
	"actionrecorder/backend/internal/api/handlers"
	"actionrecorder/backend/internal/api/middleware"

	"github.com/gin-gonic/gin"
)

func SetupRoutes(h *handlers.Handler, hub *handlers.Hub, secret string, authEnabled bool) *gin.Engine {
	router := gin.New()

	router.Use(gin.Logger())
	router.Use(middleware.CORSMiddleware())
	router.Use(gin.Recovery())

	v1 := router.Group("/api/v1")
	{
		v1.GET("/health", handlers.HealthCheck)
		v1.POST("/auth/token", h.Login)

		// WebSocket endpoint (browsers cannot set the Authorization header)
		v1.GET("/ws/recording", hub.Stream)

		protected := v1.Group("")
		protected.Use(middleware.AuthMiddleware(secret, authEnabled))
		{
			recording := protected.Group("/recording")
			{
				recording.POST("/start", h.StartRecording)
				recording.POST("/stop", h.StopRecording)
				recording.GET("/status", h.GetRecordingStatus)
				recording.GET("/actions", h.GetActions)
				recording.GET("/code", h.GetCode)
				recording.POST("/assertion", h.SetAssertionMode)
			}

			settings := protected.Group("/settings")
			{
				settings.GET("", h.GetSettings)
				settings.PUT("", h.UpdateSettings)
			}

			tabs := protected.Group("/tabs")
			{
				tabs.GET("", h.GetTabs)
				tabs.POST("", h.OpenTab)
				tabs.POST("/:id/activate", h.ActivateTab)
				tabs.DELETE("/:id", h.CloseTab)
			}
		}
	}

	return router
}
