package http

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func SetupRouter(allowOrigins []string, sessionController *SessionController, userController *UserController, contentController *ContentController) *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	config := cors.DefaultConfig()
	if len(allowOrigins) == 0 {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = allowOrigins
		config.AllowCredentials = true
	}
	config.AllowHeaders = []string{
		"Authorization",
		"Content-Type",
		"Origin",
		"Accept",
		headerUserID,
		headerUserName,
	}
	config.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"}
	router.Use(cors.New(config))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(200, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")

	if userController != nil {
		users := api.Group("/users")
		users.POST("/create", userController.CreateUser)
		users.GET("/me", userController.Me)
		users.GET("/:userID", userController.GetUser)
	}

	if sessionController != nil {
		sessions := api.Group("/sessions")
		sessions.POST("/create", sessionController.CreateSession)
		sessions.GET("", sessionController.ListSessions)
		sessions.GET("/settings", sessionController.Settings)
		sessions.GET("/current", sessionController.GetCurrentSession)
		sessions.POST("/leave", sessionController.LeaveSession)
		sessions.POST("/messages", sessionController.SendMessage)
		sessions.POST("/reactions", sessionController.SendReaction)
		sessions.PUT("/playback", sessionController.UpdatePlayback)
		sessions.GET("/:sessionID", sessionController.GetSession)
		sessions.POST("/:sessionID/join", sessionController.JoinSession)
		sessions.GET("/:sessionID/ws", sessionController.Relay)
		sessions.GET("/:sessionID/events", sessionController.Events)
	}

	if contentController != nil {
		reactions := api.Group("/reactions")
		reactions.GET("/search", contentController.SearchReactions)
		reactions.GET("/trending", contentController.TrendingReactions)
		reactions.GET("/emotion/:emotion", contentController.EmotionReactions)

		content := api.Group("/content")
		content.GET("/search", contentController.SearchContent)
		content.GET("/:contentID", contentController.GetContent)
		content.GET("/:contentID/similar", contentController.GetSimilar)
		content.GET("/:contentID/recommendations", contentController.GetRecommendations)
	}

	return router
}
