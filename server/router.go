package server

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	httpHandler "tiktok-publisher/interfaces/http"
	"tiktok-publisher/interfaces/middleware"
)

// Streamer serves a per-user server-sent event stream.
type Streamer interface {
	Serve(c *gin.Context)
}

type RouterConfig struct {
	SecretKey   string
	CorsOrigins []string
}

func InitiateRouter(
	cfg RouterConfig,
	tiktokHandler httpHandler.ITikTokHandler,
	filesHandler httpHandler.IFilesHandler,
	healthHandler httpHandler.IHealthHandler,
	stream Streamer,
) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CorsOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With", middleware.UserIDHeader},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", healthHandler.Healthz)

	api := router.Group("api")
	api.Use(middleware.Auth(cfg.SecretKey))

	tiktok := api.Group("/integrations/social/tiktok")
	{
		// OAuth
		tiktok.GET("", tiktokHandler.Start)
		tiktok.GET("/start", tiktokHandler.Start)
		tiktok.POST("/connect", tiktokHandler.Connect)
		tiktok.GET("/accounts", tiktokHandler.ListAccounts)
		tiktok.DELETE("/:openId/disconnect", tiktokHandler.Disconnect)

		// Publishing
		tiktok.POST("/:openId/post", tiktokHandler.Post)
		tiktok.GET("/:openId/post/status/:publishId", tiktokHandler.PostStatus)
		tiktok.POST("/:openId/schedule", tiktokHandler.Schedule)

		// Intents
		tiktok.GET("/posts", tiktokHandler.ListPosts)
		tiktok.GET("/:openId/posts", tiktokHandler.ListPosts)
		tiktok.GET("/posts/:key/history", tiktokHandler.History)
		if stream != nil {
			tiktok.GET("/stream", stream.Serve)
		}
	}

	api.GET("/files/presign", filesHandler.Presign)
	api.POST("/files/presign", filesHandler.Presign)

	return router
}
