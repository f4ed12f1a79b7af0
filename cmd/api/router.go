package api

import (
	"net/http"

	"agency-crm-backend/internal/auth/delivery"

	"github.com/gin-gonic/gin"
)

func SetupRoutes(r *gin.Engine, h *Handler) {
	auth := delivery.AuthMiddleware(h.validator)

	api := r.Group("/api")
	{
		// Health check (no auth required)
		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})

		// Pub/Sub push endpoint, authorized by the shared token in the query
		api.POST("/webhooks/gmail", h.webhookHandler.ReceiveGmailPush)

		// SSE endpoints
		api.GET("/events", auth, func(c *gin.Context) {
			h.sseManager.ServeHTTP(c, c.GetString("userID"))
		})
		api.GET("/events/observe", auth, func(c *gin.Context) {
			h.sseManager.ServeObserver(c)
		})

		// FCM routes (protected)
		fcm := api.Group("/fcm")
		fcm.Use(auth)
		{
			fcm.POST("/register", h.fcmHandler.RegisterFCMToken)
			fcm.DELETE("/:token", h.fcmHandler.UnregisterFCMToken)
		}

		// Mailbox sync operator routes (protected)
		mailsync := api.Group("/mailsync")
		mailsync.Use(auth)
		{
			mailsync.GET("/accounts", h.adminHandler.ListAccounts)
			mailsync.POST("/accounts/:key/watch", h.adminHandler.StartWatch)
			mailsync.DELETE("/accounts/:key/watch", h.adminHandler.StopWatch)
			mailsync.POST("/accounts/:key/poll", h.adminHandler.PollNow)
			mailsync.GET("/search", h.adminHandler.Search)
		}
	}
}
