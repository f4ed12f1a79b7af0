package api

import (
	"net/http"
	"time"

	authDelivery "agency-crm-backend/internal/auth/delivery"
	authRepo "agency-crm-backend/internal/auth/repository"
	authUsecase "agency-crm-backend/internal/auth/usecase"
	mailsyncDelivery "agency-crm-backend/internal/mailsync/delivery"
	"agency-crm-backend/pkg/sse"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type Handler struct {
	validator      authUsecase.TokenValidator
	sseManager     *sse.Manager
	fcmHandler     *authDelivery.FCMHandler
	webhookHandler *mailsyncDelivery.WebhookHandler
	adminHandler   *mailsyncDelivery.AdminHandler
}

func NewHandler(
	validator authUsecase.TokenValidator,
	sseManager *sse.Manager,
	fcmTokens authRepo.FCMTokenRepository,
	dispatcher mailsyncDelivery.Dispatcher,
	pipelines mailsyncDelivery.PipelineController,
	searcher mailsyncDelivery.MessageSearcher,
) *Handler {
	return &Handler{
		validator:      validator,
		sseManager:     sseManager,
		fcmHandler:     authDelivery.NewFCMHandler(fcmTokens),
		webhookHandler: mailsyncDelivery.NewWebhookHandler(dispatcher),
		adminHandler:   mailsyncDelivery.NewAdminHandler(pipelines, searcher),
	}
}

// Router builds the gin engine with CORS and all routes.
func (h *Handler) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	// CORS middleware
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin != "" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		} else {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		}

		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE, PATCH")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	SetupRoutes(r, h)
	return r
}

// NewServer wraps the router in an http.Server so main can shut it down.
func (h *Handler) NewServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		// SSE streams would log once per disconnect; skip them.
		if c.FullPath() == "/api/events" || c.FullPath() == "/api/events/observe" {
			return
		}
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("[HTTP] request")
	}
}
