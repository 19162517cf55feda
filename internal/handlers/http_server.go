package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"channelpass/internal/monitoring"
	"channelpass/internal/security"
)

// HealthReporter exposes the numbers /healthz reports
type HealthReporter interface {
	Len() int
}

// NewRouter builds the HTTP surface: health, metrics and, when
// webhookSecret is set, the Telegram webhook endpoint
func NewRouter(dispatcher *Dispatcher, webhookSecret string, health HealthReporter, logger *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(logger), monitoring.GinMiddleware())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":           "ok",
			"pending_invoices": health.Len(),
		})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if webhookSecret != "" {
		router.POST("/webhook/:secret", webhookHandler(dispatcher, webhookSecret, logger))
	}
	return router
}

// webhookHandler accepts updates pushed by Telegram. Any path secret other
// than the configured one gets a 404 so the endpoint cannot be probed.
func webhookHandler(dispatcher *Dispatcher, secret string, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !security.SecretsEqual(secret, c.Param("secret")) {
			c.Status(http.StatusNotFound)
			return
		}

		var update tgbotapi.Update
		if err := c.ShouldBindJSON(&update); err != nil {
			logger.Warn("malformed webhook update", zap.Error(err))
			c.JSON(http.StatusBadRequest, gin.H{"error": "malformed update"})
			return
		}

		dispatcher.Dispatch(c.Request.Context(), update)
		c.Status(http.StatusOK)
	}
}

// RequestLogger logs each request with its status and latency
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

// NewHTTPServer wraps router in an http.Server with the usual timeouts
func NewHTTPServer(addr string, router http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}
