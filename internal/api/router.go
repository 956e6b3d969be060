package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/woodmarket/orderflow/internal/api/handlers"
	"github.com/woodmarket/orderflow/internal/api/middleware"
	"github.com/woodmarket/orderflow/internal/config"
	"github.com/woodmarket/orderflow/internal/repository"
)

const requestIDHeader = "X-Request-ID"

// NewRouter creates and configures the Gin router
func NewRouter(cfg *config.Config, repos *repository.Repositories, svc handlers.WorkflowAPI, logger *zap.Logger) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Middleware
	router.Use(requestID())
	router.Use(customRecovery(logger))
	router.Use(loggingMiddleware(logger))

	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"service": "Order Workflow API",
			"endpoints": []string{
				"GET /health",
				"GET /v1/orders/:type/:id/workflow",
				"GET /v1/orders/:type/:id/tracking",
				"GET /v1/orders/:type/:id/audit",
				"POST /v1/orders/:type/:id/actions/:action",
				"POST /v1/orders/:type/:id/deposits/:number/pay",
				"POST /v1/orders/:type/:id/shipments/:leg",
				"POST /v1/orders/:type/:id/finish",
				"POST /v1/orders/:type/:id/feedback",
				"POST /v1/orders/:type/:id/review",
				"POST /v1/orders/:type/:id/complaint-response",
			},
		})
	})

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	v1 := router.Group("/v1")
	{
		orders := v1.Group("/orders/:type/:id")
		orders.Use(middleware.ActorMiddleware(logger))
		orders.Use(middleware.IdempotencyMiddleware(repos, logger))
		{
			orders.GET("/workflow", handlers.HandleGetWorkflow(svc, logger))
			orders.GET("/tracking", handlers.HandleGetTracking(svc, logger))
			orders.GET("/audit", handlers.HandleGetAudit(svc, logger))

			orders.POST("/actions/:action", handlers.HandleAdvance(svc, logger))
			orders.POST("/deposits/:number/pay", handlers.HandlePayDeposit(svc, logger))
			orders.POST("/shipments/:leg", handlers.HandleCreateShipment(svc, logger))
			orders.POST("/finish", handlers.HandleMarkFinished(svc, logger))
			orders.POST("/feedback", handlers.HandleSendFeedback(svc, logger))
			orders.POST("/review", handlers.HandleCreateReview(svc, logger))
			orders.POST("/complaint-response", handlers.HandleRespondToComplaint(svc, logger))
		}
	}

	return router
}

// requestID tags every request with an id, reusing the caller's when present
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// customRecovery is a custom recovery middleware that logs panics
func customRecovery(logger *zap.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logger.Error("Panic recovered",
			zap.Any("error", recovered),
			zap.String("path", c.Request.URL.Path),
			zap.String("method", c.Request.Method),
			zap.String("request_id", c.GetString("request_id")),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal server error",
			"details": fmt.Sprintf("%v", recovered),
		})
	})
}

// loggingMiddleware logs HTTP requests
func loggingMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		status := c.Writer.Status()
		logger.Info("HTTP request",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("request_id", c.GetString("request_id")),
		)
	}
}
