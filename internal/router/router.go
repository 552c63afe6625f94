package router

import (
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"stoflow/internal/dispatch"
	"stoflow/internal/handler/api"
	"stoflow/internal/marketplace"
	"stoflow/internal/middleware"
	"stoflow/internal/relay"
	"stoflow/internal/repository"
)

// Setup configures all routes for the Echo server.
func Setup(
	e *echo.Echo,
	db *gorm.DB,
	registry *marketplace.Registry,
	hub *relay.Hub,
	pauser dispatch.Pauser,
	logger *zap.Logger,
	apiKey string,
) {
	// Global middleware
	e.Use(echomw.Recover())
	e.Use(middleware.CORS())

	// Repositories
	repos := &api.Repos{
		Job:        repository.NewJobRepository(db),
		Batch:      repository.NewBatchRepository(db),
		Credential: repository.NewCredentialRepository(db),
	}

	// Handlers
	jobHandler := api.NewJobHandler(repos, registry, logger)
	tenantHandler := api.NewTenantHandler(pauser, logger)

	// API group with auth middleware
	apiGroup := e.Group("/api")
	apiGroup.Use(middleware.APIAuth(apiKey))

	apiGroup.POST("/jobs", jobHandler.Enqueue)
	apiGroup.GET("/jobs/:id", jobHandler.Get)
	apiGroup.POST("/jobs/:id/cancel", jobHandler.Cancel)
	apiGroup.POST("/batches", jobHandler.EnqueueBatch)
	apiGroup.GET("/batches/:id", jobHandler.GetBatch)
	apiGroup.POST("/tenants/:id/resume", tenantHandler.Resume)
	apiGroup.GET("/tenants/:id/status", tenantHandler.Status)

	// Browser extension relay endpoint. Authenticated by the extension's
	// session token, validated upstream by the gateway.
	e.GET("/ws/extension", hub.HandleConnection)

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(200, map[string]string{"status": "ok"})
	})
}
