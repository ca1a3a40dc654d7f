package server

import (
	"github.com/OFFIS-RIT/kiwi-support/backend/internal/server/middleware"
	"github.com/OFFIS-RIT/kiwi-support/backend/internal/server/routes"

	"github.com/labstack/echo/v4"
)

func RegisterRoutes(e *echo.Echo, limiter echo.MiddlewareFunc) {
	// Health check route
	e.GET("/health", func(c echo.Context) error {
		return c.String(200, "OK")
	})

	apiRoutes := e.Group("/api", limiter)

	// Customer facing routes
	apiRoutes.POST("/chat/knowledge", routes.PostKnowledgeChatHandler)
	apiRoutes.POST("/tickets", routes.CreateTicketHandler)
	apiRoutes.GET("/tickets/:id", routes.GetTicketHandler)

	// Knowledge base administration
	adminRoutes := apiRoutes.Group("/knowledge", middleware.AuthMiddleware)
	adminRoutes.POST("/ingest", routes.PostIngestHandler, middleware.RequirePermission(middleware.PermissionIngest))
	adminRoutes.GET("/ingest/status", routes.GetIngestStatusHandler, middleware.RequirePermission(middleware.PermissionIngest, middleware.PermissionViewQueue))
	adminRoutes.GET("/graph", routes.GetGraphHandler, middleware.RequirePermission(middleware.PermissionViewGraph))
	adminRoutes.GET("/graph/export", routes.GetGraphExportHandler, middleware.RequirePermission(middleware.PermissionViewGraph))
}
