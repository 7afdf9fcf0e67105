package server

import (
	"github.com/OFFIS-RIT/ingest/backend/internal/server/middleware"
	"github.com/OFFIS-RIT/ingest/backend/internal/server/routes"

	"github.com/labstack/echo/v4"
)

func RegisterRoutes(e *echo.Echo) {
	// Health check route
	e.GET("/health", func(c echo.Context) error {
		return c.String(200, "OK")
	})

	apiRoutes := e.Group("/api", middleware.AuthMiddleware)

	// File routes
	apiRoutes.POST("/files", routes.UploadFileHandler, middleware.RequirePermission("file.upload"))
	apiRoutes.GET("/files/:id", routes.GetFileHandler)
	apiRoutes.GET("/files/:id/content", routes.GetFileContentHandler)
	apiRoutes.GET("/files/:id/download", routes.GetFileDownloadHandler)
	apiRoutes.POST("/files/:id/process", routes.ProcessFileHandler, middleware.RequirePermission("file.process"))

	// Session routes
	apiRoutes.GET("/files/:id/sessions", routes.GetFileSessionsHandler)
	apiRoutes.POST("/sessions/:id/cancel", routes.CancelSessionHandler, middleware.RequirePermission("session.cancel"))

	// Graph routes
	apiRoutes.GET("/files/:id/relationships", routes.GetFileRelationshipsHandler)
	apiRoutes.GET("/files/:id/neighborhood", routes.GetFileNeighborhoodHandler)
	apiRoutes.POST("/relationships", routes.CreateRelationshipHandler, middleware.RequirePermission("relationship.create"))

	// Tag routes
	apiRoutes.GET("/files/:id/tags", routes.GetFileTagsHandler)
	apiRoutes.POST("/files/:id/tags", routes.AddFileTagHandler, middleware.RequirePermission("tag.create"))
	apiRoutes.GET("/tags/:name/files", routes.GetFilesByTagHandler)
}
