package routes

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/OFFIS-RIT/kiwi-support/backend/internal/server/middleware"
)

// GetGraphHandler returns node and edge counts of the knowledge graph.
func GetGraphHandler(c echo.Context) error {
	core := c.(*middleware.AppContext).App.Core
	return c.JSON(http.StatusOK, core.GraphStats())
}

// GetGraphExportHandler returns the whole graph as a snapshot document.
func GetGraphExportHandler(c echo.Context) error {
	core := c.(*middleware.AppContext).App.Core
	return c.JSON(http.StatusOK, core.GraphExport())
}
