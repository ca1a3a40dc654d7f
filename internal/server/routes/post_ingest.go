package routes

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/OFFIS-RIT/kiwi-support/backend/internal/server/middleware"
	"github.com/OFFIS-RIT/kiwi-support/backend/pkg/logger"
)

// PostIngestHandler schedules an ingestion of the configured corpus and
// returns immediately.
func PostIngestHandler(c echo.Context) error {
	type ingestBody struct {
		Force bool `json:"force"`
	}

	type ingestResponse struct {
		Message string `json:"message"`
		JobID   string `json:"job_id,omitempty"`
		Force   bool   `json:"force"`
	}

	data := new(ingestBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, ingestResponse{
			Message: "Invalid request body",
		})
	}

	ctx := c.Request().Context()
	appCtx := c.(*middleware.AppContext)

	job, err := appCtx.App.Ingest.DispatchIngest(ctx, data.Force)
	if err != nil {
		logger.Error("Failed to dispatch ingestion", "err", err)
		return c.JSON(http.StatusInternalServerError, ingestResponse{
			Message: "Internal server error",
		})
	}

	logger.Info("Ingestion requested", "job_id", job.JobID, "force", data.Force, "user_id", appCtx.User.UserID)
	return c.JSON(http.StatusAccepted, ingestResponse{
		Message: "Ingestion scheduled",
		JobID:   job.JobID,
		Force:   data.Force,
	})
}

// GetIngestStatusHandler reports the progress of the ingestion running in
// this process.
func GetIngestStatusHandler(c echo.Context) error {
	core := c.(*middleware.AppContext).App.Core
	return c.JSON(http.StatusOK, core.Progress())
}
