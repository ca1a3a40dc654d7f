package routes

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/OFFIS-RIT/kiwi-support/backend/internal/server/middleware"
	"github.com/OFFIS-RIT/kiwi-support/backend/internal/tickets"
	"github.com/OFFIS-RIT/kiwi-support/backend/pkg/logger"
)

// CreateTicketHandler files a support ticket.
func CreateTicketHandler(c echo.Context) error {
	type createTicketResponse struct {
		TicketID string `json:"ticketId,omitempty"`
		Status   string `json:"status"`
		Message  string `json:"message"`
	}

	data := new(tickets.NewTicket)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, createTicketResponse{
			Status:  "error",
			Message: "Invalid request body",
		})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, createTicketResponse{
			Status:  "error",
			Message: "Invalid request body",
		})
	}

	store := c.(*middleware.AppContext).App.Tickets
	ticket, err := store.Create(c.Request().Context(), *data)
	if err != nil {
		logger.Error("Failed to create ticket", "err", err)
		return c.JSON(http.StatusInternalServerError, createTicketResponse{
			Status:  "error",
			Message: "Error creating ticket",
		})
	}

	logger.Info("Created ticket", "ticket_id", ticket.TicketID, "urgency", ticket.Urgency)
	return c.JSON(http.StatusOK, createTicketResponse{
		TicketID: ticket.TicketID,
		Status:   "created",
		Message:  "Ticket created successfully",
	})
}

func GetTicketHandler(c echo.Context) error {
	store := c.(*middleware.AppContext).App.Tickets
	ticket, err := store.Get(c.Request().Context(), c.Param("id"))
	if errors.Is(err, tickets.ErrNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Ticket not found"})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}
	return c.JSON(http.StatusOK, ticket)
}
