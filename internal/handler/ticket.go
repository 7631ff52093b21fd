// Package handler contains the HTTP handlers of the ticket API.
package handler

import (
	"errors"
	"net/http"
	"os"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/MikhailWahib/stablestore/internal/btree"
	"github.com/MikhailWahib/stablestore/internal/engine"
	"github.com/MikhailWahib/stablestore/internal/logging"
	"github.com/MikhailWahib/stablestore/internal/record"
	"github.com/MikhailWahib/stablestore/internal/ticket"
)

// TicketService is the set of operations the handlers call.
type TicketService interface {
	GetTicket(id uint64) (record.Ticket, error)
	AddTicket(p record.Payload) (record.Ticket, error)
	UpdateTicket(id uint64, p record.Payload) (record.Ticket, error)
	DeleteTicket(id uint64) (record.Ticket, error)
	ListTickets(from uint64, limit int) ([]record.Ticket, error)
	Stats() (engine.Stats, error)
}

// AbortFunc is called with every storage failure after the response is
// written. It is expected not to return.
type AbortFunc func(err error)

// ExitOnStorageFailure logs err and exits the process.
func ExitOnStorageFailure(err error) {
	logging.Error("storage failure, aborting", "error", err)
	os.Exit(1)
}

// TicketHandler serves the /tickets routes.
type TicketHandler struct {
	Tickets TicketService
	Abort   AbortFunc
}

// NewTicketHandler returns a handler for svc. A nil abort selects
// ExitOnStorageFailure.
func NewTicketHandler(svc TicketService, abort AbortFunc) *TicketHandler {
	if abort == nil {
		abort = ExitOnStorageFailure
	}
	return &TicketHandler{Tickets: svc, Abort: abort}
}

// GetTicket handles GET /tickets/:id.
func (h *TicketHandler) GetTicket(c echo.Context) error {
	id, ok := parseID(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid id"})
	}
	t, err := h.Tickets.GetTicket(id)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, t)
}

// AddTicket handles POST /tickets.
func (h *TicketHandler) AddTicket(c echo.Context) error {
	var p record.Payload
	if err := c.Bind(&p); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	t, err := h.Tickets.AddTicket(p)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, t)
}

// UpdateTicket handles PUT /tickets/:id.
func (h *TicketHandler) UpdateTicket(c echo.Context) error {
	id, ok := parseID(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid id"})
	}
	var p record.Payload
	if err := c.Bind(&p); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	t, err := h.Tickets.UpdateTicket(id, p)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, t)
}

// DeleteTicket handles DELETE /tickets/:id and returns the removed ticket.
func (h *TicketHandler) DeleteTicket(c echo.Context) error {
	id, ok := parseID(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid id"})
	}
	t, err := h.Tickets.DeleteTicket(id)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, t)
}

// ListTickets handles GET /tickets?from=&limit=.
func (h *TicketHandler) ListTickets(c echo.Context) error {
	var (
		from  uint64
		limit int
		err   error
	)
	if v := c.QueryParam("from"); v != "" {
		if from, err = strconv.ParseUint(v, 10, 64); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid from"})
		}
	}
	if v := c.QueryParam("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid limit"})
		}
	}
	tickets, err := h.Tickets.ListTickets(from, limit)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, tickets)
}

// Stats handles GET /stats.
func (h *TicketHandler) Stats(c echo.Context) error {
	stats, err := h.Tickets.Stats()
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, stats)
}

func parseID(c echo.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	return id, err == nil
}

// fail maps service errors to responses. Storage failures end in Abort.
func (h *TicketHandler) fail(c echo.Context, err error) error {
	var nf *ticket.NotFoundError
	switch {
	case errors.As(err, &nf):
		return c.JSON(http.StatusNotFound, map[string]string{"error": nf.Msg})
	case errors.Is(err, record.ErrCapacityExceeded),
		errors.Is(err, btree.ErrValueTooLarge),
		errors.Is(err, record.ErrInvalidPayload):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, engine.ErrClosed):
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "store is closed"})
	}

	logging.Error("request failed on storage", "error", err, "path", c.Path())
	werr := c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal storage failure"})
	if werr == nil {
		c.Response().Flush()
	}
	h.Abort(err)
	return werr
}
