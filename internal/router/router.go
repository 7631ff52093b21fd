// Package router wires the HTTP handlers into an echo server.
package router

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/MikhailWahib/stablestore/internal/handler"
	"github.com/MikhailWahib/stablestore/internal/logging"
)

const shutdownTimeout = 5 * time.Second

// New returns an echo instance with the middleware stack and every route
// registered.
func New(h *handler.TicketHandler) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	log := logging.WithComponent("http")
	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
				"request_id", v.RequestID,
			}
			if v.Error != nil {
				log.Warn("request", append(attrs, "error", v.Error)...)
				return nil
			}
			log.Info("request", attrs...)
			return nil
		},
	}))

	RegisterRoutes(e, h)
	return e
}

// RegisterRoutes maps the ticket API onto e.
func RegisterRoutes(e *echo.Echo, h *handler.TicketHandler) {
	e.GET("/health", handler.Health)
	e.GET("/stats", h.Stats)

	g := e.Group("/tickets")
	g.GET("", h.ListTickets)
	g.POST("", h.AddTicket)
	g.GET("/:id", h.GetTicket)
	g.PUT("/:id", h.UpdateTicket)
	g.DELETE("/:id", h.DeleteTicket)
}

// Run serves e on addr until ctx is cancelled, then shuts it down gracefully.
func Run(ctx context.Context, e *echo.Echo, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		logging.Info("http server listening", "addr", addr)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
