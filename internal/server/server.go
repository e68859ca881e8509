// Package server exposes the reconcile trigger over HTTP and on a timer.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	appfsm "github.com/nightshift/droplet-scheduler/pkg/fsm"
	"github.com/nightshift/droplet-scheduler/pkg/errors"
	"github.com/nightshift/droplet-scheduler/pkg/metrics"
)

// Reconciler runs one reconcile invocation.
type Reconciler interface {
	Reconcile(ctx context.Context) (*appfsm.Result, error)
}

// HTTPServer serves the invoke trigger, health and metrics.
type HTTPServer struct {
	echo       *echo.Echo
	reconciler Reconciler
	// ctx bounds reconciles so a client disconnect does not abort a run
	// half way through a shutdown.
	ctx context.Context
}

// NewHTTPServer creates the server. Reconciles triggered over HTTP run under
// ctx rather than the request context.
func NewHTTPServer(ctx context.Context, r Reconciler) *HTTPServer {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &HTTPServer{echo: e, reconciler: r, ctx: ctx}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			slog.Info("http_request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
				"request_id", v.RequestID,
			)
			return nil
		},
	}))

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))
	e.POST("/invoke", s.invoke)

	return s
}

func (s *HTTPServer) invoke(c echo.Context) error {
	result, err := s.reconciler.Reconcile(s.ctx)
	switch {
	case errors.Is(err, appfsm.ErrRunInProgress):
		return c.JSON(http.StatusConflict, appfsm.TriggerResponse{
			StatusCode: http.StatusConflict,
			Body:       map[string]any{"error": err.Error()},
		})
	case err != nil:
		body := map[string]any{"error": err.Error()}
		if result != nil {
			body["run_id"] = result.RunID
		}
		return c.JSON(http.StatusInternalServerError, appfsm.TriggerResponse{
			StatusCode: http.StatusInternalServerError,
			Body:       body,
		})
	}
	return c.JSON(http.StatusOK, appfsm.OK())
}

// Handler returns the underlying HTTP handler.
func (s *HTTPServer) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server on the given address.
func (s *HTTPServer) Start(addr string) error {
	slog.Info("http_server_listening", "addr", addr)
	return s.echo.Start(addr)
}

// Shutdown gracefully stops the server.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// RunTicker calls Reconcile every interval until ctx is done. An interval of
// zero or less disables it.
func RunTicker(ctx context.Context, r Reconciler, interval time.Duration) {
	if interval <= 0 {
		slog.Info("ticker_disabled")
		return
	}
	slog.Info("ticker_started", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("ticker_stopped")
			return
		case <-ticker.C:
			if _, err := r.Reconcile(ctx); err != nil {
				if errors.Is(err, appfsm.ErrRunInProgress) {
					slog.Info("ticker_skipped_run_in_progress")
					continue
				}
				slog.Error("ticker_reconcile_failed", "error", err)
			}
		}
	}
}
