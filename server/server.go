// Package server hosts the engine's admin HTTP API: health, Prometheus
// metrics, and an events-cleanup trigger, served over echo with the same
// graceful Start/Shutdown shape used by the rest of the engine's
// long-running components.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/colliery-io/cloacina-go/internal/config"
	"github.com/colliery-io/cloacina-go/internal/version"
	"github.com/colliery-io/cloacina-go/store"
)

// Server hosts the admin HTTP API on top of a Store. It is deliberately
// narrow: package compile/inspect/visualize/debug are CLI-only stubs, not
// HTTP routes.
type Server struct {
	cfg   config.ServerConfig
	store *store.Store
	echo  *echo.Echo
}

// NewServer builds a Server wired to st. Call Start to begin serving.
func NewServer(cfg config.ServerConfig, st *store.Store) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.Logger())

	s := &Server{cfg: cfg, store: st, echo: e}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.echo.GET("/healthz", s.handleHealthz)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	s.echo.POST("/admin/cleanup-events", s.handleCleanupEvents)
}

func (s *Server) handleHealthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.String(),
	})
}

// handleCleanupEvents deletes ExecutionEvent rows older than the
// "older_than" query parameter (a Go duration string, e.g. "720h"),
// mirroring the `admin cleanup-events` CLI command for hosts
// that prefer to drive it over HTTP rather than exec into the container.
func (s *Server) handleCleanupEvents(c echo.Context) error {
	olderThan := c.QueryParam("older_than")
	if olderThan == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "older_than query parameter is required")
	}
	d, err := time.ParseDuration(olderThan)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid older_than duration: "+err.Error())
	}
	dryRun := c.QueryParam("dry_run") == "true"

	cutoff := time.Now().UTC().Add(-d)
	n, err := s.store.DeleteExecutionEventsOlderThan(c.Request().Context(), cutoff, dryRun)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{
		"deleted": n,
		"dry_run": dryRun,
		"cutoff":  cutoff,
	})
}

// Start begins serving on the configured unix socket (preferred if set) or
// TCP bind address/port. It blocks until the listener stops; a clean
// Shutdown call returns http.ErrServerClosed.
func (s *Server) Start(_ context.Context) error {
	if s.cfg.UnixSocketPath != "" {
		_ = os.Remove(s.cfg.UnixSocketPath)
		ln, err := net.Listen("unix", s.cfg.UnixSocketPath)
		if err != nil {
			return errors.Wrapf(err, "failed to listen on unix socket %s", s.cfg.UnixSocketPath)
		}
		if perm := s.cfg.UnixSocketPermissions; perm > 0 {
			if err := os.Chmod(s.cfg.UnixSocketPath, os.FileMode(perm)); err != nil {
				return errors.Wrap(err, "failed to set unix socket permissions")
			}
		}
		s.echo.Listener = ln
		return s.echo.StartServer(&http.Server{Handler: s.echo})
	}
	addr := s.cfg.HTTPBindAddress
	if addr == "" {
		addr = "127.0.0.1"
	}
	return s.echo.Start(fmt.Sprintf("%s:%d", addr, s.cfg.HTTPPort))
}

// Shutdown gracefully stops the HTTP server, waiting up to
// cfg.GracefulShutdownTimeoutSecs for in-flight requests to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	timeout := time.Duration(s.cfg.GracefulShutdownTimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "failed to shut down admin HTTP server")
	}
	return nil
}
