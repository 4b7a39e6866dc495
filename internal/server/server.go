// Package server exposes the session loop over HTTP.
package server

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sift-labs/sift/config"
	"github.com/sift-labs/sift/internal/agent/core"
	"github.com/sift-labs/sift/internal/agent/telemetry"
	"github.com/sift-labs/sift/internal/session"
	"github.com/sift-labs/sift/internal/store"
)

// Server wires the HTTP surface. Store is optional; without it the API runs
// open, with it the session routes require a signed-in user.
type Server struct {
	echo     *echo.Echo
	cfg      config.ServerConfig
	sessions *session.Service
	store    *store.Store
	metrics  *telemetry.Telemetry
	logger   *log.Logger
}

// New builds the server and registers all routes.
func New(cfg config.ServerConfig, sessions *session.Service, st *store.Store, metrics *telemetry.Telemetry, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(log.Writer(), "[SERVER] ", log.LstdFlags)
	}
	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = errorHandler(logger)
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	if len(cfg.AllowedOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins:     cfg.AllowedOrigins,
			AllowCredentials: true,
		}))
	}

	s := &Server{echo: e, cfg: cfg, sessions: sessions, store: st, metrics: metrics, logger: logger}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.echo.GET("/healthz", s.health)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := s.echo.Group("/api")
	if s.store != nil {
		auth := newAuthHandler(s.store, s.cfg.JWTSecret, s.logger)
		api.POST("/auth/signup", auth.signup)
		api.POST("/auth/login", auth.login)
		api.Use(auth.require)
	}
	api.POST("/sessions", s.createSession)
	api.GET("/sessions/:id", s.getSession)
	api.POST("/sessions/:id/clarification", s.answerClarification)
	api.GET("/stats", s.stats)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr(),
		Handler:      s.echo,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Printf("listening on %s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

type createSessionRequest struct {
	Query string `json:"query"`
}

func (s *Server) createSession(c echo.Context) error {
	var req createSessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	sess, err := s.sessions.Start(c.Request().Context(), req.Query)
	if err != nil {
		return err
	}
	s.persist(c.Request().Context(), c, sess)

	status := http.StatusCreated
	if sess.Status == session.StatusClarifying {
		status = http.StatusAccepted
	}
	return c.JSON(status, sess)
}

func (s *Server) getSession(c echo.Context) error {
	sess, ok := s.sessions.Get(c.Param("id"))
	if !ok {
		return core.NotFoundError{Kind: "session", Name: c.Param("id")}
	}
	return c.JSON(http.StatusOK, sess)
}

func (s *Server) answerClarification(c echo.Context) error {
	var resp core.ClarificationResponse
	if err := c.Bind(&resp); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	sess, err := s.sessions.Resume(c.Request().Context(), c.Param("id"), resp)
	if err != nil {
		return err
	}
	s.persist(c.Request().Context(), c, sess)
	return c.JSON(http.StatusOK, sess)
}

func (s *Server) stats(c echo.Context) error {
	if s.metrics == nil {
		return c.JSON(http.StatusOK, telemetry.Snapshot{})
	}
	return c.JSON(http.StatusOK, s.metrics.Current())
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// persist snapshots the session for the signed-in user. Best effort.
func (s *Server) persist(ctx context.Context, c echo.Context, sess *session.Session) {
	if s.store == nil {
		return
	}
	userID, _ := c.Get(userIDKey).(string)
	rec, err := sessionRecord(sess, userID)
	if err != nil {
		s.logger.Printf("encoding session %s for storage: %v", sess.ID, err)
		return
	}
	if err := s.store.SaveSession(ctx, rec); err != nil {
		s.logger.Printf("persisting session %s: %v", sess.ID, err)
	}
}

// errorHandler maps the domain error taxonomy onto status codes.
func errorHandler(logger *log.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		status := http.StatusInternalServerError
		message := "internal error"
		switch {
		case core.IsNotFound(err):
			status = http.StatusNotFound
			message = err.Error()
		case core.IsValidation(err):
			status = http.StatusBadRequest
			message = err.Error()
		default:
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
				if m, ok := he.Message.(string); ok {
					message = m
				}
			} else {
				logger.Printf("unhandled error: %v", err)
			}
		}
		_ = c.JSON(status, map[string]string{"error": message})
	}
}
