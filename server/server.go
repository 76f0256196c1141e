package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/hupe1980/flowmesh"
	"github.com/hupe1980/flowmesh/core"
	"github.com/hupe1980/flowmesh/flow"
	"github.com/hupe1980/flowmesh/logging"
	"github.com/hupe1980/flowmesh/message"
	"github.com/hupe1980/flowmesh/model"
	"github.com/hupe1980/flowmesh/runner"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Server is the HTTP API of an App.
type Server struct {
	app    *flowmesh.App
	echo   *echo.Echo
	logger logging.Logger

	mu    sync.Mutex
	flows map[string]*flow.Flow
	chats map[string]*message.Store
}

// New builds the API and registers every route.
func New(app *flowmesh.App) *Server {
	logger := core.EnsureLogger(app.Logger)
	if fl, ok := logger.(*logging.FlowMeshLogger); ok {
		logger = fl.WithComponent("server")
	}
	s := &Server{
		app:    app,
		echo:   echo.New(),
		logger: logger,
		flows:  make(map[string]*flow.Flow),
		chats:  make(map[string]*message.Store),
	}
	e := s.echo
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = s.handleError

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(app.Metrics.Handler()))

	api := e.Group("/api")
	api.GET("/config", s.getConfig)
	api.GET("/tools", s.listTools)
	api.GET("/kinds", s.listKinds)
	api.GET("/models", s.listModels)
	s.registerFlows(api.Group("/flows"))
	s.registerChats(api.Group("/chats"))
	s.registerAgents(api.Group("/agents"))
	return s
}

// Handler returns the root handler, e.g. for httptest.
func (s *Server) Handler() http.Handler { return s.echo }

// Start listens on addr until ctx is canceled.
func (s *Server) Start(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server.listening", "address", addr)
		errCh <- s.echo.Start(addr)
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		s.logger.Info("server.shutdown")
		return s.echo.Shutdown(context.Background())
	}
}

func (s *Server) handleError(err error, c echo.Context) {
	code := statusOf(err)
	msg := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		if he.Message != nil {
			msg = fmt.Sprint(he.Message)
		}
	}
	req := c.Request()
	if code >= http.StatusInternalServerError {
		s.logger.Error("server.request.failed", "status", code, "method", req.Method, "path", req.URL.Path, "error", msg)
	} else {
		s.logger.Debug("server.request.rejected", "status", code, "method", req.Method, "path", req.URL.Path, "error", msg)
	}
	if !c.Response().Committed {
		_ = c.JSON(code, map[string]any{"error": msg})
	}
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, runner.ErrAlreadyRunning):
		return http.StatusConflict
	case errors.Is(err, core.ErrInvalidConnection),
		errors.Is(err, core.ErrOutOfRange),
		errors.Is(err, flow.ErrUnknownStepType):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func badRequest(err error) error {
	return echo.NewHTTPError(http.StatusBadRequest, err.Error())
}

func (s *Server) getConfig(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"mcp_endpoint": s.app.Config.MCP.Endpoint})
}

func (s *Server) listTools(c echo.Context) error {
	infos, err := s.app.Tools.Tools(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, infos)
}

type kindResponse struct {
	Type     string         `json:"type"`
	Title    string         `json:"title"`
	Outputs  []string       `json:"outputs"`
	Defaults map[string]any `json:"defaults"`
}

func (s *Server) listKinds(c echo.Context) error {
	kinds := flow.Kinds()
	out := make([]kindResponse, 0, len(kinds))
	for _, k := range kinds {
		out = append(out, kindResponse{Type: k.Type(), Title: k.Title(), Outputs: k.Outputs(), Defaults: k.Defaults()})
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) listModels(c echo.Context) error {
	ids := []string{s.app.Model.Info().Name}
	if l, ok := s.app.Model.(model.Lister); ok {
		listed, err := l.ListModels(c.Request().Context())
		if err != nil {
			return err
		}
		ids = listed
	}
	return c.JSON(http.StatusOK, map[string]any{"models": ids})
}
