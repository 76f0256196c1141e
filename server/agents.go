package server

import (
	"errors"
	"net/http"

	"github.com/hupe1980/flowmesh/agent"
	"github.com/hupe1980/flowmesh/core"
	"github.com/hupe1980/flowmesh/internal/util"
	"github.com/labstack/echo/v4"
)

func (s *Server) registerAgents(g *echo.Group) {
	g.GET("", s.listAgents)
	g.POST("", s.createAgent)
	g.GET("/:id", s.getAgent)
	g.PUT("/:id", s.updateAgent)
	g.DELETE("/:id", s.deleteAgent)
}

// listAgents includes the default agent even when it was never saved.
func (s *Server) listAgents(c echo.Context) error {
	items, err := s.app.Agents.List(c.Request().Context())
	if err != nil {
		return err
	}
	for _, a := range items {
		if a.ID == agent.DefaultID {
			return c.JSON(http.StatusOK, items)
		}
	}
	return c.JSON(http.StatusOK, append([]agent.Agent{agent.Default()}, items...))
}

func (s *Server) createAgent(c echo.Context) error {
	var a agent.Agent
	if err := c.Bind(&a); err != nil {
		return badRequest(err)
	}
	if a.ID == "" {
		a.ID = util.NewID()
	}
	if err := a.Validate(); err != nil {
		return badRequest(err)
	}
	if err := s.app.Agents.Save(c.Request().Context(), a.ID, a); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, a)
}

func (s *Server) getAgent(c echo.Context) error {
	a, err := s.app.Agent(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}

func (s *Server) updateAgent(c echo.Context) error {
	var a agent.Agent
	if err := c.Bind(&a); err != nil {
		return badRequest(err)
	}
	a.ID = c.Param("id")
	if err := a.Validate(); err != nil {
		return badRequest(err)
	}
	if err := s.app.Agents.Save(c.Request().Context(), a.ID, a); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}

func (s *Server) deleteAgent(c echo.Context) error {
	err := s.app.Agents.Delete(c.Request().Context(), c.Param("id"))
	if err != nil && !(c.Param("id") == agent.DefaultID && errors.Is(err, core.ErrNotFound)) {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
