package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/hupe1980/flowmesh/core"
	"github.com/hupe1980/flowmesh/flow"
	"github.com/labstack/echo/v4"
)

func (s *Server) registerFlows(g *echo.Group) {
	g.GET("", s.listFlows)
	g.POST("", s.createFlow)
	g.GET("/:id", s.getFlow)
	g.PUT("/:id", s.replaceFlow)
	g.DELETE("/:id", s.deleteFlow)
	g.GET("/:id/export", s.exportFlow)
	g.PUT("/:id/name", s.renameFlow)
	g.POST("/:id/steps", s.addStep)
	g.PATCH("/:id/steps/:step", s.updateStep)
	g.DELETE("/:id/steps/:step", s.deleteStep)
	g.POST("/:id/connections", s.addConnection)
	g.DELETE("/:id/connections", s.deleteConnection)
	g.POST("/:id/run", s.runFlow)
	g.POST("/:id/cancel", s.cancelFlow)
	g.GET("/:id/status", s.flowStatus)
}

// loadFlow returns the live flow, loading it from the store on first use.
func (s *Server) loadFlow(ctx context.Context, id string) (*flow.Flow, error) {
	s.mu.Lock()
	f, ok := s.flows[id]
	s.mu.Unlock()
	if ok {
		return f, nil
	}
	data, err := s.app.Flows.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	f, err = flow.FromData(data)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if cached, ok := s.flows[id]; ok {
		return cached, nil
	}
	s.flows[id] = f
	return f, nil
}

func (s *Server) saveFlow(ctx context.Context, f *flow.Flow) error {
	s.mu.Lock()
	s.flows[f.ID()] = f
	s.mu.Unlock()
	return s.app.Flows.Save(ctx, f.ID(), f.ToData())
}

// editFlow applies fn through the runner and persists the result.
func (s *Server) editFlow(c echo.Context, fn func(f *flow.Flow) error) (*flow.Flow, error) {
	ctx := c.Request().Context()
	f, err := s.loadFlow(ctx, c.Param("id"))
	if err != nil {
		return nil, err
	}
	if err := s.app.Runner.Edit(f, fn); err != nil {
		return nil, err
	}
	return f, s.saveFlow(ctx, f)
}

func (s *Server) listFlows(c echo.Context) error {
	items, err := s.app.Flows.List(c.Request().Context())
	if err != nil {
		return err
	}
	s.mu.Lock()
	for i, d := range items {
		if live, ok := s.flows[d.ID]; ok {
			items[i] = live.ToData()
		}
	}
	s.mu.Unlock()
	return c.JSON(http.StatusOK, items)
}

func (s *Server) createFlow(c echo.Context) error {
	var d flow.Data
	if err := c.Bind(&d); err != nil {
		return badRequest(err)
	}
	d.ID = ""
	f, err := flow.FromData(d)
	if err != nil {
		return err
	}
	if err := s.saveFlow(c.Request().Context(), f); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, f.ToData())
}

func (s *Server) getFlow(c echo.Context) error {
	f, err := s.loadFlow(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, f.ToData())
}

func (s *Server) replaceFlow(c echo.Context) error {
	id := c.Param("id")
	if _, running := s.app.Runner.Active(id); running {
		return echo.NewHTTPError(http.StatusConflict, fmt.Sprintf("flow %s is running", id))
	}
	var d flow.Data
	if err := c.Bind(&d); err != nil {
		return badRequest(err)
	}
	d.ID = id
	f, err := flow.FromData(d)
	if err != nil {
		return err
	}
	if err := s.saveFlow(c.Request().Context(), f); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, f.ToData())
}

func (s *Server) deleteFlow(c echo.Context) error {
	id := c.Param("id")
	if _, running := s.app.Runner.Active(id); running {
		return echo.NewHTTPError(http.StatusConflict, fmt.Sprintf("flow %s is running", id))
	}
	if err := s.app.Flows.Delete(c.Request().Context(), id); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.flows, id)
	s.mu.Unlock()
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) exportFlow(c echo.Context) error {
	f, err := s.loadFlow(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	b, err := flow.EncodeYAML(f)
	if err != nil {
		return err
	}
	return c.Blob(http.StatusOK, "application/yaml", b)
}

func (s *Server) renameFlow(c echo.Context) error {
	var req struct {
		Name string `json:"name"`
	}
	if err := c.Bind(&req); err != nil {
		return badRequest(err)
	}
	f, err := s.editFlow(c, func(f *flow.Flow) error {
		f.SetName(req.Name)
		return nil
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, f.ToData())
}

func (s *Server) addStep(c echo.Context) error {
	var req struct {
		Type string         `json:"type"`
		X    float64        `json:"x"`
		Y    float64        `json:"y"`
		Data map[string]any `json:"data"`
	}
	if err := c.Bind(&req); err != nil {
		return badRequest(err)
	}
	var step flow.Step
	_, err := s.editFlow(c, func(f *flow.Flow) error {
		var err error
		step, err = f.AddStep(req.Type, req.X, req.Y, req.Data)
		return err
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, step)
}

func (s *Server) updateStep(c echo.Context) error {
	var req struct {
		X         *float64       `json:"x"`
		Y         *float64       `json:"y"`
		Minimized *bool          `json:"isMinimized"`
		Data      map[string]any `json:"data"`
	}
	if err := c.Bind(&req); err != nil {
		return badRequest(err)
	}
	stepID := c.Param("step")
	f, err := s.editFlow(c, func(f *flow.Flow) error {
		cur, ok := f.Step(stepID)
		if !ok {
			return fmt.Errorf("step %s: %w", stepID, core.ErrNotFound)
		}
		if req.X != nil || req.Y != nil {
			x, y := cur.X, cur.Y
			if req.X != nil {
				x = *req.X
			}
			if req.Y != nil {
				y = *req.Y
			}
			if err := f.MoveStep(stepID, x, y); err != nil {
				return err
			}
		}
		if req.Minimized != nil {
			if err := f.SetMinimized(stepID, *req.Minimized); err != nil {
				return err
			}
		}
		if req.Data != nil {
			return f.UpdateStepData(stepID, req.Data)
		}
		return nil
	})
	if err != nil {
		return err
	}
	step, _ := f.Step(stepID)
	return c.JSON(http.StatusOK, step)
}

func (s *Server) deleteStep(c echo.Context) error {
	stepID := c.Param("step")
	if _, err := s.editFlow(c, func(f *flow.Flow) error { return f.DeleteStep(stepID) }); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) addConnection(c echo.Context) error {
	var conn flow.Connection
	if err := c.Bind(&conn); err != nil {
		return badRequest(err)
	}
	if conn.OutputName == "" {
		conn.OutputName = flow.OutputDefault
	}
	_, err := s.editFlow(c, func(f *flow.Flow) error {
		return f.AddConnection(conn.From, conn.To, conn.OutputName)
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, conn)
}

func (s *Server) deleteConnection(c echo.Context) error {
	from, to, output := c.QueryParam("from"), c.QueryParam("to"), c.QueryParam("output")
	if output == "" {
		output = flow.OutputDefault
	}
	_, err := s.editFlow(c, func(f *flow.Flow) error {
		return f.DeleteConnection(from, to, output)
	})
	if err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

type runRequest struct {
	ChatID      string `json:"chatId"`
	AgentID     string `json:"agentId"`
	EntryStepID string `json:"entryStepId"`
}

type runResponse struct {
	FlowID string      `json:"flowId"`
	ChatID string      `json:"chatId"`
	Status flow.Status `json:"status"`
}

func (s *Server) runFlow(c echo.Context) error {
	var req runRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(err)
	}
	ctx := c.Request().Context()
	f, err := s.loadFlow(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	rec, store, err := s.openChat(ctx, req.ChatID, req.AgentID)
	if err != nil {
		return err
	}
	agentID := req.AgentID
	if agentID == "" {
		agentID = rec.AgentID
	}

	// The run outlives the request.
	h, err := s.app.StartFlow(context.WithoutCancel(ctx), f, store, agentID, func(o *flow.RunOptions) {
		o.EntryStepID = req.EntryStepID
	})
	if err != nil {
		return err
	}
	go func() {
		<-h.Done()
		if err := s.saveChat(context.Background(), rec, store); err != nil {
			s.logger.Error("server.chat.save_failed", "chat_id", rec.ID, "error", err.Error())
		}
	}()
	return c.JSON(http.StatusAccepted, runResponse{FlowID: f.ID(), ChatID: rec.ID, Status: h.Run.Status()})
}

func (s *Server) cancelFlow(c echo.Context) error {
	id := c.Param("id")
	if err := s.app.Runner.Cancel(id); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return echo.NewHTTPError(http.StatusConflict, fmt.Sprintf("flow %s is not running", id))
		}
		return err
	}
	return c.NoContent(http.StatusAccepted)
}

func (s *Server) flowStatus(c echo.Context) error {
	id := c.Param("id")
	if _, err := s.loadFlow(c.Request().Context(), id); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s.app.Runner.Status(id))
}
