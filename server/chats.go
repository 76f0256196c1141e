package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/hupe1980/flowmesh/chat"
	"github.com/hupe1980/flowmesh/core"
	"github.com/hupe1980/flowmesh/internal/util"
	"github.com/hupe1980/flowmesh/message"
	"github.com/hupe1980/flowmesh/runner"
	"github.com/labstack/echo/v4"
)

func (s *Server) registerChats(g *echo.Group) {
	g.GET("", s.listChats)
	g.POST("", s.createChat)
	g.GET("/:id", s.getChat)
	g.DELETE("/:id", s.deleteChat)
	g.POST("/:id/messages", s.sendMessage)
	g.POST("/:id/cancel", s.cancelTurn)
	g.POST("/:id/messages/:msg/alternatives", s.regenerate)
	g.PUT("/:id/messages/:msg/active", s.setActiveAlternative)
}

// openChat loads a chat and its live message store. An empty id creates a
// new chat owned by agentID.
func (s *Server) openChat(ctx context.Context, id, agentID string) (*chat.Record, *message.Store, error) {
	if id == "" {
		rec := &chat.Record{ID: util.NewID(), AgentID: agentID}
		store := message.NewStore(func(o *message.StoreOptions) { o.Logger = s.logger })
		s.mu.Lock()
		s.chats[rec.ID] = store
		s.mu.Unlock()
		return rec, store, s.saveChat(ctx, rec, store)
	}

	loaded, err := s.app.Chats.Load(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	rec := &loaded

	s.mu.Lock()
	defer s.mu.Unlock()
	if store, ok := s.chats[id]; ok {
		return rec, store, nil
	}
	store, err := rec.Restore(func(o *message.StoreOptions) { o.Logger = s.logger })
	if err != nil {
		return nil, nil, err
	}
	s.chats[id] = store
	return rec, store, nil
}

func (s *Server) saveChat(ctx context.Context, rec *chat.Record, store *message.Store) error {
	rec.Capture(store)
	return s.app.Chats.Save(ctx, rec.ID, *rec)
}

func (s *Server) listChats(c echo.Context) error {
	items, err := s.app.Chats.List(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, items)
}

func (s *Server) createChat(c echo.Context) error {
	var req struct {
		Title   string `json:"title"`
		AgentID string `json:"agentId"`
	}
	if err := c.Bind(&req); err != nil {
		return badRequest(err)
	}
	ctx := c.Request().Context()
	if req.AgentID != "" {
		if _, err := s.app.Agent(ctx, req.AgentID); err != nil {
			return err
		}
	}
	rec, store, err := s.openChat(ctx, "", req.AgentID)
	if err != nil {
		return err
	}
	if req.Title != "" {
		rec.Title = req.Title
		if err := s.saveChat(ctx, rec, store); err != nil {
			return err
		}
	}
	return c.JSON(http.StatusCreated, rec)
}

func (s *Server) getChat(c echo.Context) error {
	rec, store, err := s.openChat(c.Request().Context(), c.Param("id"), "")
	if err != nil {
		return err
	}
	rec.Capture(store)
	return c.JSON(http.StatusOK, rec)
}

func (s *Server) deleteChat(c echo.Context) error {
	id := c.Param("id")
	s.app.Runner.CancelTurn(id)
	if err := s.app.Chats.Delete(c.Request().Context(), id); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.chats, id)
	s.mu.Unlock()
	return c.NoContent(http.StatusNoContent)
}

type alternativeResponse struct {
	Index int    `json:"index"`
	Count int    `json:"count"`
	Label string `json:"label"`
}

type turnResponse struct {
	Chat        *chat.Record         `json:"chat"`
	Iterations  int                  `json:"iterations"`
	Alternative *alternativeResponse `json:"alternative,omitempty"`
	Error       string               `json:"error,omitempty"`
}

// sendMessage appends a user message and drives one turn. Partial results
// of a failed turn are kept and reported alongside the error.
func (s *Server) sendMessage(c echo.Context) error {
	var req struct {
		Content string `json:"content"`
		AgentID string `json:"agentId"`
	}
	if err := c.Bind(&req); err != nil {
		return badRequest(err)
	}
	if req.Content == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content required")
	}
	ctx := c.Request().Context()
	rec, store, err := s.openChat(ctx, c.Param("id"), "")
	if err != nil {
		return err
	}
	agentID := req.AgentID
	if agentID == "" {
		agentID = rec.AgentID
	}

	turn, turnErr := s.app.ChatTurn(ctx, rec.ID, agentID, store, req.Content, nil)
	return s.turnResult(c, rec, store, turn, turnErr, http.StatusOK, nil)
}

// turnResult saves the chat and reports a finished turn. A conversation
// owned by another writer is rejected before anything changed.
func (s *Server) turnResult(
	c echo.Context,
	rec *chat.Record,
	store *message.Store,
	turn *chat.Turn,
	turnErr error,
	code int,
	alt *message.Alternative,
) error {
	if errors.Is(turnErr, runner.ErrAlreadyRunning) || errors.Is(turnErr, core.ErrNotFound) {
		return turnErr
	}
	if err := s.saveChat(context.WithoutCancel(c.Request().Context()), rec, store); err != nil {
		return err
	}
	resp := turnResponse{Chat: rec}
	if turn != nil {
		resp.Iterations = turn.Iterations
	}
	if alt != nil && alt.Count > 0 {
		resp.Alternative = &alternativeResponse{Index: alt.Index, Count: alt.Count, Label: alt.String()}
	}
	if turnErr != nil {
		resp.Error = turnErr.Error()
		code = http.StatusBadGateway
		if errors.Is(turnErr, context.Canceled) {
			code = http.StatusConflict
		}
	}
	return c.JSON(code, resp)
}

func (s *Server) cancelTurn(c echo.Context) error {
	if !s.app.Runner.CancelTurn(c.Param("id")) {
		return echo.NewHTTPError(http.StatusConflict, "no turn in progress")
	}
	return c.NoContent(http.StatusAccepted)
}

// regenerate adds an alternative to a message and regenerates everything
// after it. Content replaces a user message; assistant messages are
// answered again by the model.
func (s *Server) regenerate(c echo.Context) error {
	var req struct {
		Content string `json:"content"`
		AgentID string `json:"agentId"`
	}
	if err := c.Bind(&req); err != nil {
		return badRequest(err)
	}
	ctx := c.Request().Context()
	rec, store, err := s.openChat(ctx, c.Param("id"), "")
	if err != nil {
		return err
	}
	agentID := req.AgentID
	if agentID == "" {
		agentID = rec.AgentID
	}

	turn, alt, turnErr := s.app.Regenerate(ctx, rec.ID, agentID, store, c.Param("msg"), req.Content, nil)
	return s.turnResult(c, rec, store, turn, turnErr, http.StatusCreated, &alt)
}

func (s *Server) setActiveAlternative(c echo.Context) error {
	var req struct {
		Index *int `json:"index"`
	}
	if err := c.Bind(&req); err != nil {
		return badRequest(err)
	}
	if req.Index == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "index required")
	}
	ctx := c.Request().Context()
	rec, store, err := s.openChat(ctx, c.Param("id"), "")
	if err != nil {
		return err
	}
	if err := s.app.SetActiveAlternative(rec.ID, store, c.Param("msg"), *req.Index); err != nil {
		return err
	}
	if err := s.saveChat(ctx, rec, store); err != nil {
		return err
	}
	msg, ok := store.Get(c.Param("msg"))
	if !ok {
		return core.ErrNotFound
	}
	return c.JSON(http.StatusOK, msg)
}
