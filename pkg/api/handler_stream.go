package api

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"

	"github.com/parleyhq/parley/pkg/agent"
	"github.com/parleyhq/parley/pkg/chatstore"
	"github.com/parleyhq/parley/pkg/conversation"
	"github.com/parleyhq/parley/pkg/sse"
)

const (
	// heartbeatInterval keeps idle SSE connections alive through proxies.
	heartbeatInterval = 15 * time.Second

	// persistTimeout bounds the post-stream write, which runs detached from
	// the request context.
	persistTimeout = 10 * time.Second

	// titleMaxRunes caps the auto-derived thread title.
	titleMaxRunes = 80
)

// newID allocates a time-ordered id for persisted records.
func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// streamChatHandler handles POST /api/v1/chat/stream.
// Runs one conversation turn as an SSE stream and persists the exchange
// after the stream terminates.
func (s *Server) streamChatHandler(c *echo.Context) error {
	// 1. Bind and validate before any headers are committed
	var req StreamChatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := req.Validate(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	// 2. Resolve the agent; an unknown type is a pre-stream 400
	agentType := req.AgentType
	if agentType == "" {
		agentType = "normal"
	}
	name, ok := s.entrypoints[agentType]
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown agent_type "+agentType)
	}
	a, err := s.registry.Get(name)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "agent unavailable")
	}

	// 3. Register the abort token; a duplicate request for the same thread
	// cancels the older stream
	tok := s.fabric.Register(c.Request().Context(), req.ThreadID)
	defer s.fabric.Unregister(tok)

	// 4. Build the turn context
	traceID := newID()
	actx := &agent.Context{
		TraceID:      traceID,
		UserID:       req.UserID,
		ThreadID:     req.ThreadID,
		History:      conversation.DeduplicateByID(req.Messages),
		Style:        agent.Style(req.ConversationStyle),
		MaxTokens:    req.MaxTokens,
		Temperature:  req.Temperature,
		SystemPrompt: req.SystemPrompt,
	}

	// 5. Commit the SSE response and run the turn
	enc := sse.NewEncoder(c.Response())
	c.Response().WriteHeader(http.StatusOK)

	ch, wait := agent.Stream(tok.Context(), a, actx)

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

loop:
	for {
		select {
		case p, open := <-ch:
			if !open {
				break loop
			}
			if err := enc.WriteEvent(p); err != nil {
				// Client is gone; cancel the producer and drain.
				s.logger.Warn("sse write failed, aborting stream",
					"thread_id", req.ThreadID, "error", err)
				s.fabric.Unregister(tok)
				break loop
			}
		case <-heartbeat.C:
			if err := enc.WriteHeartbeat(); err != nil {
				s.fabric.Unregister(tok)
				break loop
			}
		}
	}

	res := wait()

	// 6. Persist the exchange; failures here never fail the stream — the
	// client already has the reply
	s.persistTurn(req, traceID, res)
	return nil
}

// persistTurn writes the turn's user message and assistant reply. It runs
// under its own context so a closed request connection cannot interrupt
// persistence; partial content from a failed stream is kept.
func (s *Server) persistTurn(req StreamChatRequest, traceID string, res *agent.TurnResult) {
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	thread := &chatstore.Thread{
		ID:      req.ThreadID,
		UserID:  req.UserID,
		Title:   deriveTitle(req.Messages),
		TraceID: traceID,
	}
	if _, err := s.store.CreateThread(ctx, thread); err != nil {
		s.logger.Warn("failed to persist thread",
			"thread_id", req.ThreadID, "error", err)
		return
	}

	if last := conversation.LastUserMessage(req.Messages); last != nil {
		msg := &chatstore.Message{
			ID:       last.ID,
			ThreadID: req.ThreadID,
			UserID:   req.UserID,
			Role:     chatstore.RoleUser,
			Content:  last.Content,
			Metadata: last.Metadata,
		}
		if msg.ID == "" {
			msg.ID = newID()
		}
		if _, err := s.store.UpsertMessage(ctx, msg); err != nil {
			s.logger.Warn("failed to persist user message",
				"thread_id", req.ThreadID, "error", err)
		}
	}

	if res.Content == "" {
		return
	}
	meta := map[string]any{"trace_id": traceID}
	if len(res.Citations) > 0 {
		meta["citations"] = res.Citations
	}
	if res.Err != nil {
		meta["error_code"] = string(res.Code)
	}
	reply := &chatstore.Message{
		ID:       newID(),
		ThreadID: req.ThreadID,
		UserID:   req.UserID,
		Role:     chatstore.RoleAssistant,
		Content:  res.Content,
		Metadata: meta,
	}
	if _, err := s.store.UpsertMessage(ctx, reply); err != nil {
		s.logger.Warn("failed to persist assistant message",
			"thread_id", req.ThreadID, "error", err)
	}
}

// deriveTitle builds a thread title from the first user message.
func deriveTitle(history []conversation.Message) string {
	for _, m := range history {
		if m.Role != conversation.RoleUser || m.Content == "" {
			continue
		}
		runes := []rune(m.Content)
		if len(runes) > titleMaxRunes {
			return string(runes[:titleMaxRunes])
		}
		return m.Content
	}
	return ""
}

// stopChatHandler handles POST /api/v1/chat/stop.
func (s *Server) stopChatHandler(c *echo.Context) error {
	var req StopChatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.ThreadID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "thread_id is required")
	}

	stopped := s.fabric.RequestAbort(c.Request().Context(), req.ThreadID)
	resp := &StopChatResponse{Success: stopped, Message: "stream stop requested"}
	if !stopped {
		resp.Message = "no active stream for thread"
	}
	return c.JSON(http.StatusOK, resp)
}

// listAgentsHandler handles GET /api/v1/chat/agents.
func (s *Server) listAgentsHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, &AgentsResponse{Agents: s.agentTypes()})
}

// chatStatusHandler handles GET /api/v1/chat/status.
func (s *Server) chatStatusHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, &ChatStatusResponse{
		ActiveStreams:      s.fabric.ActiveCount(),
		RedisEnabled:       s.fabric.RedisEnabled(),
		PersistenceEnabled: s.store != nil,
	})
}
