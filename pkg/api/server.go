// Package api exposes the chat service over HTTP: the streaming turn
// endpoint, stream control, and thread/message management. Handlers
// translate HTTP into core operations and enforce thread ownership; they
// hold no business logic of their own.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/parleyhq/parley/pkg/abort"
	"github.com/parleyhq/parley/pkg/agent"
	"github.com/parleyhq/parley/pkg/chatstore"
	"github.com/parleyhq/parley/pkg/version"
)

// Config binds the server to an address and API prefix.
type Config struct {
	Addr     string
	BasePath string // e.g. "/api/v1"; empty mounts at the root
}

// Server wires the HTTP surface to the agent registry, the chat store and
// the abort fabric.
type Server struct {
	echo     *echo.Echo
	http     *http.Server
	registry *agent.Registry
	store    chatstore.Store
	fabric   *abort.Fabric
	logger   *slog.Logger

	// entrypoints maps the client-facing agent_type values onto registry
	// names. Handoff targets resolve through the registry directly and are
	// not listed here.
	entrypoints map[string]string
}

// DefaultEntrypoints returns the client-facing agent types.
func DefaultEntrypoints() map[string]string {
	return map[string]string{
		"normal":      agent.NamePlain,
		"rag":         agent.NameRAG,
		"researcher":  agent.NameResearcher,
		"multi-agent": agent.NameMultiAgent,
	}
}

// NewServer builds the server and registers all routes under cfg.BasePath.
func NewServer(cfg Config, registry *agent.Registry, store chatstore.Store, fabric *abort.Fabric, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	e := echo.New()

	s := &Server{
		echo:        e,
		registry:    registry,
		store:       store,
		fabric:      fabric,
		logger:      logger,
		entrypoints: DefaultEntrypoints(),
	}
	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           e,
		ReadHeaderTimeout: 10 * time.Second,
	}

	e.Use(securityHeaders())
	e.Use(requestLogger(logger))

	e.GET("/healthz", s.healthzHandler)

	g := e.Group(cfg.BasePath)
	g.POST("/chat/stream", s.streamChatHandler)
	g.POST("/chat/stop", s.stopChatHandler)
	g.GET("/chat/agents", s.listAgentsHandler)
	g.GET("/chat/status", s.chatStatusHandler)

	g.GET("/chat/threads", s.listThreadsHandler)
	g.GET("/chat/threads/:id", s.getThreadHandler)
	g.PATCH("/chat/threads/:id", s.updateThreadHandler)
	g.DELETE("/chat/threads/:id", s.deleteThreadHandler)
	g.POST("/chat/threads/:id/restore", s.restoreThreadHandler)
	g.DELETE("/chat/threads/:id/permanent", s.permanentDeleteThreadHandler)
	g.POST("/chat/threads/:id/bookmark", s.bookmarkThreadHandler)
	g.GET("/chat/threads/:id/messages", s.listMessagesHandler)
	g.GET("/chat/threads/:id/messages/last", s.lastMessageHandler)
	g.GET("/chat/threads/:id/messages/count", s.countMessagesHandler)

	return s
}

// Start serves until Shutdown is called or the listener fails.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.http.Addr)
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// ServeHTTP makes the server mountable in tests without a listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// agentTypes returns the client-facing agent types, sorted.
func (s *Server) agentTypes() []string {
	out := make([]string, 0, len(s.entrypoints))
	for k := range s.entrypoints {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (s *Server) healthzHandler(c *echo.Context) error {
	if s.store != nil && !s.store.IsHealthy(c.Request().Context()) {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "store unavailable")
	}
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Full(),
	})
}
