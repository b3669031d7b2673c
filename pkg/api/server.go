// Package api provides the HTTP and WebSocket transport gates for the
// cognitive core (spec §4.7, §6): REST resources mapping 1:1 to the
// session/agent/model/cron entities, server-sent-event chat streaming,
// and WebSocket upgrades for live chat and roundtable delivery.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/graphql-go/graphql"
	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/ariacore/aria/pkg/agent"
	"github.com/ariacore/aria/pkg/config"
	"github.com/ariacore/aria/pkg/events"
	"github.com/ariacore/aria/pkg/llmgateway"
	"github.com/ariacore/aria/pkg/orchestrator"
	"github.com/ariacore/aria/pkg/scheduler"
	"github.com/ariacore/aria/pkg/session"
	"github.com/ariacore/aria/pkg/storage"
)

// maxBodyBytes bounds request bodies at the HTTP read level before
// deserialization, mirroring the teacher's server-wide BodyLimit.
const maxBodyBytes = 2 * 1024 * 1024

// Server is the HTTP API server (spec §6). It owns no domain state
// itself — every handler delegates to the Session Manager, Agent Pool,
// LLM Gateway, Orchestrator, or Scheduler it is wired over.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server
	startedAt  time.Time

	cfg          *config.Config
	db           *storage.Client
	sessions     *session.Manager
	agents       *agent.Pool
	gateway      *llmgateway.Gateway
	orchestrator *orchestrator.Orchestrator
	scheduler    *scheduler.Scheduler
	connManager  *events.ConnectionManager
	publisher    *events.EventPublisher

	graphqlSchema    graphql.Schema
	graphqlSchemaErr error
}

// NewServer wires a Server over every core component and registers
// routes. auth is applied as middleware per spec §4.7. connManager and
// publisher may be nil (the /ws/chat route then answers 503), matching the
// teacher's optional-events-wiring pattern for test servers that don't
// need live delivery.
func NewServer(cfg *config.Config, db *storage.Client, sessions *session.Manager, agents *agent.Pool, gateway *llmgateway.Gateway, orch *orchestrator.Orchestrator, sched *scheduler.Scheduler, connManager *events.ConnectionManager, publisher *events.EventPublisher) *Server {
	e := echo.New()

	s := &Server{
		echo:         e,
		startedAt:    time.Now(),
		cfg:          cfg,
		db:           db,
		sessions:     sessions,
		agents:       agents,
		gateway:      gateway,
		orchestrator: orch,
		scheduler:    sched,
		connManager:  connManager,
		publisher:    publisher,
	}

	s.graphqlSchema, s.graphqlSchemaErr = s.buildGraphQLSchema()

	s.setupRoutes()
	return s
}

// ValidateWiring checks that every required component was supplied to
// NewServer, catching startup wiring gaps rather than surfacing them as
// 500s at request time (SPEC_FULL.md supplemented feature, grounded on
// the teacher's Server.ValidateWiring).
func (s *Server) ValidateWiring() error {
	var errs []error
	if s.cfg == nil {
		errs = append(errs, fmt.Errorf("config not set"))
	}
	if s.db == nil {
		errs = append(errs, fmt.Errorf("storage client not set"))
	}
	if s.sessions == nil {
		errs = append(errs, fmt.Errorf("session manager not set"))
	}
	if s.agents == nil {
		errs = append(errs, fmt.Errorf("agent pool not set"))
	}
	if s.gateway == nil {
		errs = append(errs, fmt.Errorf("llm gateway not set"))
	}
	if s.orchestrator == nil {
		errs = append(errs, fmt.Errorf("orchestrator not set"))
	}
	if s.scheduler == nil {
		errs = append(errs, fmt.Errorf("scheduler not set"))
	}
	if s.graphqlSchemaErr != nil {
		errs = append(errs, fmt.Errorf("graphql schema: %w", s.graphqlSchemaErr))
	}
	if len(errs) > 0 {
		return fmt.Errorf("server wiring incomplete: %w", errors.Join(errs...))
	}
	return nil
}

func (s *Server) setupRoutes() {
	s.echo.Use(middleware.BodyLimit(maxBodyBytes))
	s.echo.Use(securityHeaders())
	s.echo.Use(s.csrfGate())
	s.echo.Use(promptInjectionScan())
	s.echo.Use(s.apiKeyGate())

	s.echo.GET("/health", s.healthHandler)

	s.echo.POST("/chat", s.chatHandler)
	s.echo.POST("/chat/stream", s.chatStreamHandler)

	s.echo.GET("/sessions", s.listSessionsHandler)
	s.echo.GET("/sessions/archive", s.listArchivedSessionsHandler)
	s.echo.POST("/sessions/:id/archive", s.archiveSessionHandler)
	s.echo.DELETE("/sessions/ghosts", s.deleteGhostsHandler)

	s.echo.GET("/agents", s.listAgentsHandler)
	s.echo.POST("/agents/spawn", s.spawnAgentHandler)
	s.echo.POST("/agents/delegate", s.delegateAgentHandler)
	s.echo.DELETE("/agents/:id", s.terminateAgentHandler)

	s.echo.GET("/models", s.listModelsHandler)

	s.echo.POST("/graphql", s.graphqlHandler)

	s.echo.POST("/cron", s.putCronJobHandler)
	s.echo.GET("/cron", s.listCronJobsHandler)
	s.echo.PATCH("/cron/:id", s.putCronJobHandler)

	s.echo.GET("/ws/chat/:session_id", s.wsChatHandler)
	s.echo.GET("/ws/roundtable", s.wsRoundtableHandler)
}

// Start starts the HTTP server on addr (non-blocking caller side; this
// call itself blocks until the server stops).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.echo}
	return s.httpServer.ListenAndServe()
}

// StartWithListener starts the HTTP server on a pre-created listener,
// used by tests to bind a random OS-assigned port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.echo}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
