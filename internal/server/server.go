package server

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	glog "github.com/gin-contrib/slog"
	"github.com/gin-gonic/gin"

	"github.com/kode4food/conduit/internal/util"
	"github.com/kode4food/conduit/internal/watch"
	"github.com/kode4food/conduit/pkg/flow"
	"github.com/kode4food/conduit/pkg/trace"
)

// Server implements the HTTP API for the orchestrator
type Server struct {
	tracer  *trace.Tracer
	flows   *flow.Registry
	watcher *watch.Watcher
	refresh time.Duration
	sockets util.Set[*Client]
	mu      sync.Mutex
}

// NewServer creates a new HTTP API server. refresh controls how often
// WebSocket clients are sent updates for the runs they follow
func NewServer(
	tracer *trace.Tracer, flows *flow.Registry, watcher *watch.Watcher,
	refresh time.Duration,
) *Server {
	return &Server{
		tracer:  tracer,
		flows:   flows,
		watcher: watcher,
		refresh: refresh,
		sockets: util.Set[*Client]{},
	}
}

// SetupRoutes configures and returns the HTTP router with all read
// endpoints. Trigger routes are added when the flow registry is activated
// against the returned router
func (s *Server) SetupRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(glog.SetLogger(
		glog.WithLogger(func(c *gin.Context, l *slog.Logger) *slog.Logger {
			return slog.Default()
		}),
	))

	// CORS middleware
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set(
			"Access-Control-Allow-Methods",
			"GET, POST, PUT, DELETE, OPTIONS",
		)
		c.Writer.Header().Set(
			"Access-Control-Allow-Headers",
			"Content-Type, Authorization",
		)

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusOK)
			return
		}

		c.Next()
	})

	// Health check
	router.GET("/health", s.handleHealth)

	// Flow endpoints
	router.GET("/flows", s.listFlows)

	// Run endpoints
	runs := router.Group("/runs")
	{
		runs.GET("", s.listRuns)
		runs.GET("/:runID", s.getRun)
		runs.DELETE("/:runID", s.deleteRun)
		runs.GET("/:runID/steps", s.listSteps)
		runs.GET("/:runID/steps/:stepID", s.getStep)
	}

	// WebSocket
	router.GET("/ws", s.handleWebSocket)

	return router
}

func (s *Server) registerWebSocket(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sockets.Add(c)
}

func (s *Server) unregisterWebSocket(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sockets.Remove(c)
}

// CloseWebSockets closes all active WebSocket connections
func (s *Server) CloseWebSockets() {
	s.mu.Lock()
	conns := make([]*Client, 0, s.sockets.Len())
	for c := range s.sockets {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}
