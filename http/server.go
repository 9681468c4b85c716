package http

import (
	"context"
	"fmt"
	"io"
	"net"
	stdhttp "net/http"
	"strconv"
	"time"

	"github.com/Warxim/deluder/config"
	"github.com/Warxim/deluder/core"
	"github.com/Warxim/deluder/http/handler"
	"github.com/Warxim/deluder/http/ws"
	"github.com/Warxim/deluder/log"
	"github.com/Warxim/deluder/metrics"
	"github.com/gorilla/mux"
)

// Server is the listener capture points connect to, plus the REST API.
type Server struct {
	srv    *stdhttp.Server
	ln     net.Listener
	agents *ws.AgentHandler
	logger *log.Logger
}

func StartServer(cfg *config.Config, c *core.Core, version handler.VersionInfo, logger *log.Logger) (*Server, error) {
	logger = logger.Named("Web")
	r := mux.NewRouter()

	agents := ws.NewAgentHandler(c.Router(), ws.AgentConfig{
		Debug:                cfg.Debug,
		IgnoreChildProcesses: cfg.IgnoreChildProcesses,
		Scripts:              c.Scripts(),
	}, cfg.System.MaxInFlight, logger)

	// Register WebSocket endpoints
	registerWebSocketEndpoints(r, agents, logger)

	// Register REST API endpoints
	handler.NewAPIHandler(cfg, c, version).RegisterEndpoints(r)

	addr := net.JoinHostPort(cfg.System.Server.Host, strconv.Itoa(cfg.System.Server.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	logger.Infof("Starting web server on %s", ln.Addr())

	m := metrics.GetMetricsCollector()
	m.RecordEvent("info", fmt.Sprintf("Web server started on %s", ln.Addr()))

	srv := &stdhttp.Server{
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.Serve(ln); err != nil && err != stdhttp.ErrServerClosed {
			logger.Errorf("Web server error: %v", err)
			m.RecordEvent("error", fmt.Sprintf("Web server error: %v", err))
		}
	}()

	return &Server{srv: srv, ln: ln, agents: agents, logger: logger}, nil
}

// registerWebSocketEndpoints registers all WebSocket handlers
func registerWebSocketEndpoints(r *mux.Router, agents *ws.AgentHandler, logger *log.Logger) {
	// Capture points
	r.Handle("/api/agent", agents).Methods(stdhttp.MethodGet)

	// Log streaming
	r.HandleFunc("/api/ws/logs", ws.HandleLogsWebSocket(logger)).Methods(stdhttp.MethodGet)

	logger.Infof("WebSocket endpoints registered: /api/agent, /api/ws/logs")
}

// Addr is the bound listen address.
func (s *Server) Addr() string { return s.ln.Addr().String() }

// Agents reports how many capture points are connected.
func (s *Server) Agents() int { return s.agents.Sessions() }

// Shutdown disconnects every agent, then stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.agents.CloseAll()
	return s.srv.Shutdown(ctx)
}

func LogWriter() io.Writer {
	return ws.LogWriter()
}

func Shutdown() {
	// Shutdown the log hub
	ws.Shutdown()
}
