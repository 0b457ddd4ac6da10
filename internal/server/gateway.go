package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"

	"github.com/codefionn/buildwire/internal/consts"
	"github.com/codefionn/buildwire/internal/logger"
	"github.com/codefionn/buildwire/internal/pprof"
	"github.com/codefionn/buildwire/internal/socketutil"
)

// ChannelPath is the websocket endpoint of the gateway.
const ChannelPath = "/channel"

// Gateway carries channels over websockets. Clients authenticate on the
// channel exactly like unix socket clients.
type Gateway struct {
	addr     string
	server   *Server
	router   *httprouter.Router
	http     *http.Server
	listener net.Listener
	upgrader websocket.Upgrader
}

// NewGateway creates a gateway for s listening on addr.
func NewGateway(addr string, s *Server) *Gateway {
	g := &Gateway{
		addr:   addr,
		server: s,
		router: httprouter.New(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  consts.BufferSize1KB,
			WriteBufferSize: consts.BufferSize1KB,
			CheckOrigin:     sameOrigin,
		},
	}
	g.setupRoutes()

	g.http = &http.Server{
		Handler:           g.router,
		ReadHeaderTimeout: consts.Timeout10Seconds,
		ErrorLog:          logger.NewStdLogger(logger.Global().WithPrefix("gateway"), slog.LevelWarn),
	}
	return g
}

func (g *Gateway) setupRoutes() {
	g.router.GET(ChannelPath, g.handleChannel)
	g.router.GET("/healthz", g.handleHealth)
	if g.server.cfg.Debug.Pprof {
		pprof.Register(g.router)
	}
}

// Listen binds the gateway address.
func (g *Gateway) Listen() error {
	listener, err := net.Listen("tcp", g.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", g.addr, err)
	}
	g.listener = listener
	logger.Info("Websocket gateway listening on %s", listener.Addr())
	return nil
}

// Serve serves HTTP until Shutdown.
func (g *Gateway) Serve() error {
	if err := g.http.Serve(g.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server. Channels already upgraded are closed by the hub.
func (g *Gateway) Shutdown(ctx context.Context) error {
	return g.http.Shutdown(ctx)
}

// URL returns the websocket URL of the channel endpoint.
func (g *Gateway) URL() string {
	addr := g.addr
	if g.listener != nil {
		addr = g.listener.Addr().String()
	}
	return "ws://" + addr + ChannelPath
}

func (g *Gateway) handleChannel(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if !g.server.admit() {
		logger.Warn("Connection limit reached, rejecting websocket from %s", r.RemoteAddr)
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("Failed to upgrade websocket: %v", err)
		return
	}
	g.server.Serve(socketutil.NewWebSocketConn(ws), g.server.nextName("websocket"))
}

type healthStatus struct {
	Status   string   `json:"status"`
	Time     string   `json:"time"`
	Project  string   `json:"project"`
	Channels []string `json:"channels"`
	Running  string   `json:"running,omitempty"`
	Pending  int      `json:"pending"`
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	status := healthStatus{
		Status:   "ok",
		Time:     time.Now().Format(time.RFC3339),
		Project:  g.server.projectDir,
		Channels: g.server.hub.Names(),
		Pending:  g.server.engine.Pending(),
	}
	if work := g.server.engine.Running(); work != nil {
		status.Running = work.ExecID()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		logger.Debug("Failed to write health status: %v", err)
	}
}

// sameOrigin accepts non-browser clients and pages served from the gateway host.
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return u.Host == r.Host
}
