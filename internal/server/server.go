// Package server hosts build channels: it listens on a per-project unix
// socket, hands every accepted connection to a new channel and optionally
// carries channels over websockets.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/codefionn/buildwire/internal/auth"
	"github.com/codefionn/buildwire/internal/channel"
	"github.com/codefionn/buildwire/internal/config"
	"github.com/codefionn/buildwire/internal/consts"
	"github.com/codefionn/buildwire/internal/engine"
	"github.com/codefionn/buildwire/internal/lockfile"
	"github.com/codefionn/buildwire/internal/logger"
	"github.com/codefionn/buildwire/internal/protocol"
)

// URIScheme prefixes the socket path in the token file.
const URIScheme = "local://"

// Server represents the unix socket server of one project.
type Server struct {
	cfg        *config.Config
	projectDir string
	socketPath string
	tokenPath  string

	engine   *engine.Engine
	authn    *auth.TokenAuthenticator
	hub      *Hub
	handlers []channel.Handler
	lock     *lockfile.Lockfile

	listener net.Listener
	gateway  *Gateway
	maxConns int

	connIDCounter atomic.Int64

	mu       sync.Mutex
	running  bool
	ready    chan struct{}
	stopChan chan struct{}
	stopOnce sync.Once
}

// New creates a server for projectDir. Channels use eng and consult handlers
// after the built-in methods.
func New(cfg *config.Config, projectDir string, eng *engine.Engine, handlers ...channel.Handler) (*Server, error) {
	abs, err := filepath.Abs(projectDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project dir: %w", err)
	}
	socketPath, err := cfg.Socket.PathFor(abs)
	if err != nil {
		return nil, err
	}
	tokenPath, err := cfg.TokenPathFor(abs)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:        cfg,
		projectDir: abs,
		socketPath: socketPath,
		tokenPath:  tokenPath,
		engine:     eng,
		authn:      auth.NewTokenAuthenticator(),
		hub:        NewHub(),
		handlers:   handlers,
		lock:       lockfile.New(socketPath + ".lock"),
		maxConns:   cfg.Socket.MaxConnections,
		ready:      make(chan struct{}),
		stopChan:   make(chan struct{}),
	}
	if s.maxConns <= 0 {
		s.maxConns = consts.DefaultMaxConnections
	}
	if cfg.WebSocket.Addr != "" {
		s.gateway = NewGateway(cfg.WebSocket.Addr, s)
	}
	return s, nil
}

// Run listens and serves until ctx ends or Stop is called. The engine runs
// alongside the accept loop and stops with it.
func (s *Server) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	s.running = true
	s.mu.Unlock()

	if err := s.listen(); err != nil {
		s.setRunning(false)
		return err
	}
	defer s.cleanup()

	if s.gateway != nil {
		if err := s.gateway.Listen(); err != nil {
			s.listener.Close()
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.engine.Run(gctx)
	})
	g.Go(func() error {
		return s.acceptLoop(gctx)
	})
	if s.gateway != nil {
		g.Go(s.gateway.Serve)
	}
	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-s.stopChan:
		}
		s.shutdown()
		return nil
	})

	close(s.ready)
	logger.Info("Server for %s started on %s (max connections: %d)", s.projectDir, s.socketPath, s.maxConns)

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Stop stops a running server. Run returns once everything is closed.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
}

// Ready is closed once the server accepts connections.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

func (s *Server) listen() error {
	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0700); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}
	if err := s.lock.TryAcquire(s.socketPath); err != nil {
		return err
	}

	// a previous server that crashed leaves its socket behind
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		s.lock.Release()
		return fmt.Errorf("failed to remove existing socket file: %w", err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		s.lock.Release()
		return fmt.Errorf("failed to listen on unix socket %s: %w", s.socketPath, err)
	}
	s.listener = listener

	if err := os.Chmod(s.socketPath, s.cfg.Socket.FileMode()); err != nil {
		logger.Warn("Failed to set socket permissions: %v", err)
	}

	if err := auth.WriteTokenFile(s.tokenPath, URIScheme+s.socketPath, s.authn); err != nil {
		listener.Close()
		s.lock.Release()
		return err
	}
	return nil
}

type deadliner interface {
	SetDeadline(t time.Time) error
}

// acceptLoop accepts incoming connections
func (s *Server) acceptLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.stopChan:
			return nil
		default:
		}

		// a bounded accept lets the loop notice stop signals
		if dl, ok := s.listener.(deadliner); ok {
			_ = dl.SetDeadline(time.Now().Add(consts.Timeout1Second))
		}

		conn, err := s.listener.Accept()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				logger.Debug("Listener closed, exiting accept loop")
				return nil
			}
			logger.Error("Error accepting connection: %v", err)
			continue
		}

		if !s.admit() {
			logger.Warn("Connection limit reached, rejecting connection")
			conn.Close()
			continue
		}
		s.Serve(conn, s.nextName("network"))
	}
}

func (s *Server) admit() bool {
	return s.hub.Count() < s.maxConns
}

func (s *Server) nextName(kind string) string {
	return kind + "-" + strconv.FormatInt(s.connIDCounter.Add(1), 10)
}

// Serve runs a channel on an accepted connection and tracks it until it closes.
func (s *Server) Serve(conn channel.Conn, name string) *channel.Channel {
	ch := channel.New(conn, channel.Options{
		Name:              name,
		Auth:              auth.Options{Token: s.cfg.Auth.TokenRequired},
		Authenticator:     s.authn,
		Engine:            s.engine,
		Handlers:          s.handlers,
		ReadTimeout:       s.cfg.Channel.ReadTimeout,
		PropertiesTTL:     s.cfg.Channel.PropertiesTTL,
		PropertiesTimeout: s.cfg.Channel.PropertiesTimeout,
		CapabilityTimeout: s.cfg.Channel.CapabilityTimeout,
		OnClose:           s.hub.Unregister,
	})
	s.hub.Register(ch)
	ch.Start()
	return ch
}

// Broadcast sends a log message to every connected client.
func (s *Server) Broadcast(messageType int, message string) int {
	return s.hub.Broadcast(protocol.MethodLogMessage, protocol.LogMessageParams{
		Type:    messageType,
		Message: message,
	})
}

func (s *Server) shutdown() {
	logger.Info("Stopping server for %s...", s.projectDir)

	s.engine.Stop()
	if s.listener != nil {
		if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			logger.Error("Error closing socket listener: %v", err)
		}
	}
	if s.gateway != nil {
		ctx, cancel := context.WithTimeout(context.Background(), consts.Timeout5Seconds)
		if err := s.gateway.Shutdown(ctx); err != nil {
			logger.Warn("Gateway shutdown: %v", err)
		}
		cancel()
	}

	if s.Broadcast(protocol.MessageInfo, "server shutting down") > 0 {
		// Wait a bit for the notice to reach the clients
		time.Sleep(consts.ShutdownGrace)
	}
	s.hub.Shutdown()
}

func (s *Server) cleanup() {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		logger.Warn("Failed to remove socket file %s: %v", s.socketPath, err)
	}
	if err := os.Remove(s.tokenPath); err != nil && !os.IsNotExist(err) {
		logger.Warn("Failed to remove token file %s: %v", s.tokenPath, err)
	}
	if err := s.lock.Release(); err != nil {
		logger.Warn("Failed to release lock: %v", err)
	}
	s.authn.Destroy()

	s.setRunning(false)
	logger.Info("Server stopped")
}

// SocketPath returns the path of the unix socket.
func (s *Server) SocketPath() string {
	return s.socketPath
}

// TokenPath returns the path of the token file.
func (s *Server) TokenPath() string {
	return s.tokenPath
}

// Hub returns the hub of live channels.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Gateway returns the websocket gateway, nil when disabled.
func (s *Server) Gateway() *Gateway {
	return s.gateway
}

func (s *Server) setRunning(running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = running
}

// IsRunning returns whether the server is running
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
