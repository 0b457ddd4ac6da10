// Package channel implements one accepted connection of a build server.
//
// A Channel owns two long-lived goroutines: the dispatch loop reading frames off
// the connection and the writer draining the outbound queue onto it. Handlers only
// ever enqueue, so a slow client never blocks the code deciding what to answer.
// Requests from the client are tracked in a ledger until exactly one response has
// been sent for them; requests this side issues (terminal queries) are correlated
// separately by id.
package channel

import (
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codefionn/buildwire/internal/auth"
	"github.com/codefionn/buildwire/internal/consts"
	"github.com/codefionn/buildwire/internal/engine"
	"github.com/codefionn/buildwire/internal/jsonrpc"
	"github.com/codefionn/buildwire/internal/logger"
	"github.com/codefionn/buildwire/internal/queue"
	"github.com/codefionn/buildwire/internal/vterm"
)

// Conn is the accepted connection. net.Conn satisfies it.
type Conn interface {
	io.ReadWriter
	Close() error
	SetReadDeadline(t time.Time) error
}

type closeWriter interface {
	CloseWrite() error
}

// Engine is what a channel needs from the build engine.
type Engine interface {
	Submit(cmd *engine.Command) (execID string, ahead int, err error)
	// Running returns the currently running work, nil when idle.
	Running() engine.Work
	// LastState returns the parser state completions are computed against.
	LastState() *engine.ParserState
	Settings() *engine.Settings
}

// Options configure a channel.
type Options struct {
	Name          string
	Auth          auth.Options
	Authenticator auth.Authenticator
	Engine        Engine
	// Handlers extend the protocol. They are consulted after the built-in
	// methods, in order; the first match wins.
	Handlers []Handler

	ReadTimeout       time.Duration
	PropertiesTTL     time.Duration
	PropertiesTimeout time.Duration
	CapabilityTimeout time.Duration

	Logger *logger.Logger
	// OnClose runs once after shutdown.
	OnClose func(*Channel)
}

// Channel is one connection speaking the build protocol.
type Channel struct {
	conn     Conn
	opts     Options
	log      *logger.Logger
	handlers []Handler
	reader   *jsonrpc.Reader

	running     atomic.Bool
	alive       atomic.Bool
	initialized atomic.Bool

	// ledger holds inbound requests awaiting their single response. ledgerMu
	// also serializes response emission.
	ledgerMu sync.Mutex
	ledger   map[string]jsonrpc.Request

	out *queue.Queue[outboundItem]

	queryMu     sync.Mutex
	outstanding map[string]chan *jsonrpc.Response

	termMu     sync.Mutex
	terminal   *vterm.Terminal
	termClosed bool

	stopOnce sync.Once
	done     chan struct{}
	workers  sync.WaitGroup
}

// New wraps an accepted connection. Call Start to run it.
func New(conn Conn, opts Options) *Channel {
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = consts.DefaultReadPollInterval
	}
	if opts.Logger == nil {
		opts.Logger = logger.Global()
	}

	c := &Channel{
		conn:        conn,
		opts:        opts,
		log:         opts.Logger.WithPrefix(opts.Name),
		ledger:      make(map[string]jsonrpc.Request),
		out:         queue.New[outboundItem](),
		outstanding: make(map[string]chan *jsonrpc.Response),
		done:        make(chan struct{}),
	}
	c.handlers = append([]Handler{c.builtins()}, opts.Handlers...)
	c.reader = jsonrpc.NewReader(conn, c.onHeader)

	if !opts.Auth.RequiresToken() {
		c.initialized.Store(true)
	}
	return c
}

// Start launches the dispatch loop and the writer. The channel can send
// notifications right away, before the client has initialized.
func (c *Channel) Start() {
	c.running.Store(true)
	c.alive.Store(true)

	c.workers.Add(2)
	go func() {
		defer c.workers.Done()
		c.readLoop()
	}()
	go func() {
		defer c.workers.Done()
		c.writeLoop()
	}()

	c.log.Info("channel started (token auth: %v)", c.opts.Auth.RequiresToken())
}

// Name returns the channel name.
func (c *Channel) Name() string {
	return c.opts.Name
}

// Log returns the channel's logger.
func (c *Channel) Log() *logger.Logger {
	return c.log
}

// Running reports whether the dispatch loop is active.
func (c *Channel) Running() bool {
	return c.running.Load()
}

// Alive reports whether the write path is active.
func (c *Channel) Alive() bool {
	return c.alive.Load()
}

// Done is closed once the channel shuts down.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until both workers have exited.
func (c *Channel) Wait() {
	c.workers.Wait()
}

// Shutdown stops the channel: the dispatch loop ends, queued outbound frames are
// dropped, the terminal is closed and the connection is closed. It is safe to
// call more than once and from any goroutine.
func (c *Channel) Shutdown() {
	c.stopOnce.Do(func() {
		c.running.Store(false)

		c.termMu.Lock()
		term := c.terminal
		c.terminal, c.termClosed = nil, true
		c.termMu.Unlock()
		if term != nil {
			term.Close()
		}

		dropped := c.out.Abort()
		if cw, ok := c.conn.(closeWriter); ok {
			_ = cw.CloseWrite()
		}
		if err := c.conn.Close(); err != nil {
			c.log.Debug("close connection: %v", err)
		}
		close(c.done)

		c.queryMu.Lock()
		c.outstanding = make(map[string]chan *jsonrpc.Response)
		c.queryMu.Unlock()

		c.ledgerMu.Lock()
		pending := len(c.ledger)
		c.ledger = make(map[string]jsonrpc.Request)
		c.ledgerMu.Unlock()

		c.log.Info("channel shut down (%d unsent frames, %d unanswered requests)", dropped, pending)

		if c.opts.OnClose != nil {
			c.opts.OnClose(c)
		}
	})
}
