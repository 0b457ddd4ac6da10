// Package client is the client side of the build protocol: it initializes a
// channel, runs command lines, and answers the terminal queries the server
// sends while a command runs.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/codefionn/buildwire/internal/consts"
	"github.com/codefionn/buildwire/internal/jsonrpc"
	"github.com/codefionn/buildwire/internal/logger"
	"github.com/codefionn/buildwire/internal/protocol"
	"github.com/codefionn/buildwire/internal/socketutil"
)

// ErrClosed is returned by calls on a closed client.
var ErrClosed = errors.New("client closed")

// Config holds client configuration
type Config struct {
	// ClientName identifies the client to the server.
	ClientName string
	// Token authenticates the channel; empty when the server requires none.
	Token string
	// Stdout and Stderr receive the command output streamed by the server.
	Stdout io.Writer
	Stderr io.Writer
	// Terminal answers terminal queries. Without one the client declines them.
	Terminal Terminal
	// OnStatus observes execution status notifications.
	OnStatus func(protocol.ExecStatusEvent)
	Logger   *logger.Logger
}

// Client is one connection to a build server.
type Client struct {
	cfg    Config
	conn   net.Conn
	reader *jsonrpc.Reader
	log    *logger.Logger

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan *jsonrpc.Response

	channelName atomic.Value // string
	current     atomic.Value // string, exec id of the last Exec

	closeOnce sync.Once
	done      chan struct{}
	errMu     sync.Mutex
	err       error
	wg        sync.WaitGroup
}

// Dial connects to the server at address, a unix socket path or a websocket URL.
func Dial(ctx context.Context, address string, cfg Config) (*Client, error) {
	conn, err := socketutil.Dial(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
	}
	return New(conn, cfg), nil
}

// New starts a client on an established connection.
func New(conn net.Conn, cfg Config) *Client {
	if cfg.Stdout == nil {
		cfg.Stdout = io.Discard
	}
	if cfg.Stderr == nil {
		cfg.Stderr = io.Discard
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Global()
	}

	c := &Client{
		cfg:     cfg,
		conn:    conn,
		reader:  jsonrpc.NewReader(conn, nil),
		log:     cfg.Logger.WithPrefix("client"),
		pending: make(map[string]chan *jsonrpc.Response),
		done:    make(chan struct{}),
	}
	c.channelName.Store("")
	c.current.Store("")

	c.wg.Add(1)
	go c.readPump()
	return c
}

// Initialize authenticates the channel and returns its name.
func (c *Client) Initialize(ctx context.Context) (string, error) {
	params := protocol.InitializeParams{ClientName: c.cfg.ClientName}
	if c.cfg.Token != "" {
		params.InitializationOptions = &protocol.InitializationOptions{Token: c.cfg.Token}
	}

	var result protocol.InitializeResult
	if err := c.Call(ctx, protocol.MethodInitialize, params, &result); err != nil {
		return "", fmt.Errorf("initialize: %w", err)
	}
	c.channelName.Store(result.ChannelName)
	return result.ChannelName, nil
}

// ChannelName returns the name the server gave this channel.
func (c *Client) ChannelName() string {
	return c.channelName.Load().(string)
}

// Exec runs commandLine and waits for it to finish. A command that fails or is
// cancelled is reported as a *jsonrpc.Error.
func (c *Client) Exec(ctx context.Context, commandLine string) (protocol.ExecStatusEvent, error) {
	id := uuid.NewString()
	c.current.Store(id)
	defer c.current.CompareAndSwap(id, "")

	var event protocol.ExecStatusEvent
	err := c.call(ctx, id, protocol.MethodExec, protocol.ExecParams{CommandLine: commandLine}, &event)
	return event, err
}

// Current returns the exec id of the command Exec is waiting for, empty when idle.
func (c *Client) Current() string {
	return c.current.Load().(string)
}

// Cancel asks the server to cancel the running work with execID.
func (c *Client) Cancel(ctx context.Context, execID string) (protocol.ExecStatusEvent, error) {
	var event protocol.ExecStatusEvent
	err := c.Call(ctx, protocol.MethodCancelRequest, protocol.CancelRequestParams{ID: execID}, &event)
	return event, err
}

// Attach switches the channel between interactive and batch mode.
func (c *Client) Attach(ctx context.Context, interactive bool) error {
	return c.Call(ctx, protocol.MethodAttach, protocol.AttachParams{Interactive: interactive}, nil)
}

// Setting returns the value of one server setting.
func (c *Client) Setting(ctx context.Context, name string) (string, error) {
	var result protocol.SettingResult
	if err := c.Call(ctx, protocol.MethodSettingQuery, protocol.SettingQuery{Setting: name}, &result); err != nil {
		return "", err
	}
	return result.Value, nil
}

// Complete returns completions of a partial command line.
func (c *Client) Complete(ctx context.Context, query string) ([]string, error) {
	var result protocol.CompletionResult
	if err := c.Call(ctx, protocol.MethodCompletion, protocol.CompletionParams{Query: query}, &result); err != nil {
		return nil, err
	}
	return result.Items, nil
}

// SendInput forwards input bytes to the server terminal, one notification per byte.
func (c *Client) SendInput(p []byte) error {
	for _, b := range p {
		if err := c.Notify(protocol.MethodSystemIn, protocol.SystemInParams{Byte: int(b)}); err != nil {
			return err
		}
	}
	return nil
}

// CloseInput tells the server no more input follows.
func (c *Client) CloseInput() error {
	return c.Notify(protocol.MethodTerminalInputClosed, nil)
}

// Shutdown asks the server to close the channel.
func (c *Client) Shutdown() error {
	return c.Notify(protocol.MethodShutdown, nil)
}

// Call sends a request and decodes its result into result, which may be nil.
func (c *Client) Call(ctx context.Context, method string, params, result interface{}) error {
	return c.call(ctx, uuid.NewString(), method, params, result)
}

func (c *Client) call(ctx context.Context, id, method string, params, result interface{}) error {
	reply := make(chan *jsonrpc.Response, 1)
	c.pendingMu.Lock()
	c.pending[id] = reply
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	body, err := jsonrpc.EncodeRequest(jsonrpc.StringID(id), method, params)
	if err != nil {
		return err
	}
	if err := c.write(body); err != nil {
		return err
	}

	select {
	case resp := <-reply:
		if result == nil {
			if resp.Error != nil {
				return resp.Error
			}
			return nil
		}
		return resp.DecodeResult(result)
	case <-c.done:
		return c.closedErr()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Notify sends a notification.
func (c *Client) Notify(method string, params interface{}) error {
	body, err := jsonrpc.EncodeNotification(method, params)
	if err != nil {
		return err
	}
	return c.write(body)
}

func (c *Client) write(body []byte) error {
	select {
	case <-c.done:
		return c.closedErr()
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.conn.Write(append(body, jsonrpc.Delimiter)); err != nil {
		c.fail(err)
		return fmt.Errorf("write %d bytes: %w", len(body), err)
	}
	return nil
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns why the connection ended, nil while it is open or after Close.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Close closes the connection and waits for the read pump.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	c.wg.Wait()
	return err
}

func (c *Client) fail(err error) {
	c.errMu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.errMu.Unlock()

	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func (c *Client) closedErr() error {
	if err := c.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return ErrClosed
}

func (c *Client) readPump() {
	defer c.wg.Done()

	c.reader.SetMaxFrameSize(consts.MaxFrameSize)
	for {
		body, err := c.reader.ReadFrame()
		if err != nil {
			var frameErr *jsonrpc.FrameError
			if errors.As(err, &frameErr) {
				c.log.Warn("skipping malformed frame: %v", err)
				continue
			}
			select {
			case <-c.done:
			default:
				if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
					err = io.EOF
				}
				c.fail(err)
			}
			return
		}

		msg, err := jsonrpc.Decode(body)
		if err != nil {
			c.log.Warn("skipping malformed message: %v", err)
			continue
		}
		c.route(msg)
	}
}

func (c *Client) route(msg jsonrpc.Incoming) {
	switch m := msg.(type) {
	case *jsonrpc.Response:
		c.pendingMu.Lock()
		reply, ok := c.pending[m.ID.String()]
		c.pendingMu.Unlock()
		if !ok {
			c.log.Debug("response to unknown request %s", m.ID)
			return
		}
		reply <- m

	case *jsonrpc.Request:
		// terminal queries may block on the local terminal
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.answer(m)
		}()

	case *jsonrpc.Notification:
		c.onNotification(m)
	}
}

func (c *Client) onNotification(n *jsonrpc.Notification) {
	switch n.Method {
	case protocol.MethodSystemOut, protocol.MethodSystemErr:
		var params protocol.SystemOutParams
		if err := n.DecodeParams(&params); err != nil {
			c.log.Warn("%v", err)
			return
		}
		out := c.cfg.Stdout
		if n.Method == protocol.MethodSystemErr {
			out = c.cfg.Stderr
		}
		if _, err := out.Write(params.Bytes); err != nil {
			c.log.Debug("write output: %v", err)
		}

	case protocol.MethodLogMessage:
		var params protocol.LogMessageParams
		if err := n.DecodeParams(&params); err != nil {
			c.log.Warn("%v", err)
			return
		}
		fmt.Fprintf(c.cfg.Stderr, "[%s] %s\n", messageLabel(params.Type), params.Message)

	case protocol.MethodExecStatus:
		var event protocol.ExecStatusEvent
		if err := n.DecodeParams(&event); err != nil {
			c.log.Warn("%v", err)
			return
		}
		if c.cfg.OnStatus != nil {
			c.cfg.OnStatus(event)
		}

	case protocol.MethodAccepted:
		c.log.Debug("channel accepted")

	default:
		c.log.Debug("ignoring notification %s", n.Method)
	}
}

func messageLabel(messageType int) string {
	switch messageType {
	case protocol.MessageError:
		return "error"
	case protocol.MessageWarning:
		return "warn"
	case protocol.MessageInfo:
		return "info"
	default:
		return "log"
	}
}
