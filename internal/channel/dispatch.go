package channel

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/codefionn/buildwire/internal/jsonrpc"
	"github.com/codefionn/buildwire/internal/protocol"
)

// readLoop decodes frames until the channel stops or the connection fails.
func (c *Channel) readLoop() {
	for c.running.Load() {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout)); err != nil {
			if c.running.Load() {
				c.log.Error("set read deadline: %v", err)
			}
			c.Shutdown()
			return
		}

		body, err := c.reader.ReadFrame()
		if err != nil {
			var frameErr *jsonrpc.FrameError
			switch {
			case errors.As(err, &frameErr):
				c.malformed(frameErr)
				continue
			case jsonrpc.IsTimeout(err):
				continue
			case !c.running.Load():
				return
			case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
				c.log.Info("client disconnected")
			default:
				c.log.Error("read failed: %v", err)
			}
			c.Shutdown()
			return
		}

		msg, err := jsonrpc.Decode(body)
		if err != nil {
			var frameErr *jsonrpc.FrameError
			if errors.As(err, &frameErr) {
				c.malformed(frameErr)
			}
			continue
		}
		c.dispatch(msg)
	}
}

func (c *Channel) malformed(err *jsonrpc.FrameError) {
	c.log.Warn("%v", err)
	c.LogMessage(protocol.MessageError, "%v", err)
}

// onHeader receives header lines of LSP style frames.
func (c *Channel) onHeader(name, value string) {
	if strings.EqualFold(name, "Content-Type") && strings.Contains(value, protocol.ObsoleteContentType) {
		c.log.Warn("client uses obsolete protocol %s", protocol.ObsoleteContentType)
		c.LogMessage(protocol.MessageError, "%s is no longer supported, please upgrade the client", protocol.ObsoleteContentType)
	}
}

func (c *Channel) dispatch(msg jsonrpc.Incoming) {
	switch m := msg.(type) {
	case *jsonrpc.Request:
		c.dispatchRequest(m)
	case *jsonrpc.Response:
		c.dispatchResponse(m)
	case *jsonrpc.Notification:
		c.dispatchNotification(m)
	}
}

func (c *Channel) dispatchRequest(req *jsonrpc.Request) {
	c.registerRequest(req)
	c.log.Debug("request %s %s", req.ID, req.Method)

	for _, h := range c.handlers {
		fn, ok := h.Request(req)
		if !ok {
			continue
		}
		if err := c.safely(func() error { return fn(c, req) }); err != nil {
			c.log.Debug("request %s %s failed: %v", req.ID, req.Method, err)
			c.respondErr(req.ID.Key(), err)
		}
		return
	}
	c.log.Warn("unhandled request %s %s", req.ID, req.Method)
}

func (c *Channel) dispatchResponse(resp *jsonrpc.Response) {
	for _, h := range c.handlers {
		fn, ok := h.Response(resp)
		if !ok {
			continue
		}
		if err := c.safely(func() error { return fn(c, resp) }); err != nil {
			c.log.Warn("response %s: %v", resp.ID, err)
		}
		return
	}
	c.log.Debug("unmatched response %s", resp.ID)
}

func (c *Channel) dispatchNotification(n *jsonrpc.Notification) {
	for _, h := range c.handlers {
		fn, ok := h.Notification(n)
		if !ok {
			continue
		}
		if err := c.safely(func() error { return fn(c, n) }); err != nil {
			c.log.Warn("notification %s: %v", n.Method, err)
			var rpcErr *jsonrpc.Error
			if errors.As(err, &rpcErr) {
				c.LogMessage(protocol.MessageError, "%s", rpcErr.Message)
			} else {
				c.LogMessage(protocol.MessageError, "%s: %v", n.Method, err)
			}
		}
		return
	}
	c.log.Debug("unhandled notification %s", n.Method)
}

// safely runs a handler, turning a panic into an internal error so one bad
// message cannot stop the dispatch loop.
func (c *Channel) safely(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("handler panicked: %v", r)
			err = jsonrpc.NewError(jsonrpc.CodeInternalError, "internal error: %v", r)
		}
	}()
	return fn()
}

// Notify sends a notification to the client.
func (c *Channel) Notify(method string, params interface{}) error {
	payload, err := jsonrpc.EncodeNotification(method, params)
	if err != nil {
		return err
	}
	if !c.enqueue(payload, true) {
		return fmt.Errorf("notify %s: %w", method, ErrClosed)
	}
	return nil
}

// LogMessage sends a log line to the client.
func (c *Channel) LogMessage(messageType int, format string, args ...interface{}) {
	_ = c.Notify(protocol.MethodLogMessage, protocol.LogMessageParams{
		Type:    messageType,
		Message: fmt.Sprintf(format, args...),
	})
}
