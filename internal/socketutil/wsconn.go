package socketutil

import (
	"bytes"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/codefionn/buildwire/internal/consts"
)

const writeWait = consts.Timeout10Seconds

// WebSocketConn turns a websocket into the newline-delimited byte stream the
// channel speaks. Every written line becomes one text message; every received
// message is read back as one line.
//
// Read deadlines are emulated: a gorilla connection cannot be read again after
// a read times out, so a pump goroutine owns ReadMessage and Read only waits on it.
type WebSocketConn struct {
	ws *websocket.Conn

	frames  chan []byte
	readErr error
	buf     []byte

	deadlineMu   sync.Mutex
	readDeadline time.Time

	writeMu sync.Mutex
	pending []byte

	closeOnce sync.Once
	done      chan struct{}
}

var _ net.Conn = (*WebSocketConn)(nil)

// NewWebSocketConn wraps ws and starts its read pump.
func NewWebSocketConn(ws *websocket.Conn) *WebSocketConn {
	c := &WebSocketConn{
		ws:     ws,
		frames: make(chan []byte),
		done:   make(chan struct{}),
	}
	ws.SetReadLimit(consts.MaxFrameSize)
	go c.readPump()
	return c
}

func (c *WebSocketConn) readPump() {
	defer close(c.frames)

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				err = io.EOF
			}
			c.readErr = err
			return
		}
		if len(data) == 0 || data[len(data)-1] != '\n' {
			data = append(data, '\n')
		}
		select {
		case c.frames <- data:
		case <-c.done:
			c.readErr = net.ErrClosed
			return
		}
	}
}

// Read returns bytes of the received messages in order.
func (c *WebSocketConn) Read(p []byte) (int, error) {
	select {
	case <-c.done:
		return 0, net.ErrClosed
	default:
	}
	if len(c.buf) > 0 {
		n := copy(p, c.buf)
		c.buf = c.buf[n:]
		return n, nil
	}

	var timeout <-chan time.Time
	c.deadlineMu.Lock()
	deadline := c.readDeadline
	c.deadlineMu.Unlock()
	if !deadline.IsZero() {
		wait := time.Until(deadline)
		if wait <= 0 {
			return 0, os.ErrDeadlineExceeded
		}
		timer := time.NewTimer(wait)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case data, ok := <-c.frames:
		if !ok {
			// readErr is written before frames is closed
			return 0, c.readErr
		}
		n := copy(p, data)
		c.buf = data[n:]
		return n, nil
	case <-timeout:
		return 0, os.ErrDeadlineExceeded
	case <-c.done:
		return 0, net.ErrClosed
	}
}

// Write buffers p and sends every completed line as a text message.
func (c *WebSocketConn) Write(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.done:
		return 0, net.ErrClosed
	default:
	}

	c.pending = append(c.pending, p...)
	for {
		idx := bytes.IndexByte(c.pending, '\n')
		if idx < 0 {
			break
		}
		line := c.pending[:idx]
		_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.ws.WriteMessage(websocket.TextMessage, line); err != nil {
			return 0, err
		}
		c.pending = c.pending[idx+1:]
	}
	return len(p), nil
}

// CloseWrite tells the peer no more messages follow.
func (c *WebSocketConn) CloseWrite() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	return c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

// Close closes the websocket. Pending reads return net.ErrClosed.
func (c *WebSocketConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.ws.Close()
	})
	return err
}

// SetReadDeadline bounds the next Read calls. The zero time disables it.
func (c *WebSocketConn) SetReadDeadline(t time.Time) error {
	c.deadlineMu.Lock()
	defer c.deadlineMu.Unlock()
	c.readDeadline = t
	return nil
}

// SetWriteDeadline is a no-op, every message gets its own write deadline.
func (c *WebSocketConn) SetWriteDeadline(time.Time) error {
	return nil
}

// SetDeadline sets the read deadline.
func (c *WebSocketConn) SetDeadline(t time.Time) error {
	return c.SetReadDeadline(t)
}

func (c *WebSocketConn) LocalAddr() net.Addr  { return c.ws.LocalAddr() }
func (c *WebSocketConn) RemoteAddr() net.Addr { return c.ws.RemoteAddr() }
