// Package socketutil finds and dials a running build server, over its unix
// socket or through the websocket gateway.
package socketutil

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/codefionn/buildwire/internal/consts"
)

// DetectionTimeout is how long to wait for a server to accept a probe connection.
const DetectionTimeout = consts.Timeout1Second

// ErrUnsupported is returned when unix sockets are not available on this platform.
var ErrUnsupported = errors.New("unix sockets are not supported on this platform")

// DetectServer reports whether a server accepts connections on socketPath.
// The probe connection is closed right away.
func DetectServer(socketPath string) bool {
	return detectServer(socketPath)
}

// Describe returns a human-readable status of socketPath for logging.
func Describe(socketPath string) string {
	info := fmt.Sprintf("Socket path: %s", socketPath)
	if socketPath == "" {
		return info + " (not configured)"
	}

	if _, err := os.Stat(socketPath); err != nil {
		if os.IsNotExist(err) {
			return info + " (not found)"
		}
		return info + fmt.Sprintf(" (error: %v)", err)
	}
	if DetectServer(socketPath) {
		return info + " (active server detected)"
	}
	return info + " (exists but server not responding)"
}

// Dial connects to a server. Addresses starting with ws:// or wss:// go through
// the websocket gateway, anything else is a unix socket path.
func Dial(ctx context.Context, address string) (net.Conn, error) {
	if strings.HasPrefix(address, "ws://") || strings.HasPrefix(address, "wss://") {
		return DialWebSocket(ctx, address)
	}
	return dialUnix(ctx, address)
}

// DialWebSocket connects to the gateway at url.
func DialWebSocket(ctx context.Context, url string) (net.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: consts.Timeout10Seconds,
		ReadBufferSize:   consts.BufferSize1KB,
		WriteBufferSize:  consts.BufferSize1KB,
	}
	ws, resp, err := dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", url, err)
	}
	return NewWebSocketConn(ws), nil
}

func probe(socketPath string) error {
	ctx, cancel := context.WithTimeout(context.Background(), DetectionTimeout)
	defer cancel()

	conn, err := dialUnix(ctx, socketPath)
	if err != nil {
		return err
	}
	return conn.Close()
}

func deadline(ctx context.Context) time.Time {
	if d, ok := ctx.Deadline(); ok {
		return d
	}
	return time.Time{}
}
