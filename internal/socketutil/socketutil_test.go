package socketutil

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wsPair returns both ends of a websocket connection.
func wsPair(t *testing.T) (client, server *WebSocketConn) {
	t.Helper()

	accepted := make(chan *WebSocketConn, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		accepted <- NewWebSocketConn(ws)
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"))
	require.NoError(t, err)

	select {
	case server = <-accepted:
	case <-ctx.Done():
		t.Fatal("websocket was not accepted")
	}

	client = conn.(*WebSocketConn)
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client, server
}

func TestWebSocketConn_LinesBecomeMessages(t *testing.T) {
	client, server := wsPair(t)

	// one line split over two writes, then two lines in one write
	_, err := client.Write([]byte(`{"a":`))
	require.NoError(t, err)
	_, err = client.Write([]byte("1}\n{\"b\":2}\n{\"c\":3}\n"))
	require.NoError(t, err)

	r := bufio.NewReader(server)
	for _, want := range []string{`{"a":1}`, `{"b":2}`, `{"c":3}`} {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		assert.Equal(t, want+"\n", line)
	}
}

func TestWebSocketConn_ReadDeadline(t *testing.T) {
	client, server := wsPair(t)

	require.NoError(t, server.SetReadDeadline(time.Now().Add(20*time.Millisecond)))
	buf := make([]byte, 16)
	_, err := server.Read(buf)
	require.ErrorIs(t, err, os.ErrDeadlineExceeded)

	// the connection stays usable after a timeout
	require.NoError(t, server.SetReadDeadline(time.Time{}))
	_, err = client.Write([]byte("hi\n"))
	require.NoError(t, err)

	n, err := server.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hi\n", string(buf[:n]))
}

func TestWebSocketConn_CloseWriteEndsPeerStream(t *testing.T) {
	client, server := wsPair(t)

	require.NoError(t, client.CloseWrite())

	_, err := io.ReadAll(server)
	assert.NoError(t, err)
}

func TestWebSocketConn_ClosedConn(t *testing.T) {
	client, _ := wsPair(t)

	require.NoError(t, client.Close())
	assert.NoError(t, client.Close())

	_, err := client.Read(make([]byte, 4))
	assert.ErrorIs(t, err, net.ErrClosed)
	_, err = client.Write([]byte("x\n"))
	assert.ErrorIs(t, err, net.ErrClosed)
}

func TestDetectServer(t *testing.T) {
	if runtime.GOOS != "linux" && runtime.GOOS != "darwin" {
		t.Skip("unix sockets only")
	}

	dir, err := os.MkdirTemp("", "bw")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	socketPath := filepath.Join(dir, "sock")
	assert.False(t, DetectServer(socketPath))
	assert.False(t, DetectServer(""))

	plain := filepath.Join(dir, "plain")
	require.NoError(t, os.WriteFile(plain, nil, 0600))
	assert.False(t, DetectServer(plain))
	assert.Contains(t, Describe(plain), "not responding")

	ln, err := net.Listen("unix", socketPath)
	require.NoError(t, err)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	assert.True(t, DetectServer(socketPath))
	assert.Contains(t, Describe(socketPath), "active server detected")

	require.NoError(t, ln.Close())
	assert.False(t, DetectServer(socketPath))
	assert.Contains(t, Describe(filepath.Join(dir, "missing")), "not found")
}

func TestDialWebSocketFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"))
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrUnsupported))
}
