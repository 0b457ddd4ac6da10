package channel

import (
	"encoding/json"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codefionn/buildwire/internal/auth"
	"github.com/codefionn/buildwire/internal/engine"
	"github.com/codefionn/buildwire/internal/jsonrpc"
	"github.com/codefionn/buildwire/internal/logger"
	"github.com/codefionn/buildwire/internal/protocol"
)

const testToken = "s3cret"

// peer is the client end of a channel under test.
type peer struct {
	t      *testing.T
	conn   net.Conn
	reader *jsonrpc.Reader
}

func (p *peer) writeRaw(s string) {
	p.t.Helper()
	require.NoError(p.t, p.conn.SetWriteDeadline(time.Now().Add(2*time.Second)))
	_, err := p.conn.Write([]byte(s))
	require.NoError(p.t, err)
}

func (p *peer) request(id interface{}, method string, params interface{}) {
	p.t.Helper()
	var rid jsonrpc.ID
	switch v := id.(type) {
	case int:
		rid = jsonrpc.IntID(int64(v))
	case string:
		rid = jsonrpc.StringID(v)
	}
	body, err := jsonrpc.EncodeRequest(rid, method, params)
	require.NoError(p.t, err)
	p.writeRaw(string(body) + "\n")
}

func (p *peer) notify(method string, params interface{}) {
	p.t.Helper()
	body, err := jsonrpc.EncodeNotification(method, params)
	require.NoError(p.t, err)
	p.writeRaw(string(body) + "\n")
}

func (p *peer) respond(id jsonrpc.ID, result interface{}) {
	p.t.Helper()
	body, err := jsonrpc.EncodeResult(id, result)
	require.NoError(p.t, err)
	p.writeRaw(string(body) + "\n")
}

// next returns the next frame the channel wrote.
func (p *peer) next() jsonrpc.Message {
	p.t.Helper()
	require.NoError(p.t, p.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	body, err := p.reader.ReadFrame()
	require.NoError(p.t, err)
	var msg jsonrpc.Message
	require.NoError(p.t, json.Unmarshal(body, &msg))
	return msg
}

// nextSkipping returns the next frame whose method is not one of skip.
func (p *peer) nextSkipping(skip ...string) jsonrpc.Message {
	p.t.Helper()
	for {
		msg := p.next()
		skipped := false
		for _, m := range skip {
			if msg.Method == m && msg.ID == nil {
				skipped = true
			}
		}
		if !skipped {
			return msg
		}
	}
}

// expectSilence asserts that nothing is written for a short while.
func (p *peer) expectSilence() {
	p.t.Helper()
	require.NoError(p.t, p.conn.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	body, err := p.reader.ReadFrame()
	require.Error(p.t, err, "unexpected frame %s", body)
	require.True(p.t, jsonrpc.IsTimeout(err), "unexpected error %v", err)
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

// countingConn counts Close calls.
type countingConn struct {
	net.Conn
	closes atomic.Int32
}

func (c *countingConn) Close() error {
	c.closes.Add(1)
	return c.Conn.Close()
}

type fakeWork struct {
	id      string
	cancels atomic.Int32
	panics  bool
}

func (w *fakeWork) ExecID() string { return w.id }

func (w *fakeWork) CancelAndShutdown() {
	if w.panics {
		panic("engine gone")
	}
	w.cancels.Add(1)
}

type fakeEngine struct {
	mu        sync.Mutex
	running   *fakeWork
	submitted []*engine.Command
	counter   int
	settings  *engine.Settings
	state     *engine.ParserState
}

func newFakeEngine() *fakeEngine {
	settings := engine.NewSettings(map[string]string{"name": "demo", "version": "1.2.3"})
	return &fakeEngine{
		settings: settings,
		state:    engine.NewParserState([]string{"build", "bench"}, settings.Names()),
	}
}

func (e *fakeEngine) Submit(cmd *engine.Command) (string, int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cmd.ExecID == "" {
		e.counter++
		cmd.ExecID = protocol.AnonymousExecMarker + strconv.Itoa(e.counter)
	}
	e.submitted = append(e.submitted, cmd)
	return cmd.ExecID, len(e.submitted) - 1, nil
}

func (e *fakeEngine) Running() engine.Work {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running == nil {
		return nil
	}
	return e.running
}

func (e *fakeEngine) LastState() *engine.ParserState { return e.state }

func (e *fakeEngine) Settings() *engine.Settings { return e.settings }

func (e *fakeEngine) setRunning(w *fakeWork) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.running = w
}

func (e *fakeEngine) commands() []*engine.Command {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*engine.Command(nil), e.submitted...)
}

type fixture struct {
	ch     *Channel
	peer   *peer
	conn   *countingConn
	engine *fakeEngine
}

func newFixture(t *testing.T, mutate func(*Options)) *fixture {
	t.Helper()
	server, client := net.Pipe()
	conn := &countingConn{Conn: server}
	eng := newFakeEngine()

	opts := Options{
		Name:              "network-1",
		Engine:            eng,
		ReadTimeout:       20 * time.Millisecond,
		PropertiesTimeout: time.Second,
		CapabilityTimeout: time.Second,
		Logger:            logger.NewWriter(logger.LevelNone, nil, ""),
	}
	if mutate != nil {
		mutate(&opts)
	}

	ch := New(conn, opts)
	ch.Start()
	t.Cleanup(func() {
		ch.Shutdown()
		_ = client.Close()
		ch.Wait()
	})

	return &fixture{
		ch:     ch,
		peer:   &peer{t: t, conn: client, reader: jsonrpc.NewReader(client, nil)},
		conn:   conn,
		engine: eng,
	}
}

func withToken(opts *Options) {
	opts.Auth = auth.Options{Token: true}
	opts.Authenticator = auth.AuthenticatorFunc(func(token string) bool { return token == testToken })
}
