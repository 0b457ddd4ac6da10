package channel

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefionn/buildwire/internal/jsonrpc"
	"github.com/codefionn/buildwire/internal/protocol"
)

// hold registers requests for test/hold without answering them.
var hold = Methods{
	Requests: map[string]RequestFunc{
		"test/hold": func(Callback, *jsonrpc.Request) error { return nil },
	},
}

func TestExactlyOneResponsePerRequest(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Handlers = []Handler{hold} })

	f.peer.request(1, "test/hold", nil)
	require.Eventually(t, func() bool { return f.ch.Pending("1") }, time.Second, 5*time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				f.ch.RespondResult("1", i)
			} else {
				f.ch.RespondError("1", jsonrpc.CodeInternalError, "late")
			}
		}(i)
	}
	wg.Wait()

	msg := f.peer.next()
	require.NotNil(t, msg.ID)
	assert.Equal(t, "1", msg.ID.String())
	f.peer.expectSilence()
	assert.False(t, f.ch.Pending("1"))
	assert.Equal(t, 0, f.ch.PendingCount())
}

func TestResponseForUnknownIDWritesNothing(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Handlers = []Handler{hold} })

	f.ch.RespondResult("never-asked", "x")
	f.peer.expectSilence()

	key := jsonrpc.StringID("a").Key()
	f.peer.request("a", "test/hold", nil)
	require.Eventually(t, func() bool { return f.ch.Pending(key) }, time.Second, 5*time.Millisecond)
	f.ch.RespondResult("a", "unquoted key matches nothing")
	f.ch.RespondResult(key, "first")
	f.ch.RespondResult(key, "second")

	msg := f.peer.next()
	assert.JSONEq(t, `"first"`, string(msg.Result))
	f.peer.expectSilence()
}

func TestOutboundFramesKeepEnqueueOrder(t *testing.T) {
	f := newFixture(t, nil)

	for i := 0; i < 50; i++ {
		require.NoError(t, f.ch.Notify("test/seq", map[string]int{"n": i}))
	}
	for i := 0; i < 50; i++ {
		msg := f.peer.next()
		assert.Equal(t, "test/seq", msg.Method)
		assert.Equal(t, i, decode[map[string]int](t, msg.Params)["n"])
	}
}

func TestIDsEchoedInOriginalForm(t *testing.T) {
	f := newFixture(t, nil)

	f.peer.request(7, protocol.MethodInitialize, nil)
	msg := f.peer.next()
	assert.Equal(t, "7", string(mustJSON(t, msg.ID)))

	f.peer.request("7", protocol.MethodInitialize, nil)
	msg = f.peer.nextSkipping(protocol.MethodAccepted)
	assert.Equal(t, `"7"`, string(mustJSON(t, msg.ID)))
}

func mustJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestMalformedFramesAreReportedAndSkipped(t *testing.T) {
	f := newFixture(t, nil)

	f.peer.writeRaw("{not json\n")
	msg := f.peer.next()
	assert.Equal(t, protocol.MethodLogMessage, msg.Method)
	assert.Equal(t, protocol.MessageError, decode[protocol.LogMessageParams](t, msg.Params).Type)

	f.peer.writeRaw("Content-Length: nope\r\n\r\n")
	msg = f.peer.next()
	assert.Equal(t, protocol.MethodLogMessage, msg.Method)

	f.peer.request(1, protocol.MethodInitialize, nil)
	msg = f.peer.next()
	require.NotNil(t, msg.ID)
	assert.Equal(t, "1", msg.ID.String())
	assert.True(t, f.ch.Running())
}

func TestObsoleteContentTypeIsReported(t *testing.T) {
	f := newFixture(t, nil)

	body := `{"jsonrpc":"2.0","id":3,"method":"initialize"}`
	f.peer.writeRaw("Content-Length: " + strconv.Itoa(len(body)) + "\r\n" +
		"Content-Type: " + protocol.ObsoleteContentType + "\r\n\r\n" + body)

	msg := f.peer.next()
	assert.Equal(t, protocol.MethodLogMessage, msg.Method)
	assert.Contains(t, decode[protocol.LogMessageParams](t, msg.Params).Message, protocol.ObsoleteContentType)

	msg = f.peer.next()
	require.NotNil(t, msg.ID)
	assert.Equal(t, "3", msg.ID.String())
}

func TestHandlerChainOrder(t *testing.T) {
	var calls []string
	first := Methods{
		Requests: map[string]RequestFunc{
			"custom/echo": func(cb Callback, req *jsonrpc.Request) error {
				calls = append(calls, "first")
				cb.RespondResult(req.ID.Key(), "first")
				return nil
			},
			protocol.MethodInitialize: func(Callback, *jsonrpc.Request) error {
				calls = append(calls, "shadowed")
				return nil
			},
		},
	}
	second := Methods{
		Requests: map[string]RequestFunc{
			"custom/echo": func(Callback, *jsonrpc.Request) error {
				calls = append(calls, "second")
				return nil
			},
			"custom/fail": func(Callback, *jsonrpc.Request) error {
				return jsonrpc.NewError(-32099, "custom failure")
			},
			"custom/plain": func(Callback, *jsonrpc.Request) error {
				return errors.New("plain failure")
			},
			"custom/panic": func(Callback, *jsonrpc.Request) error {
				panic("boom")
			},
		},
	}
	f := newFixture(t, func(o *Options) { o.Handlers = []Handler{first, second} })

	f.peer.request(1, "custom/echo", nil)
	msg := f.peer.next()
	assert.JSONEq(t, `"first"`, string(msg.Result))

	f.peer.request(2, protocol.MethodInitialize, nil)
	msg = f.peer.next()
	assert.JSONEq(t, `{"channelName":"network-1"}`, string(msg.Result))
	assert.Equal(t, []string{"first"}, calls)

	f.peer.request(3, "custom/fail", nil)
	msg = f.peer.nextSkipping(protocol.MethodAccepted)
	require.NotNil(t, msg.Error)
	assert.Equal(t, -32099, msg.Error.Code)
	assert.Equal(t, "custom failure", msg.Error.Message)

	f.peer.request(4, "custom/plain", nil)
	msg = f.peer.next()
	require.NotNil(t, msg.Error)
	assert.Equal(t, jsonrpc.CodeInternalError, msg.Error.Code)

	f.peer.request(5, "custom/panic", nil)
	msg = f.peer.next()
	require.NotNil(t, msg.Error)
	assert.Equal(t, jsonrpc.CodeInternalError, msg.Error.Code)
	assert.True(t, f.ch.Running())
}

func TestUnhandledMessagesAreOnlyLogged(t *testing.T) {
	f := newFixture(t, nil)

	f.peer.request(1, "unknown/method", nil)
	f.peer.notify("unknown/notification", nil)
	f.peer.respond(jsonrpc.StringID("nobody-asked"), "x")
	f.peer.expectSilence()
	assert.True(t, f.ch.Running())
}

func TestNotificationErrorsBecomeLogMessages(t *testing.T) {
	handler := Methods{
		Notifications: map[string]NotificationFunc{
			"custom/note": func(Callback, *jsonrpc.Notification) error {
				return jsonrpc.NewError(jsonrpc.CodeInvalidParams, "bad note")
			},
		},
	}
	f := newFixture(t, func(o *Options) { o.Handlers = []Handler{handler} })

	f.peer.notify("custom/note", nil)
	msg := f.peer.next()
	assert.Equal(t, protocol.MethodLogMessage, msg.Method)
	logMsg := decode[protocol.LogMessageParams](t, msg.Params)
	assert.Equal(t, protocol.MessageError, logMsg.Type)
	assert.Equal(t, "bad note", logMsg.Message)

	f.peer.notify(protocol.MethodSystemIn, protocol.SystemInParams{Byte: 300})
	msg = f.peer.next()
	assert.Equal(t, protocol.MethodLogMessage, msg.Method)
	assert.True(t, f.ch.Running())
}

func TestShutdownIsIdempotent(t *testing.T) {
	closed := make(chan struct{}, 2)
	f := newFixture(t, func(o *Options) {
		o.OnClose = func(*Channel) { closed <- struct{}{} }
	})

	f.ch.Shutdown()
	f.ch.Shutdown()

	done := make(chan struct{})
	go func() { f.ch.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("workers did not exit")
	}

	assert.Equal(t, int32(1), f.conn.closes.Load())
	assert.Len(t, closed, 1)
	assert.False(t, f.ch.Running())
	assert.False(t, f.ch.Alive())
	assert.ErrorIs(t, f.ch.Notify("x", nil), ErrClosed)
}

func TestClientDisconnectShutsDown(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.peer.conn.Close())

	select {
	case <-f.ch.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("channel did not notice the disconnect")
	}
}

func TestShutdownNotificationClosesChannel(t *testing.T) {
	f := newFixture(t, nil)
	f.peer.notify(protocol.MethodShutdown, nil)

	select {
	case <-f.ch.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown notification ignored")
	}
}

func TestLogMessageFormatting(t *testing.T) {
	f := newFixture(t, nil)
	f.ch.LogMessage(protocol.MessageInfo, "%d tasks", 3)

	msg := f.peer.next()
	assert.Equal(t, protocol.LogMessageParams{Type: protocol.MessageInfo, Message: fmt.Sprintf("%d tasks", 3)},
		decode[protocol.LogMessageParams](t, msg.Params))
}
