package channel

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefionn/buildwire/internal/protocol"
	"github.com/codefionn/buildwire/internal/vterm"
)

func attach(t *testing.T, f *fixture) *vterm.Terminal {
	t.Helper()
	f.peer.request("attach", protocol.MethodAttach, protocol.AttachParams{Interactive: true})
	msg := f.peer.next()
	require.Nil(t, msg.Error)
	term := f.ch.Terminal()
	require.NotNil(t, term)
	return term
}

func TestTerminalPropertiesRoundTrip(t *testing.T) {
	f := newFixture(t, nil)
	term := attach(t, f)
	assert.True(t, term.Interactive())

	width := make(chan int, 1)
	go func() { width <- term.Width() }()

	msg := f.peer.next()
	assert.Equal(t, protocol.MethodTerminalProperties, msg.Method)
	require.NotNil(t, msg.ID)
	f.peer.respond(*msg.ID, protocol.TerminalPropertiesResponse{Width: 99, Height: 30, IsAnsiSupported: true})

	select {
	case w := <-width:
		assert.Equal(t, 99, w)
	case <-time.After(2 * time.Second):
		t.Fatal("properties query not answered")
	}
	assert.Equal(t, 0, f.ch.Outstanding())
	assert.True(t, term.Properties(false).IsAnsiSupported)
}

func TestTerminalCapabilityRoundTrip(t *testing.T) {
	f := newFixture(t, nil)
	term := attach(t, f)

	colors := make(chan int, 1)
	go func() { colors <- term.NumericCapability("colors") }()

	msg := f.peer.next()
	assert.Equal(t, protocol.MethodTerminalCapabilities, msg.Method)
	assert.Equal(t, "colors", decode[protocol.TerminalCapabilitiesQuery](t, msg.Params).Numeric)
	n := 256
	f.peer.respond(*msg.ID, protocol.TerminalCapabilitiesResponse{Numeric: &n})

	assert.Equal(t, 256, <-colors)
}

func TestSystemInReachesTerminal(t *testing.T) {
	f := newFixture(t, nil)
	term := attach(t, f)

	for _, b := range []byte("ok") {
		f.peer.notify(protocol.MethodSystemIn, protocol.SystemInParams{Byte: int(b)})
	}
	f.peer.notify(protocol.MethodTerminalInputClosed, nil)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	buf := make([]byte, 0, 2)
	for {
		b := term.ReadInput(ctx)
		if b == vterm.EOF {
			break
		}
		buf = append(buf, byte(b))
	}
	assert.Equal(t, "ok", string(buf))
}

func TestDetachClosesTerminal(t *testing.T) {
	f := newFixture(t, nil)
	term := attach(t, f)

	f.peer.request("batch", protocol.MethodAttach, protocol.AttachParams{Interactive: false})
	f.peer.next()
	assert.Nil(t, f.ch.Terminal())
	assert.True(t, term.Closed())
}

func TestAttachRacingShutdownLeavesNoOpenTerminal(t *testing.T) {
	for i := 0; i < 50; i++ {
		f := newFixture(t, nil)

		var wg sync.WaitGroup
		attached := make(chan *vterm.Terminal, 8)
		for j := 0; j < 8; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				attached <- f.ch.Attach(true)
			}()
		}
		f.ch.Shutdown()
		wg.Wait()
		close(attached)

		assert.Nil(t, f.ch.Terminal())
		for term := range attached {
			if term != nil {
				assert.True(t, term.Closed(), "terminal attached around shutdown left open")
			}
		}
		assert.Nil(t, f.ch.Attach(true), "attach after shutdown")
	}
}

func TestShutdownInterruptsTerminalQueries(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.PropertiesTimeout = time.Minute
		o.CapabilityTimeout = time.Minute
	})
	term := attach(t, f)

	var width, colors atomic.Int32
	done := make(chan struct{}, 2)
	go func() { width.Store(int32(term.Width())); done <- struct{}{} }()
	go func() { colors.Store(int32(term.NumericCapability("colors"))); done <- struct{}{} }()

	// read the queries but never answer them
	f.peer.next()
	f.peer.next()
	require.Eventually(t, func() bool { return term.Waiters() == 3 }, time.Second, 5*time.Millisecond)

	f.ch.Shutdown()
	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("blocked terminal caller not interrupted")
		}
	}
	assert.Equal(t, int32(0), width.Load())
	assert.Equal(t, int32(-1), colors.Load())
	assert.Equal(t, 0, term.Waiters())
	assert.True(t, term.Closed())
}
