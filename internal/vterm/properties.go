package vterm

import (
	"github.com/codefionn/buildwire/internal/protocol"
)

// Properties returns the capability snapshot of the client terminal.
//
// A refresh is started when none is in flight and the last one finished more than
// the TTL ago. With block set the caller waits for the in-flight refresh; without
// it the current snapshot is returned right away. Until the client has answered,
// the zero snapshot is returned.
func (t *Terminal) Properties(block bool) protocol.TerminalPropertiesResponse {
	t.mu.Lock()
	if t.closed {
		props := t.snapshotLocked()
		t.mu.Unlock()
		return props
	}
	if t.refreshing == nil && (t.lastRefresh.IsZero() || t.opts.Now().Sub(t.lastRefresh) >= t.opts.PropertiesTTL) {
		t.startRefreshLocked()
	}
	refreshing := t.refreshing
	t.mu.Unlock()

	if block && refreshing != nil {
		ctx, release, ok := t.wait(t.opts.PropertiesTimeout)
		if ok {
			select {
			case <-refreshing:
			case <-ctx.Done():
			}
			release()
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Terminal) snapshotLocked() protocol.TerminalPropertiesResponse {
	if t.props == nil {
		return protocol.TerminalPropertiesResponse{}
	}
	return *t.props
}

func (t *Terminal) startRefreshLocked() {
	done := make(chan struct{})
	t.refreshing = done
	t.refreshes++
	go t.refresh(done)
}

func (t *Terminal) refresh(done chan struct{}) {
	var props protocol.TerminalPropertiesResponse
	var err error

	ctx, release, ok := t.wait(t.opts.PropertiesTimeout)
	if ok {
		err = t.q.Query(ctx, protocol.MethodTerminalProperties, nil, &props)
		release()
	}

	t.mu.Lock()
	if ok && err == nil {
		t.props = &props
	}
	t.lastRefresh = t.opts.Now()
	t.refreshing = nil
	t.mu.Unlock()
	close(done)

	if err != nil {
		t.log.Debug("terminal properties query failed: %v", err)
	}
}

// Refreshes returns how many properties queries were started.
func (t *Terminal) Refreshes() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.refreshes
}

// Width returns the client terminal width, 0 when unknown.
func (t *Terminal) Width() int {
	return t.Properties(true).Width
}

// Height returns the client terminal height, 0 when unknown.
func (t *Terminal) Height() int {
	return t.Properties(true).Height
}

// IsAnsiSupported reports whether the client understands ANSI escapes.
func (t *Terminal) IsAnsiSupported() bool {
	return t.Properties(true).IsAnsiSupported
}

// IsColorEnabled reports whether the client wants colored output.
func (t *Terminal) IsColorEnabled() bool {
	return t.Properties(true).IsColorEnabled
}

// IsSupershellEnabled reports whether the client supports the rich UI.
func (t *Terminal) IsSupershellEnabled() bool {
	return t.Properties(true).IsSupershellEnabled
}

// IsEchoEnabled reports whether the client echoes typed input.
func (t *Terminal) IsEchoEnabled() bool {
	return t.Properties(true).IsEchoEnabled
}
