package vterm

import (
	"github.com/codefionn/buildwire/internal/protocol"
)

func (t *Terminal) queryCapability(query protocol.TerminalCapabilitiesQuery) (protocol.TerminalCapabilitiesResponse, bool) {
	var resp protocol.TerminalCapabilitiesResponse

	ctx, release, ok := t.wait(t.opts.CapabilityTimeout)
	if !ok {
		return resp, false
	}
	defer release()

	if err := t.q.Query(ctx, protocol.MethodTerminalCapabilities, query, &resp); err != nil {
		t.log.Debug("capability query %+v failed: %v", query, err)
		return resp, false
	}
	return resp, true
}

// BooleanCapability asks the client for one boolean capability, false when unknown.
func (t *Terminal) BooleanCapability(name string) bool {
	resp, ok := t.queryCapability(protocol.TerminalCapabilitiesQuery{Boolean: name})
	if !ok || resp.Boolean == nil {
		return false
	}
	return *resp.Boolean
}

// NumericCapability asks the client for one numeric capability, -1 when unknown.
func (t *Terminal) NumericCapability(name string) int {
	resp, ok := t.queryCapability(protocol.TerminalCapabilitiesQuery{Numeric: name})
	if !ok || resp.Numeric == nil {
		return -1
	}
	return *resp.Numeric
}

// StringCapability asks the client for one string capability, "" when unknown.
func (t *Terminal) StringCapability(name string) string {
	resp, ok := t.queryCapability(protocol.TerminalCapabilitiesQuery{String: name})
	if !ok || resp.String == nil {
		return ""
	}
	return *resp.String
}

// SetEchoEnabled asks the client to turn local echo on or off.
func (t *Terminal) SetEchoEnabled(enabled bool) error {
	return t.toggle(protocol.MethodTerminalSetEcho, protocol.TerminalSetEchoParams{Toggle: enabled})
}

// SetRawMode asks the client to enter or leave raw mode.
func (t *Terminal) SetRawMode(enabled bool) error {
	return t.toggle(protocol.MethodTerminalSetRawMode, protocol.TerminalSetRawModeParams{Toggle: enabled})
}

func (t *Terminal) toggle(method string, params interface{}) error {
	ctx, release, ok := t.wait(t.opts.CapabilityTimeout)
	if !ok {
		return ErrClosed
	}
	defer release()
	return t.q.Query(ctx, method, params, nil)
}
