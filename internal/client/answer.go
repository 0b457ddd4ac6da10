package client

import (
	"github.com/codefionn/buildwire/internal/jsonrpc"
	"github.com/codefionn/buildwire/internal/protocol"
)

// Terminal answers the server's questions about the client terminal.
type Terminal interface {
	Properties() protocol.TerminalPropertiesResponse
	Capability(query protocol.TerminalCapabilitiesQuery) protocol.TerminalCapabilitiesResponse
	SetEcho(enabled bool) error
	SetRawMode(enabled bool) error
}

// answer replies to one request sent by the server.
func (c *Client) answer(req *jsonrpc.Request) {
	result, err := c.handleQuery(req)

	var body []byte
	var encodeErr error
	if err != nil {
		rpcErr, ok := err.(*jsonrpc.Error)
		if !ok {
			rpcErr = jsonrpc.NewError(jsonrpc.CodeInternalError, "%v", err)
		}
		body, encodeErr = jsonrpc.EncodeError(req.ID, rpcErr)
	} else {
		body, encodeErr = jsonrpc.EncodeResult(req.ID, result)
	}
	if encodeErr != nil {
		c.log.Error("encode answer to %s: %v", req.Method, encodeErr)
		return
	}
	if err := c.write(body); err != nil {
		c.log.Debug("answer to %s not sent: %v", req.Method, err)
	}
}

func (c *Client) handleQuery(req *jsonrpc.Request) (interface{}, error) {
	term := c.cfg.Terminal
	if term == nil {
		return nil, jsonrpc.NewError(jsonrpc.CodeMethodNotFound, "no terminal attached for %s", req.Method)
	}

	switch req.Method {
	case protocol.MethodTerminalProperties:
		return term.Properties(), nil

	case protocol.MethodTerminalCapabilities:
		var query protocol.TerminalCapabilitiesQuery
		if err := req.DecodeParams(&query); err != nil {
			return nil, err
		}
		return term.Capability(query), nil

	case protocol.MethodTerminalSetEcho:
		var params protocol.TerminalSetEchoParams
		if err := req.DecodeParams(&params); err != nil {
			return nil, err
		}
		return nil, term.SetEcho(params.Toggle)

	case protocol.MethodTerminalSetRawMode:
		var params protocol.TerminalSetRawModeParams
		if err := req.DecodeParams(&params); err != nil {
			return nil, err
		}
		return nil, term.SetRawMode(params.Toggle)

	default:
		return nil, jsonrpc.NewError(jsonrpc.CodeMethodNotFound, "method not found: %s", req.Method)
	}
}
