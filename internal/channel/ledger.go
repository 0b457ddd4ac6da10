package channel

import (
	"errors"

	"github.com/codefionn/buildwire/internal/jsonrpc"
)

// registerRequest records an inbound request awaiting a response. Entries are
// keyed by jsonrpc.ID.Key, so the numeric id 1 and the string id "1" are separate
// requests. Registering an id again replaces the earlier entry.
func (c *Channel) registerRequest(req *jsonrpc.Request) {
	c.ledgerMu.Lock()
	defer c.ledgerMu.Unlock()
	c.ledger[req.ID.Key()] = *req
}

// forget removes a request without answering it.
func (c *Channel) forget(id string) {
	c.ledgerMu.Lock()
	defer c.ledgerMu.Unlock()
	delete(c.ledger, id)
}

// Pending reports whether the request with ledger key id still awaits a response.
func (c *Channel) Pending(id string) bool {
	c.ledgerMu.Lock()
	defer c.ledgerMu.Unlock()
	_, ok := c.ledger[id]
	return ok
}

// PendingCount returns the number of requests awaiting a response.
func (c *Channel) PendingCount() int {
	c.ledgerMu.Lock()
	defer c.ledgerMu.Unlock()
	return len(c.ledger)
}

// RespondResult answers the request whose ledger key (jsonrpc.ID.Key) is id.
// Keys that are not pending (never asked, or already answered) are only logged.
func (c *Channel) RespondResult(id string, result interface{}) {
	c.respond(id, func(req jsonrpc.Request) ([]byte, error) {
		return jsonrpc.EncodeResult(req.ID, result)
	})
}

// RespondError answers request id with an error.
func (c *Channel) RespondError(id string, code int, message string) {
	c.respond(id, func(req jsonrpc.Request) ([]byte, error) {
		return jsonrpc.EncodeError(req.ID, &jsonrpc.Error{Code: code, Message: message})
	})
}

// respondErr answers id with err, keeping the code of a protocol error.
func (c *Channel) respondErr(id string, err error) {
	var rpcErr *jsonrpc.Error
	if errors.As(err, &rpcErr) {
		c.RespondError(id, rpcErr.Code, rpcErr.Message)
		return
	}
	c.RespondError(id, jsonrpc.CodeInternalError, err.Error())
}

func (c *Channel) respond(id string, encode func(jsonrpc.Request) ([]byte, error)) {
	c.ledgerMu.Lock()
	defer c.ledgerMu.Unlock()

	req, ok := c.ledger[id]
	if !ok {
		c.log.Debug("no pending request %q, response dropped", id)
		return
	}
	delete(c.ledger, id)

	payload, err := encode(req)
	if err != nil {
		c.log.Error("encode response to %s %q: %v", req.Method, id, err)
		payload, _ = jsonrpc.EncodeError(req.ID, jsonrpc.NewError(jsonrpc.CodeInternalError, "failed to encode response"))
	}
	c.enqueue(payload, true)
}
