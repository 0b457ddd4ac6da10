package channel

import (
	"errors"

	"github.com/codefionn/buildwire/internal/jsonrpc"
	"github.com/codefionn/buildwire/internal/protocol"
)

// ErrNotInitialized is returned for commands sent before the handshake.
var ErrNotInitialized = errors.New("channel not initialized")

// builtins is the first handler of every channel.
func (c *Channel) builtins() Handler {
	return Methods{
		Requests: map[string]RequestFunc{
			protocol.MethodInitialize:    c.handleInitialize,
			protocol.MethodExec:          c.handleExecRequest,
			protocol.MethodSettingQuery:  c.handleSettingQuery,
			protocol.MethodCompletion:    c.handleCompletion,
			protocol.MethodCancelRequest: c.handleCancelRequest,
			protocol.MethodAttach:        c.handleAttach,
		},
		Notifications: map[string]NotificationFunc{
			protocol.MethodExec:                c.handleExecNotification,
			protocol.MethodSystemIn:            c.handleSystemIn,
			protocol.MethodTerminalInputClosed: c.handleInputClosed,
			protocol.MethodShutdown:            c.handleShutdown,
		},
		Responses: c.matchQueryResponse,
	}
}

func (c *Channel) handleInitialize(_ Callback, req *jsonrpc.Request) error {
	var params protocol.InitializeParams
	if err := req.DecodeParams(&params); err != nil {
		return err
	}
	return c.Initialize(req.ID.Key(), params.Token())
}

// Initialize runs the handshake for the request with ledger key id. When a token is required and
// does not authenticate, the channel stays uninitialized and a protocol error is
// returned.
func (c *Channel) Initialize(id, token string) error {
	if c.opts.Auth.RequiresToken() && !c.Initialized() {
		if !c.Authenticate(token) {
			c.log.Error("authentication failed")
			c.LogMessage(protocol.MessageError, "authentication failed")
			return jsonrpc.NewError(jsonrpc.CodeAuthenticationError, "authentication failed")
		}
		c.SetInitialized(true)
		c.log.Info("client authenticated")
	}

	c.RespondResult(id, protocol.InitializeResult{ChannelName: c.Name()})
	return c.Notify(protocol.MethodAccepted, nil)
}

// dropUninitialized logs and forgets a command sent before the handshake. It
// runs before params are decoded so a dropped command is never answered, not
// even with invalid params. key is the ledger key, empty for notifications.
func (c *Channel) dropUninitialized(key, method string) bool {
	if c.Initialized() {
		return false
	}
	if key == "" {
		c.log.Warn("dropped %s notification received before initialization", method)
		return true
	}
	c.log.Warn("dropped %s %s received before initialization", method, key)
	c.forget(key)
	return true
}

func (c *Channel) handleExecRequest(_ Callback, req *jsonrpc.Request) error {
	if c.dropUninitialized(req.ID.Key(), req.Method) {
		return nil
	}
	var params protocol.ExecParams
	if err := req.DecodeParams(&params); err != nil {
		return err
	}
	// the request id doubles as the execution id; the ledger key routes the answer
	if _, err := c.appendExec(params.CommandLine, req.ID.String(), req.ID.Key()); err != nil {
		return jsonrpc.NewError(jsonrpc.CodeInternalError, "exec failed: %v", err)
	}
	return nil
}

func (c *Channel) handleExecNotification(_ Callback, n *jsonrpc.Notification) error {
	if c.dropUninitialized("", n.Method) {
		return nil
	}
	var params protocol.ExecParams
	if err := n.DecodeParams(&params); err != nil {
		return err
	}
	_, err := c.AppendExec(params.CommandLine, params.ExecID)
	return err
}

func (c *Channel) handleSettingQuery(_ Callback, req *jsonrpc.Request) error {
	if c.dropUninitialized(req.ID.Key(), req.Method) {
		return nil
	}
	var query protocol.SettingQuery
	if err := req.DecodeParams(&query); err != nil {
		return err
	}
	c.OnSettingQuery(req.ID.Key(), query)
	return nil
}

// OnSettingQuery answers a setting query from the engine's settings table.
func (c *Channel) OnSettingQuery(id string, query protocol.SettingQuery) {
	if c.dropUninitialized(id, protocol.MethodSettingQuery) {
		return
	}
	if c.opts.Engine == nil {
		c.RespondError(id, jsonrpc.CodeInternalError, "no engine")
		return
	}
	value, ok := c.opts.Engine.Settings().Get(query.Setting)
	if !ok {
		c.RespondError(id, jsonrpc.CodeInvalidParams, "unknown setting "+query.Setting)
		return
	}
	c.RespondResult(id, protocol.SettingResult{Value: value, ContentType: "text/plain"})
}

func (c *Channel) handleCompletion(_ Callback, req *jsonrpc.Request) error {
	if c.dropUninitialized(req.ID.Key(), req.Method) {
		return nil
	}
	var params protocol.CompletionParams
	if err := req.DecodeParams(&params); err != nil {
		return err
	}
	c.OnCompletionRequest(req.ID.Key(), params)
	return nil
}

// OnCompletionRequest answers with completions against the last parser state.
func (c *Channel) OnCompletionRequest(id string, params protocol.CompletionParams) {
	if c.dropUninitialized(id, protocol.MethodCompletion) {
		return
	}
	items := []string{}
	if c.opts.Engine != nil {
		if state := c.opts.Engine.LastState(); state != nil {
			items = state.Complete(params.Query)
		}
	}
	c.RespondResult(id, protocol.CompletionResult{Items: items})
}

func (c *Channel) handleCancelRequest(_ Callback, req *jsonrpc.Request) error {
	if c.dropUninitialized(req.ID.Key(), req.Method) {
		return nil
	}
	var params protocol.CancelRequestParams
	if err := req.DecodeParams(&params); err != nil {
		return err
	}
	c.OnCancellationRequest(req.ID.Key(), params)
	return nil
}

func (c *Channel) handleShutdown(_ Callback, _ *jsonrpc.Notification) error {
	c.log.Info("client requested shutdown")
	c.Shutdown()
	return nil
}

func (c *Channel) matchQueryResponse(resp *jsonrpc.Response) (ResponseFunc, bool) {
	replies, ok := c.replyTo(resp)
	if !ok {
		return nil, false
	}
	return func(_ Callback, resp *jsonrpc.Response) error {
		select {
		case replies <- resp:
		default:
			c.log.Debug("duplicate reply to query %s", resp.ID)
		}
		return nil
	}, true
}
