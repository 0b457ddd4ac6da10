package channel

import (
	"github.com/codefionn/buildwire/internal/auth"
	"github.com/codefionn/buildwire/internal/jsonrpc"
	"github.com/codefionn/buildwire/internal/logger"
	"github.com/codefionn/buildwire/internal/protocol"
)

// RequestFunc handles an inbound request. Returning a *jsonrpc.Error answers the
// request with that code and message; any other error answers with an internal
// error. A nil return leaves answering to the handler.
type RequestFunc func(cb Callback, req *jsonrpc.Request) error

// ResponseFunc handles a response to a request this side sent.
type ResponseFunc func(cb Callback, resp *jsonrpc.Response) error

// NotificationFunc handles an inbound notification. Errors are reported to the
// client as error log messages.
type NotificationFunc func(cb Callback, n *jsonrpc.Notification) error

// Handler contributes protocol behavior. Each method reports whether it takes the
// message; the first handler that does wins.
type Handler interface {
	Request(req *jsonrpc.Request) (RequestFunc, bool)
	Response(resp *jsonrpc.Response) (ResponseFunc, bool)
	Notification(n *jsonrpc.Notification) (NotificationFunc, bool)
}

// Methods is a Handler keyed by method name.
type Methods struct {
	Requests      map[string]RequestFunc
	Notifications map[string]NotificationFunc
	// Responses matches responses by id. May be nil.
	Responses func(resp *jsonrpc.Response) (ResponseFunc, bool)
}

// Request implements Handler.
func (m Methods) Request(req *jsonrpc.Request) (RequestFunc, bool) {
	fn, ok := m.Requests[req.Method]
	return fn, ok
}

// Response implements Handler.
func (m Methods) Response(resp *jsonrpc.Response) (ResponseFunc, bool) {
	if m.Responses == nil {
		return nil, false
	}
	return m.Responses(resp)
}

// Notification implements Handler.
func (m Methods) Notification(n *jsonrpc.Notification) (NotificationFunc, bool) {
	fn, ok := m.Notifications[n.Method]
	return fn, ok
}

// Callback is the view of a channel handed to handlers. *Channel implements it.
// Request ids passed to it are ledger keys: req.ID.Key().
type Callback interface {
	Name() string
	Log() *logger.Logger

	AuthOptions() auth.Options
	Authenticate(token string) bool
	SetInitialized(initialized bool)
	Initialized() bool

	RespondResult(id string, result interface{})
	RespondError(id string, code int, message string)
	Notify(method string, params interface{}) error
	LogMessage(messageType int, format string, args ...interface{})

	// AppendExec queues a command line as new engine work and returns its
	// execution id. An empty execID asks the engine for an anonymous one. The
	// outcome is reported through execStatus notifications only.
	AppendExec(commandLine, execID string) (string, error)

	OnSettingQuery(id string, query protocol.SettingQuery)
	OnCompletionRequest(id string, params protocol.CompletionParams)
	OnCancellationRequest(id string, params protocol.CancelRequestParams)
}

var _ Callback = (*Channel)(nil)

// AuthOptions returns the authentication the channel requires.
func (c *Channel) AuthOptions() auth.Options {
	return c.opts.Auth
}

// Authenticate checks token against the server's authenticator.
func (c *Channel) Authenticate(token string) bool {
	if c.opts.Authenticator == nil {
		return false
	}
	return c.opts.Authenticator.Authenticate(token)
}

// SetInitialized marks the handshake complete or not.
func (c *Channel) SetInitialized(initialized bool) {
	c.initialized.Store(initialized)
}

// Initialized reports whether the client completed the handshake.
func (c *Channel) Initialized() bool {
	return c.initialized.Load()
}
