// Package protocol defines the methods and payloads of the build protocol spoken
// on top of the JSON-RPC envelope.
package protocol

// Client to server requests.
const (
	MethodInitialize    = "initialize"
	MethodExec          = "build/exec"
	MethodSettingQuery  = "build/setting"
	MethodCompletion    = "build/completion"
	MethodCancelRequest = "build/cancelRequest"
	MethodAttach        = "build/attach"
)

// Client to server notifications.
const (
	MethodSystemIn            = "build/systemIn"
	MethodTerminalInputClosed = "build/terminalInputClosed"
	MethodShutdown            = "shutdown"
)

// Server to client notifications.
const (
	MethodAccepted   = "build/accepted"
	MethodLogMessage = "build/logMessage"
	MethodExecStatus = "build/execStatus"
	MethodSystemOut  = "build/systemOut"
	MethodSystemErr  = "build/systemErr"
)

// Server to client requests.
const (
	MethodTerminalProperties   = "build/terminalPropertiesQuery"
	MethodTerminalCapabilities = "build/terminalCapabilitiesQuery"
	MethodTerminalSetEcho      = "build/terminalSetEcho"
	MethodTerminalSetRawMode   = "build/terminalSetRawMode"
)

// ObsoleteContentType names the retired wire variant. Clients announcing it are told
// to upgrade.
const ObsoleteContentType = "application/x-buildwire-v0+json"

// AnonymousExecMarker prefixes execution ids the engine assigns itself.
const AnonymousExecMarker = "⚓"

// Log message types.
const (
	MessageError   = 1
	MessageWarning = 2
	MessageInfo    = 3
	MessageLog     = 4
)

// Exec status values.
const (
	StatusProcessing = "Processing"
	StatusDone       = "Done"
	StatusError      = "Error"
	StatusCancelled  = "Task cancelled"
)

// InitializeParams are sent with initialize.
type InitializeParams struct {
	ClientName            string                 `json:"clientName,omitempty"`
	InitializationOptions *InitializationOptions `json:"initializationOptions,omitempty"`
}

// InitializationOptions carry the credentials of the client.
type InitializationOptions struct {
	Token string `json:"token,omitempty"`
}

// Token returns the token, empty when absent.
func (p InitializeParams) Token() string {
	if p.InitializationOptions == nil {
		return ""
	}
	return p.InitializationOptions.Token
}

// InitializeResult answers initialize.
type InitializeResult struct {
	ChannelName string `json:"channelName"`
}

// ExecParams request one command line. ExecID is only read from notifications;
// requests use their own id.
type ExecParams struct {
	CommandLine string `json:"commandLine"`
	ExecID      string `json:"execId,omitempty"`
}

// ExecStatusEvent reports the state of one execution.
type ExecStatusEvent struct {
	Status       string `json:"status"`
	ChannelName  string `json:"channelName,omitempty"`
	ExecID       string `json:"execId,omitempty"`
	CommandQueue int    `json:"commandQueue,omitempty"`
	ExitCode     *int   `json:"exitCode,omitempty"`
	Message      string `json:"message,omitempty"`
}

// SettingQuery asks for the value of one setting.
type SettingQuery struct {
	Setting string `json:"setting"`
}

// SettingResult answers a SettingQuery.
type SettingResult struct {
	Value       string `json:"value"`
	ContentType string `json:"contentType"`
}

// CompletionParams asks for completions of a partial command line.
type CompletionParams struct {
	Query string `json:"query"`
}

// CompletionResult lists the candidates.
type CompletionResult struct {
	Items []string `json:"items"`
}

// CancelRequestParams names the execution to cancel.
type CancelRequestParams struct {
	ID string `json:"id"`
}

// AttachParams switch the channel between interactive and batch mode.
type AttachParams struct {
	Interactive bool `json:"interactive"`
}

// SystemInParams carry one input byte for the virtual terminal.
type SystemInParams struct {
	Byte int `json:"byte"`
}

// SystemOutParams carry flushed terminal output. Bytes is base64 on the wire.
type SystemOutParams struct {
	Bytes   []byte `json:"bytes"`
	Channel string `json:"channelName,omitempty"`
}

// LogMessageParams is a log line shown by the client.
type LogMessageParams struct {
	Type    int    `json:"type"`
	Message string `json:"message"`
}

// TerminalPropertiesResponse is the capability snapshot of the client terminal.
type TerminalPropertiesResponse struct {
	Width               int  `json:"width"`
	Height              int  `json:"height"`
	IsAnsiSupported     bool `json:"isAnsiSupported"`
	IsColorEnabled      bool `json:"isColorEnabled"`
	IsSupershellEnabled bool `json:"isSupershellEnabled"`
	IsEchoEnabled       bool `json:"isEchoEnabled"`
}

// TerminalCapabilitiesQuery asks for one capability. Boolean, Numeric and String
// name the capability; exactly one is set.
type TerminalCapabilitiesQuery struct {
	Boolean string `json:"boolean,omitempty"`
	Numeric string `json:"numeric,omitempty"`
	String  string `json:"string,omitempty"`
}

// TerminalCapabilitiesResponse answers a TerminalCapabilitiesQuery. Fields the
// client does not know are omitted.
type TerminalCapabilitiesResponse struct {
	Boolean *bool   `json:"boolean,omitempty"`
	Numeric *int    `json:"numeric,omitempty"`
	String  *string `json:"string,omitempty"`
}

// TerminalSetEchoParams toggle local echo on the client terminal.
type TerminalSetEchoParams struct {
	Toggle bool `json:"toggle"`
}

// TerminalSetRawModeParams toggle raw mode on the client terminal.
type TerminalSetRawModeParams struct {
	Toggle bool `json:"toggle"`
}
