// Package jsonrpc implements the JSON-RPC 2.0 envelope spoken on a channel and
// the frame reader that cuts a byte stream into message bodies.
package jsonrpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Version is the only protocol version written on the wire.
const Version = "2.0"

// Standard and build specific error codes.
const (
	CodeParseError           = -32700
	CodeInvalidRequest       = -32600
	CodeMethodNotFound       = -32601
	CodeInvalidParams        = -32602
	CodeInternalError        = -32603
	CodeServerNotInitialized = -32002
	CodeRequestCancelled     = -32800

	CodeNoRunningWork       = -32010
	CodeCancelMismatch      = -32011
	CodeCancelFailed        = -32012
	CodeAuthenticationError = -32020
)

// ID is a request id. On the wire it is either a JSON string or a number; the
// original form is preserved so responses echo it back unchanged.
type ID struct {
	raw json.RawMessage
}

// StringID returns a string id.
func StringID(s string) ID {
	raw, _ := json.Marshal(s)
	return ID{raw: raw}
}

// IntID returns a numeric id.
func IntID(n int64) ID {
	return ID{raw: json.RawMessage(strconv.FormatInt(n, 10))}
}

// IsZero reports whether the id is unset.
func (id ID) IsZero() bool {
	return len(id.raw) == 0
}

// String returns the textual form: the unquoted string, or the number's digits.
func (id ID) String() string {
	if len(id.raw) == 0 {
		return ""
	}
	if id.raw[0] == '"' {
		var s string
		if err := json.Unmarshal(id.raw, &s); err == nil {
			return s
		}
	}
	return string(id.raw)
}

// Key returns the id exactly as it appeared on the wire, so 1 and "1" differ.
// Use it wherever ids are compared or stored.
func (id ID) Key() string {
	return string(id.raw)
}

// MarshalJSON implements json.Marshaler.
func (id ID) MarshalJSON() ([]byte, error) {
	if len(id.raw) == 0 {
		return []byte("null"), nil
	}
	return id.raw, nil
}

// UnmarshalJSON implements json.Unmarshaler. Only strings and numbers are ids.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return errors.New("empty id")
	}
	switch {
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("invalid string id: %w", err)
		}
	case data[0] == '-' || (data[0] >= '0' && data[0] <= '9'):
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("invalid numeric id: %w", err)
		}
	default:
		return fmt.Errorf("id must be a string or a number, got %s", data)
	}
	id.raw = append(json.RawMessage(nil), data...)
	return nil
}

// Error is a protocol-level error. Handlers return it to have the channel answer a
// request with exactly this code and message.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// NewError returns a protocol error with a formatted message.
func NewError(code int, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// Message is the wire envelope shared by requests, responses and notifications.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *ID             `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Incoming is one classified inbound message: *Request, *Response or *Notification.
type Incoming interface {
	incoming()
}

// Request expects exactly one response carrying the same id.
type Request struct {
	ID     ID
	Method string
	Params json.RawMessage
}

// Response answers a request this side sent earlier.
type Response struct {
	ID     ID
	Result json.RawMessage
	Error  *Error
}

// Notification is fire-and-forget.
type Notification struct {
	Method string
	Params json.RawMessage
}

func (*Request) incoming()      {}
func (*Response) incoming()     {}
func (*Notification) incoming() {}

// DecodeParams unmarshals the request params into v. Absent params leave v untouched.
// A failure is reported as an invalid-params protocol error.
func (r *Request) DecodeParams(v interface{}) error {
	return decodeParams(r.Method, r.Params, v)
}

// DecodeParams unmarshals the notification params into v.
func (n *Notification) DecodeParams(v interface{}) error {
	return decodeParams(n.Method, n.Params, v)
}

// DecodeResult unmarshals a successful result into v.
func (r *Response) DecodeResult(v interface{}) error {
	if r.Error != nil {
		return r.Error
	}
	if len(r.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Result, v); err != nil {
		return fmt.Errorf("decode result of %s: %w", r.ID, err)
	}
	return nil
}

func decodeParams(method string, params json.RawMessage, v interface{}) error {
	if len(params) == 0 || string(params) == "null" {
		return nil
	}
	if err := json.Unmarshal(params, v); err != nil {
		return NewError(CodeInvalidParams, "invalid params for %s: %v", method, err)
	}
	return nil
}

// Decode parses one frame body and classifies it. Failures are *FrameError.
func Decode(body []byte) (Incoming, error) {
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, &FrameError{Reason: "parse error: " + err.Error(), Input: snippet(body)}
	}
	if msg.JSONRPC != "" && msg.JSONRPC != Version {
		return nil, &FrameError{Reason: fmt.Sprintf("unsupported jsonrpc version %q", msg.JSONRPC), Input: snippet(body)}
	}

	switch {
	case msg.ID != nil && msg.Method != "":
		return &Request{ID: *msg.ID, Method: msg.Method, Params: msg.Params}, nil
	case msg.ID != nil:
		if msg.Result == nil && msg.Error == nil {
			return nil, &FrameError{Reason: "response carries neither result nor error", Input: snippet(body)}
		}
		return &Response{ID: *msg.ID, Result: msg.Result, Error: msg.Error}, nil
	case msg.Method != "":
		return &Notification{Method: msg.Method, Params: msg.Params}, nil
	default:
		return nil, &FrameError{Reason: "message is neither request, response nor notification", Input: snippet(body)}
	}
}

func marshalParams(params interface{}) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	if raw, ok := params.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(params)
}

// EncodeRequest serializes a request body.
func EncodeRequest(id ID, method string, params interface{}) ([]byte, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params of %s: %w", method, err)
	}
	return json.Marshal(Message{JSONRPC: Version, ID: &id, Method: method, Params: raw})
}

// EncodeNotification serializes a notification body.
func EncodeNotification(method string, params interface{}) ([]byte, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params of %s: %w", method, err)
	}
	return json.Marshal(Message{JSONRPC: Version, Method: method, Params: raw})
}

// EncodeResult serializes a successful response body. A nil result is sent as null.
func EncodeResult(id ID, result interface{}) ([]byte, error) {
	raw, err := marshalParams(result)
	if err != nil {
		return nil, fmt.Errorf("marshal result for %s: %w", id, err)
	}
	if raw == nil {
		raw = json.RawMessage("null")
	}
	return json.Marshal(Message{JSONRPC: Version, ID: &id, Result: raw})
}

// EncodeError serializes an error response body.
func EncodeError(id ID, rpcErr *Error) ([]byte, error) {
	return json.Marshal(Message{JSONRPC: Version, ID: &id, Error: rpcErr})
}

func snippet(body []byte) string {
	const max = 200
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
