// Package protocol defines the message envelope exchanged with the
// browser-extension companion over native messaging.
//
// The wire format is an external contract: every frame is a JSON object
// carrying a "type" discriminator, and request/reply pairs share a
// correlation "id". The set of message categories is closed (call, reply,
// push) — new categories require a new Kind constant, not another string
// comparison at a call site.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Message type discriminators shared with the companion extension.
const (
	TypeRequest  = "rpc_request"
	TypeResponse = "rpc_response"
	TypeError    = "error"

	// Push categories the companion may emit unsolicited.
	TypeStateUpdate = "state_update"
	TypeDOMUpdate   = "dom_update"
)

// JSON-RPC error codes used in replies to the companion.
const (
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeServerError    = -32000
)

// Kind classifies a message into one of the closed set of categories.
type Kind int

const (
	// KindCall is an inbound RPC request from the companion.
	KindCall Kind = iota
	// KindReply is a response to a request we sent earlier.
	KindReply
	// KindPush is an unsolicited companion-initiated message.
	KindPush
)

// Message is the native messaging envelope. Fields are a superset across
// categories; Kind() tells which subset is meaningful.
type Message struct {
	Type   string          `json:"type"`
	ID     string          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RPCError       `json:"error,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Kind returns the message category.
func (m Message) Kind() Kind {
	switch m.Type {
	case TypeRequest:
		return KindCall
	case TypeResponse:
		return KindReply
	default:
		return KindPush
	}
}

// RPCError is the JSON-RPC error object carried in replies.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Error implements the error interface so companion-reported failures can
// flow through ordinary error returns.
func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// NewRequest builds an outbound rpc_request frame.
func NewRequest(id, method string, params any) (Message, error) {
	raw, err := marshalField(params)
	if err != nil {
		return Message{}, fmt.Errorf("marshal params for %q: %w", method, err)
	}
	return Message{Type: TypeRequest, ID: id, Method: method, Params: raw}, nil
}

// NewResult builds an rpc_response frame carrying a successful result.
func NewResult(id string, result any) (Message, error) {
	raw, err := marshalField(result)
	if err != nil {
		return Message{}, fmt.Errorf("marshal result for id %q: %w", id, err)
	}
	return Message{Type: TypeResponse, ID: id, Result: raw}, nil
}

// NewError builds an rpc_response frame carrying a JSON-RPC error.
func NewError(id string, code int, message string) Message {
	return Message{
		Type:  TypeResponse,
		ID:    id,
		Error: &RPCError{Code: code, Message: message},
	}
}

func marshalField(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(v)
}
