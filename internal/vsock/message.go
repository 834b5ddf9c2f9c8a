// Package vsock implements the host↔guest control channel: a length-prefixed
// JSON message protocol over a per-VM unix socket (or AF_VSOCK on Linux
// guests). It is the only sanctioned communication path into a VM.
package vsock

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Protocol errors.
var (
	ErrFrameTooLarge = errors.New("vsock: frame exceeds maximum size")
	ErrMalformed     = errors.New("vsock: malformed message")
	ErrConnClosed    = errors.New("vsock: connection closed")
)

// Request asks the peer to invoke a method and expects exactly one
// Response carrying the same ID on the same connection.
type Request struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response answers a Request. Exactly one of Result and Error is set.
type Response struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *string         `json:"error,omitempty"`
}

// Notification is a fire-and-forget method invocation. No reply is sent.
type Notification struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Message is the closed set of wire message kinds. Exactly one field is
// non-nil; Validate enforces this so a fourth undocumented shape cannot
// slip through decoding.
type Message struct {
	Request      *Request      `json:"Request,omitempty"`
	Response     *Response     `json:"Response,omitempty"`
	Notification *Notification `json:"Notification,omitempty"`
}

// Validate checks structural invariants: exactly one variant set, and for
// responses exactly one of result/error present.
func (m *Message) Validate() error {
	n := 0
	if m.Request != nil {
		n++
	}
	if m.Response != nil {
		n++
	}
	if m.Notification != nil {
		n++
	}
	if n != 1 {
		return fmt.Errorf("%w: %d variants set, want exactly 1", ErrMalformed, n)
	}

	if r := m.Request; r != nil {
		if r.ID == "" || r.Method == "" {
			return fmt.Errorf("%w: request missing id or method", ErrMalformed)
		}
	}
	if r := m.Response; r != nil {
		if r.ID == "" {
			return fmt.Errorf("%w: response missing id", ErrMalformed)
		}
		// An explicit null result is valid; handlers may return no
		// payload. Only absence counts as "no result".
		hasResult := len(r.Result) > 0
		hasError := r.Error != nil
		if hasResult == hasError {
			return fmt.Errorf("%w: response must carry exactly one of result and error", ErrMalformed)
		}
	}
	if n := m.Notification; n != nil {
		if n.Method == "" {
			return fmt.Errorf("%w: notification missing method", ErrMalformed)
		}
	}
	return nil
}

// Encode serializes and validates a message.
func (m *Message) Encode() ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(m)
}

// DecodeMessage parses and validates a wire payload.
func DecodeMessage(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// NewRequest builds a Request message, marshaling params.
func NewRequest(id, method string, params any) (*Message, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Message{Request: &Request{ID: id, Method: method, Params: raw}}, nil
}

// NewNotification builds a Notification message.
func NewNotification(method string, params any) (*Message, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Message{Notification: &Notification{Method: method, Params: raw}}, nil
}

// NewResultResponse builds a success Response.
func NewResultResponse(id string, result any) (*Message, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return &Message{Response: &Response{ID: id, Result: raw}}, nil
}

// NewErrorResponse builds an error Response.
func NewErrorResponse(id, errMsg string) *Message {
	return &Message{Response: &Response{ID: id, Error: &errMsg}}
}

func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	return raw, nil
}
