package jsonrpc

import (
	"encoding/json"
	"fmt"
)

// ProtocolVersion is the supported JSON-RPC protocol version.
const ProtocolVersion = "2.0"

// Request represents a JSON-RPC request (with an ID) or notification (without ID).
// The engine itself inspects decoded envelopes generically; this type is used by
// transports and clients that need to build requests.
type Request struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	Method         string          `json:"method"`
	Params         json.RawMessage `json:"params,omitempty"`
	ID             *RequestID      `json:"id,omitempty"`
}

// Response represents a JSON-RPC response. Exactly one of Result or Error is
// serialized, and the id member is always present (null when unknown).
type Response struct {
	JSONRPCVersion string
	Result         any
	Error          *Error
	ID             *RequestID
}

// NewResultResponse builds a successful JSON-RPC response object.
func NewResultResponse(id *RequestID, result any) *Response {
	return &Response{
		JSONRPCVersion: ProtocolVersion,
		Result:         result,
		ID:             id,
	}
}

// NewErrorResponse builds an error JSON-RPC response from an error object.
func NewErrorResponse(id *RequestID, e *Error) *Response {
	return &Response{
		JSONRPCVersion: ProtocolVersion,
		Error:          e,
		ID:             id,
	}
}

type resultEnvelope struct {
	JSONRPCVersion string     `json:"jsonrpc"`
	Result         any        `json:"result"`
	ID             *RequestID `json:"id"`
}

type errorEnvelope struct {
	JSONRPCVersion string     `json:"jsonrpc"`
	Error          *Error     `json:"error"`
	ID             *RequestID `json:"id"`
}

// MarshalJSON implements json.Marshaler.
func (r Response) MarshalJSON() ([]byte, error) {
	id := r.ID
	if id == nil {
		id = NullRequestID()
	}
	if r.Error != nil {
		return json.Marshal(errorEnvelope{JSONRPCVersion: r.JSONRPCVersion, Error: r.Error, ID: id})
	}
	return json.Marshal(resultEnvelope{JSONRPCVersion: r.JSONRPCVersion, Result: r.Result, ID: id})
}

// UnmarshalJSON implements json.Unmarshaler. It enforces that a response
// carries either a result or an error, never both.
func (r *Response) UnmarshalJSON(data []byte) error {
	var raw struct {
		JSONRPCVersion string          `json:"jsonrpc"`
		Result         json.RawMessage `json:"result"`
		Error          *Error          `json:"error"`
		ID             *RequestID      `json:"id"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if raw.JSONRPCVersion != ProtocolVersion {
		return fmt.Errorf("invalid JSON-RPC version: expected %q, got %q", ProtocolVersion, raw.JSONRPCVersion)
	}
	hasResult := len(raw.Result) > 0
	if hasResult && raw.Error != nil {
		return fmt.Errorf("response message cannot have both result and error fields")
	}
	if !hasResult && raw.Error == nil {
		return fmt.Errorf("response message must have either result or error field")
	}

	r.JSONRPCVersion = raw.JSONRPCVersion
	r.Error = raw.Error
	r.ID = raw.ID
	r.Result = nil
	if hasResult {
		var v any
		if err := json.Unmarshal(raw.Result, &v); err != nil {
			return fmt.Errorf("invalid result: %w", err)
		}
		r.Result = v
	}
	return nil
}

// Error is a JSON-RPC error object.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Data    any       `json:"data,omitempty"`
}

// Error implements the error interface so error objects can travel through
// ordinary error returns.
func (e *Error) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("jsonrpc error %d: %s (%v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// Clone returns a copy of the error object so templates are never shared.
func (e *Error) Clone() *Error {
	if e == nil {
		return nil
	}
	c := *e
	return &c
}
