// Package rpcerr defines the error taxonomy of the engine: a fixed table of
// named error kinds, each carrying an HTTP-equivalent status code and a
// JSON-RPC error object template.
//
// Handlers report failures by returning a *Error built from one of the kinds:
//
//	respond(rpcerr.New(rpcerr.InvalidParams), nil)
//
// Any other error value is reported as a generic server error with the error
// text attached as the error object's data member.
package rpcerr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/ggoodman/jsonrpc-server-go/internal/jsonrpc"
)

// Kind names one entry of the taxonomy.
type Kind string

const (
	ParseError          Kind = "PARSE_ERROR"
	InvalidRequest      Kind = "INVALID_REQUEST"
	MethodNotFound      Kind = "METHOD_NOT_FOUND"
	InvalidParams       Kind = "INVALID_PARAMS"
	InternalError       Kind = "INTERNAL_ERROR"
	ServerError         Kind = "SERVER_ERROR"
	UnknownEndpoint     Kind = "UNKNOWN_ENDPOINT"
	BatchNotImplemented Kind = "BATCH_NOT_IMPLEMENTED"
	InvalidContentType  Kind = "INVALID_CONTENT_TYPE"
	DisallowedMethod    Kind = "DISALLOWED_METHOD"
	Timeout             Kind = "TIMEOUT"
)

// Entry is one row of the taxonomy.
type Entry struct {
	Kind   Kind
	Status int

	// template is nil for transport-protocol errors that carry no JSON-RPC body.
	template *jsonrpc.Error
}

// HasBody reports whether responses for this entry carry a JSON-RPC envelope.
func (e Entry) HasBody() bool { return e.template != nil }

// Object returns a fresh error object built from the template. A non-nil
// data value replaces the template's data member. Object returns nil for
// entries without a body.
func (e Entry) Object(data any) *jsonrpc.Error {
	if e.template == nil {
		return nil
	}
	obj := e.template.Clone()
	if data != nil {
		obj.Data = data
	}
	return obj
}

var table = map[Kind]Entry{
	ParseError:          {Kind: ParseError, Status: http.StatusInternalServerError, template: &jsonrpc.Error{Code: jsonrpc.ErrorCodeParseError, Message: "Parse error"}},
	InvalidRequest:      {Kind: InvalidRequest, Status: http.StatusBadRequest, template: &jsonrpc.Error{Code: jsonrpc.ErrorCodeInvalidRequest, Message: "Invalid Request"}},
	MethodNotFound:      {Kind: MethodNotFound, Status: http.StatusNotFound, template: &jsonrpc.Error{Code: jsonrpc.ErrorCodeMethodNotFound, Message: "Method not found"}},
	InvalidParams:       {Kind: InvalidParams, Status: http.StatusInternalServerError, template: &jsonrpc.Error{Code: jsonrpc.ErrorCodeInvalidParams, Message: "Invalid params"}},
	InternalError:       {Kind: InternalError, Status: http.StatusInternalServerError, template: &jsonrpc.Error{Code: jsonrpc.ErrorCodeInternalError, Message: "Internal error"}},
	ServerError:         {Kind: ServerError, Status: http.StatusInternalServerError, template: &jsonrpc.Error{Code: jsonrpc.ErrorCodeServerError, Message: "Server error"}},
	UnknownEndpoint:     {Kind: UnknownEndpoint, Status: http.StatusInternalServerError, template: &jsonrpc.Error{Code: jsonrpc.ErrorCodeUnknownEndpoint, Message: "Server error", Data: "Unknown endpoint"}},
	BatchNotImplemented: {Kind: BatchNotImplemented, Status: http.StatusInternalServerError, template: &jsonrpc.Error{Code: jsonrpc.ErrorCodeBatchNotImplemented, Message: "Server error", Data: "Batch requests not implemented"}},
	InvalidContentType:  {Kind: InvalidContentType, Status: http.StatusInternalServerError, template: &jsonrpc.Error{Code: jsonrpc.ErrorCodeInvalidContentType, Message: "Server error", Data: "Incorrect Content-Type"}},
	DisallowedMethod:    {Kind: DisallowedMethod, Status: http.StatusMethodNotAllowed},
	Timeout:             {Kind: Timeout, Status: http.StatusGatewayTimeout},
}

// Lookup returns the taxonomy entry for kind.
func Lookup(kind Kind) (Entry, bool) {
	e, ok := table[kind]
	return e, ok
}

// Error is an error of a known kind. Data, when set, is attached to the
// error object in place of the template's data member.
type Error struct {
	Kind  Kind
	Data  any
	Cause error
}

// New returns an error of the given kind.
func New(kind Kind) *Error {
	return &Error{Kind: kind}
}

// WithData returns an error of the given kind carrying diagnostic data.
func WithData(kind Kind, data any) *Error {
	return &Error{Kind: kind, Data: data}
}

// Wrap returns an error of the given kind wrapping cause.
func Wrap(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error of the same kind, so that
// errors.Is(err, rpcerr.New(rpcerr.Timeout)) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf returns the kind carried by err, or ServerError if err does not
// carry a known kind.
func KindOf(err error) Kind {
	entry, _ := Resolve(err)
	return entry.Kind
}

// Resolve maps err to its taxonomy entry and the data to attach to the error
// object. Errors without a known kind fall back to ServerError with the
// error text as data.
func Resolve(err error) (Entry, any) {
	var re *Error
	if errors.As(err, &re) {
		if entry, ok := table[re.Kind]; ok {
			return entry, re.Data
		}
	}
	return table[ServerError], err.Error()
}
