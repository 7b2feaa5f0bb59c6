package entity

import (
	"encoding/json"
	"net/http"

	"github.com/ggoodman/jsonrpc-server-go/internal/jsonrpc"
	"github.com/ggoodman/jsonrpc-server-go/rpcerr"
)

// ContentType is set on every reply.
const ContentType = "application/json-rpc"

// AllowedVerb is the only transport verb the engine accepts. It is
// advertised in the Allow header of disallowed-method replies.
const AllowedVerb = http.MethodPost

// Reply is a formatted response ready for delivery by a transport.
type Reply struct {
	Status int
	Header http.Header

	// Body is nil when the reply carries no JSON-RPC envelope.
	Body *jsonrpc.Response

	// Kind is the error kind that produced the reply, empty on success.
	Kind rpcerr.Kind
}

// FormatResponse builds the reply for req. A non-nil err produces an error
// reply; otherwise a request carrying an id member gets a result envelope
// and anything else is treated as a notification. Whether req had an id is
// decided by presence of the member, never by the value of result.
func FormatResponse(req *ParsedRequest, err error, result any) Reply {
	id := jsonrpc.NullRequestID()
	if req != nil && req.HasID && jsonrpc.ValidID(req.RequestID) {
		id = jsonrpc.NewRequestID(req.RequestID)
	}

	header := http.Header{}
	header.Set("Content-Type", ContentType)

	if err != nil {
		entry, data := rpcerr.Resolve(err)
		if entry.Kind == rpcerr.DisallowedMethod {
			header.Set("Allow", AllowedVerb)
		}
		reply := Reply{Status: entry.Status, Header: header, Kind: entry.Kind}
		if entry.HasBody() {
			reply.Body = jsonrpc.NewErrorResponse(id, entry.Object(data))
		}
		return reply
	}

	if req != nil && req.HasID {
		return Reply{Status: http.StatusOK, Header: header, Body: jsonrpc.NewResultResponse(id, result)}
	}

	return Reply{Status: http.StatusNoContent, Header: header}
}

// encode serializes the reply body. A body that cannot be serialized, for
// instance a handler result holding a channel, is replaced by an internal
// error envelope with the same id.
func encode(reply Reply) (Reply, []byte, error) {
	if reply.Body == nil {
		return reply, nil, nil
	}
	b, err := json.Marshal(reply.Body)
	if err == nil {
		return reply, b, nil
	}

	entry, _ := rpcerr.Lookup(rpcerr.InternalError)
	fallback := Reply{
		Status: entry.Status,
		Header: reply.Header,
		Kind:   entry.Kind,
		Body:   jsonrpc.NewErrorResponse(reply.Body.ID, entry.Object(nil)),
	}
	fb, ferr := json.Marshal(fallback.Body)
	if ferr != nil {
		// Only reachable with an unmarshalable id; close the sink with no body.
		fallback.Body = nil
		return fallback, nil, err
	}
	return fallback, fb, err
}
