package dispatcher

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/elnormous/contenttype"

	"github.com/ggoodman/jsonrpc-server-go/entity"
	"github.com/ggoodman/jsonrpc-server-go/internal/jsonrpc"
	"github.com/ggoodman/jsonrpc-server-go/internal/logctx"
	"github.com/ggoodman/jsonrpc-server-go/rpcerr"
	"github.com/ggoodman/jsonrpc-server-go/schema"
)

var acceptedMediaTypes = []contenttype.MediaType{
	contenttype.NewMediaType("application/json-rpc"),
	contenttype.NewMediaType("application/json"),
	contenttype.NewMediaType("application/jsonrequest"),
}

// call is a validated request ready for its handler.
type call struct {
	path   string
	name   string
	reg    Registration
	method Method
	params any
}

// check validates req. Checks run in a fixed order and the first failure is
// the one reported.
func (d *Dispatcher) check(req *entity.ParsedRequest) (*call, error) {
	if req == nil {
		return nil, rpcerr.New(rpcerr.InternalError)
	}
	if req.Verb != entity.AllowedVerb {
		return nil, rpcerr.New(rpcerr.DisallowedMethod)
	}
	if !acceptedContentType(req.Header) {
		return nil, rpcerr.New(rpcerr.InvalidContentType)
	}
	if !req.Decoded {
		return nil, rpcerr.New(rpcerr.ParseError)
	}
	if req.IsBatch {
		return nil, rpcerr.New(rpcerr.BatchNotImplemented)
	}

	env, ok := req.Envelope()
	if !ok || env["jsonrpc"] != jsonrpc.ProtocolVersion {
		return nil, rpcerr.New(rpcerr.InvalidRequest)
	}
	name, ok := env["method"].(string)
	if !ok {
		return nil, rpcerr.New(rpcerr.InvalidRequest)
	}
	if req.HasID && !jsonrpc.ValidID(req.RequestID) {
		return nil, rpcerr.New(rpcerr.InvalidRequest)
	}

	reg, ok := d.endpoint(req.Path)
	if !ok {
		return nil, rpcerr.New(rpcerr.UnknownEndpoint)
	}
	method, ok := reg.Methods[name]
	if !ok {
		return nil, rpcerr.New(rpcerr.MethodNotFound)
	}

	params, err := schema.Validate(method.Params, env["params"])
	if err != nil {
		return nil, &rpcerr.Error{Kind: rpcerr.InvalidParams, Data: err.Error(), Cause: err}
	}

	return &call{path: req.Path, name: name, reg: reg, method: method, params: params}, nil
}

func acceptedContentType(h http.Header) bool {
	mt, err := contenttype.GetMediaType(&http.Request{Header: h})
	if err != nil {
		return false
	}
	for _, accepted := range acceptedMediaTypes {
		if mt.Type == accepted.Type && mt.Subtype == accepted.Subtype {
			return true
		}
	}
	return false
}

// dispatch validates a ready entity and hands it to its handler.
func (d *Dispatcher) dispatch(e entity.Entity) {
	ctx := e.Context()
	if ctx.Err() != nil {
		return
	}

	req := e.Request()
	c, err := d.check(req)
	if err != nil {
		d.log.InfoContext(ctx, "rpc.rejected", slog.String("kind", string(rpcerr.KindOf(err))), slog.String("err", err.Error()))
		e.ProcessResponse(err, nil)
		return
	}

	msg := &logctx.RPCMessage{Method: c.name, Type: "request"}
	if req.HasID {
		msg.ID = jsonrpc.NewRequestID(req.RequestID).String()
	}

	if !req.HasID {
		msg.Type = "notification"
		// The reply to a notification never depends on its handler, so it is
		// sent first and the handler runs detached from the entity.
		e.ProcessResponse(nil, nil)

		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		nctx = logctx.WithRPCMessage(nctx, msg)
		d.invoke(nctx, c, req, func(err error, _ any) {
			defer cancel()
			if err != nil {
				d.log.WarnContext(nctx, "rpc.notification.failed", slog.String("err", err.Error()))
				return
			}
			d.log.DebugContext(nctx, "rpc.notification.done")
		})
		return
	}

	ctx = logctx.WithRPCMessage(ctx, msg)
	d.log.DebugContext(ctx, "rpc.dispatch", slog.String("path", c.path))
	d.invoke(ctx, c, req, e.ProcessResponse)
}
