package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"runtime/debug"

	"github.com/ggoodman/jsonrpc-server-go/entity"
	"github.com/ggoodman/jsonrpc-server-go/rpcerr"
)

var errNoHandler = errors.New("no handler")

// resolveHandler turns a Method.Handler value into a callable HandlerFunc.
func resolveHandler(receiver any, handler any) (HandlerFunc, error) {
	switch h := handler.(type) {
	case HandlerFunc:
		if h == nil {
			return nil, errNoHandler
		}
		return h, nil
	case func(context.Context, any, Respond, *entity.ParsedRequest, int):
		if h == nil {
			return nil, errNoHandler
		}
		return h, nil
	case string:
		if receiver == nil {
			return nil, fmt.Errorf("handler %q: no receiver", h)
		}
		m := reflect.ValueOf(receiver).MethodByName(h)
		if !m.IsValid() {
			return nil, fmt.Errorf("handler %q: no such method on %T", h, receiver)
		}
		fn, ok := m.Interface().(func(context.Context, any, Respond, *entity.ParsedRequest, int))
		if !ok {
			return nil, fmt.Errorf("handler %q: unexpected signature %s", h, m.Type())
		}
		return fn, nil
	case nil:
		return nil, errNoHandler
	default:
		return nil, fmt.Errorf("unsupported handler type %T", handler)
	}
}

// invoke runs the handler of c. A handler that cannot be resolved is logged
// and never called; a handler that panics is reported as an internal error.
func (d *Dispatcher) invoke(ctx context.Context, c *call, req *entity.ParsedRequest, respond Respond) {
	fn, err := resolveHandler(c.reg.Receiver, c.method.Handler)
	if err != nil {
		d.log.ErrorContext(ctx, "rpc.handler.unresolved", slog.String("path", c.path), slog.String("err", err.Error()))
		return
	}

	defer func() {
		if p := recover(); p != nil {
			d.log.ErrorContext(ctx, "rpc.handler.panic",
				slog.String("err", fmt.Sprint(p)),
				slog.String("stack", string(debug.Stack())),
			)
			respond(rpcerr.Wrap(rpcerr.InternalError, fmt.Errorf("handler panic: %v", p)), nil)
		}
	}()

	fn(ctx, c.params, respond, req, 0)
}
