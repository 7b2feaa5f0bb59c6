// Package dispatcher routes JSON-RPC calls to registered endpoint handlers.
//
// A Dispatcher owns a set of endpoints, each keyed by a request path and
// exposing named methods. Transports hand inbound calls to the dispatcher,
// either as net/http requests (HandleRequest) or as in-memory payloads
// (Proxy and Call). For every call the dispatcher creates an entity, waits
// for it to be parsed, validates it and invokes the matching handler:
//
//	d := dispatcher.New(dispatcher.WithLogger(log))
//	err := d.Register("/math", dispatcher.Registration{
//		Receiver: &Calculator{},
//		Methods: map[string]dispatcher.Method{
//			"add": {Handler: "Add", Params: schema.Positional{
//				{Type: schema.Number, Required: true},
//				{Type: schema.Number, Required: true},
//			}},
//		},
//	})
//
// Handlers report their outcome through the Respond callback they are given.
// They may call it synchronously or from another goroutine; only the first
// call, or the entity timeout, produces the reply.
package dispatcher
