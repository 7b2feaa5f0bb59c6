// Package stdio serves a dispatcher over stdin/stdout. It is intended for
// running a server as a subprocess, local development, and environments
// where piping JSON is simpler than running an HTTP server.
//
// Characteristics
//
//	Connection model : 1 process <-> 1 client
//	Framing          : one JSON-RPC envelope per line
//	Routing          : every line targets the same endpoint path
//	Ordering         : replies are written as they complete
//
// Notifications produce no output, and neither do the two error kinds
// without a JSON-RPC body (disallowed method and timeout).
//
// Example:
//
//	d := dispatcher.New()
//	_ = d.Register("/", registration)
//	h, err := stdio.NewHandler(d)
//	if err != nil { log.Fatal(err) }
//	if err := h.Serve(context.Background()); err != nil { log.Fatal(err) }
package stdio
