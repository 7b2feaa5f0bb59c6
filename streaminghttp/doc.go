// Package streaminghttp serves a dispatcher over HTTP. It mounts as a standard
// net/http handler: every request becomes a stream entity whose body is read
// incrementally and whose reply is written back on the same response.
//
// Construction
//
//	d := dispatcher.New(dispatcher.WithLogger(log))
//	h, err := streaminghttp.New(d, streaminghttp.WithLogger(log))
//	http.ListenAndServe(":8080", h)
//
// The request path selects the endpoint registered on the dispatcher. Query
// strings are ignored for routing.
//
// # Lifetimes
//
// ServeHTTP blocks until the entity is destroyed, which happens after the
// reply is written or the entity times out. If the client goes away first the
// entity is destroyed without writing, and a late handler result is dropped.
package streaminghttp
