// Package redisrelay serves a dispatcher from a Redis list, letting any
// process that can reach Redis submit JSON-RPC calls without a direct
// network path to the server.
//
// Producers RPUSH an Envelope onto the request list. The Relay pops
// envelopes with BLPOP, dispatches each one as a direct entity and pushes a
// Reply onto the list named by the envelope's ReplyTo, with an expiry so
// abandoned replies do not accumulate. Envelopes without ReplyTo are
// dispatched and their replies discarded.
//
//	relay, err := redisrelay.NewFromEnv(ctx, d)
//	if err != nil { ... }
//	defer relay.Close()
//	err = relay.Serve(ctx)
//
// Client implements the producer side. Call and Notify push a raw payload;
// Invoke and Emit build the request and decode the reply.
package redisrelay
