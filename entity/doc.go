// Package entity implements the per-request lifecycle object of the engine.
//
// An Entity is created for every inbound call. It collects and decodes the
// payload into a ParsedRequest, signals readiness, and terminates exactly
// once: either when ProcessResponse is called or when its timeout fires.
// Two variants exist:
//
//   - StreamEntity reads a net/http request body and writes the reply to an
//     http.ResponseWriter.
//   - DirectEntity takes an already structured payload and delivers the
//     reply to a callback.
//
// Both variants share the same reply format, produced by FormatResponse.
package entity
