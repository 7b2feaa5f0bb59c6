package entity

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
)

// DirectRequest is a call handed to the engine without a network round trip.
type DirectRequest struct {
	// Verb defaults to POST.
	Verb string

	// Header defaults to a JSON content type.
	Header http.Header

	Path string

	// Payload is the request envelope. Generic JSON values are used as they
	// are, json.RawMessage and []byte are decoded, and any other value is
	// projected through encoding/json.
	Payload any
}

// DirectResponse is the structural form of a reply.
type DirectResponse struct {
	Status int
	Header http.Header

	// Payload is a deep copy of the response envelope in generic JSON form,
	// or nil when the reply has no body.
	Payload any

	// Body is the serialized envelope Payload was decoded from. Transports
	// forwarding the reply verbatim use it to keep numbers exact.
	Body []byte
}

// Callback receives the reply of a direct entity. It is called at most once.
type Callback func(DirectResponse)

// DirectEntity handles a call whose payload is already in memory.
type DirectEntity struct {
	lifecycle

	cb Callback
}

var _ Entity = (*DirectEntity)(nil)

// NewDirect constructs an entity for req. The entity is ready when NewDirect
// returns, unless req or cb is nil, in which case it is destroyed straight
// away.
func NewDirect(ctx context.Context, cfg Config, req *DirectRequest, cb Callback) *DirectEntity {
	e := &DirectEntity{cb: cb}
	e.init(ctx, cfg)

	if req == nil || cb == nil {
		e.log.WarnContext(e.ctx, "entity.construct.invalid", slog.String("variant", "direct"))
		e.Destroy()
		return e
	}

	e.arm(cfg.Timeout, e.ProcessResponse)
	e.markReady(projectDirect(e.ctx, e.log, req))

	return e
}

func projectDirect(ctx context.Context, log *slog.Logger, req *DirectRequest) *ParsedRequest {
	verb := req.Verb
	if verb == "" {
		verb = http.MethodPost
	}

	header := req.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	if header.Get("Content-Type") == "" {
		header.Set("Content-Type", "application/json")
	}

	u, err := url.Parse(req.Path)
	if err != nil {
		log.WarnContext(ctx, "entity.path.invalid", slog.String("path", req.Path), slog.String("err", err.Error()))
		u = &url.URL{Path: req.Path}
	}

	content, err := normalizePayload(req.Payload)
	if err != nil {
		log.WarnContext(ctx, "entity.payload.invalid", slog.String("err", err.Error()))
		return newParsedRequest(verb, header, u, nil, false)
	}
	return newParsedRequest(verb, header, u, content, true)
}

// ProcessResponse hands the reply to the callback and destroys the entity.
// Only the first call, or the timeout, has any effect.
func (e *DirectEntity) ProcessResponse(err error, result any) {
	e.deliver(err, result, e.sendResponse, e.Destroy)
}

// sendResponse cancels the timeout and hands a copy of the reply to the
// callback. The callback runs without the lifecycle lock held.
func (e *DirectEntity) sendResponse(reply Reply, body []byte) {
	e.mu.Lock()
	if e.timer != nil {
		e.timer.Stop()
	}
	cb := e.cb
	e.cb = nil
	destroyed := e.destroyed
	e.mu.Unlock()

	if destroyed || cb == nil {
		return
	}

	resp := DirectResponse{Status: reply.Status, Header: reply.Header.Clone()}
	if body != nil {
		resp.Body = bytes.Clone(body)
		if err := json.Unmarshal(body, &resp.Payload); err != nil {
			e.log.ErrorContext(e.ctx, "entity.respond.clone_failed", slog.String("err", err.Error()))
		}
	}
	cb(resp)
}

// Destroy drops the callback and runs the cleanup callback.
func (e *DirectEntity) Destroy() {
	e.finish(func() {
		e.cb = nil
	})
}
