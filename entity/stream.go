package entity

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// StreamEntity handles a call received as a net/http request. The body is
// read in the background and the reply is written to the ResponseWriter.
type StreamEntity struct {
	lifecycle

	r *http.Request
	w http.ResponseWriter
}

var _ Entity = (*StreamEntity)(nil)

// NewStream constructs an entity for r and starts reading its body. If r or
// w is nil the entity is destroyed immediately; its Ready channel is never
// closed in that case.
func NewStream(cfg Config, r *http.Request, w http.ResponseWriter) *StreamEntity {
	var parent context.Context
	if r != nil {
		parent = r.Context()
	}

	e := &StreamEntity{r: r, w: w}
	e.init(parent, cfg)

	if r == nil || w == nil || r.Body == nil || r.URL == nil {
		e.log.WarnContext(e.ctx, "entity.construct.invalid", slog.String("variant", "stream"))
		e.Destroy()
		return e
	}

	e.arm(cfg.Timeout, e.ProcessResponse)
	go e.collect(r, cfg.MaxBodyBytes)

	return e
}

func (e *StreamEntity) collect(r *http.Request, limit int64) {
	body, err := readBody(r.Body, limit)

	var (
		content any
		decoded bool
	)
	if err != nil {
		e.log.WarnContext(e.ctx, "entity.body.read_failed", slog.String("err", err.Error()))
	} else if content, err = decodeJSON(body); err != nil {
		e.log.WarnContext(e.ctx, "entity.body.decode_failed", slog.String("err", err.Error()))
	} else {
		decoded = true
	}

	e.markReady(newParsedRequest(r.Method, r.Header, r.URL, content, decoded))
}

var errBodyTooLarge = errors.New("entity: request body too large")

func readBody(body io.Reader, limit int64) ([]byte, error) {
	if limit > 0 {
		body = io.LimitReader(body, limit+1)
	}

	var buf bytes.Buffer
	chunk := make([]byte, 32*1024)
	for {
		n, err := body.Read(chunk)
		buf.Write(chunk[:n])
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
	}

	if limit > 0 && int64(buf.Len()) > limit {
		return nil, fmt.Errorf("%w: limit %d bytes", errBodyTooLarge, limit)
	}
	return buf.Bytes(), nil
}

// ProcessResponse writes the reply to the ResponseWriter and destroys the
// entity. Only the first call, or the timeout, has any effect.
func (e *StreamEntity) ProcessResponse(err error, result any) {
	e.deliver(err, result, e.sendResponse, e.Destroy)
}

// sendResponse writes the reply while holding the lifecycle lock, so a
// concurrent Destroy waits for the write to complete and a write never
// follows a Destroy.
func (e *StreamEntity) sendResponse(reply Reply, body []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.timer != nil {
		e.timer.Stop()
	}
	if e.destroyed || e.w == nil {
		return
	}

	h := e.w.Header()
	for k, vs := range reply.Header {
		h[k] = append([]string(nil), vs...)
	}
	e.w.WriteHeader(reply.Status)
	if body == nil {
		return
	}
	if _, err := e.w.Write(body); err != nil {
		e.log.WarnContext(e.ctx, "entity.respond.write_failed", slog.String("err", err.Error()))
	}
}

// Destroy drops the request and ResponseWriter and runs the cleanup
// callback. Later writes become no-ops.
func (e *StreamEntity) Destroy() {
	e.finish(func() {
		e.r = nil
		e.w = nil
	})
}
