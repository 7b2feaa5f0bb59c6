// Package websocket serves a dispatcher over WebSocket connections. Each text
// frame carries one JSON-RPC envelope and each reply with a body is sent back
// as one text frame. The upgrade request path selects the endpoint for every
// frame on that connection.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	gws "github.com/gorilla/websocket"

	"github.com/ggoodman/jsonrpc-server-go/dispatcher"
	"github.com/ggoodman/jsonrpc-server-go/entity"
	"github.com/ggoodman/jsonrpc-server-go/internal/logctx"
)

const (
	writeWait   = 10 * time.Second
	sendBuffer  = 256
	defaultRead = 1 << 20
)

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger. If not provided, logs are discarded.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.log = l }
}

// WithCheckOrigin overrides the upgrade origin check. The default accepts
// every origin.
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(h *Handler) { h.upgrader.CheckOrigin = fn }
}

// WithReadLimit bounds the size of a single inbound frame.
func WithReadLimit(n int64) Option {
	return func(h *Handler) { h.readLimit = n }
}

// Handler upgrades HTTP requests and relays frames to a dispatcher.
type Handler struct {
	d         *dispatcher.Dispatcher
	log       *slog.Logger
	upgrader  gws.Upgrader
	readLimit int64
}

var _ http.Handler = (*Handler)(nil)

// New returns a Handler for d.
func New(d *dispatcher.Dispatcher, opts ...Option) (*Handler, error) {
	if d == nil {
		return nil, errors.New("websocket: dispatcher is required")
	}
	h := &Handler{
		d:         d,
		readLimit: defaultRead,
		upgrader: gws.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	h.log = logctx.Wrap(h.log)
	return h, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		UserAgent:  r.UserAgent(),
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	})

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WarnContext(ctx, "ws.upgrade.fail", slog.String("err", err.Error()))
		return
	}
	ws.SetReadLimit(h.readLimit)
	h.log.InfoContext(ctx, "ws.connect")

	c := &conn{
		h:    h,
		ws:   ws,
		path: r.URL.Path,
		send: make(chan []byte, sendBuffer),
	}
	// Entities are bound to the connection rather than the upgrade request.
	cctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()

	go c.writePump()
	c.readPump(cctx)
	h.log.InfoContext(ctx, "ws.disconnect")
}

type conn struct {
	h    *Handler
	ws   *gws.Conn
	path string

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

// enqueue queues a frame for the write pump. Frames for a closed connection
// are dropped.
func (c *conn) enqueue(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		c.h.log.Warn("ws.send.overflow")
	}
}

func (c *conn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// readPump dispatches every text frame until the peer goes away. Calls still
// in flight at that point are abandoned.
func (c *conn) readPump(ctx context.Context) {
	var pending sync.Map
	defer func() {
		c.close()
		pending.Range(func(_, v any) bool {
			v.(entity.Entity).Destroy()
			return true
		})
	}()

	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			if gws.IsUnexpectedCloseError(err, gws.CloseGoingAway, gws.CloseNormalClosure) {
				c.h.log.WarnContext(ctx, "ws.read.fail", slog.String("err", err.Error()))
			}
			return
		}
		if mt != gws.TextMessage {
			continue
		}

		e := c.h.d.Proxy(ctx, &entity.DirectRequest{
			Header:  http.Header{"Content-Type": {entity.ContentType}},
			Path:    c.path,
			Payload: json.RawMessage(data),
		}, func(resp entity.DirectResponse) {
			if resp.Body != nil {
				c.enqueue(resp.Body)
			}
		})
		pending.Store(e.ID(), e)
		go func() {
			<-e.Done()
			pending.Delete(e.ID())
		}()
	}
}

func (c *conn) writePump() {
	defer c.ws.Close()

	for data := range c.send {
		_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.ws.WriteMessage(gws.TextMessage, data); err != nil {
			c.h.log.Warn("ws.write.fail", slog.String("err", err.Error()))
			return
		}
	}
	_ = c.ws.WriteControl(gws.CloseMessage, gws.FormatCloseMessage(gws.CloseNormalClosure, ""), time.Now().Add(writeWait))
}
