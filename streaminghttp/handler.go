package streaminghttp

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/ggoodman/jsonrpc-server-go/dispatcher"
	"github.com/ggoodman/jsonrpc-server-go/internal/logctx"
)

var (
	_ http.Handler = (*StreamingHTTPHandler)(nil)
)

// ErrDispatcherRequired is returned by New when no dispatcher is supplied.
var ErrDispatcherRequired = errors.New("streaminghttp: dispatcher is required")

// Option configures the StreamingHTTPHandler.
type Option func(*newConfig)

type newConfig struct {
	logger *slog.Logger
}

// WithLogger sets the logger used by the handler. If not provided, logs are discarded.
func WithLogger(l *slog.Logger) Option {
	return func(c *newConfig) { c.logger = l }
}

// StreamingHTTPHandler hands inbound HTTP requests to a dispatcher.
type StreamingHTTPHandler struct {
	log *slog.Logger
	d   *dispatcher.Dispatcher
}

// New constructs a StreamingHTTPHandler for d.
func New(d *dispatcher.Dispatcher, opts ...Option) (*StreamingHTTPHandler, error) {
	if d == nil {
		return nil, ErrDispatcherRequired
	}

	cfg := &newConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	return &StreamingHTTPHandler{log: logctx.Wrap(cfg.logger), d: d}, nil
}

func (h *StreamingHTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		UserAgent:  r.UserAgent(),
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	})
	r = r.WithContext(ctx)
	h.log.InfoContext(ctx, "http.request.start")

	e := h.d.HandleRequest(w, r)

	select {
	case <-e.Done():
		h.log.InfoContext(ctx, "http.request.ok", slog.Duration("dur", time.Since(start)))
	case <-ctx.Done():
		e.Destroy()
		h.log.InfoContext(ctx, "http.request.disconnect",
			slog.Duration("dur", time.Since(start)),
			slog.String("err", ctx.Err().Error()),
		)
	}
}
