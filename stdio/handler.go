package stdio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/ggoodman/jsonrpc-server-go/dispatcher"
	"github.com/ggoodman/jsonrpc-server-go/entity"
	"github.com/ggoodman/jsonrpc-server-go/internal/logctx"
)

const defaultMaxLine = 1 << 20

// Handler is a single-connection stdio transport that reads JSON-RPC messages
// from an io.Reader and writes replies to an io.Writer. By default, it uses
// os.Stdin and os.Stdout.
type Handler struct {
	d            *dispatcher.Dispatcher
	r            io.Reader
	w            io.Writer
	l            *slog.Logger
	path         string
	maxLine      int
	userProvider UserProvider

	wmu sync.Mutex
}

// NewHandler constructs a stdio Handler with defaults and applies options.
func NewHandler(d *dispatcher.Dispatcher, opts ...Option) (*Handler, error) {
	if d == nil {
		return nil, errors.New("stdio: dispatcher is required")
	}
	h := &Handler{
		d:            d,
		r:            os.Stdin,
		w:            os.Stdout,
		path:         "/",
		maxLine:      defaultMaxLine,
		userProvider: OSUserProvider{},
	}
	for _, opt := range opts {
		opt(h)
	}
	h.l = logctx.Wrap(h.l)
	return h, nil
}

// Serve runs the stdio event loop until EOF on the reader or the context is
// canceled. On EOF it waits for in-flight calls to be answered before
// returning nil. It is safe to call at most once per Handler.
func (h *Handler) Serve(ctx context.Context) error {
	userID, err := h.userProvider.CurrentUserID()
	if err != nil {
		return fmt.Errorf("stdio: resolve peer user: %w", err)
	}
	ctx = logctx.WithRequestData(ctx, &logctx.RequestData{Method: "STDIO", UserAgent: userID, Path: h.path})
	h.l.InfoContext(ctx, "stdio.serve.start")

	lines := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(h.r)
		sc.Buffer(make([]byte, 0, min(64*1024, h.maxLine)), h.maxLine)
		for sc.Scan() {
			line := bytes.TrimSpace(sc.Bytes())
			if len(line) == 0 {
				continue
			}
			select {
			case lines <- bytes.Clone(line):
			case <-ctx.Done():
				readErr <- ctx.Err()
				return
			}
		}
		readErr <- sc.Err()
	}()

	var inflight sync.WaitGroup
	for {
		select {
		case <-ctx.Done():
			h.l.InfoContext(ctx, "stdio.serve.canceled")
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				inflight.Wait()
				if err := <-readErr; ctx.Err() != nil {
					return ctx.Err()
				} else if err != nil {
					h.l.ErrorContext(ctx, "stdio.read.fail", slog.String("err", err.Error()))
					return fmt.Errorf("stdio: read: %w", err)
				}
				h.l.InfoContext(ctx, "stdio.serve.eof")
				return nil
			}
			e := h.d.Proxy(ctx, &entity.DirectRequest{
				Header:  http.Header{"Content-Type": {entity.ContentType}, PeerUserHeader: {userID}},
				Path:    h.path,
				Payload: json.RawMessage(line),
			}, func(resp entity.DirectResponse) {
				h.reply(ctx, resp)
			})
			inflight.Add(1)
			go func() {
				defer inflight.Done()
				<-e.Done()
			}()
		}
	}
}

// reply writes a reply envelope as one line. Replies without a payload
// produce no output.
func (h *Handler) reply(ctx context.Context, resp entity.DirectResponse) {
	if resp.Body == nil {
		return
	}

	h.wmu.Lock()
	defer h.wmu.Unlock()
	if _, err := h.w.Write(append(resp.Body, '\n')); err != nil {
		h.l.ErrorContext(ctx, "stdio.reply.write_fail", slog.String("err", err.Error()))
	}
}
