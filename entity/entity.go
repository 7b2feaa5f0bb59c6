package entity

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ggoodman/jsonrpc-server-go/internal/logctx"
	"github.com/ggoodman/jsonrpc-server-go/rpcerr"
)

// DefaultTimeout bounds an entity whose Config leaves Timeout unset.
const DefaultTimeout = 60 * time.Second

// Entity is the lifecycle object of a single inbound call.
type Entity interface {
	// ID is the identifier the dispatcher registered the entity under.
	ID() string

	// Request returns the parsed request. It is nil until Ready is closed and
	// may stay nil for entities destroyed during construction.
	Request() *ParsedRequest

	// ProcessResponse formats and delivers the reply, then destroys the
	// entity. Only the first call, or the timeout, has any effect.
	ProcessResponse(err error, result any)

	// Destroy releases the transport references and runs the cleanup
	// callback. It is safe to call repeatedly and concurrently.
	Destroy()

	// Ready is closed once the payload has been parsed.
	Ready() <-chan struct{}

	// Done is closed once the entity has been destroyed.
	Done() <-chan struct{}

	// Context is canceled when the entity is destroyed.
	Context() context.Context
}

// Config carries the transport independent construction parameters.
type Config struct {
	ID      string
	Logger  *slog.Logger
	Timeout time.Duration

	// Cleanup runs exactly once, when the entity is destroyed.
	Cleanup func()

	// Observe, when set, is called after a reply has been delivered.
	Observe func(Reply)

	// MaxBodyBytes limits the payload size of stream entities. A body over
	// the limit is treated as undecodable. Zero means no limit.
	MaxBodyBytes int64
}

// lifecycle is the state machine shared by all entity variants.
type lifecycle struct {
	id      string
	log     *slog.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	observe func(Reply)

	ready     chan struct{}
	readyOnce sync.Once
	req       *ParsedRequest

	done chan struct{}

	mu        sync.Mutex
	responded bool
	destroyed bool
	timer     *time.Timer
	cleanup   func()
}

func (l *lifecycle) init(parent context.Context, cfg Config) {
	if parent == nil {
		parent = context.Background()
	}
	l.id = cfg.ID
	l.log = logctx.Wrap(cfg.Logger)
	l.ctx, l.cancel = context.WithCancel(logctx.WithEntityID(parent, cfg.ID))
	l.observe = cfg.Observe
	l.cleanup = cfg.Cleanup
	l.ready = make(chan struct{})
	l.done = make(chan struct{})
}

// arm starts the timeout. Expiry is reported through respond like any other
// outcome so that it races fairly with the handler.
func (l *lifecycle) arm(timeout time.Duration, respond func(error, any)) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.destroyed {
		return
	}
	l.timer = time.AfterFunc(timeout, func() {
		l.log.WarnContext(l.ctx, "entity.timeout", slog.Duration("timeout", timeout))
		respond(rpcerr.New(rpcerr.Timeout), nil)
	})
}

func (l *lifecycle) markReady(req *ParsedRequest) {
	l.readyOnce.Do(func() {
		l.req = req
		close(l.ready)
	})
}

// claim reports whether the caller is the first to respond.
func (l *lifecycle) claim() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.responded || l.destroyed {
		return false
	}
	l.responded = true
	return true
}

// deliver runs the reply sequence shared by all variants. Only the first
// responder formats the reply and hands it to send; the entity is destroyed
// afterwards.
func (l *lifecycle) deliver(err error, result any, send func(Reply, []byte), destroy func()) {
	if !l.claim() {
		l.log.DebugContext(l.ctx, "entity.respond.ignored")
		return
	}

	reply, body, encErr := encode(FormatResponse(l.Request(), err, result))
	if encErr != nil {
		l.log.ErrorContext(l.ctx, "entity.respond.encode_failed", slog.String("err", encErr.Error()))
	}

	send(reply, body)
	if l.observe != nil {
		l.observe(reply)
	}
	destroy()
}

// finish destroys the entity. release runs under the lock so that it cannot
// interleave with a delivery holding the same lock. Done is closed after the
// cleanup callback has returned.
func (l *lifecycle) finish(release func()) {
	l.mu.Lock()
	if l.destroyed {
		l.mu.Unlock()
		return
	}
	l.destroyed = true
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	if release != nil {
		release()
	}
	cleanup := l.cleanup
	l.cleanup = nil
	l.mu.Unlock()

	l.cancel()
	if cleanup != nil {
		cleanup()
	}
	l.log.DebugContext(l.ctx, "entity.destroyed")
	close(l.done)
}

func (l *lifecycle) ID() string { return l.id }

func (l *lifecycle) Request() *ParsedRequest {
	select {
	case <-l.ready:
		return l.req
	default:
		return nil
	}
}

func (l *lifecycle) Ready() <-chan struct{} { return l.ready }

func (l *lifecycle) Done() <-chan struct{} { return l.done }

func (l *lifecycle) Context() context.Context { return l.ctx }
