package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ggoodman/jsonrpc-server-go/entity"
	"github.com/ggoodman/jsonrpc-server-go/internal/logctx"
	"github.com/ggoodman/jsonrpc-server-go/internal/metrics"
	"github.com/ggoodman/jsonrpc-server-go/rpcerr"
	"github.com/ggoodman/jsonrpc-server-go/schema"
)

// Respond delivers the outcome of a handler. A nil err reports result.
type Respond func(err error, result any)

// HandlerFunc is the signature of a method handler. params is the validated
// and defaulted parameter value. batchIndex is always 0 since batches are
// rejected before dispatch.
type HandlerFunc func(ctx context.Context, params any, respond Respond, req *entity.ParsedRequest, batchIndex int)

// Method binds a JSON-RPC method name to its handler.
type Method struct {
	// Handler is a HandlerFunc, a func with the same signature, or the name
	// of an exported method on the registration's Receiver with that
	// signature.
	Handler any

	// Params declares the accepted parameters. A nil schema only accepts
	// calls without params.
	Params schema.Schema
}

// Registration describes one endpoint.
type Registration struct {
	// Receiver owns the handlers referenced by name.
	Receiver any

	Methods map[string]Method
}

// ErrInvalidRegistration is returned by Register for a registration lacking
// a receiver or a method map.
var ErrInvalidRegistration = errors.New("dispatcher: registration requires a receiver and a method map")

// ErrClosed is reported to calls received after Close.
var ErrClosed = errors.New("dispatcher: closed")

func closedError() error {
	return &rpcerr.Error{Kind: rpcerr.ServerError, Data: "Server shutting down", Cause: ErrClosed}
}

// Dispatcher routes calls to endpoints. It is safe for concurrent use.
type Dispatcher struct {
	log          *slog.Logger
	timeout      time.Duration
	maxBodyBytes int64
	metrics      *metrics.Metrics
	newID        func() string

	mu        sync.RWMutex
	endpoints map[string]Registration

	activeMu sync.Mutex
	active   map[string]*slot
	closed   bool
}

// slot holds a registered entity. built is closed once construction has
// returned and e is set.
type slot struct {
	e     entity.Entity
	built chan struct{}
}

// New returns a Dispatcher with no endpoints.
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		timeout:   entity.DefaultTimeout,
		newID:     uuid.NewString,
		endpoints: make(map[string]Registration),
		active:    make(map[string]*slot),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.timeout <= 0 {
		d.timeout = entity.DefaultTimeout
	}
	d.log = logctx.Wrap(d.log)
	return d
}

// Register installs reg under path, replacing any previous registration.
// An invalid registration is logged and rejected.
func (d *Dispatcher) Register(path string, reg Registration) error {
	if reg.Receiver == nil || reg.Methods == nil {
		d.log.Error("endpoint.register.invalid", slog.String("path", path))
		return fmt.Errorf("%w: %q", ErrInvalidRegistration, path)
	}

	methods := make(map[string]Method, len(reg.Methods))
	for name, m := range reg.Methods {
		if _, err := resolveHandler(reg.Receiver, m.Handler); err != nil {
			d.log.Warn("endpoint.register.unresolved_handler",
				slog.String("path", path),
				slog.String("method", name),
				slog.String("err", err.Error()),
			)
		}
		methods[name] = m
	}
	reg.Methods = methods

	d.mu.Lock()
	d.endpoints[path] = reg
	d.mu.Unlock()

	d.log.Info("endpoint.register", slog.String("path", path), slog.Int("methods", len(methods)))
	return nil
}

// Unload removes the registration at path, if any.
func (d *Dispatcher) Unload(path string) {
	d.mu.Lock()
	_, ok := d.endpoints[path]
	delete(d.endpoints, path)
	d.mu.Unlock()

	if ok {
		d.log.Info("endpoint.unload", slog.String("path", path))
	}
}

func (d *Dispatcher) endpoint(path string) (Registration, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	reg, ok := d.endpoints[path]
	return reg, ok
}

// Active returns the number of entities that have not been destroyed yet.
func (d *Dispatcher) Active() int {
	d.activeMu.Lock()
	defer d.activeMu.Unlock()
	return len(d.active)
}

// Close rejects further calls and answers every in-flight call with a server
// error, including calls still under construction. It waits until those
// entities are destroyed or ctx is done.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.activeMu.Lock()
	d.closed = true
	pending := make([]*slot, 0, len(d.active))
	for _, s := range d.active {
		pending = append(pending, s)
	}
	d.activeMu.Unlock()

	d.log.Info("dispatcher.close", slog.Int("pending", len(pending)))

	for _, s := range pending {
		select {
		case <-s.built:
		case <-ctx.Done():
			return ctx.Err()
		}
		s.e.ProcessResponse(closedError(), nil)
	}
	for _, s := range pending {
		select {
		case <-s.e.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// HandleRequest starts processing r and returns its entity. The reply is
// written to w by the entity; callers serving net/http must not return from
// their handler before the entity's Done channel is closed.
func (d *Dispatcher) HandleRequest(w http.ResponseWriter, r *http.Request) entity.Entity {
	return d.track(func(cfg entity.Config) entity.Entity {
		return entity.NewStream(cfg, r, w)
	})
}

// Proxy starts processing an in-memory call. cb receives the reply at most
// once, possibly on another goroutine.
func (d *Dispatcher) Proxy(ctx context.Context, req *entity.DirectRequest, cb entity.Callback) entity.Entity {
	return d.track(func(cfg entity.Config) entity.Entity {
		return entity.NewDirect(ctx, cfg, req, cb)
	})
}

// Call sends payload to the endpoint at path and waits for the reply. If ctx
// ends first the call is abandoned and ctx's error is returned.
func (d *Dispatcher) Call(ctx context.Context, path string, payload any) (entity.DirectResponse, error) {
	replies := make(chan entity.DirectResponse, 1)
	e := d.Proxy(ctx, &entity.DirectRequest{Path: path, Payload: payload}, func(resp entity.DirectResponse) {
		replies <- resp
	})

	select {
	case resp := <-replies:
		return resp, nil
	case <-ctx.Done():
		e.Destroy()
		return entity.DirectResponse{}, ctx.Err()
	}
}

// track allocates an entity id, constructs the entity with it and schedules
// validation once the entity is ready.
func (d *Dispatcher) track(construct func(entity.Config) entity.Entity) entity.Entity {
	d.activeMu.Lock()
	id := d.newID()
	for _, taken := d.active[id]; taken; _, taken = d.active[id] {
		d.log.Warn("entity.id.collision", slog.String("entity", id))
		id = d.newID()
	}
	// Reserve the id; the cleanup callback may run before construct returns.
	s := &slot{built: make(chan struct{})}
	d.active[id] = s
	d.activeMu.Unlock()

	started := time.Now()
	d.metrics.EntityStarted()

	e := construct(entity.Config{
		ID:           id,
		Logger:       d.log,
		Timeout:      d.timeout,
		MaxBodyBytes: d.maxBodyBytes,
		Cleanup: func() {
			d.activeMu.Lock()
			delete(d.active, id)
			d.activeMu.Unlock()
			d.metrics.EntityFinished()
		},
		Observe: func(reply entity.Reply) {
			d.metrics.Reply(reply.Status, string(reply.Kind), time.Since(started))
		},
	})

	// Close may have run during construction; it waits on built and the
	// first of the two answers wins.
	d.activeMu.Lock()
	s.e = e
	closed := d.closed
	d.activeMu.Unlock()
	close(s.built)

	if closed {
		e.ProcessResponse(closedError(), nil)
		return e
	}

	go d.await(e)
	return e
}

func (d *Dispatcher) await(e entity.Entity) {
	select {
	case <-e.Ready():
		d.dispatch(e)
	case <-e.Done():
	}
}
