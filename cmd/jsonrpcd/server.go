package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ggoodman/jsonrpc-server-go/dispatcher"
	"github.com/ggoodman/jsonrpc-server-go/examples/echo"
	"github.com/ggoodman/jsonrpc-server-go/internal/metrics"
	"github.com/ggoodman/jsonrpc-server-go/streaminghttp"
	"github.com/ggoodman/jsonrpc-server-go/websocket"
)

const shutdownGrace = 10 * time.Second

// newDispatcher builds a dispatcher with the demo endpoint mounted at "/"
// and its metrics registered on reg.
func newDispatcher(cfg Config, log *slog.Logger, reg prometheus.Registerer) (*dispatcher.Dispatcher, error) {
	m, err := metrics.New(reg)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	d := dispatcher.New(
		dispatcher.WithLogger(log),
		dispatcher.WithTimeout(cfg.Timeout),
		dispatcher.WithMaxBodyBytes(cfg.MaxBodyBytes),
		dispatcher.WithMetrics(m),
	)
	if err := echo.Register(d, "/"); err != nil {
		return nil, fmt.Errorf("register echo: %w", err)
	}
	return d, nil
}

type server struct {
	cfg      Config
	log      *slog.Logger
	d        *dispatcher.Dispatcher
	registry *prometheus.Registry
	httpSrv  *http.Server
}

func newServer(cfg Config, log *slog.Logger) (*server, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	d, err := newDispatcher(cfg, log, reg)
	if err != nil {
		return nil, err
	}
	s := &server{cfg: cfg, log: log, d: d, registry: reg}

	h, err := s.handler()
	if err != nil {
		return nil, err
	}
	s.httpSrv = &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(log.Handler(), slog.LevelWarn),
	}
	return s, nil
}

func (s *server) handler() (http.Handler, error) {
	rpc, err := streaminghttp.New(s.d, streaminghttp.WithLogger(s.log))
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle(s.cfg.MetricsPath, promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	if s.cfg.WSPrefix != "" {
		ws, err := websocket.New(s.d, websocket.WithLogger(s.log))
		if err != nil {
			return nil, err
		}
		mux.Handle(s.cfg.WSPrefix+"/", http.StripPrefix(s.cfg.WSPrefix, ws))
	}
	mux.Handle("/", rpc)
	return mux, nil
}

func (s *server) listen() (net.Listener, error) {
	if s.cfg.ListenProto == "unix" {
		if err := os.Remove(s.cfg.Listen); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("remove stale unix socket: %w", err)
		}
	}
	ln, err := net.Listen(s.cfg.ListenProto, s.cfg.Listen)
	if err != nil {
		return nil, fmt.Errorf("listen (%s %s): %w", s.cfg.ListenProto, s.cfg.Listen, err)
	}
	if s.cfg.ListenProto == "unix" {
		if err := os.Chmod(s.cfg.Listen, 0o777); err != nil {
			s.log.Warn("listen.chmod.fail", slog.String("path", s.cfg.Listen), slog.String("err", err.Error()))
		}
	}
	return ln, nil
}

// run serves on ln until ctx is canceled, then drains the dispatcher and
// shuts the HTTP server down.
func (s *server) run(ctx context.Context, ln net.Listener) error {
	s.log.Info("listening",
		slog.String("network", s.cfg.ListenProto),
		slog.String("address", ln.Addr().String()),
		slog.Bool("tls", s.cfg.TLSCert != ""),
	)

	serveErr := make(chan error, 1)
	go func() {
		var err error
		if s.cfg.TLSCert != "" {
			err = s.httpSrv.ServeTLS(ln, s.cfg.TLSCert, s.cfg.TLSKey)
		} else {
			err = s.httpSrv.Serve(ln)
		}
		serveErr <- err
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return s.shutdown(shutdownCtx)
}

func (s *server) shutdown(ctx context.Context) error {
	s.log.Info("shutdown.start", slog.Int("active", s.d.Active()))

	// Pending calls get a reply before their connections are drained.
	var errs []error
	if err := s.d.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("dispatcher close: %w", err))
	}
	if err := s.httpSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if s.cfg.ListenProto == "unix" {
		if err := os.Remove(s.cfg.Listen); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	s.log.Info("shutdown.done")
	return errors.Join(errs...)
}
